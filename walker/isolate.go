package walker

import "fmt"

// Isolate runs fn and turns a panic into an error, so a misbehaving reader
// cannot take down the traversal. It is the single fault boundary used at
// item, folder-content and folder-subtree level.
func Isolate[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
