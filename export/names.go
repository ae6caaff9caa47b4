package export

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dhcgn/mailbox-export/pathsafe"
)

const (
	untitled = "untitled"
	undated  = "undated"
)

// namer hands out unique file and directory names per directory for one
// export pass. It only knows about names it issued itself, so a second pass
// over the same tree reproduces the same names. Names are compared without
// case, as Windows and macOS file systems do.
type namer struct {
	taken map[string]map[string]bool
}

func newNamer() *namer {
	return &namer{taken: make(map[string]map[string]bool)}
}

// claim returns dir/<stem><ext>, or dir/<stem> (n)<ext> when that name was
// already issued in dir.
func (n *namer) claim(dir, stem, ext string) string {
	used := n.taken[dir]
	if used == nil {
		used = make(map[string]bool)
		n.taken[dir] = used
	}
	name := stem + ext
	for i := 2; used[strings.ToLower(name)]; i++ {
		name = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
	used[strings.ToLower(name)] = true
	return filepath.Join(dir, name)
}

// reserve marks names in dir as issued without returning them.
func (n *namer) reserve(dir string, names ...string) {
	for _, name := range names {
		n.claim(dir, name, "")
	}
}

func segment(s string) string {
	return pathsafe.SegmentOr(s, untitled)
}

// stamped joins a timestamp prefix and a subject into one bounded segment.
func stamped(stamp, subject string) string {
	if strings.TrimSpace(subject) == "" {
		subject = untitled
	}
	return pathsafe.Segment(stamp + "_" + strings.TrimSpace(subject))
}
