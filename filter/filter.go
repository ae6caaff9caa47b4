package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Options captures the folder filtering configuration. Patterns are matched
// against folder paths such as "Inbox/Projects/2024".
type Options struct {
	IncludeFolder []string
	ExcludeFolder []string
}

// Filter holds compiled folder patterns.
type Filter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	include, err := compilePatterns(opts.IncludeFolder)
	if err != nil {
		return nil, fmt.Errorf("compile include-folder pattern: %w", err)
	}
	exclude, err := compilePatterns(opts.ExcludeFolder)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-folder pattern: %w", err)
	}
	if len(include) > 0 && len(exclude) > 0 {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}
	return &Filter{include: include, exclude: exclude}, nil
}

// Collects reports whether the items of the folder at path are extracted.
// In include mode only matching folders contribute items; their ancestors
// are still descended into.
func (f *Filter) Collects(path string) bool {
	if f == nil {
		return true
	}
	if len(f.include) > 0 {
		return matchAny(f.include, path)
	}
	return !matchAny(f.exclude, path)
}

// Descends reports whether the folder at path and its subtree are visited at
// all. Only exclude patterns cut a subtree.
func (f *Filter) Descends(path string) bool {
	if f == nil {
		return true
	}
	return !matchAny(f.exclude, path)
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f != nil && (len(f.include) > 0 || len(f.exclude) > 0)
}

// JoinPath appends a folder name to a parent path.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
