// Package pathsafe turns display strings into path segments that are valid on
// every common filesystem.
package pathsafe

import (
	"strings"
	"unicode/utf8"
)

// MaxLen leaves room for an extension and directory depth under the
// 260 character path ceiling of older Windows filesystems.
const MaxLen = 180

const replacement = '_'

// Segment replaces reserved characters with underscores and truncates the
// result to MaxLen bytes without splitting a UTF-8 sequence.
func Segment(s string) string {
	out := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return replacement
		}
		if r < 0x20 || r == 0x7f {
			return replacement
		}
		return r
	}, strings.ToValidUTF8(s, string(replacement)))

	if len(out) > MaxLen {
		cut := MaxLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}

	if out == "." || out == ".." {
		return strings.Repeat(string(replacement), len(out))
	}
	return out
}

// SegmentOr is Segment with a fallback for inputs that sanitize to nothing.
func SegmentOr(s, fallback string) string {
	if out := Segment(strings.TrimSpace(s)); out != "" {
		return out
	}
	return fallback
}
