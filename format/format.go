// Package format serializes extracted records into interchange files:
// RFC 5322 messages, vCard 3.0 contact cards and iCalendar 2.0 events.
// All functions are pure; output uses CRLF line endings.
package format

import (
	"strings"
	"time"
	"unicode/utf8"
)

const crlf = "\r\n"

// maxLineOctets is the content line limit of vCard and iCalendar.
const maxLineOctets = 75

var stampReplacer = strings.NewReplacer(":", "-", ".", "-")

// Stamp renders t in UTC as 2006-01-02T15-04-05-000Z, a timestamp that is
// safe to use in file names.
func Stamp(t time.Time) string {
	return stampReplacer.Replace(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
}

// normalizeNewlines converts any mix of line endings to CRLF.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", crlf)
}

// escapeText escapes a vCard/iCalendar TEXT value.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return textEscaper.Replace(s)
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\;`,
	",", `\,`,
	"\n", `\n`,
	"\r", `\n`,
)

type lineWriter struct {
	b strings.Builder
}

func (w *lineWriter) line(s string) {
	w.b.WriteString(s)
	w.b.WriteString(crlf)
}

// field writes the content line "name:value" when value is not empty.
func (w *lineWriter) field(name, value string) {
	if value == "" {
		return
	}
	w.folded(name + ":" + value)
}

// folded writes s as a content line folded at maxLineOctets. Continuation
// lines start with a space and never split a UTF-8 sequence.
func (w *lineWriter) folded(s string) {
	limit := maxLineOctets
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		w.b.WriteString(s[:cut])
		w.b.WriteString(crlf + " ")
		s = s[cut:]
		limit = maxLineOctets - 1
	}
	w.line(s)
}

// header writes a mail header "name: value" when value is not empty.
func (w *lineWriter) header(name, value string) {
	if value == "" {
		return
	}
	w.line(name + ": " + value)
}

func (w *lineWriter) bytes() []byte {
	return []byte(w.b.String())
}
