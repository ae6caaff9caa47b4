package format

import (
	"encoding/base64"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/dhcgn/mailbox-export/model"
)

// Mailer identifies the generator in the X-Mailer header.
const Mailer = "mailbox-export"

// Body content types.
const (
	ContentTypeHTML  = "text/html; charset=utf-8"
	ContentTypePlain = "text/plain; charset=utf-8"
)

// base64LineLen is the line length limit for base64 bodies (RFC 2045).
const base64LineLen = 76

var htmlRoot = regexp.MustCompile(`(?i)<html[\s>]`)

// generated holds the headers Message writes itself; transport headers with
// the same name are dropped so the document never carries duplicates.
var generated = map[string]bool{
	"from":                      true,
	"to":                        true,
	"subject":                   true,
	"date":                      true,
	"mime-version":              true,
	"content-type":              true,
	"content-transfer-encoding": true,
	"content-disposition":       true,
	"x-mailer":                  true,
}

// Message serializes msg. boundary separates the MIME parts and is only used
// when msg has attachments.
func Message(msg model.Message, boundary string) []byte {
	var w lineWriter

	w.header("From", msg.Sender)
	w.header("To", strings.Join(nonEmpty(msg.Recipients), ", "))
	w.header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	if date := msg.Date(); date != nil {
		w.header("Date", date.UTC().Format(time.RFC1123Z))
	}
	w.header("MIME-Version", "1.0")

	multipart := len(msg.Attachments) > 0
	if multipart {
		w.header("Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": boundary}))
	} else {
		w.header("Content-Type", BodyContentType(msg.Body))
	}
	w.header("X-Mailer", Mailer)
	for _, h := range transportFields(msg.Headers) {
		w.line(h)
	}
	w.line("")

	if !multipart {
		w.b.WriteString(normalizeNewlines(msg.Body))
		return w.bytes()
	}

	w.line("--" + boundary)
	w.header("Content-Type", BodyContentType(msg.Body))
	w.line("")
	w.line(normalizeNewlines(msg.Body))

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.line("--" + boundary)
		w.header("Content-Type", withParam(contentType, "name", att.Filename))
		w.header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
		w.header("Content-Transfer-Encoding", "base64")
		w.line("")
		for _, l := range wrapBase64(att.Data) {
			w.line(l)
		}
	}
	w.line("--" + boundary + "--")

	return w.bytes()
}

// BodyContentType reports text/html for bodies with an HTML root element and
// text/plain otherwise.
func BodyContentType(body string) string {
	if htmlRoot.MatchString(body) {
		return ContentTypeHTML
	}
	return ContentTypePlain
}

func withParam(contentType, key, value string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "application/octet-stream", map[string]string{}
	}
	if value != "" {
		params[key] = value
	}
	if out := mime.FormatMediaType(mediaType, params); out != "" {
		return out
	}
	return mediaType
}

func wrapBase64(data []byte) []string {
	encoded := base64.StdEncoding.EncodeToString(data)
	lines := make([]string, 0, len(encoded)/base64LineLen+1)
	for len(encoded) > base64LineLen {
		lines = append(lines, encoded[:base64LineLen])
		encoded = encoded[base64LineLen:]
	}
	if encoded != "" {
		lines = append(lines, encoded)
	}
	return lines
}

// transportFields splits a raw header block into complete fields, keeping
// folded continuation lines attached to their field.
func transportFields(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	var (
		fields []string
		cur    []string
		keep   bool
	)
	flush := func() {
		if keep && len(cur) > 0 {
			fields = append(fields, strings.Join(cur, crlf))
		}
		cur, keep = nil, false
	}

	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(cur) > 0 {
				cur = append(cur, line)
			}
			continue
		}
		flush()
		name, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		cur = []string{line}
		keep = name != "" && !generated[strings.ToLower(name)]
	}
	flush()
	return fields
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
