package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/dhcgn/mailbox-export/mailbox"
)

// HeaderMessageClass carries an explicit item class, as written by PST to
// mbox converters.
const HeaderMessageClass = "X-Message-Class"

func init() {
	message.CharsetReader = charsetReader
}

// charsetReader decodes any IANA registered charset; unknown ones are passed
// through unchanged.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	if charset == "" {
		return input, nil
	}
	enc, err := ianaindex.IANA.Encoding(strings.ToLower(charset))
	if err != nil || enc == nil {
		return input, nil
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// classOf reads only the header block of raw.
func classOf(raw []byte) string {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return mailbox.ClassNote
	}
	if class := strings.TrimSpace(h.Get(HeaderMessageClass)); class != "" {
		return class
	}
	mh := message.Header{Header: h}
	mediaType, _, _ := mh.ContentType()
	switch strings.ToLower(mediaType) {
	case "text/vcard", "text/x-vcard", "text/directory":
		return mailbox.ClassContact
	case "text/calendar":
		return mailbox.ClassAppointment
	}
	return mailbox.ClassNote
}

type part struct {
	mediaType  string
	params     map[string]string
	filename   string
	attachment bool
	data       []byte
}

// readParts parses raw and returns its header and every leaf part, nested
// multiparts flattened in document order.
func readParts(raw []byte) (mail.Header, []part, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		return mail.Header{}, nil, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	var parts []part
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if p == nil {
			return mr.Header, parts, fmt.Errorf("parse part %d: %w", len(parts), err)
		}
		data, err := io.ReadAll(p.Body)
		if err != nil {
			return mr.Header, parts, fmt.Errorf("read part %d: %w", len(parts), err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			mediaType, params, _ := h.ContentType()
			parts = append(parts, part{mediaType: strings.ToLower(mediaType), params: params, data: data})
		case *mail.AttachmentHeader:
			mediaType, params, _ := h.ContentType()
			filename, _ := h.Filename()
			parts = append(parts, part{
				mediaType:  strings.ToLower(mediaType),
				params:     params,
				filename:   filename,
				attachment: true,
				data:       data,
			})
		}
	}
	return mr.Header, parts, nil
}

func subjectOf(h mail.Header) string {
	if s, err := h.Subject(); err == nil {
		return s
	}
	return h.Get("Subject")
}

func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		if raw := strings.TrimSpace(h.Get(key)); raw != "" {
			return []string{raw}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Address != "" {
			out = append(out, a.Address)
		} else if a.Name != "" {
			out = append(out, a.Name)
		}
	}
	return out
}

// deliveryTime takes the date of the topmost Received header, which the
// final hop prepends.
func deliveryTime(h mail.Header) time.Time {
	received := h.Get("Received")
	idx := strings.LastIndex(received, ";")
	if idx < 0 {
		return time.Time{}
	}
	t, err := netmail.ParseDate(strings.TrimSpace(received[idx+1:]))
	if err != nil {
		return time.Time{}
	}
	return t
}
