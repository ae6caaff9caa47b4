package mbox

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"

	"github.com/dhcgn/mailbox-export/mailbox"
)

var (
	ErrNoVCard    = errors.New("no vCard part")
	ErrNoCalendar = errors.New("no calendar event")
)

// newItem picks the concrete item type from the class so the walker finds
// the matching accessors.
func newItem(raw []byte) mailbox.Item {
	e := entry{raw: raw, class: classOf(raw)}
	switch mailbox.Classify(e.class) {
	case mailbox.KindMessage:
		return &Message{entry: e}
	case mailbox.KindContact:
		return &Contact{entry: e}
	case mailbox.KindAppointment:
		return &Appointment{entry: e}
	}
	return &e
}

type entry struct {
	raw   []byte
	class string
}

func (e *entry) MessageClass() string { return e.class }

// Message is a mail item. Accessors return zero values until Load succeeds.
type Message struct {
	entry
	subject     string
	from        string
	to          []string
	html        string
	plain       string
	submitted   time.Time
	delivered   time.Time
	headers     string
	attachments []*Attachment
}

func (m *Message) Load() error {
	header, _ := splitRawMessage(m.raw)
	m.headers = string(header)

	h, parts, err := readParts(m.raw)
	if err != nil {
		return err
	}
	m.subject = subjectOf(h)
	if from := addresses(h, "From"); len(from) > 0 {
		m.from = from[0]
	}
	m.to = addresses(h, "To")
	if t, err := h.Date(); err == nil {
		m.submitted = t
	}
	m.delivered = deliveryTime(h)

	for _, p := range parts {
		switch {
		case !p.attachment && p.mediaType == "text/plain" && m.plain == "":
			m.plain = string(p.data)
		case !p.attachment && p.mediaType == "text/html" && m.html == "":
			m.html = string(p.data)
		default:
			m.attachments = append(m.attachments, &Attachment{
				name:     p.params["name"],
				longName: p.filename,
				mimeType: p.mediaType,
				data:     p.data,
			})
		}
	}
	return nil
}

func (m *Message) Subject() string             { return m.subject }
func (m *Message) SenderEmail() string         { return m.from }
func (m *Message) DisplayTo() string           { return strings.Join(m.to, "; ") }
func (m *Message) BodyHTML() string            { return m.html }
func (m *Message) BodyPlain() string           { return m.plain }
func (m *Message) BodyRTF() string             { return "" }
func (m *Message) ClientSubmitTime() time.Time { return m.submitted }
func (m *Message) DeliveryTime() time.Time     { return m.delivered }
func (m *Message) TransportHeaders() string    { return m.headers }
func (m *Message) AttachmentCount() int        { return len(m.attachments) }

func (m *Message) Attachment(i int) (mailbox.Attachment, error) {
	if i < 0 || i >= len(m.attachments) {
		return nil, fmt.Errorf("attachment %d out of range", i)
	}
	return m.attachments[i], nil
}

// Attachment is a decoded MIME part held in memory.
type Attachment struct {
	name     string
	longName string
	mimeType string
	data     []byte
}

func (a *Attachment) Filename() string     { return a.name }
func (a *Attachment) LongFilename() string { return a.longName }
func (a *Attachment) MimeType() string     { return a.mimeType }
func (a *Attachment) Size() int64          { return int64(len(a.data)) }

func (a *Attachment) Open() (mailbox.Stream, error) {
	return bytes.NewReader(a.data), nil
}

// Contact is a message carrying a vCard.
type Contact struct {
	entry
	fullName string
	email    string
	business string
	mobile   string
	home     string
	address  string
	company  string
	title    string
}

func (c *Contact) Load() error {
	_, parts, err := readParts(c.raw)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if !isVCard(p.mediaType) {
			continue
		}
		card, err := vcard.NewDecoder(bytes.NewReader(p.data)).Decode()
		if err != nil {
			return fmt.Errorf("decode vCard: %w", err)
		}
		c.fill(card)
		return nil
	}
	return ErrNoVCard
}

func (c *Contact) fill(card vcard.Card) {
	c.fullName = card.PreferredValue(vcard.FieldFormattedName)
	if c.fullName == "" {
		if n := card.Name(); n != nil {
			c.fullName = strings.TrimSpace(n.GivenName + " " + n.FamilyName)
		}
	}
	c.email = card.PreferredValue(vcard.FieldEmail)
	c.business = typedValue(card[vcard.FieldTelephone], "work")
	c.mobile = typedValue(card[vcard.FieldTelephone], "cell")
	c.home = typedValue(card[vcard.FieldTelephone], "home")

	if adr := typedField(card[vcard.FieldAddress], "work"); adr != nil {
		c.address = formatAddress(adr.Value)
	} else if len(card[vcard.FieldAddress]) > 0 {
		c.address = formatAddress(card[vcard.FieldAddress][0].Value)
	}
	org, _, _ := strings.Cut(card.PreferredValue(vcard.FieldOrganization), ";")
	c.company = org
	c.title = card.PreferredValue(vcard.FieldTitle)
}

func (c *Contact) DisplayName() string   { return c.fullName }
func (c *Contact) EmailAddress() string  { return c.email }
func (c *Contact) BusinessPhone() string { return c.business }
func (c *Contact) MobilePhone() string   { return c.mobile }
func (c *Contact) HomePhone() string     { return c.home }
func (c *Contact) PostalAddress() string { return c.address }
func (c *Contact) CompanyName() string   { return c.company }
func (c *Contact) JobTitle() string      { return c.title }

func isVCard(mediaType string) bool {
	switch mediaType {
	case "text/vcard", "text/x-vcard", "text/directory":
		return true
	}
	return false
}

func typedValue(fields []*vcard.Field, typ string) string {
	if f := typedField(fields, typ); f != nil {
		return f.Value
	}
	return ""
}

// typedField finds the first field carrying typ, either as TYPE=typ or as a
// bare vCard 2.1 parameter.
func typedField(fields []*vcard.Field, typ string) *vcard.Field {
	for _, f := range fields {
		for key, values := range f.Params {
			if strings.EqualFold(key, typ) {
				return f
			}
			if !strings.EqualFold(key, vcard.ParamType) {
				continue
			}
			for _, v := range values {
				for _, t := range strings.Split(v, ",") {
					if strings.EqualFold(strings.TrimSpace(t), typ) {
						return f
					}
				}
			}
		}
	}
	return nil
}

// formatAddress joins the populated ADR components with ", ".
func formatAddress(value string) string {
	var out []string
	for _, c := range strings.Split(value, ";") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, ", ")
}

// Appointment is a message carrying an iCalendar event.
type Appointment struct {
	entry
	subject  string
	location string
	start    time.Time
	end      time.Time
	body     string
}

func (a *Appointment) Load() error {
	h, parts, err := readParts(a.raw)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if p.mediaType != "text/calendar" {
			continue
		}
		cal, err := ical.NewDecoder(bytes.NewReader(p.data)).Decode()
		if err != nil {
			return fmt.Errorf("decode calendar: %w", err)
		}
		events := cal.Events()
		if len(events) == 0 {
			continue
		}
		ev := events[0]
		a.subject, _ = ev.Props.Text(ical.PropSummary)
		a.location, _ = ev.Props.Text(ical.PropLocation)
		a.body, _ = ev.Props.Text(ical.PropDescription)
		if t, err := ev.DateTimeStart(time.UTC); err == nil {
			a.start = t
		}
		if t, err := ev.DateTimeEnd(time.UTC); err == nil {
			a.end = t
		}
		if a.subject == "" {
			a.subject = subjectOf(h)
		}
		return nil
	}
	return ErrNoCalendar
}

func (a *Appointment) Subject() string      { return a.subject }
func (a *Appointment) Location() string     { return a.location }
func (a *Appointment) StartTime() time.Time { return a.start }
func (a *Appointment) EndTime() time.Time   { return a.end }
func (a *Appointment) Body() string         { return a.body }
