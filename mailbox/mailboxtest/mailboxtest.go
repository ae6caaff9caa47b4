// Package mailboxtest provides in-memory implementations of the mailbox
// interfaces for tests.
package mailboxtest

import (
	"bytes"
	"errors"
	"time"

	"github.com/dhcgn/mailbox-export/mailbox"
)

type Store struct {
	Root    *Folder
	RootErr error
	Closed  bool
}

func (s *Store) RootFolder() (mailbox.Folder, error) {
	if s.RootErr != nil {
		return nil, s.RootErr
	}
	if s.Root == nil {
		return nil, errors.New("no root folder")
	}
	return s.Root, nil
}

func (s *Store) Close() error {
	s.Closed = true
	return nil
}

// Folder hands out Items in order. When CursorErr is set, NextChild fails
// once CursorErrAt items have been delivered.
type Folder struct {
	Name          string
	Items         []mailbox.Item
	Children      []*Folder
	SubfoldersErr error
	CursorErr     error
	CursorErrAt   int
	PanicOnName   bool
	// ContentCalls counts ContentCount calls.
	ContentCalls int

	pos int
}

func (f *Folder) DisplayName() string {
	if f.PanicOnName {
		panic("corrupt folder descriptor")
	}
	return f.Name
}

func (f *Folder) ContentCount() int {
	f.ContentCalls++
	return len(f.Items)
}

func (f *Folder) HasSubfolders() bool {
	return len(f.Children) > 0 || f.SubfoldersErr != nil
}

func (f *Folder) NextChild() (mailbox.Item, error) {
	if f.CursorErr != nil && f.pos >= f.CursorErrAt {
		return nil, f.CursorErr
	}
	if f.pos >= len(f.Items) {
		return nil, nil
	}
	item := f.Items[f.pos]
	f.pos++
	return item, nil
}

func (f *Folder) Subfolders() ([]mailbox.Folder, error) {
	if f.SubfoldersErr != nil {
		return nil, f.SubfoldersErr
	}
	out := make([]mailbox.Folder, 0, len(f.Children))
	for _, c := range f.Children {
		out = append(out, c)
	}
	return out, nil
}

// Rewind resets the cursor so the folder can be walked again.
func (f *Folder) Rewind() {
	f.pos = 0
	for _, c := range f.Children {
		c.Rewind()
	}
}

// Item is an item that only carries a class.
type Item struct {
	Class string
}

func (i *Item) MessageClass() string { return i.Class }

type Message struct {
	Class       string
	SubjectLine string
	From        string
	To          string
	HTML        string
	Plain       string
	RTF         string
	Submitted   time.Time
	Delivered   time.Time
	Headers     string
	Files       []*Attachment
	FileErrs    map[int]error
	LoadErr     error
	PanicOnLoad bool
}

func (m *Message) MessageClass() string {
	if m.Class == "" {
		return mailbox.ClassNote
	}
	return m.Class
}

func (m *Message) Load() error {
	if m.PanicOnLoad {
		panic("broken property stream")
	}
	return m.LoadErr
}

func (m *Message) Subject() string             { return m.SubjectLine }
func (m *Message) SenderEmail() string         { return m.From }
func (m *Message) DisplayTo() string           { return m.To }
func (m *Message) BodyHTML() string            { return m.HTML }
func (m *Message) BodyPlain() string           { return m.Plain }
func (m *Message) BodyRTF() string             { return m.RTF }
func (m *Message) ClientSubmitTime() time.Time { return m.Submitted }
func (m *Message) DeliveryTime() time.Time     { return m.Delivered }
func (m *Message) TransportHeaders() string    { return m.Headers }
func (m *Message) AttachmentCount() int        { return len(m.Files) }

func (m *Message) Attachment(i int) (mailbox.Attachment, error) {
	if err := m.FileErrs[i]; err != nil {
		return nil, err
	}
	return m.Files[i], nil
}

type Attachment struct {
	Name     string
	LongName string
	Mime     string
	Data     []byte
	OpenErr  error
}

func (a *Attachment) Filename() string     { return a.Name }
func (a *Attachment) LongFilename() string { return a.LongName }
func (a *Attachment) MimeType() string     { return a.Mime }
func (a *Attachment) Size() int64          { return int64(len(a.Data)) }

func (a *Attachment) Open() (mailbox.Stream, error) {
	if a.OpenErr != nil {
		return nil, a.OpenErr
	}
	return bytes.NewReader(a.Data), nil
}

type Contact struct {
	Name     string
	Mail     string
	Business string
	Mobile   string
	Home     string
	Address  string
	Company  string
	Title    string
}

func (c *Contact) MessageClass() string  { return mailbox.ClassContact }
func (c *Contact) DisplayName() string   { return c.Name }
func (c *Contact) EmailAddress() string  { return c.Mail }
func (c *Contact) BusinessPhone() string { return c.Business }
func (c *Contact) MobilePhone() string   { return c.Mobile }
func (c *Contact) HomePhone() string     { return c.Home }
func (c *Contact) PostalAddress() string { return c.Address }
func (c *Contact) CompanyName() string   { return c.Company }
func (c *Contact) JobTitle() string      { return c.Title }

type Appointment struct {
	SubjectLine string
	Where       string
	Start       time.Time
	End         time.Time
	Text        string
}

func (a *Appointment) MessageClass() string { return mailbox.ClassAppointment }
func (a *Appointment) Subject() string      { return a.SubjectLine }
func (a *Appointment) Location() string     { return a.Where }
func (a *Appointment) StartTime() time.Time { return a.Start }
func (a *Appointment) EndTime() time.Time   { return a.End }
func (a *Appointment) Body() string         { return a.Text }
