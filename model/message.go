package model

import "time"

// Message is a single mail item extracted from a mailbox folder.
type Message struct {
	Subject    string
	Sender     string
	Recipients []string
	// Body holds HTML or plain text; the serializer tells them apart.
	Body        string
	Sent        *time.Time
	Received    *time.Time
	Headers     string
	Attachments []Attachment
}

// Date returns the sent time, falling back to the received time.
func (m Message) Date() *time.Time {
	if m.Sent != nil {
		return m.Sent
	}
	return m.Received
}

// Attachment is one drained attachment. Filename is already path-safe.
type Attachment struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Contact is a contact card. Missing fields are empty strings.
type Contact struct {
	FullName      string
	Email         string
	BusinessPhone string
	MobilePhone   string
	HomePhone     string
	Address       string
	Company       string
	JobTitle      string
}

// Appointment is a single calendar entry.
type Appointment struct {
	Subject  string
	Location string
	Start    *time.Time
	End      *time.Time
	Body     string
}
