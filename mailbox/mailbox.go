// Package mailbox describes the reader side of an export: the folder and item
// handles a mailbox-format parser hands out, plus the two pure helpers that
// operate on them directly (item classification and attachment draining).
package mailbox

import (
	"io"
	"time"
)

// Store is an opened mailbox file.
type Store interface {
	RootFolder() (Folder, error)
	Close() error
}

// Folder is a container node. Children are handed out by a stateful,
// order-preserving cursor, so a Folder must not be enumerated concurrently.
type Folder interface {
	DisplayName() string
	ContentCount() int
	HasSubfolders() bool
	// NextChild returns the next item, or (nil, nil) once the folder is exhausted.
	NextChild() (Item, error)
	Subfolders() ([]Folder, error)
}

// Item is any addressable unit inside a folder.
type Item interface {
	MessageClass() string
}

// Loader is implemented by items that parse their content lazily. Load is
// called once before any accessor.
type Loader interface {
	Load() error
}

type Message interface {
	Item
	Subject() string
	SenderEmail() string
	// DisplayTo is the semicolon separated list of recipients.
	DisplayTo() string
	BodyHTML() string
	BodyPlain() string
	BodyRTF() string
	ClientSubmitTime() time.Time
	DeliveryTime() time.Time
	TransportHeaders() string
	AttachmentCount() int
	Attachment(i int) (Attachment, error)
}

type Contact interface {
	Item
	DisplayName() string
	EmailAddress() string
	BusinessPhone() string
	MobilePhone() string
	HomePhone() string
	PostalAddress() string
	CompanyName() string
	JobTitle() string
}

type Appointment interface {
	Item
	Subject() string
	Location() string
	StartTime() time.Time
	EndTime() time.Time
	Body() string
}

// Attachment is a handle to one attachment of a message. Size is the
// declared size in bytes, negative when unknown.
type Attachment interface {
	Filename() string
	LongFilename() string
	MimeType() string
	Size() int64
	Open() (Stream, error)
}

// Stream supports both chunked and single-byte reads. ReadByte reports the
// end of the data with io.EOF.
type Stream interface {
	io.Reader
	io.ByteReader
}
