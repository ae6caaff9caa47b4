package format

import (
	"github.com/google/uuid"

	"github.com/dhcgn/mailbox-export/model"
)

// ProdID is the iCalendar product identifier.
const ProdID = "-//mailbox-export//EN"

// uidSpace namespaces the name-based event UIDs.
var uidSpace = uuid.MustParse("6f1c1e8a-3b7e-4c52-9d0e-2a5b8f3c7d41")

// Appointment serializes a as a calendar document with a single event.
func Appointment(a model.Appointment) []byte {
	start, end := "", ""
	if a.Start != nil {
		start = Stamp(*a.Start)
	}
	if a.End != nil {
		end = Stamp(*a.End)
	}

	var w lineWriter
	w.line("BEGIN:VCALENDAR")
	w.line("VERSION:2.0")
	w.line("PRODID:" + ProdID)
	w.line("BEGIN:VEVENT")
	w.line("UID:" + uuid.NewSHA1(uidSpace, []byte(a.Subject+"\x00"+start)).String())
	w.field("SUMMARY", escapeText(a.Subject))
	w.field("LOCATION", escapeText(a.Location))
	w.field("DTSTART", start)
	w.field("DTEND", end)
	w.field("DESCRIPTION", escapeText(a.Body))
	w.line("END:VEVENT")
	w.line("END:VCALENDAR")
	return w.bytes()
}
