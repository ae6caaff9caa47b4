package mailbox

import "strings"

// Kind is the semantic category of a mailbox item.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindMessage
	KindContact
	KindAppointment
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindContact:
		return "contact"
	case KindAppointment:
		return "appointment"
	default:
		return "unrecognized"
	}
}

const (
	ClassNote        = "IPM.Note"
	ClassContact     = "IPM.Contact"
	ClassAppointment = "IPM.Appointment"

	classNamespace = "IPM."
)

var classFamilies = []struct {
	class string
	kind  Kind
}{
	{ClassNote, KindMessage},
	{ClassContact, KindContact},
	{ClassAppointment, KindAppointment},
}

// Classify maps a message class tag to its Kind. A tag matches a family when
// it equals the family name or extends it with a dotted suffix, so
// "IPM.Note.SMIME" is a message but "IPM.Notes" is not.
func Classify(tag string) Kind {
	if !strings.HasPrefix(tag, classNamespace) {
		return KindUnrecognized
	}
	for _, f := range classFamilies {
		if tag == f.class || strings.HasPrefix(tag, f.class+".") {
			return f.kind
		}
	}
	return KindUnrecognized
}
