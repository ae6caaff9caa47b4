package format

import "github.com/dhcgn/mailbox-export/model"

// Contact serializes c as a vCard 3.0 card. Fields are written in a fixed
// order and empty ones are left out.
func Contact(c model.Contact) []byte {
	var w lineWriter
	w.line("BEGIN:VCARD")
	w.line("VERSION:3.0")
	w.field("FN", escapeText(c.FullName))
	w.field("EMAIL", escapeText(c.Email))
	w.field("TEL;TYPE=WORK", escapeText(c.BusinessPhone))
	w.field("TEL;TYPE=CELL", escapeText(c.MobilePhone))
	w.field("TEL;TYPE=HOME", escapeText(c.HomePhone))
	if c.Address != "" {
		// street component only; the source keeps the address as one string
		w.folded("ADR;TYPE=WORK:;;" + escapeText(c.Address) + ";;;;")
	}
	w.field("ORG", escapeText(c.Company))
	w.field("TITLE", escapeText(c.JobTitle))
	w.line("END:VCARD")
	return w.bytes()
}
