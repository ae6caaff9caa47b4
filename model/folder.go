package model

// Folder is the extracted form of one mailbox folder and its pruned subtree.
type Folder struct {
	Name         string
	Messages     []Message
	Contacts     []Contact
	Appointments []Appointment
	Subfolders   []*Folder
}

// Totals counts the records held by the folder and all of its descendants.
type Totals struct {
	Folders      int
	Messages     int
	Contacts     int
	Appointments int
	Attachments  int
}

// Records is the number of messages, contacts and appointments.
func (t Totals) Records() int {
	return t.Messages + t.Contacts + t.Appointments
}

// Empty reports whether the folder holds no records and no non-empty subfolders.
func (f *Folder) Empty() bool {
	if f == nil {
		return true
	}
	if len(f.Messages) > 0 || len(f.Contacts) > 0 || len(f.Appointments) > 0 {
		return false
	}
	for _, sub := range f.Subfolders {
		if !sub.Empty() {
			return false
		}
	}
	return true
}

// Totals walks the subtree and sums its records.
func (f *Folder) Totals() Totals {
	var t Totals
	if f == nil {
		return t
	}
	t.Folders = 1
	t.Messages = len(f.Messages)
	t.Contacts = len(f.Contacts)
	t.Appointments = len(f.Appointments)
	for _, m := range f.Messages {
		t.Attachments += len(m.Attachments)
	}
	for _, sub := range f.Subfolders {
		st := sub.Totals()
		t.Folders += st.Folders
		t.Messages += st.Messages
		t.Contacts += st.Contacts
		t.Appointments += st.Appointments
		t.Attachments += st.Attachments
	}
	return t
}
