package mbox

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailbox-export/mailbox"
	"github.com/dhcgn/mailbox-export/model"
	"github.com/dhcgn/mailbox-export/walker"
)

const multipartMessage = `From alice@example.com Mon Mar  4 10:00:00 2024
Received: from mx.example.com by mail.example.com; Mon, 04 Mar 2024 10:00:05 +0000
From: Alice <alice@example.com>
To: Bob <bob@example.com>, carol@example.com
Subject: =?utf-8?q?Gr=C3=BC=C3=9Fe?=
Date: Mon, 04 Mar 2024 09:59:00 +0000
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="XX"

--XX
Content-Type: multipart/alternative; boundary="YY"

--YY
Content-Type: text/plain; charset=iso-8859-1
Content-Transfer-Encoding: quoted-printable

Gr=FC=DFe
--YY
Content-Type: text/html; charset=utf-8

<html><body>hi</body></html>
--YY--
--XX
Content-Type: application/pdf; name="r.pdf"
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

JVBERi0=
--XX--

`

const plainMessage = `From bob@example.com Tue Mar  5 08:00:00 2024
From: bob@example.com
To: alice@example.com
Subject: Plain
Date: Tue, 05 Mar 2024 08:00:00 +0000

just text

`

const stickyNote = `From notes Tue Mar  5 08:00:00 2024
X-Message-Class: IPM.StickyNote
Subject: remember

milk

`

var contactMessage = "From jane Tue Mar  5 08:00:00 2024\n" +
	"From: Jane <jane@x.com>\n" +
	"Subject: Jane Doe\n" +
	"Content-Type: text/vcard; charset=utf-8\n" +
	"\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Jane Doe\r\n" +
	"EMAIL;TYPE=INTERNET:jane@x.com\r\n" +
	"TEL;TYPE=WORK,VOICE:+1 555 0100\r\n" +
	"TEL;TYPE=CELL:+1 555 0101\r\n" +
	"ADR;TYPE=WORK:;;1 Main St;Springfield;;12345;USA\r\n" +
	"ORG:Acme;Sales\r\n" +
	"TITLE:Engineer\r\n" +
	"END:VCARD\r\n" +
	"\n"

var appointmentMessage = "From cal Tue Mar  5 08:00:00 2024\n" +
	"Subject: Standup invite\n" +
	"Content-Type: text/calendar; charset=utf-8; method=PUBLISH\n" +
	"\n" +
	"BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:1@test\r\n" +
	"DTSTAMP:20240304T100000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"LOCATION:Room 1\r\n" +
	"DTSTART:20240305T090000Z\r\n" +
	"DTEND:20240305T091500Z\r\n" +
	"DESCRIPTION:Daily sync\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n" +
	"\n"

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

// fixture lays out a Thunderbird profile with nested and directory-only
// folders plus the index files Thunderbird leaves next to them.
func fixture(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/in/archive.mbox", plainMessage)
	writeFile(t, fs, "/in/archive.mbox.sbd/Inbox", multipartMessage+plainMessage)
	writeFile(t, fs, "/in/archive.mbox.sbd/Inbox.msf", "// index")
	writeFile(t, fs, "/in/archive.mbox.sbd/.hidden", "x")
	writeFile(t, fs, "/in/archive.mbox.sbd/Inbox.sbd/Contacts", contactMessage+appointmentMessage+stickyNote)
	writeFile(t, fs, "/in/archive.mbox.sbd/Entw&APw-rfe", plainMessage)
	writeFile(t, fs, "/in/archive.mbox.sbd/Archive.sbd/2023", plainMessage)
	return fs
}

func subfolderNames(f *model.Folder) []string {
	var names []string
	for _, sub := range f.Subfolders {
		names = append(names, sub.Name)
	}
	return names
}

func openRoot(t *testing.T, fs afero.Fs, path string) (*Store, mailbox.Folder) {
	t.Helper()
	store, err := Open(fs, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	root, err := store.RootFolder()
	require.NoError(t, err)
	return store, root
}

func TestStore_Tree(t *testing.T) {
	_, root := openRoot(t, fixture(t), "/in/archive.mbox")

	assert.Equal(t, "archive", root.DisplayName())
	assert.Equal(t, 1, root.ContentCount())
	assert.True(t, root.HasSubfolders())

	tree := walker.New(walker.Options{}).Walk(root)
	require.Len(t, tree.Messages, 1)
	assert.Equal(t, []string{"Archive", "Entwürfe", "Inbox"}, subfolderNames(tree))

	archive := tree.Subfolders[0]
	assert.Empty(t, archive.Messages)
	assert.Equal(t, []string{"2023"}, subfolderNames(archive))

	inbox := tree.Subfolders[2]
	require.Len(t, inbox.Messages, 2)
	assert.Equal(t, []string{"Contacts"}, subfolderNames(inbox))

	contacts := inbox.Subfolders[0]
	assert.Len(t, contacts.Contacts, 1)
	assert.Len(t, contacts.Appointments, 1)
	assert.Empty(t, contacts.Messages, "sticky notes are not messages")
}

func TestMessage_Load(t *testing.T) {
	item := newItem([]byte(strings.SplitN(multipartMessage, "\n", 2)[1]))
	msg, ok := item.(*Message)
	require.True(t, ok)
	require.NoError(t, msg.Load())

	assert.Equal(t, "Grüße", msg.Subject())
	assert.Equal(t, "alice@example.com", msg.SenderEmail())
	assert.Equal(t, "bob@example.com; carol@example.com", msg.DisplayTo())
	assert.Contains(t, msg.BodyPlain(), "Grüße")
	assert.Equal(t, "<html><body>hi</body></html>", strings.TrimSpace(msg.BodyHTML()))
	assert.Empty(t, msg.BodyRTF())
	assert.True(t, time.Date(2024, 3, 4, 9, 59, 0, 0, time.UTC).Equal(msg.ClientSubmitTime()))
	assert.True(t, time.Date(2024, 3, 4, 10, 0, 5, 0, time.UTC).Equal(msg.DeliveryTime()))
	assert.True(t, strings.HasPrefix(msg.TransportHeaders(), "Received: from mx.example.com"))
	assert.NotContains(t, msg.TransportHeaders(), "--XX")

	require.Equal(t, 1, msg.AttachmentCount())
	att, err := msg.Attachment(0)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", att.LongFilename())
	assert.Equal(t, "r.pdf", att.Filename())
	assert.Equal(t, "application/pdf", att.MimeType())

	data, contentType, err := mailbox.Drain(att)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(data))
	assert.Equal(t, "application/pdf", contentType)

	_, err = msg.Attachment(1)
	assert.Error(t, err)
}

func TestContact_Load(t *testing.T) {
	item := newItem([]byte(strings.SplitN(contactMessage, "\n", 2)[1]))
	assert.Equal(t, mailbox.ClassContact, item.MessageClass())
	c, ok := item.(*Contact)
	require.True(t, ok)
	require.NoError(t, c.Load())

	assert.Equal(t, "Jane Doe", c.DisplayName())
	assert.Equal(t, "jane@x.com", c.EmailAddress())
	assert.Equal(t, "+1 555 0100", c.BusinessPhone())
	assert.Equal(t, "+1 555 0101", c.MobilePhone())
	assert.Empty(t, c.HomePhone())
	assert.Equal(t, "1 Main St, Springfield, 12345, USA", c.PostalAddress())
	assert.Equal(t, "Acme", c.CompanyName())
	assert.Equal(t, "Engineer", c.JobTitle())
}

func TestContact_MissingCard(t *testing.T) {
	raw := "X-Message-Class: IPM.Contact\nContent-Type: text/plain\n\nnot a card\n"
	c, ok := newItem([]byte(raw)).(*Contact)
	require.True(t, ok)
	assert.ErrorIs(t, c.Load(), ErrNoVCard)
}

func TestAppointment_Load(t *testing.T) {
	item := newItem([]byte(strings.SplitN(appointmentMessage, "\n", 2)[1]))
	assert.Equal(t, mailbox.ClassAppointment, item.MessageClass())
	a, ok := item.(*Appointment)
	require.True(t, ok)
	require.NoError(t, a.Load())

	assert.Equal(t, "Standup", a.Subject())
	assert.Equal(t, "Room 1", a.Location())
	assert.Equal(t, "Daily sync", a.Body())
	assert.True(t, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC).Equal(a.StartTime()))
	assert.True(t, time.Date(2024, 3, 5, 9, 15, 0, 0, time.UTC).Equal(a.EndTime()))
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"explicit class", "X-Message-Class: IPM.Note.SMIME\nContent-Type: text/vcard\n\n", "IPM.Note.SMIME"},
		{"vcard", "Content-Type: text/x-vcard\n\n", mailbox.ClassContact},
		{"calendar", "Content-Type: text/calendar; method=REQUEST\n\n", mailbox.ClassAppointment},
		{"mail", "Content-Type: multipart/mixed; boundary=x\n\n", mailbox.ClassNote},
		{"no content type", "Subject: x\n\n", mailbox.ClassNote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classOf([]byte(tt.raw)))
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Inbox", displayName("Inbox.mbox"))
	assert.Equal(t, "Inbox", displayName("Inbox.MBX"))
	assert.Equal(t, "Project.2024", displayName("Project.2024"))
	assert.Equal(t, "Entwürfe", displayName("Entw&APw-rfe"))
}

func TestCountMessages(t *testing.T) {
	fs := fixture(t)
	n, err := CountMessages(fs, "/in/archive.mbox.sbd/Inbox.sbd/Contacts")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = CountMessages(fs, "/in/missing.mbox")
	assert.Error(t, err)
}

func TestOpen_Errors(t *testing.T) {
	fs := fixture(t)

	_, err := Open(fs, "/in/missing.mbox", nil)
	assert.Error(t, err)

	_, err = Open(fs, "/in/archive.mbox.sbd", nil)
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestStore_CloseReleasesOpenFolders(t *testing.T) {
	store, root := openRoot(t, fixture(t), "/in/archive.mbox")

	item, err := root.NextChild()
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Len(t, store.open, 1)

	require.NoError(t, store.Close())
	assert.Empty(t, store.open)
}

func TestFolder_EnumerationEnds(t *testing.T) {
	store, root := openRoot(t, fixture(t), "/in/archive.mbox")

	item, err := root.NextChild()
	require.NoError(t, err)
	require.NotNil(t, item)

	item, err = root.NextChild()
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Empty(t, store.open)

	item, err = root.NextChild()
	require.NoError(t, err)
	assert.Nil(t, item)
}
