package walker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailbox-export/filter"
	"github.com/dhcgn/mailbox-export/mailbox"
	"github.com/dhcgn/mailbox-export/mailbox/mailboxtest"
	"github.com/dhcgn/mailbox-export/model"
	"github.com/dhcgn/mailbox-export/stats"
)

func newTestWalker(t *testing.T, f FolderFilter) (*Walker, *stats.Collector) {
	t.Helper()
	collector := stats.NewCollector()
	return New(Options{Recorder: collector, Filter: f}), collector
}

func findFolder(t *testing.T, parent *model.Folder, name string) *model.Folder {
	t.Helper()
	for _, sub := range parent.Subfolders {
		if sub.Name == name {
			return sub
		}
	}
	t.Fatalf("folder %q not found under %q", name, parent.Name)
	return nil
}

func TestWalk_Tree(t *testing.T) {
	sent := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	root := &mailboxtest.Folder{
		Name: "Top of Personal Folders",
		Children: []*mailboxtest.Folder{
			{
				Name: "Inbox",
				Items: []mailbox.Item{
					&mailboxtest.Message{
						SubjectLine: "Hello",
						From:        "a@x.com",
						To:          "b@x.com; c@x.com ;",
						Plain:       "hi",
						Submitted:   sent,
						Files: []*mailboxtest.Attachment{
							{Name: "REPORT~1.PDF", LongName: "report.pdf", Mime: "application/pdf", Data: []byte("%PDF")},
						},
					},
					&mailboxtest.Item{Class: "IPM.StickyNote"},
					&mailboxtest.Contact{Name: "Jane Doe", Mail: "jane@x.com", Mobile: "+1 555"},
				},
			},
			{
				Name: "Calendar",
				Items: []mailbox.Item{
					&mailboxtest.Appointment{SubjectLine: "Standup", Where: "Room 1", Start: sent, End: sent.Add(15 * time.Minute)},
				},
			},
			{Name: "Empty", Children: []*mailboxtest.Folder{{Name: "Nested"}}},
		},
	}

	w, collector := newTestWalker(t, nil)
	tree := w.Walk(root)

	require.NotNil(t, tree)
	assert.Equal(t, "Top of Personal Folders", tree.Name)
	require.Len(t, tree.Subfolders, 2, "empty folders are pruned")

	inbox := findFolder(t, tree, "Inbox")
	require.Len(t, inbox.Messages, 1)
	msg := inbox.Messages[0]
	assert.Equal(t, "Hello", msg.Subject)
	assert.Equal(t, "a@x.com", msg.Sender)
	assert.Equal(t, []string{"b@x.com", "c@x.com"}, msg.Recipients)
	assert.Equal(t, "hi", msg.Body)
	require.NotNil(t, msg.Sent)
	assert.True(t, sent.Equal(*msg.Sent))
	assert.Nil(t, msg.Received)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "report.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	assert.Equal(t, []byte("%PDF"), msg.Attachments[0].Data)

	require.Len(t, inbox.Contacts, 1)
	assert.Equal(t, model.Contact{FullName: "Jane Doe", Email: "jane@x.com", MobilePhone: "+1 555"}, inbox.Contacts[0])

	cal := findFolder(t, tree, "Calendar")
	require.Len(t, cal.Appointments, 1)
	assert.Equal(t, "Standup", cal.Appointments[0].Subject)
	assert.Equal(t, "Room 1", cal.Appointments[0].Location)

	summary := collector.Snapshot()
	assert.Equal(t, 1, summary.Messages)
	assert.Equal(t, 1, summary.Contacts)
	assert.Equal(t, 1, summary.Appointments)
	assert.Equal(t, 1, summary.Attachments)
	assert.Equal(t, int64(4), summary.AttachmentBytes)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 5, summary.Folders)
	assert.Zero(t, summary.Errors)
}

func TestWalk_EmptyRootIsKept(t *testing.T) {
	w, _ := newTestWalker(t, nil)
	tree := w.Walk(&mailboxtest.Folder{Name: "Root", Children: []*mailboxtest.Folder{{Name: "Deleted Items"}}})

	require.NotNil(t, tree)
	assert.Equal(t, "Root", tree.Name)
	assert.Empty(t, tree.Subfolders)
	assert.True(t, tree.Empty())
}

func TestWalk_ItemFailuresAreIsolated(t *testing.T) {
	root := &mailboxtest.Folder{
		Name: "Root",
		Items: []mailbox.Item{
			&mailboxtest.Message{SubjectLine: "broken", LoadErr: errors.New("bad property")},
			&mailboxtest.Message{SubjectLine: "panics", PanicOnLoad: true},
			&mailboxtest.Message{SubjectLine: "fine", Plain: "ok"},
		},
	}

	w, collector := newTestWalker(t, nil)
	tree := w.Walk(root)

	require.Len(t, tree.Messages, 1)
	assert.Equal(t, "fine", tree.Messages[0].Subject)
	assert.Equal(t, 2, collector.Snapshot().Errors)
}

func TestWalk_CursorFailureStopsFolderOnly(t *testing.T) {
	root := &mailboxtest.Folder{
		Name: "Root",
		Children: []*mailboxtest.Folder{
			{
				Name: "Corrupt",
				Items: []mailbox.Item{
					&mailboxtest.Message{SubjectLine: "first"},
					&mailboxtest.Message{SubjectLine: "unreachable"},
				},
				CursorErr:   errors.New("descriptor index broken"),
				CursorErrAt: 1,
				Children: []*mailboxtest.Folder{
					{Name: "Child", Items: []mailbox.Item{&mailboxtest.Message{SubjectLine: "child"}}},
				},
			},
			{Name: "Sibling", Items: []mailbox.Item{&mailboxtest.Message{SubjectLine: "sibling"}}},
		},
	}

	w, collector := newTestWalker(t, nil)
	tree := w.Walk(root)

	corrupt := findFolder(t, tree, "Corrupt")
	require.Len(t, corrupt.Messages, 1)
	assert.Equal(t, "first", corrupt.Messages[0].Subject)
	assert.Len(t, findFolder(t, corrupt, "Child").Messages, 1, "subfolders of a truncated folder are still walked")
	assert.Len(t, findFolder(t, tree, "Sibling").Messages, 1)
	assert.Equal(t, 1, collector.Snapshot().TruncatedFolders)
}

func TestWalk_SubfolderListingFailureKeepsItems(t *testing.T) {
	root := &mailboxtest.Folder{
		Name:          "Root",
		Items:         []mailbox.Item{&mailboxtest.Message{SubjectLine: "kept"}},
		SubfoldersErr: errors.New("sub-node tree unreadable"),
	}

	w, collector := newTestWalker(t, nil)
	tree := w.Walk(root)

	require.Len(t, tree.Messages, 1)
	assert.Empty(t, tree.Subfolders)
	assert.Equal(t, 1, collector.Snapshot().Errors)
}

func TestWalk_SubfolderPanicIsIsolated(t *testing.T) {
	root := &mailboxtest.Folder{
		Name: "Root",
		Children: []*mailboxtest.Folder{
			{Name: "Bad", PanicOnName: true, Items: []mailbox.Item{&mailboxtest.Message{SubjectLine: "lost"}}},
			{Name: "Good", Items: []mailbox.Item{&mailboxtest.Message{SubjectLine: "kept"}}},
		},
	}

	w, collector := newTestWalker(t, nil)
	tree := w.Walk(root)

	require.Len(t, tree.Subfolders, 1)
	assert.Equal(t, "Good", tree.Subfolders[0].Name)
	assert.Equal(t, 1, collector.Snapshot().Errors)
}

func TestWalk_DroppedAttachmentKeepsMessage(t *testing.T) {
	root := &mailboxtest.Folder{
		Name: "Root",
		Items: []mailbox.Item{
			&mailboxtest.Message{
				SubjectLine: "with files",
				Files: []*mailboxtest.Attachment{
					{Name: "a.txt", Data: []byte("a")},
					{Name: "b.txt", OpenErr: errors.New("stream gone")},
					{Name: "empty.txt"},
					{Name: "skipped"},
					{Data: []byte("e")},
				},
				FileErrs: map[int]error{3: errors.New("no descriptor")},
			},
		},
	}

	w, collector := newTestWalker(t, nil)
	tree := w.Walk(root)

	require.Len(t, tree.Messages, 1)
	atts := tree.Messages[0].Attachments
	require.Len(t, atts, 2)
	assert.Equal(t, "a.txt", atts[0].Filename)
	assert.Equal(t, mailbox.DefaultContentType, atts[0].ContentType)
	assert.Equal(t, "attachment_5", atts[1].Filename)

	summary := collector.Snapshot()
	assert.Equal(t, 3, summary.DroppedAttachments)
	assert.Equal(t, 2, summary.Attachments)
}

func TestWalk_AttachmentNameIsSanitized(t *testing.T) {
	root := &mailboxtest.Folder{
		Name: "Root",
		Items: []mailbox.Item{
			&mailboxtest.Message{Files: []*mailboxtest.Attachment{{LongName: `..\evil:name?.txt`, Data: []byte("x")}}},
		},
	}

	w, _ := newTestWalker(t, nil)
	tree := w.Walk(root)

	require.Len(t, tree.Messages, 1)
	require.Len(t, tree.Messages[0].Attachments, 1)
	assert.Equal(t, ".._evil_name_.txt", tree.Messages[0].Attachments[0].Filename)
}

func TestPreferredBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *mailboxtest.Message
		want string
	}{
		{"rtf wins", &mailboxtest.Message{RTF: "{\\rtf1}", HTML: "<html>", Plain: "p"}, "{\\rtf1}"},
		{"html over plain", &mailboxtest.Message{HTML: "<html>", Plain: "p"}, "<html>"},
		{"plain only", &mailboxtest.Message{Plain: "p"}, "p"},
		{"none", &mailboxtest.Message{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, preferredBody(tt.msg))
		})
	}
}

func TestWalk_ExcludeFilterCutsSubtree(t *testing.T) {
	f, err := filter.New(filter.Options{ExcludeFolder: []string{`/Junk$`}})
	require.NoError(t, err)

	root := &mailboxtest.Folder{
		Name: "Root",
		Children: []*mailboxtest.Folder{
			{Name: "Junk", Items: []mailbox.Item{&mailboxtest.Message{SubjectLine: "spam"}}},
			{Name: "Inbox", Items: []mailbox.Item{&mailboxtest.Message{SubjectLine: "ham"}}},
		},
	}

	w, _ := newTestWalker(t, f)
	tree := w.Walk(root)

	require.Len(t, tree.Subfolders, 1)
	assert.Equal(t, "Inbox", tree.Subfolders[0].Name)
}

func TestWalk_IncludeFilterCollectsMatchesOnly(t *testing.T) {
	f, err := filter.New(filter.Options{IncludeFolder: []string{`^Root/Inbox/Work$`}})
	require.NoError(t, err)

	root := &mailboxtest.Folder{
		Name:  "Root",
		Items: []mailbox.Item{&mailboxtest.Message{SubjectLine: "root"}},
		Children: []*mailboxtest.Folder{
			{
				Name:  "Inbox",
				Items: []mailbox.Item{&mailboxtest.Message{SubjectLine: "inbox"}},
				Children: []*mailboxtest.Folder{
					{Name: "Work", Items: []mailbox.Item{&mailboxtest.Message{SubjectLine: "work"}}},
				},
			},
		},
	}

	w, _ := newTestWalker(t, f)
	tree := w.Walk(root)

	assert.Empty(t, tree.Messages)
	inbox := findFolder(t, tree, "Inbox")
	assert.Empty(t, inbox.Messages)
	work := findFolder(t, inbox, "Work")
	require.Len(t, work.Messages, 1)
	assert.Equal(t, "work", work.Messages[0].Subject)
}

func TestIsolate(t *testing.T) {
	v, err := Isolate(func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = Isolate(func() (int, error) { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Zero(t, v)
}
