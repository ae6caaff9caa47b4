package imap

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailbox-export/model"
)

func TestMailboxName(t *testing.T) {
	tests := []struct {
		parent, folder string
		delim          rune
		want           string
	}{
		{"", "Inbox", '/', "Inbox"},
		{"Archive", "Inbox", '/', "Archive/Inbox"},
		{"Archive/Inbox", "a/b", '/', "Archive/Inbox/a_b"},
		{"Archive", "  ", '/', "Archive/untitled"},
		{"INBOX.Archive", "Inbox", '.', "INBOX.Archive.Inbox"},
		{"INBOX", "v1.2 notes", '.', "INBOX.v1_2 notes"},
		{"INBOX", "a/b", '.', "INBOX.a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, MailboxName(tt.parent, tt.folder, tt.delim))
		})
	}
}

func TestPrefixName(t *testing.T) {
	tests := []struct {
		prefix string
		delim  rune
		want   string
	}{
		{"", '.', ""},
		{"Archive", '.', "Archive"},
		{"INBOX/Archive/2024", '.', "INBOX.Archive.2024"},
		{"INBOX/Archive/2024", '/', "INBOX/Archive/2024"},
		{"INBOX//v1.2", '.', "INBOX.v1_2"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix+string(tt.delim), func(t *testing.T) {
			assert.Equal(t, tt.want, PrefixName(tt.prefix, tt.delim))
		})
	}
}

func TestDelimiterOf(t *testing.T) {
	assert.Equal(t, '.', delimiterOf([]*imapv2.ListData{{Delim: '.'}}))
	assert.Equal(t, '/', delimiterOf([]*imapv2.ListData{nil, {Delim: '/'}}))
	assert.Equal(t, DefaultDelimiter, delimiterOf([]*imapv2.ListData{{}}))
	assert.Equal(t, DefaultDelimiter, delimiterOf(nil))
}

func TestInternalDate(t *testing.T) {
	sent := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	received := sent.Add(time.Minute)

	assert.Equal(t, received, internalDate(model.Message{Sent: &sent, Received: &received}))
	assert.Equal(t, sent, internalDate(model.Message{Sent: &sent}))
	assert.True(t, internalDate(model.Message{}).IsZero())
}

func TestNewUploader_Validation(t *testing.T) {
	_, err := NewUploader(Options{Port: 993}, nil, nil)
	assert.Error(t, err)
	_, err = NewUploader(Options{Host: "mail.example.com"}, nil, nil)
	assert.Error(t, err)
	_, err = NewUploader(Options{Host: "mail.example.com", Port: 993}, nil, nil)
	assert.NoError(t, err)
}

func TestUpload_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	u, err := NewUploader(Options{Host: "127.0.0.1", Port: port}, nil, nil)
	require.NoError(t, err)

	err = u.Upload(context.Background(), &model.Folder{Name: "Inbox"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:"+strconv.Itoa(port))
}
