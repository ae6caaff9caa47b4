// Package imap appends exported folder trees to an IMAP server.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/google/uuid"

	"github.com/dhcgn/mailbox-export/format"
	"github.com/dhcgn/mailbox-export/model"
	"github.com/dhcgn/mailbox-export/stats"
)

// DefaultDelimiter separates mailbox levels when the server reports no
// hierarchy delimiter.
const DefaultDelimiter = '/'

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	// Prefix is the mailbox under which the folder tree is recreated. Its
	// levels are separated by "/" whatever the server uses.
	Prefix string
}

type Uploader struct {
	opts     Options
	logger   *slog.Logger
	recorder stats.Recorder
}

func NewUploader(opts Options, logger *slog.Logger, recorder stats.Recorder) (*Uploader, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if recorder == nil {
		recorder = stats.Discard
	}
	return &Uploader{opts: opts, logger: logger, recorder: recorder}, nil
}

// Upload opens one session and appends every message of root. A message that
// cannot be appended is counted and skipped; a failing connection or mailbox
// creation aborts the upload.
func (u *Uploader) Upload(ctx context.Context, root *model.Folder) error {
	client, cleanup, err := u.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	delim := u.delimiter(client)
	return u.uploadFolder(ctx, client, root, PrefixName(u.opts.Prefix, delim), delim)
}

// delimiter asks the server for its hierarchy delimiter.
func (u *Uploader) delimiter(client *imapclient.Client) rune {
	list, err := client.List("", "", nil).Collect()
	if err != nil {
		u.logger.Warn("imap delimiter query failed", "err", err, "fallback", string(DefaultDelimiter))
		return DefaultDelimiter
	}
	delim := delimiterOf(list)
	u.logger.Debug("imap hierarchy delimiter", "delim", string(delim))
	return delim
}

func delimiterOf(list []*imapv2.ListData) rune {
	for _, data := range list {
		if data != nil && data.Delim != 0 {
			return data.Delim
		}
	}
	return DefaultDelimiter
}

func (u *Uploader) uploadFolder(ctx context.Context, client *imapclient.Client, folder *model.Folder, parent string, delim rune) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := MailboxName(parent, folder.Name, delim)

	if len(folder.Messages) > 0 {
		if err := u.ensureMailbox(client, name); err != nil {
			return err
		}
		for _, msg := range folder.Messages {
			raw := format.Message(msg, "----=_Part_"+uuid.NewString())
			if err := u.appendMessage(client, name, raw, internalDate(msg)); err != nil {
				err = fmt.Errorf("upload %q to %s: %w", msg.Subject, name, err)
				u.logger.Warn("imap append failed", "mailbox", name, "subject", msg.Subject, "err", err)
				u.recorder.Record(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeError, Path: name, Err: err})
				continue
			}
			u.recorder.Record(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeUploaded, Path: name, Bytes: int64(len(raw))})
			u.logger.Debug("uploaded message", "mailbox", name, "subject", msg.Subject)
		}
	}

	for _, sub := range folder.Subfolders {
		if err := u.uploadFolder(ctx, client, sub, name, delim); err != nil {
			return err
		}
	}
	return nil
}

// MailboxName appends a folder name to a parent mailbox. Delimiters inside
// the folder name are replaced so one folder stays one level.
func MailboxName(parent, folder string, delim rune) string {
	sep := string(delim)
	folder = strings.TrimSpace(strings.ReplaceAll(folder, sep, "_"))
	if folder == "" {
		folder = "untitled"
	}
	if parent == "" {
		return folder
	}
	return parent + sep + folder
}

// PrefixName rewrites a "/" separated prefix for a server delimiter.
func PrefixName(prefix string, delim rune) string {
	var levels []string
	for _, level := range strings.Split(prefix, "/") {
		if level = strings.TrimSpace(level); level != "" {
			levels = append(levels, MailboxName("", level, delim))
		}
	}
	return strings.Join(levels, string(delim))
}

// internalDate prefers the delivery time, which is what the original
// mailbox sorted by.
func internalDate(msg model.Message) time.Time {
	if msg.Received != nil {
		return *msg.Received
	}
	if msg.Sent != nil {
		return *msg.Sent
	}
	return time.Time{}
}

func (u *Uploader) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(u.opts.Host, strconv.Itoa(u.opts.Port))
	options := &imapclient.Options{}

	if u.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         u.opts.Host,
			InsecureSkipVerify: u.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if u.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(u.opts.Username, u.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	u.logger.Debug("imap connection established", "address", address, "user", u.opts.Username, "prefix", u.opts.Prefix, "tls", u.opts.UseTLS)

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				u.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil {
			u.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (u *Uploader) appendMessage(client *imapclient.Client, mailbox string, raw []byte, date time.Time) error {
	var opts *imapv2.AppendOptions
	if !date.IsZero() {
		opts = &imapv2.AppendOptions{Time: date}
	}

	cmd := client.Append(mailbox, int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

func (u *Uploader) ensureMailbox(client *imapclient.Client, name string) error {
	cmd := client.Create(name, nil)
	if err := cmd.Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			u.logger.Debug("imap mailbox already exists", "mailbox", name)
			return nil
		}
		return fmt.Errorf("ensure mailbox %s: %w", name, err)
	}

	u.logger.Info("imap mailbox created", "mailbox", name)
	return nil
}
