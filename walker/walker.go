// Package walker turns a mailbox folder tree into model.Folder records.
//
// Traversal is depth-first and strictly sequential: mailbox folders hand out
// their children through a stateful cursor that must not be re-entered. Every
// failure below the root is absorbed at the narrowest boundary that contains
// it (item, folder content, folder subtree), logged and counted, so Walk
// always returns a tree.
package walker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dhcgn/mailbox-export/filter"
	"github.com/dhcgn/mailbox-export/mailbox"
	"github.com/dhcgn/mailbox-export/model"
	"github.com/dhcgn/mailbox-export/pathsafe"
	"github.com/dhcgn/mailbox-export/stats"
)

// FolderFilter decides which folders are visited and which contribute items.
type FolderFilter interface {
	Collects(path string) bool
	Descends(path string) bool
}

type Options struct {
	Logger   *slog.Logger
	Recorder stats.Recorder
	Filter   FolderFilter
}

type Walker struct {
	logger   *slog.Logger
	recorder stats.Recorder
	filter   FolderFilter
}

func New(opts Options) *Walker {
	w := &Walker{
		logger:   opts.Logger,
		recorder: opts.Recorder,
		filter:   opts.Filter,
	}
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}
	if w.recorder == nil {
		w.recorder = stats.Discard
	}
	return w
}

// Walk extracts root and its subfolders. The root is returned even when it
// holds nothing; empty descendants are pruned.
func (w *Walker) Walk(root mailbox.Folder) *model.Folder {
	name, err := Isolate(func() (string, error) { return root.DisplayName(), nil })
	if err != nil {
		w.logger.Warn("root folder name unreadable", "err", err)
	}
	return w.walk(root, name, name)
}

func (w *Walker) walk(folder mailbox.Folder, name, path string) *model.Folder {
	agg := &model.Folder{Name: name}
	w.record(stats.EventTypeFolder, path, nil)

	if w.collects(path) {
		// counting may read the whole folder, so only when it is logged
		if w.logger.Enabled(context.Background(), slog.LevelDebug) {
			w.logger.Debug("visiting folder", "folder", path, "items", w.contentCount(folder))
		}
		w.enumerate(folder, agg, path)
	} else {
		w.logger.Debug("folder items filtered", "folder", path)
	}

	hasSubfolders, err := Isolate(func() (bool, error) { return folder.HasSubfolders(), nil })
	if err != nil {
		w.logger.Warn("cannot query subfolders", "folder", path, "err", err)
		w.record(stats.EventTypeError, path, err)
		return agg
	}
	if !hasSubfolders {
		return agg
	}

	subfolders, err := Isolate(folder.Subfolders)
	if err != nil {
		w.logger.Warn("cannot list subfolders", "folder", path, "err", err)
		w.record(stats.EventTypeError, path, err)
		return agg
	}

	for i, sub := range subfolders {
		child, err := Isolate(func() (*model.Folder, error) {
			if sub == nil {
				return nil, fmt.Errorf("subfolder %d is nil", i)
			}
			subName := sub.DisplayName()
			subPath := filter.JoinPath(path, subName)
			if !w.descends(subPath) {
				w.logger.Debug("folder excluded", "folder", subPath)
				return nil, nil
			}
			return w.walk(sub, subName, subPath), nil
		})
		if err != nil {
			w.logger.Warn("subfolder skipped", "folder", path, "index", i, "err", err)
			w.record(stats.EventTypeError, path, err)
			continue
		}
		if child.Empty() {
			if child != nil {
				w.logger.Debug("empty folder pruned", "folder", filter.JoinPath(path, child.Name))
			}
			continue
		}
		agg.Subfolders = append(agg.Subfolders, child)
	}
	return agg
}

// enumerate drains the folder cursor. A failing item is skipped; a failing
// cursor ends the enumeration of this folder only.
func (w *Walker) enumerate(folder mailbox.Folder, agg *model.Folder, path string) {
	for index := 0; ; index++ {
		item, err := Isolate(folder.NextChild)
		if err != nil {
			w.logger.Warn("folder enumeration stopped", "folder", path, "index", index, "err", err)
			w.record(stats.EventTypeFolderTruncated, path, err)
			return
		}
		if item == nil {
			return
		}

		_, err = Isolate(func() (struct{}, error) {
			return struct{}{}, w.collect(item, agg, path)
		})
		if err != nil {
			w.logger.Warn("item skipped", "folder", path, "index", index, "err", err)
			w.record(stats.EventTypeError, path, err)
		}
	}
}

func (w *Walker) collect(item mailbox.Item, agg *model.Folder, path string) error {
	class := item.MessageClass()
	kind := mailbox.Classify(class)
	if kind == mailbox.KindUnrecognized {
		w.logger.Debug("unrecognized item skipped", "folder", path, "class", class)
		w.record(stats.EventTypeSkipped, path, nil)
		return nil
	}

	if loader, ok := item.(mailbox.Loader); ok {
		if err := loader.Load(); err != nil {
			return fmt.Errorf("load %s: %w", class, err)
		}
	}

	switch kind {
	case mailbox.KindMessage:
		m, ok := item.(mailbox.Message)
		if !ok {
			return fmt.Errorf("%s item has no message accessors", class)
		}
		msg := w.extractMessage(m, path)
		agg.Messages = append(agg.Messages, msg)
		w.record(stats.EventTypeMessage, path, nil)
	case mailbox.KindContact:
		c, ok := item.(mailbox.Contact)
		if !ok {
			return fmt.Errorf("%s item has no contact accessors", class)
		}
		agg.Contacts = append(agg.Contacts, extractContact(c))
		w.record(stats.EventTypeContact, path, nil)
	case mailbox.KindAppointment:
		a, ok := item.(mailbox.Appointment)
		if !ok {
			return fmt.Errorf("%s item has no appointment accessors", class)
		}
		agg.Appointments = append(agg.Appointments, extractAppointment(a))
		w.record(stats.EventTypeAppointment, path, nil)
	}
	return nil
}

func (w *Walker) extractMessage(m mailbox.Message, path string) model.Message {
	msg := model.Message{
		Subject:    m.Subject(),
		Sender:     m.SenderEmail(),
		Recipients: splitRecipients(m.DisplayTo()),
		Body:       preferredBody(m),
		Sent:       optionalTime(m.ClientSubmitTime()),
		Received:   optionalTime(m.DeliveryTime()),
		Headers:    m.TransportHeaders(),
	}

	count := m.AttachmentCount()
	for i := 0; i < count; i++ {
		att, err := Isolate(func() (model.Attachment, error) {
			return extractAttachment(m, i)
		})
		if err != nil {
			w.logger.Warn("attachment dropped", "folder", path, "subject", msg.Subject, "index", i, "err", err)
			w.record(stats.EventTypeAttachmentDropped, path, err)
			continue
		}
		msg.Attachments = append(msg.Attachments, att)
		w.recorder.Record(stats.Event{
			Stage: stats.StageWalk,
			Type:  stats.EventTypeAttachment,
			Path:  path,
			Bytes: int64(len(att.Data)),
		})
	}
	return msg
}

func extractAttachment(m mailbox.Message, i int) (model.Attachment, error) {
	handle, err := m.Attachment(i)
	if err != nil {
		return model.Attachment{}, err
	}
	if handle == nil {
		return model.Attachment{}, fmt.Errorf("attachment %d is nil", i)
	}
	data, contentType, err := mailbox.Drain(handle)
	if err != nil {
		return model.Attachment{}, err
	}
	return model.Attachment{
		Filename:    attachmentName(handle, i),
		Data:        data,
		ContentType: contentType,
	}, nil
}

func attachmentName(att mailbox.Attachment, i int) string {
	name := att.LongFilename()
	if strings.TrimSpace(name) == "" {
		name = att.Filename()
	}
	return pathsafe.SegmentOr(name, fmt.Sprintf("attachment_%d", i+1))
}

func extractContact(c mailbox.Contact) model.Contact {
	return model.Contact{
		FullName:      c.DisplayName(),
		Email:         c.EmailAddress(),
		BusinessPhone: c.BusinessPhone(),
		MobilePhone:   c.MobilePhone(),
		HomePhone:     c.HomePhone(),
		Address:       c.PostalAddress(),
		Company:       c.CompanyName(),
		JobTitle:      c.JobTitle(),
	}
}

func extractAppointment(a mailbox.Appointment) model.Appointment {
	return model.Appointment{
		Subject:  a.Subject(),
		Location: a.Location(),
		Start:    optionalTime(a.StartTime()),
		End:      optionalTime(a.EndTime()),
		Body:     a.Body(),
	}
}

// preferredBody picks rich text, then HTML, then plain text.
func preferredBody(m mailbox.Message) string {
	for _, body := range []func() string{m.BodyRTF, m.BodyHTML, m.BodyPlain} {
		if b := body(); b != "" {
			return b
		}
	}
	return ""
}

func splitRecipients(displayTo string) []string {
	var out []string
	for _, r := range strings.Split(displayTo, ";") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (w *Walker) contentCount(folder mailbox.Folder) int {
	n, err := Isolate(func() (int, error) { return folder.ContentCount(), nil })
	if err != nil {
		return -1
	}
	return n
}

func (w *Walker) collects(path string) bool {
	return w.filter == nil || w.filter.Collects(path)
}

func (w *Walker) descends(path string) bool {
	return w.filter == nil || w.filter.Descends(path)
}

func (w *Walker) record(typ stats.EventType, path string, err error) {
	w.recorder.Record(stats.Event{Stage: stats.StageWalk, Type: typ, Path: path, Err: err})
}
