// Package export materializes extracted folder trees as directories of
// .eml, .vcf and .ics files.
package export

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/spf13/afero"

	"github.com/dhcgn/mailbox-export/format"
	"github.com/dhcgn/mailbox-export/model"
	"github.com/dhcgn/mailbox-export/stats"
)

const (
	EmailsDir      = "Emails"
	AttachmentsDir = "Attachments"
	ContactsDir    = "Contacts"
	CalendarDir    = "Calendar"

	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

type Options struct {
	Logger   *slog.Logger
	Recorder stats.Recorder
	// SanitizeHTML strips active content from HTML bodies.
	SanitizeHTML bool
	// Boundary generates MIME boundaries; a random one per message when nil.
	Boundary func() string
}

type Exporter struct {
	fs       afero.Fs
	logger   *slog.Logger
	recorder stats.Recorder
	policy   *bluemonday.Policy
	boundary func() string
}

func New(fs afero.Fs, opts Options) *Exporter {
	e := &Exporter{
		fs:       fs,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		boundary: opts.Boundary,
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.recorder == nil {
		e.recorder = stats.Discard
	}
	if e.boundary == nil {
		e.boundary = randomBoundary
	}
	if opts.SanitizeHTML {
		e.policy = bluemonday.UGCPolicy()
	}
	return e
}

func randomBoundary() string {
	return "----=_Part_" + uuid.NewString()
}

// Export writes root and its subfolders below baseDir. Failing to create a
// folder directory aborts the export; failing to write a single item only
// skips that item.
func (e *Exporter) Export(root *model.Folder, baseDir string) error {
	if root == nil {
		return errors.New("export: nil folder")
	}
	return e.exportFolder(newNamer(), root, baseDir)
}

func (e *Exporter) exportFolder(names *namer, folder *model.Folder, baseDir string) error {
	dir := names.claim(baseDir, segment(folder.Name), "")
	if err := e.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create folder directory %s: %w", dir, err)
	}
	// subfolders must not land in the item directories
	names.reserve(dir, EmailsDir, ContactsDir, CalendarDir)
	e.logger.Debug("exporting folder", "folder", folder.Name, "dir", dir)

	if len(folder.Messages) > 0 {
		if err := e.exportMessages(names, folder.Messages, filepath.Join(dir, EmailsDir)); err != nil {
			return err
		}
	}
	if len(folder.Contacts) > 0 {
		if err := e.exportContacts(names, folder.Contacts, filepath.Join(dir, ContactsDir)); err != nil {
			return err
		}
	}
	if len(folder.Appointments) > 0 {
		if err := e.exportAppointments(names, folder.Appointments, filepath.Join(dir, CalendarDir)); err != nil {
			return err
		}
	}

	for _, sub := range folder.Subfolders {
		if err := e.exportFolder(names, sub, dir); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) exportMessages(names *namer, messages []model.Message, dir string) error {
	if err := e.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create emails directory %s: %w", dir, err)
	}
	for _, msg := range messages {
		msg.Body = e.sanitize(msg.Body)
		path := names.claim(dir, stamped(stampOf(msg.Date()), msg.Subject), ".eml")
		if err := e.write(path, format.Message(msg, e.boundary())); err != nil {
			e.skip("message", path, err)
			continue
		}
		if len(msg.Attachments) > 0 {
			e.exportAttachments(names, msg, filepath.Join(dir, AttachmentsDir))
		}
	}
	return nil
}

// exportAttachments is item level: any failure here only loses attachments.
func (e *Exporter) exportAttachments(names *namer, msg model.Message, parent string) {
	dir := names.claim(parent, segment(msg.Subject), "")
	if err := e.fs.MkdirAll(dir, dirPerm); err != nil {
		e.skip("attachments", dir, err)
		return
	}
	for i, att := range msg.Attachments {
		name := att.Filename
		if name == "" {
			name = fmt.Sprintf("attachment_%d", i+1)
		}
		ext := filepath.Ext(name)
		path := names.claim(dir, name[:len(name)-len(ext)], ext)
		if err := e.write(path, att.Data); err != nil {
			e.skip("attachment", path, err)
		}
	}
}

func (e *Exporter) exportContacts(names *namer, contacts []model.Contact, dir string) error {
	if err := e.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create contacts directory %s: %w", dir, err)
	}
	for _, c := range contacts {
		path := names.claim(dir, segment(c.FullName), ".vcf")
		if err := e.write(path, format.Contact(c)); err != nil {
			e.skip("contact", path, err)
		}
	}
	return nil
}

func (e *Exporter) exportAppointments(names *namer, appointments []model.Appointment, dir string) error {
	if err := e.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create calendar directory %s: %w", dir, err)
	}
	for _, a := range appointments {
		path := names.claim(dir, stamped(stampOf(a.Start), a.Subject), ".ics")
		if err := e.write(path, format.Appointment(a)); err != nil {
			e.skip("appointment", path, err)
		}
	}
	return nil
}

func (e *Exporter) write(path string, data []byte) error {
	if err := afero.WriteFile(e.fs, path, data, filePerm); err != nil {
		return err
	}
	e.recorder.Record(stats.Event{
		Stage: stats.StageExport,
		Type:  stats.EventTypeWritten,
		Path:  path,
		Bytes: int64(len(data)),
	})
	return nil
}

func (e *Exporter) skip(kind, path string, err error) {
	e.logger.Warn("write failed, skipping", "kind", kind, "path", path, "err", err)
	e.recorder.Record(stats.Event{
		Stage:  stats.StageExport,
		Type:   stats.EventTypeError,
		Path:   path,
		Err:    err,
		Detail: kind,
	})
}

// sanitize runs HTML bodies through the UGC policy. The policy drops the
// document element, so the result is re-wrapped to stay detectable as HTML.
func (e *Exporter) sanitize(body string) string {
	if e.policy == nil || format.BodyContentType(body) != format.ContentTypeHTML {
		return body
	}
	return "<html><body>" + e.policy.Sanitize(body) + "</body></html>"
}

func stampOf(t *time.Time) string {
	if t == nil {
		return undated
	}
	return format.Stamp(*t)
}
