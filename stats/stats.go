package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

type Stage string

const (
	StageRun    Stage = "run"
	StageWalk   Stage = "walk"
	StageExport Stage = "export"
	StageIMAP   Stage = "imap"
)

type EventType string

const (
	EventTypeFolder            EventType = "folder"
	EventTypeMessage           EventType = "message"
	EventTypeContact           EventType = "contact"
	EventTypeAppointment       EventType = "appointment"
	EventTypeAttachment        EventType = "attachment"
	EventTypeSkipped           EventType = "skipped"
	EventTypeAttachmentDropped EventType = "attachment_dropped"
	EventTypeFolderTruncated   EventType = "folder_truncated"
	EventTypeWritten           EventType = "written"
	EventTypeUploaded          EventType = "uploaded"
	EventTypeFileStarted       EventType = "file_started"
	EventTypeFileDone          EventType = "file_done"
	EventTypeFileFailed        EventType = "file_failed"
	EventTypeFileSkipped       EventType = "file_skipped"
	EventTypeError             EventType = "error"
)

type Event struct {
	Stage  Stage
	Type   EventType
	Path   string
	Bytes  int64
	Err    error
	Detail string
}

// Recorder receives pipeline events. Implementations must not block for long:
// the walker and exporter call Record inline.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

func (f RecorderFunc) Record(evt Event) { f(evt) }

// Discard drops every event.
var Discard Recorder = RecorderFunc(func(Event) {})

type Summary struct {
	Folders            int
	Messages           int
	Contacts           int
	Appointments       int
	Attachments        int
	AttachmentBytes    int64
	Skipped            int
	DroppedAttachments int
	TruncatedFolders   int
	Written            int
	WrittenBytes       int64
	Uploaded           int
	FilesStarted       int
	FilesDone          int
	FilesFailed        int
	FilesSkipped       int
	Errors             int
	LastError          error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"files", s.FilesStarted,
		"filesDone", s.FilesDone,
		"filesFailed", s.FilesFailed,
		"filesSkipped", s.FilesSkipped,
		"folders", s.Folders,
		"messages", s.Messages,
		"contacts", s.Contacts,
		"appointments", s.Appointments,
		"attachments", s.Attachments,
		"attachmentBytes", humanize.Bytes(uint64(s.AttachmentBytes)),
		"skipped", s.Skipped,
		"droppedAttachments", s.DroppedAttachments,
		"truncatedFolders", s.TruncatedFolders,
		"written", s.Written,
		"writtenBytes", humanize.Bytes(uint64(s.WrittenBytes)),
		"uploaded", s.Uploaded,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Record applies a single event; it makes Collector usable as a Recorder.
func (c *Collector) Record(evt Event) {
	c.apply(evt)
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeFolder:
		c.summary.Folders++
	case EventTypeMessage:
		c.summary.Messages++
	case EventTypeContact:
		c.summary.Contacts++
	case EventTypeAppointment:
		c.summary.Appointments++
	case EventTypeAttachment:
		c.summary.Attachments++
		c.summary.AttachmentBytes += evt.Bytes
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeAttachmentDropped:
		c.summary.DroppedAttachments++
	case EventTypeFolderTruncated:
		c.summary.TruncatedFolders++
	case EventTypeWritten:
		c.summary.Written++
		c.summary.WrittenBytes += evt.Bytes
	case EventTypeUploaded:
		c.summary.Uploaded++
	case EventTypeFileStarted:
		c.summary.FilesStarted++
	case EventTypeFileDone:
		c.summary.FilesDone++
	case EventTypeFileFailed:
		c.summary.FilesFailed++
		c.recordError(evt.Err)
	case EventTypeFileSkipped:
		c.summary.FilesSkipped++
	case EventTypeError:
		c.recordError(evt.Err)
	}
}

func (c *Collector) recordError(err error) {
	c.summary.Errors++
	if err != nil {
		c.summary.LastError = err
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N entries of a map by value.
func PrettyPrintTop(m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Printf("%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
