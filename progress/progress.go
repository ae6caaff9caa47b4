// Package progress renders run progress on the terminal.
package progress

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/dhcgn/mailbox-export/stats"
)

const maxTitle = 40

// Bar tracks mailbox files through a run.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	done    int
	mu      sync.Mutex
	enabled bool
	writer  io.Writer
}

// New creates a bar over total files. It is a no-op unless enabled.
func New(total int, enabled bool) *Bar {
	return newBar(total, enabled, nil)
}

func newBar(total int, enabled bool, w io.Writer) *Bar {
	bar := &Bar{total: total, enabled: enabled && total > 0, writer: w}
	if !bar.enabled {
		return bar
	}

	printer := pterm.DefaultProgressbar.WithTotal(total).WithTitle("Exporting mailboxes")
	if w != nil {
		printer = printer.WithWriter(w)
	}
	pb, err := printer.Start()
	if err != nil {
		bar.enabled = false
		return bar
	}
	bar.pb = pb
	return bar
}

// Update advances the bar for file-level events and prints errors above it.
func (b *Bar) Update(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeFileStarted:
		if b.pb != nil {
			b.pb.UpdateTitle("Exporting " + shorten(filepath.Base(evt.Path)))
		}
	case stats.EventTypeFileDone, stats.EventTypeFileFailed, stats.EventTypeFileSkipped:
		b.done++
		if b.pb != nil {
			b.pb.Increment()
		}
	}

	if b.pb == nil {
		return
	}
	switch evt.Type {
	case stats.EventTypeFileFailed, stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("%s: %v\n", evt.Path, evt.Err)
		}
	}
}

// Done reports how many files have finished, in any outcome.
func (b *Bar) Done() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pb == nil {
		return
	}
	_, _ = b.pb.Stop()
	b.pb = nil
}

// Subscriber feeds runner events into the bar until the stream closes.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

func shorten(s string) string {
	r := []rune(s)
	if len(r) <= maxTitle {
		return s
	}
	return string(r[:maxTitle-3]) + "..."
}

// Reporter prints a summary table once the run's event stream closes.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-summary", reporter.collectStats)
	}
	return reporter
}

func (r *Reporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	r.collector.Run(ctx, events)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if r.bar != nil {
		r.bar.Stop()
	}
	printSummary(r.collector.Snapshot(), time.Since(r.started))
	return nil
}

func printSummary(s stats.Summary, duration time.Duration) {
	pterm.Println()
	pterm.DefaultSection.Println("Export summary")
	_ = pterm.DefaultTable.WithHasHeader().WithData(SummaryTable(s, duration)).Render()
	if s.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", s.LastError)
	}
}

// SummaryTable lays out a summary as label/value rows with a header row.
func SummaryTable(s stats.Summary, duration time.Duration) pterm.TableData {
	return pterm.TableData{
		{"", "Count"},
		{"Duration", duration.Round(time.Millisecond).String()},
		{"Files", humanize.Comma(int64(s.FilesStarted))},
		{"Files exported", humanize.Comma(int64(s.FilesDone))},
		{"Files failed", humanize.Comma(int64(s.FilesFailed))},
		{"Files skipped", humanize.Comma(int64(s.FilesSkipped))},
		{"Folders", humanize.Comma(int64(s.Folders))},
		{"Messages", humanize.Comma(int64(s.Messages))},
		{"Contacts", humanize.Comma(int64(s.Contacts))},
		{"Appointments", humanize.Comma(int64(s.Appointments))},
		{"Attachments", humanize.Comma(int64(s.Attachments)) + " (" + humanize.Bytes(uint64(s.AttachmentBytes)) + ")"},
		{"Files written", humanize.Comma(int64(s.Written)) + " (" + humanize.Bytes(uint64(s.WrittenBytes)) + ")"},
		{"Uploaded", humanize.Comma(int64(s.Uploaded))},
		{"Items skipped", humanize.Comma(int64(s.Skipped))},
		{"Attachments dropped", humanize.Comma(int64(s.DroppedAttachments))},
		{"Folders truncated", humanize.Comma(int64(s.TruncatedFolders))},
		{"Errors", humanize.Comma(int64(s.Errors))},
	}
}
