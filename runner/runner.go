// Package runner drives one walk and export pass per mailbox file.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/dhcgn/mailbox-export/config"
	"github.com/dhcgn/mailbox-export/export"
	"github.com/dhcgn/mailbox-export/filter"
	"github.com/dhcgn/mailbox-export/mailbox"
	"github.com/dhcgn/mailbox-export/mbox"
	"github.com/dhcgn/mailbox-export/model"
	"github.com/dhcgn/mailbox-export/pathsafe"
	"github.com/dhcgn/mailbox-export/state"
	"github.com/dhcgn/mailbox-export/stats"
	"github.com/dhcgn/mailbox-export/walker"
)

var (
	ErrNoInputFiles = errors.New("no mailbox files found")
	ErrNoRecords    = errors.New("no messages, contacts or appointments extracted")
)

// Opener opens one mailbox file.
type Opener func(fs afero.Fs, path string, logger *slog.Logger) (mailbox.Store, error)

// Uploader receives every exported tree.
type Uploader interface {
	Upload(ctx context.Context, root *model.Folder) error
}

// Archiver bundles an export directory into dest.
type Archiver func(src, dest string) error

type Options struct {
	Config config.Config
	Logger *slog.Logger
	// Fs holds the input files and, unless DryRun is set, the output tree.
	Fs       afero.Fs
	Open     Opener
	Tracker  state.Tracker
	Uploader Uploader
	Archiver Archiver
	// Boundary is passed to the exporter; random boundaries when nil.
	Boundary func() string
}

type Runner struct {
	cfg      config.Config
	logger   *slog.Logger
	fs       afero.Fs
	open     Opener
	tracker  state.Tracker
	uploader Uploader
	archiver Archiver
	boundary func() string
	filter   *filter.Filter
	// targets holds the lower-cased output directory names issued in this run.
	targets map[string]bool

	ctx    context.Context
	cancel context.CancelFunc

	subsMu      sync.Mutex
	subscribers []chan stats.Event
	statsWG     sync.WaitGroup
	closeOnce   sync.Once
	collector   *stats.Collector
}

func New(opts Options) (*Runner, error) {
	f, err := filter.New(filter.Options{
		IncludeFolder: opts.Config.IncludeFolder,
		ExcludeFolder: opts.Config.ExcludeFolder,
	})
	if err != nil {
		return nil, fmt.Errorf("folder filter: %w", err)
	}

	r := &Runner{
		cfg:       opts.Config,
		logger:    opts.Logger,
		fs:        opts.Fs,
		open:      opts.Open,
		tracker:   opts.Tracker,
		uploader:  opts.Uploader,
		archiver:  opts.Archiver,
		boundary:  opts.Boundary,
		filter:    f,
		collector: stats.NewCollector(),
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.open == nil {
		r.open = OpenMbox
	}
	if r.archiver == nil {
		r.archiver = ArchiveTarGz
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

// OpenMbox is the default Opener.
func OpenMbox(fs afero.Fs, path string, logger *slog.Logger) (mailbox.Store, error) {
	return mbox.Open(fs, path, logger)
}

// SetUploader installs u for the next Run. It lets an uploader record its
// events through the runner it serves.
func (r *Runner) SetUploader(u Uploader) {
	r.uploader = u
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

// Summary returns the counters of every event emitted so far.
func (r *Runner) Summary() stats.Summary {
	return r.collector.Snapshot()
}

// EmitEvent counts evt and hands it to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.collector.Record(evt)

	r.subsMu.Lock()
	subs := r.subscribers
	r.subsMu.Unlock()
	for _, ch := range subs {
		select {
		case <-r.ctx.Done():
		case ch <- evt:
		}
	}
}

// SubscribeStats starts fn with its own event channel. Subscribers must be
// registered before Run.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subsMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("stats subscriber failed", "subscriber", name, "err", err)
		}
	}()
}

// Discover lists the mailbox files named by the configured input: the file
// itself, or the matching files directly inside the directory.
func (r *Runner) Discover() ([]string, error) {
	input := r.cfg.Input
	info, err := r.fs.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	if !info.IsDir() {
		return []string{input}, nil
	}

	entries, err := afero.ReadDir(r.fs, input)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !r.hasExtension(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(input, e.Name()))
	}
	return files, nil
}

func (r *Runner) hasExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range r.cfg.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// Run processes every discovered file in order. A failing file is logged
// and counted; only finding no files at all is an error. Cancellation is
// honoured between files.
func (r *Runner) Run(ctx context.Context) error {
	defer r.finish()
	started := time.Now()
	r.targets = make(map[string]bool)

	files, err := r.Discover()
	if err != nil {
		r.logger.Error("input discovery failed", "input", r.cfg.Input, "err", err)
		return fmt.Errorf("%w: %v", ErrNoInputFiles, err)
	}
	if len(files) == 0 {
		r.logger.Error("no mailbox files found", "input", r.cfg.Input, "extensions", r.cfg.Extensions)
		return ErrNoInputFiles
	}
	r.logger.Info("mailbox files found", "count", len(files), "input", r.cfg.Input)

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run interrupted", "remaining", len(files)-i, "err", err)
			break
		}
		if err := r.processFile(ctx, path); err != nil {
			r.logger.Error("mailbox file failed", "path", path, "err", err)
			r.EmitEvent(stats.Event{Stage: stats.StageRun, Type: stats.EventTypeFileFailed, Path: path, Err: err})
		}
	}

	r.logger.Info("run completed", "duration", time.Since(started))
	return nil
}

func (r *Runner) processFile(ctx context.Context, path string) error {
	logger := r.logger.With("path", path)
	r.EmitEvent(stats.Event{Stage: stats.StageRun, Type: stats.EventTypeFileStarted, Path: path})

	// claimed before the resume check so names do not shift between runs
	target := r.claimTarget(path)

	var fingerprint string
	if r.tracker != nil {
		fp, err := state.Fingerprint(r.fs, path)
		if err != nil {
			return err
		}
		if r.tracker.AlreadyExported(fp) {
			logger.Info("already exported, skipping")
			r.EmitEvent(stats.Event{Stage: stats.StageRun, Type: stats.EventTypeFileSkipped, Path: path})
			return nil
		}
		fingerprint = fp
	}

	store, err := r.open(r.fs, path, logger)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Debug("close mailbox failed", "err", err)
		}
	}()

	root, err := store.RootFolder()
	if err != nil {
		return fmt.Errorf("root folder: %w", err)
	}
	if root == nil {
		return errors.New("root folder: mailbox has none")
	}

	w := walker.New(walker.Options{
		Logger:   logger,
		Recorder: stats.RecorderFunc(r.EmitEvent),
		Filter:   r.filter,
	})
	tree := w.Walk(root)
	totals := tree.Totals()
	if totals.Records() == 0 {
		return ErrNoRecords
	}

	outFs := r.fs
	if r.cfg.DryRun {
		outFs = afero.NewMemMapFs()
	}
	exporter := export.New(outFs, export.Options{
		Logger:       logger,
		Recorder:     stats.RecorderFunc(r.EmitEvent),
		SanitizeHTML: r.cfg.SanitizeHTML,
		Boundary:     r.boundary,
	})
	if err := exporter.Export(tree, target); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	if !r.cfg.DryRun {
		r.afterExport(ctx, logger, path, target, tree)
		if fingerprint != "" {
			rec := state.Record{Fingerprint: fingerprint, Source: path, Output: target, ExportedAt: time.Now().UTC()}
			if err := r.tracker.MarkExported(rec); err != nil {
				logger.Warn("resume ledger not updated", "err", err)
			}
		}
	}

	logger.Info("mailbox exported",
		"output", target,
		"folders", totals.Folders,
		"messages", totals.Messages,
		"contacts", totals.Contacts,
		"appointments", totals.Appointments,
		"attachments", totals.Attachments,
		"dryRun", r.cfg.DryRun,
	)
	r.EmitEvent(stats.Event{Stage: stats.StageRun, Type: stats.EventTypeFileDone, Path: path})
	return nil
}

// afterExport runs the optional archive and upload steps. Their failures
// are logged and counted but do not fail the file.
func (r *Runner) afterExport(ctx context.Context, logger *slog.Logger, path, target string, tree *model.Folder) {
	if r.cfg.Archive {
		dest := target + ".tar.gz"
		if err := r.archiver(target, dest); err != nil {
			logger.Warn("archive failed", "dest", dest, "err", err)
			r.EmitEvent(stats.Event{Stage: stats.StageRun, Type: stats.EventTypeError, Path: dest, Err: err})
		} else {
			logger.Info("archive written", "dest", dest)
		}
	}
	if r.uploader != nil {
		if err := r.uploader.Upload(ctx, tree); err != nil {
			logger.Warn("imap upload failed", "err", err)
			r.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeError, Path: path, Err: err})
		}
	}
}

// claimTarget returns the output directory for path. Files sharing a stem,
// such as box.mbox and box.mbx, get " (2)", " (3)" ... in discovery order.
func (r *Runner) claimTarget(path string) string {
	base := pathsafe.SegmentOr(stem(path), "mailbox")
	name := base
	for i := 2; r.targets[strings.ToLower(name)]; i++ {
		name = fmt.Sprintf("%s (%d)", base, i)
	}
	r.targets[strings.ToLower(name)] = true
	if name != base {
		r.logger.Warn("output name already used in this run", "path", path, "dir", name)
	}
	return filepath.Join(r.cfg.Output, name)
}

// finish closes every subscriber channel and waits for the subscribers.
func (r *Runner) finish() {
	r.closeOnce.Do(func() {
		r.subsMu.Lock()
		for _, ch := range r.subscribers {
			close(ch)
		}
		r.subsMu.Unlock()
		r.statsWG.Wait()
		r.cancel()
	})
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
