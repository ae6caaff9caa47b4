// Package cmd wires the command line to the export pipeline.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-export/config"
	"github.com/dhcgn/mailbox-export/imap"
	"github.com/dhcgn/mailbox-export/progress"
	"github.com/dhcgn/mailbox-export/runner"
	"github.com/dhcgn/mailbox-export/state"
	"github.com/dhcgn/mailbox-export/stats"
)

var rootCmd = &cobra.Command{
	Use:          "mailbox-export",
	Short:        "Export mailbox archives into .eml, .vcf and .ics files",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg.LogLevel, cfg.LogDir, cfg.Progress)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		slog.SetDefault(logger)
		logger.Info("starting mailbox-export", "input", cfg.Input, "output", cfg.Output, "dryRun", cfg.DryRun, "upload", cfg.UploadEnabled())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, logger)
	},
}

func init() {
	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	fs := afero.NewOsFs()
	opts := runner.Options{
		Config: cfg,
		Logger: logger,
		Fs:     fs,
	}

	if cfg.Resume {
		tracker, err := state.NewFileTracker(fs, cfg.StateDir)
		if err != nil {
			return fmt.Errorf("state.NewFileTracker: %w", err)
		}
		defer func() {
			if err := tracker.Close(); err != nil {
				logger.Warn("closing resume ledger failed", "err", err)
			}
		}()
		logger.Info("resume ledger loaded", "path", tracker.Path())
		opts.Tracker = tracker
	}

	r, err := runner.New(opts)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	if cfg.UploadEnabled() {
		uploader, err := imap.NewUploader(imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Prefix:             cfg.IMAPPrefix,
		}, logger, stats.RecorderFunc(r.EmitEvent))
		if err != nil {
			return fmt.Errorf("imap.NewUploader: %w", err)
		}
		r.SetUploader(uploader)
	}

	stats.NewReporter(r, logger)

	if cfg.Progress {
		files, err := r.Discover()
		if err == nil {
			progress.NewReporter(r, progress.New(len(files), true), logger)
		}
	}

	return r.Run(ctx)
}

func setupLogger(logLevel, logDir string, quiet bool) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch logLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}
	// The progress bar owns the terminal; only problems are logged.
	if quiet && level.Level() < slog.LevelWarn {
		level.Set(slog.LevelWarn)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(logDir, fmt.Sprintf("mailbox-export-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
