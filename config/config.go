package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that mirror the flags, for
// example MAILBOX_EXPORT_OUTPUT for --output.
const EnvPrefix = "MAILBOX_EXPORT"

// Config captures all options required to run an export.
type Config struct {
	Input              string
	Output             string
	Extensions         []string
	DryRun             bool
	Resume             bool
	StateDir           string
	LogLevel           string
	LogDir             string
	IncludeFolder      []string
	ExcludeFolder      []string
	SanitizeHTML       bool
	Archive            bool
	Progress           bool
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPPrefix         string
}

// UploadEnabled reports whether exported trees are also appended to IMAP.
func (c Config) UploadEnabled() bool {
	return c.IMAPHost != ""
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("config", "", "Optional config file (yaml, toml or json) providing any of the flags below")
	flags.StringP("input", "i", "", "Mailbox file, or directory scanned (non-recursively) for mailbox files")
	flags.StringP("output", "o", "export", "Directory receiving one export tree per mailbox file")
	flags.StringSlice("ext", []string{".mbox", ".mbx"}, "File extensions treated as mailbox files when --input is a directory")
	flags.Bool("dry-run", false, "Walk and serialize everything but write to memory only")
	flags.Bool("resume", false, "Skip mailbox files exported by a previous run")
	flags.String("state-dir", defaultStateDir, "Directory for the resume ledger")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.StringArray("include-folder", nil, "Regex allow-list applied to folder paths such as Inbox/Work (mutually exclusive with --exclude-folder)")
	flags.StringArray("exclude-folder", nil, "Regex block-list applied to folder paths (mutually exclusive with --include-folder)")
	flags.Bool("sanitize-html", false, "Strip scripts and active content from HTML bodies")
	flags.Bool("archive", false, "Bundle each export tree into <name>.tar.gz")
	flags.Bool("progress", false, "Show a progress bar instead of per-file log lines")
	flags.String("imap-host", "", "Also upload exported messages to this IMAP server")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-prefix", "", "IMAP mailbox under which the folder tree is recreated")

	return nil
}

// LoadConfig merges flags, MAILBOX_EXPORT_* environment variables and the
// optional config file (in that precedence) into a validated Config.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	includeFolder, err := patterns(v, flags, "include-folder")
	if err != nil {
		return Config{}, err
	}
	excludeFolder, err := patterns(v, flags, "exclude-folder")
	if err != nil {
		return Config{}, err
	}

	imapPass := v.GetString("imap-pass")
	if imapPass == "" {
		imapPass = os.Getenv("IMAP_PASS")
	}

	stateDir := v.GetString("state-dir")
	if stateDir == "" {
		stateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}

	logLevel := strings.ToLower(v.GetString("log-level"))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		Input:              strings.TrimSpace(v.GetString("input")),
		Output:             strings.TrimSpace(v.GetString("output")),
		Extensions:         normalizeExtensions(v.GetStringSlice("ext")),
		DryRun:             v.GetBool("dry-run"),
		Resume:             v.GetBool("resume"),
		StateDir:           filepath.Clean(stateDir),
		LogLevel:           logLevel,
		LogDir:             v.GetString("log-dir"),
		IncludeFolder:      includeFolder,
		ExcludeFolder:      excludeFolder,
		SanitizeHTML:       v.GetBool("sanitize-html"),
		Archive:            v.GetBool("archive"),
		Progress:           v.GetBool("progress"),
		IMAPHost:           strings.TrimSpace(v.GetString("imap-host")),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           imapPass,
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		IMAPPrefix:         strings.Trim(v.GetString("imap-prefix"), "/"),
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// patterns reads a regex list. Flag values are taken verbatim because a
// pattern may contain commas; env and file values go through viper.
func patterns(v *viper.Viper, flags *pflag.FlagSet, name string) ([]string, error) {
	if flags.Changed(name) {
		return flags.GetStringArray(name)
	}
	return v.GetStringSlice(name), nil
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

func validateConfig(cfg Config) error {
	if cfg.Input == "" {
		return errors.New("--input is required")
	}
	if cfg.Output == "" {
		return errors.New("--output is required")
	}
	if len(cfg.Extensions) == 0 {
		return errors.New("--ext must name at least one extension")
	}
	if len(cfg.IncludeFolder) > 0 && len(cfg.ExcludeFolder) > 0 {
		return errors.New("--include-folder and --exclude-folder are mutually exclusive")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return errors.New("--imap-port must be between 1 and 65535")
	}
	if cfg.UploadEnabled() {
		if cfg.IMAPUser == "" {
			return errors.New("--imap-user is required with --imap-host")
		}
		if cfg.IMAPPass == "" {
			return errors.New("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mailbox-export", "state"), nil
}
