// Package state remembers which input files were exported so a resumed run
// can skip them.
package state

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// FileName is the ledger file inside the state directory.
const FileName = "exported.jsonl"

type Tracker interface {
	AlreadyExported(fingerprint string) bool
	MarkExported(rec Record) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Exported int
}

// Record is one ledger line.
type Record struct {
	Fingerprint string    `json:"fingerprint"`
	Source      string    `json:"source"`
	Output      string    `json:"output"`
	ExportedAt  time.Time `json:"exportedAt"`
}

// Fingerprint identifies an input file by absolute path, size and
// modification time. A file that changed since its export gets a new one.
func Fingerprint(fs afero.Fs, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := fs.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%d", abs, info.Size(), info.ModTime().UnixNano())))
	return hex.EncodeToString(sum[:]), nil
}

type MemoryTracker struct {
	mu       sync.RWMutex
	exported map[string]Record
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{exported: make(map[string]Record)}
}

func (m *MemoryTracker) AlreadyExported(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.exported[fingerprint]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkExported(rec Record) error {
	if rec.Fingerprint == "" {
		return nil
	}

	m.mu.Lock()
	m.exported[rec.Fingerprint] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.exported)
	m.mu.RUnlock()
	return Snapshot{Exported: count}
}

// FileTracker persists the ledger as JSON lines so future runs can skip
// files exported before.
type FileTracker struct {
	*MemoryTracker
	path    string
	writer  *bufio.Writer
	file    afero.File
	writeMu sync.Mutex
}

func NewFileTracker(fs afero.Fs, stateDir string) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := fs.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, FileName),
	}

	if err := tracker.load(fs); err != nil {
		return nil, err
	}

	file, err := fs.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state file for append: %w", err)
	}
	tracker.file = file
	tracker.writer = bufio.NewWriter(file)

	return tracker, nil
}

// Path is the ledger file location.
func (f *FileTracker) Path() string { return f.path }

func (f *FileTracker) load(fs afero.Fs) error {
	file, err := fs.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record Record
		if err := json.Unmarshal(text, &record); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		if record.Fingerprint == "" {
			continue
		}

		f.mu.Lock()
		f.exported[record.Fingerprint] = record
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

// MarkExported records rec and flushes it right away: a file export is
// expensive to repeat, so a crash must not lose the line.
func (f *FileTracker) MarkExported(rec Record) error {
	if rec.Fingerprint == "" {
		return nil
	}

	f.mu.Lock()
	if _, exists := f.exported[rec.Fingerprint]; exists {
		f.mu.Unlock()
		return nil
	}
	f.exported[rec.Fingerprint] = rec
	f.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	if f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if err := f.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file = nil

	return firstErr
}
