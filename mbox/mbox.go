// Package mbox reads Thunderbird style mbox trees as a mailbox.Store.
//
// A folder is one mbox file. Its subfolders live in a sibling directory
// named "<file>.sbd"; folder names on disk are IMAP modified UTF-7.
package mbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/emersion/go-imap/utf7"
	mboxlib "github.com/emersion/go-mbox"
	"github.com/spf13/afero"

	"github.com/dhcgn/mailbox-export/mailbox"
)

const (
	subfolderSuffix = ".sbd"
	indexSuffix     = ".msf"
)

// Extensions are stripped from folder display names.
var Extensions = []string{".mbox", ".mbx"}

var ErrIsDirectory = errors.New("mbox path is a directory")

type Store struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	open map[*Folder]struct{}
}

// Open checks that path is a readable file and returns a store rooted at it.
// Messages are read lazily while folders are enumerated.
func Open(fs afero.Fs, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open mbox %s: %w", path, ErrIsDirectory)
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	f.Close()

	return &Store{
		fs:     fs,
		path:   path,
		logger: logger,
		open:   make(map[*Folder]struct{}),
	}, nil
}

func (s *Store) RootFolder() (mailbox.Folder, error) {
	dir, base := filepath.Split(s.path)
	return s.newFolder(s.path, s.subfolderDir(dir, base), displayName(base)), nil
}

// Close releases every folder file still open.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for f := range s.open {
		if err := f.closeFile(); err != nil {
			errs = append(errs, err)
		}
	}
	s.open = make(map[*Folder]struct{})
	return errors.Join(errs...)
}

func (s *Store) newFolder(path, sbd, name string) *Folder {
	return &Folder{store: s, path: path, sbd: sbd, name: name, count: -1}
}

// subfolderDir finds "<base>.sbd", falling back to "<stem>.sbd".
func (s *Store) subfolderDir(dir, base string) string {
	candidates := []string{base + subfolderSuffix}
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != base && stem != "" {
		candidates = append(candidates, stem+subfolderSuffix)
	}
	for _, c := range candidates {
		p := filepath.Join(dir, c)
		if ok, _ := afero.DirExists(s.fs, p); ok {
			return p
		}
	}
	return ""
}

func (s *Store) track(f *Folder, opened bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opened {
		s.open[f] = struct{}{}
	} else {
		delete(s.open, f)
	}
}

// displayName strips a known mbox extension and decodes modified UTF-7.
func displayName(base string) string {
	name := base
	ext := filepath.Ext(name)
	for _, known := range Extensions {
		if strings.EqualFold(ext, known) {
			name = strings.TrimSuffix(name, ext)
			break
		}
	}
	if decoded, err := utf7.Encoding.NewDecoder().String(name); err == nil {
		return decoded
	}
	return name
}

// CountMessages counts the messages of an mbox file without parsing them.
func CountMessages(fs afero.Fs, path string) (int, error) {
	file, err := fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}
		// a message that cannot be read to the end still counts
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}

func splitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}
	return raw, nil
}
