package mbox

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/spf13/afero"

	"github.com/dhcgn/mailbox-export/mailbox"
)

// Folder is one mbox file plus its optional ".sbd" subfolder directory.
// A folder that only exists as a directory has an empty path and no items.
type Folder struct {
	store *Store
	path  string
	sbd   string
	name  string
	count int

	file   afero.File
	reader *mboxlib.Reader
	index  int
	done   bool
}

func (f *Folder) DisplayName() string { return f.name }

func (f *Folder) ContentCount() int {
	if f.path == "" {
		return 0
	}
	if f.count < 0 {
		n, err := CountMessages(f.store.fs, f.path)
		if err != nil {
			f.store.logger.Debug("message count incomplete", "path", f.path, "err", err)
		}
		f.count = n
	}
	return f.count
}

func (f *Folder) HasSubfolders() bool {
	if f.sbd == "" {
		return false
	}
	entries, err := afero.ReadDir(f.store.fs, f.sbd)
	return err != nil || len(entries) > 0
}

// NextChild reads the next message. Read errors end the folder: an mbox
// cursor cannot resynchronize after a malformed separator.
func (f *Folder) NextChild() (mailbox.Item, error) {
	if f.done || f.path == "" {
		return nil, nil
	}
	if f.reader == nil {
		file, err := f.store.fs.Open(f.path)
		if err != nil {
			f.done = true
			return nil, fmt.Errorf("open mbox: %w", err)
		}
		f.file = file
		f.reader = mboxlib.NewReader(file)
		f.store.track(f, true)
	}

	msgReader, err := f.reader.NextMessage()
	if err != nil {
		f.finish()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("message %d: %w", f.index, err)
	}
	raw, err := io.ReadAll(msgReader)
	if err != nil {
		f.finish()
		return nil, fmt.Errorf("message %d read: %w", f.index, err)
	}
	f.index++
	return newItem(raw), nil
}

func (f *Folder) Subfolders() ([]mailbox.Folder, error) {
	if f.sbd == "" {
		return nil, nil
	}
	entries, err := afero.ReadDir(f.store.fs, f.sbd)
	if err != nil {
		return nil, fmt.Errorf("read subfolders of %s: %w", f.name, err)
	}

	// names and stems of mbox files, to pair them with ".sbd" directories
	files := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.EqualFold(filepath.Ext(name), indexSuffix) {
			continue
		}
		files[name] = true
		files[strings.TrimSuffix(name, filepath.Ext(name))] = true
	}

	var out []mailbox.Folder
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			base, ok := strings.CutSuffix(name, subfolderSuffix)
			if !ok || base == "" || files[base] {
				// paired with its mbox file below
				continue
			}
			out = append(out, f.store.newFolder("", filepath.Join(f.sbd, name), displayName(base)))
			continue
		}
		if strings.EqualFold(filepath.Ext(name), indexSuffix) {
			continue
		}
		out = append(out, f.store.newFolder(
			filepath.Join(f.sbd, name),
			f.store.subfolderDir(f.sbd, name),
			displayName(name),
		))
	}
	return out, nil
}

func (f *Folder) finish() {
	f.done = true
	if err := f.closeFile(); err != nil {
		f.store.logger.Debug("close mbox failed", "path", f.path, "err", err)
	}
	f.store.track(f, false)
}

func (f *Folder) closeFile() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.reader = nil
	return err
}
