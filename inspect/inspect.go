// Package inspect takes a census of a mailbox without extracting anything:
// item classes are read, items are never loaded.
package inspect

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"github.com/spf13/afero"

	"github.com/dhcgn/mailbox-export/filter"
	"github.com/dhcgn/mailbox-export/mailbox"
	"github.com/dhcgn/mailbox-export/walker"
)

// ReportFile is the CSV written by WriteReport.
const ReportFile = "report_folders.csv"

// Node is one folder of the census.
type Node struct {
	Name string
	Path string
	// Classes counts items by message class tag.
	Classes map[string]int
	// Truncated is set when enumeration stopped early.
	Truncated bool
	Children  []*Node
}

// Items is the number of items counted directly in n.
func (n *Node) Items() int {
	total := 0
	for _, c := range n.Classes {
		total += c
	}
	return total
}

// Kinds folds the class counts into their kinds.
func (n *Node) Kinds() map[mailbox.Kind]int {
	kinds := make(map[mailbox.Kind]int)
	for class, c := range n.Classes {
		kinds[mailbox.Classify(class)] += c
	}
	return kinds
}

// Walk visits n and its descendants depth first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Scan counts the items of root and all its subfolders. Unreadable folders
// are logged and kept with what was counted so far.
func Scan(root mailbox.Folder, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	name, err := walker.Isolate(func() (string, error) { return root.DisplayName(), nil })
	if err != nil {
		logger.Warn("root folder name unreadable", "err", err)
	}
	return scan(root, name, name, logger)
}

func scan(folder mailbox.Folder, name, path string, logger *slog.Logger) *Node {
	node := &Node{Name: name, Path: path, Classes: make(map[string]int)}

	for {
		item, err := walker.Isolate(folder.NextChild)
		if err != nil {
			logger.Warn("folder enumeration stopped", "folder", path, "err", err)
			node.Truncated = true
			break
		}
		if item == nil {
			break
		}
		class, err := walker.Isolate(func() (string, error) { return item.MessageClass(), nil })
		if err != nil {
			logger.Debug("item class unreadable", "folder", path, "err", err)
			class = ""
		}
		node.Classes[class]++
	}

	subfolders, err := walker.Isolate(func() ([]mailbox.Folder, error) {
		if !folder.HasSubfolders() {
			return nil, nil
		}
		return folder.Subfolders()
	})
	if err != nil {
		logger.Warn("cannot list subfolders", "folder", path, "err", err)
		return node
	}
	for _, sub := range subfolders {
		child, err := walker.Isolate(func() (*Node, error) {
			subName := sub.DisplayName()
			return scan(sub, subName, filter.JoinPath(path, subName), logger), nil
		})
		if err != nil {
			logger.Warn("subfolder skipped", "folder", path, "err", err)
			continue
		}
		node.Children = append(node.Children, child)
	}
	return node
}

// TopClasses sums the class counts of the whole tree.
func TopClasses(root *Node) map[string]int {
	totals := make(map[string]int)
	root.Walk(func(n *Node) {
		for class, c := range n.Classes {
			if class == "" {
				class = "(none)"
			}
			totals[class] += c
		}
	})
	return totals
}

// Tree converts the census into a pterm tree for rendering.
func Tree(root *Node) pterm.TreeNode {
	return putils.TreeFromLeveledList(leveled(root, 0, nil))
}

func leveled(n *Node, level int, list pterm.LeveledList) pterm.LeveledList {
	list = append(list, pterm.LeveledListItem{Level: level, Text: label(n)})
	for _, c := range n.Children {
		list = leveled(c, level+1, list)
	}
	return list
}

func label(n *Node) string {
	kinds := n.Kinds()
	var parts []string
	for _, k := range []mailbox.Kind{mailbox.KindMessage, mailbox.KindContact, mailbox.KindAppointment, mailbox.KindUnrecognized} {
		if kinds[k] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", kinds[k], k))
		}
	}
	text := n.Name
	if len(parts) > 0 {
		text += " (" + strings.Join(parts, ", ") + ")"
	}
	if n.Truncated {
		text += " [truncated]"
	}
	return text
}

// WriteReport writes one row per folder and class to dir/report_folders.csv,
// in tree order, classes by descending count.
func WriteReport(fs afero.Fs, root *Node, dir string) (string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	filePath := filepath.Join(dir, ReportFile)
	file, err := fs.Create(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Folder", "Class", "Kind", "Count"}); err != nil {
		return "", err
	}

	var writeErr error
	root.Walk(func(n *Node) {
		if writeErr != nil {
			return
		}
		type pair struct {
			Class string
			Count int
		}
		pairs := make([]pair, 0, len(n.Classes))
		for class, c := range n.Classes {
			pairs = append(pairs, pair{class, c})
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].Count != pairs[j].Count {
				return pairs[i].Count > pairs[j].Count
			}
			return pairs[i].Class < pairs[j].Class
		})
		for _, p := range pairs {
			record := []string{n.Path, p.Class, mailbox.Classify(p.Class).String(), strconv.Itoa(p.Count)}
			if err := writer.Write(record); err != nil {
				writeErr = err
				return
			}
		}
	})
	if writeErr != nil {
		return "", writeErr
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return filePath, file.Close()
}
