// Package runlog persists run reports so a later invocation can re-run the
// statements that failed.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kazi/sqlapply/internal/report"
)

// DefaultDir holds run logs relative to the project root (git-ignored).
const DefaultDir = ".sqlapply/runs"

// Version of the run log format.
const Version = "1"

// Entry is one persisted run.
type Entry struct {
	Version string `json:"version"`
	// Source is the migration path the run was loaded from.
	Source string            `json:"source"`
	Report *report.RunReport `json:"report"`
}

// Store reads and writes entries in a directory.
type Store struct {
	Dir string
}

// New returns a store rooted at dir, or DefaultDir when dir is empty.
func New(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{Dir: dir}
}

// fileName sorts chronologically.
func fileName(r *report.RunReport) string {
	id := r.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return r.StartedAt.UTC().Format("20060102T150405.000000000Z") + "-" + id + ".json"
}

// Save writes the report for source and returns the file path.
func (s *Store) Save(source string, r *report.RunReport) (string, error) {
	if r == nil {
		return "", fmt.Errorf("no report to save")
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run log directory: %w", err)
	}

	data, err := json.MarshalIndent(Entry{Version: Version, Source: source, Report: r}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run log: %w", err)
	}

	// Write atomically (write to temp file, then rename)
	path := filepath.Join(s.Dir, fileName(r))
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write run log: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		return "", fmt.Errorf("failed to save run log: %w", err)
	}
	return path, nil
}

// List returns log files, oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run log directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(s.Dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Read loads one log file.
func Read(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse run log %s: %w", path, err)
	}
	if entry.Report == nil {
		return nil, fmt.Errorf("run log %s has no report", path)
	}
	return &entry, nil
}

// Latest returns the newest completed run for source, or nil when there is
// none. Aborted runs are skipped since they recorded no statement results.
func (s *Store) Latest(source string) (*Entry, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}

	for i := len(files) - 1; i >= 0; i-- {
		entry, err := Read(files[i])
		if err != nil {
			return nil, err
		}
		if source != "" && entry.Source != source {
			continue
		}
		if entry.Report.State != report.StateCompleted {
			continue
		}
		return entry, nil
	}
	return nil, nil
}

// Find loads the run whose ID starts with prefix.
func (s *Store) Find(prefix string) (*Entry, error) {
	if prefix == "" {
		return nil, fmt.Errorf("run id is empty")
	}
	files, err := s.List()
	if err != nil {
		return nil, err
	}

	var match *Entry
	for _, f := range files {
		entry, err := Read(f)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(entry.Report.RunID, prefix) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("run id %q is ambiguous", prefix)
		}
		match = entry
	}
	if match == nil {
		return nil, fmt.Errorf("no run with id %q in %s", prefix, s.Dir)
	}
	return match, nil
}
