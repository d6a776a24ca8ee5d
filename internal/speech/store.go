package speech

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry describes one published speech file.
type Entry struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Store manages the directory of synthesized speech files. Files are
// written to a temp path and renamed into place, so no reader ever sees
// a partially written file, and at most maxFiles published files are
// retained.
type Store struct {
	dir      string
	maxFiles int
	log      *slog.Logger

	mu    sync.Mutex
	clock func() time.Time
}

func New(dir string, maxFiles int, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create speech dir: %w", err)
	}
	return &Store{
		dir:      dir,
		maxFiles: maxFiles,
		log:      log.With(slog.String("component", "speech-store")),
		clock:    time.Now,
	}, nil
}

// Commit streams synthesis output into a temp file in the destination
// directory, atomically publishes it under a collision-free timestamp
// name, and then enforces retention.
func (s *Store) Commit(write func(f *os.File) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".speech-*.part")
	if err != nil {
		return "", fmt.Errorf("create speech temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close speech temp file: %w", err)
	}

	name := fmt.Sprintf("speech-%s.mp3", s.clock().UTC().Format("20060102-150405.000000000"))
	dest := filepath.Join(s.dir, name)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publish speech file: %w", err)
	}

	s.prune()
	return dest, nil
}

// List returns published speech files, most recent first, by scanning
// the directory. Ordering is by file modification time.
func (s *Store) List() ([]Entry, error) {
	entries, err := s.scan()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	return entries, nil
}

func (s *Store) scan() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan speech dir: %w", err)
	}
	var entries []Entry
	for _, de := range dirents {
		if de.IsDir() || filepath.Ext(de.Name()) != ".mp3" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between readdir and stat; retention races are benign.
			continue
		}
		entries = append(entries, Entry{
			Path:    filepath.Join(s.dir, de.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return entries, nil
}

// prune deletes the oldest published files beyond maxFiles. Missing
// files are not an error: something else already removed them.
func (s *Store) prune() {
	entries, err := s.scan()
	if err != nil {
		s.log.Warn("retention scan failed", slog.String("error", err.Error()))
		return
	}
	if len(entries) <= s.maxFiles {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	for _, old := range entries[:len(entries)-s.maxFiles] {
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove old speech file",
				slog.String("path", old.Path),
				slog.String("error", err.Error()))
			continue
		}
		s.log.Debug("removed old speech file", slog.String("path", old.Path))
	}
}
