package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Library lists the music folder and resolves track names coming from
// callers into safe paths inside it.
type Library struct {
	dir string
}

func New(dir string) *Library {
	return &Library{dir: dir}
}

func (l *Library) Dir() string { return l.dir }

// Songs lists the .mp3 files in the music folder, sorted by name.
func (l *Library) Songs() ([]string, error) {
	dirents, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("scan music folder: %w", err)
	}
	var songs []string
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".mp3") {
			continue
		}
		songs = append(songs, de.Name())
	}
	sort.Strings(songs)
	return songs, nil
}

// Resolve validates a caller-supplied track name and returns its path.
// Only bare .mp3 names of existing files are accepted; anything with
// path separators or traversal is rejected.
func (l *Library) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid track name %q", name)
	}
	if !strings.HasSuffix(name, ".mp3") {
		return "", fmt.Errorf("track %q is not an mp3", name)
	}
	path := filepath.Join(l.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("track %q not found", name)
	}
	if info.IsDir() {
		return "", fmt.Errorf("track %q not found", name)
	}
	return path, nil
}
