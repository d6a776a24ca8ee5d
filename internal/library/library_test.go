package library

import (
	"os"
	"path/filepath"
	"testing"
)

func newLibrary(t *testing.T, names ...string) *Library {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("audio"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return New(dir)
}

func TestSongsListsOnlyMP3s(t *testing.T) {
	l := newLibrary(t, "b.mp3", "a.mp3", "notes.txt", "cover.jpg")
	songs, err := l.Songs()
	if err != nil {
		t.Fatalf("songs: %v", err)
	}
	if len(songs) != 2 || songs[0] != "a.mp3" || songs[1] != "b.mp3" {
		t.Fatalf("unexpected songs %v", songs)
	}
}

func TestResolveValidName(t *testing.T) {
	l := newLibrary(t, "track.mp3")
	path, err := l.Resolve("track.mp3")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Base(path) != "track.mp3" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestResolveRejectsTraversalAndMissing(t *testing.T) {
	l := newLibrary(t, "track.mp3")
	for _, name := range []string{
		"../etc/passwd",
		"sub/track.mp3",
		".hidden.mp3",
		"track.wav",
		"ghost.mp3",
		"",
	} {
		if _, err := l.Resolve(name); err == nil {
			t.Fatalf("expected rejection for %q", name)
		}
	}
}
