package voices

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenCreatesDefaultDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.json")
	r, err := Open(path, "en-IN-PrabhatNeural", newLogger())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	if got := r.Resolve(""); got != "en-IN-PrabhatNeural" {
		t.Fatalf("expected engine default, got %q", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected document on disk: %v", err)
	}
	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document not valid json: %v", err)
	}
	if doc[DefaultName] != "en-IN-PrabhatNeural" {
		t.Fatalf("expected default entry, got %v", doc)
	}
}

func TestResolvePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.json")
	r, err := Open(path, "engine-default", newLogger())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	if err := r.Set("anchor", "hi-IN-MadhurNeural"); err != nil {
		t.Fatalf("set voice: %v", err)
	}

	if got := r.Resolve("anchor"); got != "hi-IN-MadhurNeural" {
		t.Fatalf("expected named entry, got %q", got)
	}
	if got := r.Resolve("missing"); got != "engine-default" {
		t.Fatalf("expected registry default for unknown name, got %q", got)
	}
	if got := r.Resolve(""); got != "engine-default" {
		t.Fatalf("expected registry default for empty name, got %q", got)
	}
}

func TestUseDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.json")
	r, err := Open(path, "engine-default", newLogger())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	if err := r.Set("anchor", "hi-IN-MadhurNeural"); err != nil {
		t.Fatalf("set voice: %v", err)
	}

	id, err := r.UseDefault("anchor")
	if err != nil {
		t.Fatalf("use default: %v", err)
	}
	if id != "hi-IN-MadhurNeural" {
		t.Fatalf("unexpected id %q", id)
	}
	if got := r.Resolve(""); got != "hi-IN-MadhurNeural" {
		t.Fatalf("expected new default, got %q", got)
	}

	if _, err := r.UseDefault("ghost"); err == nil {
		t.Fatal("expected error for unregistered name")
	}
}

func TestRewriteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.json")
	r, err := Open(path, "engine-default", newLogger())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	if err := r.Set("news", "en-GB-RyanNeural"); err != nil {
		t.Fatalf("set voice: %v", err)
	}

	r2, err := Open(path, "engine-default", newLogger())
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}
	if id, ok := r2.Lookup("news"); !ok || id != "en-GB-RyanNeural" {
		t.Fatalf("expected persisted entry, got %q %v", id, ok)
	}
}
