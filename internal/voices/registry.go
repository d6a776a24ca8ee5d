package voices

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultName is the registry entry every document must carry. It is the
// voice used when callers do not name one.
const DefaultName = "default"

// Registry maps logical voice names to engine voice identifiers. The
// mapping is persisted as one JSON document; every write rewrites the
// whole document through a temp file and an atomic rename so concurrent
// readers never observe a partial document.
type Registry struct {
	path          string
	engineDefault string
	log           *slog.Logger

	mu     sync.RWMutex
	voices map[string]string
}

// Open loads the registry document, creating it with only the default
// entry when it does not exist yet.
func Open(path, engineDefault string, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		path:          path,
		engineDefault: engineDefault,
		log:           log.With(slog.String("component", "voices")),
		voices:        map[string]string{DefaultName: engineDefault},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read voice registry: %w", err)
		}
		if err := r.save(); err != nil {
			return nil, err
		}
		return r, nil
	}

	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse voice registry: %w", err)
	}
	if doc[DefaultName] == "" {
		doc[DefaultName] = engineDefault
	}
	r.voices = doc
	return r, nil
}

// Resolve maps a logical voice name to an engine identifier. Precedence:
// the named entry, then the registry default, then the engine default.
func (r *Registry) Resolve(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name != "" {
		if id, ok := r.voices[name]; ok && id != "" {
			return id
		}
	}
	if id := r.voices[DefaultName]; id != "" {
		return id
	}
	return r.engineDefault
}

// Lookup reports the exact entry for name, without fallback.
func (r *Registry) Lookup(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.voices[name]
	return id, ok && id != ""
}

// Set registers or replaces a voice mapping and persists the document.
func (r *Registry) Set(name, id string) error {
	if name == "" || id == "" {
		return fmt.Errorf("voice name and identifier must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voices[name] = id
	return r.save()
}

// UseDefault points the default entry at the named voice's identifier.
func (r *Registry) UseDefault(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.voices[name]
	if !ok || id == "" {
		return "", fmt.Errorf("voice %q not registered", name)
	}
	r.voices[DefaultName] = id
	if err := r.save(); err != nil {
		return "", err
	}
	return id, nil
}

// All returns a copy of the registry document.
func (r *Registry) All() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.voices))
	for k, v := range r.voices {
		out[k] = v
	}
	return out
}

// save rewrites the whole document. Callers hold the write lock.
func (r *Registry) save() error {
	dir := filepath.Dir(r.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(r.voices, "", "  ")
	if err != nil {
		return fmt.Errorf("encode voice registry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".voices-*.json")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write voice registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close registry temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish voice registry: %w", err)
	}
	return nil
}
