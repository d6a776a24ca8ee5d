package source

import (
	"log/slog"
	"sync"
)

// Kind distinguishes the two broadcast source states. There is no
// paused or empty state: the station always plays something.
type Kind int

const (
	KindBackground Kind = iota
	KindSpeech
)

func (k Kind) String() string {
	if k == KindSpeech {
		return "speech"
	}
	return "background"
}

// Source is what should currently feed the transcoder. Gen increases on
// every retarget so a drain notification for a stale source cannot
// revert a newer one.
type Source struct {
	Kind Kind
	Path string
	Gen  uint64
}

// Selector owns the single current broadcast source. The synthesis
// worker preempts it with new speech files; the transcode pipeline
// reads it and reports drains.
type Selector struct {
	log *slog.Logger

	mu         sync.Mutex
	current    Source
	background string
	gen        uint64

	changed  chan struct{}
	onChange func(Source)
}

func New(backgroundPath string, log *slog.Logger) *Selector {
	s := &Selector{
		log:        log.With(slog.String("component", "source-selector")),
		background: backgroundPath,
		changed:    make(chan struct{}, 1),
	}
	s.current = Source{Kind: KindBackground, Path: backgroundPath}
	return s
}

// OnChange registers a callback invoked after every retarget. Set it
// during wiring, before the pipeline starts.
func (s *Selector) OnChange(fn func(Source)) {
	s.onChange = fn
}

// Current returns the source that should be playing right now.
func (s *Selector) Current() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Background returns the configured background file.
func (s *Selector) Background() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.background
}

// Changed returns a coalesced signal channel: at least one receive is
// pending after any retarget.
func (s *Selector) Changed() <-chan struct{} {
	return s.changed
}

// SetSpeech unconditionally preempts the current source with a freshly
// published speech file. Only the newest speech file matters; an
// in-progress speech source is abandoned.
func (s *Selector) SetSpeech(path string) {
	s.mu.Lock()
	s.gen++
	s.current = Source{Kind: KindSpeech, Path: path, Gen: s.gen}
	cur := s.current
	s.mu.Unlock()

	s.log.Info("source preempted by speech", slog.String("path", path))
	s.notify(cur)
}

// SetBackground retargets the background loop to a different file and
// preempts whatever is playing.
func (s *Selector) SetBackground(path string) {
	s.mu.Lock()
	s.background = path
	s.gen++
	s.current = Source{Kind: KindBackground, Path: path, Gen: s.gen}
	cur := s.current
	s.mu.Unlock()

	s.log.Info("background retargeted", slog.String("path", path))
	s.notify(cur)
}

// Drained reports that the pipeline fully played src. If src is still
// current and was speech, the selector reverts to the background file;
// if a newer source already preempted it, nothing happens.
func (s *Selector) Drained(src Source) {
	s.mu.Lock()
	if s.current.Gen != src.Gen || s.current.Kind != KindSpeech {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.current = Source{Kind: KindBackground, Path: s.background, Gen: s.gen}
	cur := s.current
	s.mu.Unlock()

	s.log.Info("speech drained, reverting to background", slog.String("path", cur.Path))
	s.notify(cur)
}

func (s *Selector) notify(cur Source) {
	select {
	case s.changed <- struct{}{}:
	default:
	}
	if s.onChange != nil {
		s.onChange(cur)
	}
}
