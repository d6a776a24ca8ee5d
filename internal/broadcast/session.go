package broadcast

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Session tails the ring from the live edge and forwards chunks to one
// client transport until the client goes away. Slow clients are never
// allowed to slow the producer; they fall behind and get resynced by
// the ring instead.
type Session struct {
	ID      string
	ring    *Ring
	w       io.Writer
	flusher http.Flusher
	timeout time.Duration
	log     *slog.Logger
}

func NewSession(ring *Ring, w io.Writer, readTimeout time.Duration, log *slog.Logger) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		ring:    ring,
		w:       w,
		timeout: readTimeout,
		log:     log.With(slog.String("component", "listener-session")),
	}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// Run drives the read-write loop. It returns when the context is done
// or a write to the client fails; either way only this session ends.
func (s *Session) Run(ctx context.Context) error {
	seq := s.ring.Cursor()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, next, ok := s.ring.ReadFrom(seq, s.timeout)
		if !ok {
			// Timed out at the live frontier; loop to check liveness.
			continue
		}
		if _, err := s.w.Write(chunk); err != nil {
			s.log.Debug("listener write failed",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()))
			return err
		}
		if s.flusher != nil {
			s.flusher.Flush()
		}
		seq = next
	}
}
