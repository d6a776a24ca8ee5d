package broadcast

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSequencesAreGapless(t *testing.T) {
	r := NewRing(8)
	for i := 0; i < 5; i++ {
		r.Append([]byte{byte(i)})
	}

	seq := uint64(0)
	for i := 0; i < 5; i++ {
		chunk, next, ok := r.ReadFrom(seq, time.Second)
		if !ok {
			t.Fatalf("read %d timed out", i)
		}
		if next != seq+1 {
			t.Fatalf("expected next %d, got %d", seq+1, next)
		}
		if chunk[0] != byte(i) {
			t.Fatalf("expected chunk %d, got %d", i, chunk[0])
		}
		seq = next
	}
}

func TestReadBlocksUntilAppend(t *testing.T) {
	r := NewRing(8)
	r.Append([]byte{0})

	done := make(chan []byte, 1)
	go func() {
		chunk, _, ok := r.ReadFrom(1, 5*time.Second)
		if !ok {
			done <- nil
			return
		}
		done <- chunk
	}()

	time.Sleep(20 * time.Millisecond)
	r.Append([]byte{42})

	select {
	case chunk := <-done:
		if chunk == nil || chunk[0] != 42 {
			t.Fatalf("unexpected chunk %v", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked read never woke up")
	}
}

func TestReadTimesOutAtLiveEdge(t *testing.T) {
	r := NewRing(8)
	r.Append([]byte{0})

	start := time.Now()
	chunk, next, ok := r.ReadFrom(1, 30*time.Millisecond)
	if ok {
		t.Fatalf("expected timeout, got chunk %v", chunk)
	}
	if next != 1 {
		t.Fatalf("timeout must not advance cursor, got %d", next)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatal("returned before the timeout window")
	}
}

func TestLaggingCursorResyncsToLiveEdge(t *testing.T) {
	r := NewRing(4)
	// Wrap the ring twice past sequence 0.
	for i := 0; i < 10; i++ {
		r.Append([]byte{byte(i)})
	}

	chunk, next, ok := r.ReadFrom(0, time.Second)
	if !ok {
		t.Fatal("unexpected timeout")
	}
	if chunk[0] != 9 {
		t.Fatalf("expected live-edge chunk 9, got %d", chunk[0])
	}
	if next != 10 {
		t.Fatalf("expected resynced next 10, got %d", next)
	}
}

func TestCursorStartsAtLiveEdge(t *testing.T) {
	r := NewRing(4)
	if got := r.Cursor(); got != 0 {
		t.Fatalf("empty ring cursor should be 0, got %d", got)
	}
	for i := 0; i < 3; i++ {
		r.Append([]byte{byte(i)})
	}
	if got := r.Cursor(); got != 2 {
		t.Fatalf("expected cursor at highest sequence 2, got %d", got)
	}
}

func TestAllReadersObserveIdenticalBytes(t *testing.T) {
	r := NewRing(64)
	const chunks = 40
	const readers = 8

	var wg sync.WaitGroup
	results := make([][]byte, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var buf bytes.Buffer
			seq := uint64(0)
			for int(seq) < chunks {
				chunk, next, ok := r.ReadFrom(seq, time.Second)
				if !ok {
					t.Errorf("reader %d timed out at %d", n, seq)
					return
				}
				buf.Write(chunk)
				seq = next
			}
			results[n] = buf.Bytes()
		}(i)
	}

	for i := 0; i < chunks; i++ {
		r.Append([]byte(fmt.Sprintf("chunk-%02d|", i)))
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	for i := 1; i < readers; i++ {
		if !bytes.Equal(results[0], results[i]) {
			t.Fatalf("reader %d diverged from reader 0", i)
		}
	}
}

func TestSessionStopsOnWriteFailure(t *testing.T) {
	r := NewRing(8)
	r.Append([]byte("data"))

	s := NewSession(r, failingWriter{}, 50*time.Millisecond, newLogger())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected write error to end the session")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on write failure")
	}
}

func TestSessionStopsOnContextCancel(t *testing.T) {
	r := NewRing(8)
	var buf bytes.Buffer
	s := NewSession(r, &buf, 20*time.Millisecond, newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not observe cancellation")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}
