package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wavecast-audio/wavecast/internal/config"
	"github.com/wavecast-audio/wavecast/internal/source"
	"github.com/wavecast-audio/wavecast/internal/speech"
	"github.com/wavecast-audio/wavecast/internal/voices"
)

type engineFunc func(ctx context.Context, text, voiceID string, w io.Writer) error

func (f engineFunc) Synthesize(ctx context.Context, text, voiceID string, w io.Writer) error {
	return f(ctx, text, voiceID, w)
}

func newTestQueue(t *testing.T, engine Engine, depth int) (*Queue, *source.Selector) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	registry, err := voices.Open(filepath.Join(t.TempDir(), "voices.json"), "en-IN-PrabhatNeural", log)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	store, err := speech.New(t.TempDir(), 5, log)
	if err != nil {
		t.Fatalf("speech store: %v", err)
	}
	selector := source.New("background.mp3", log)

	cfg := config.SynthesisConfig{
		Mode:       "mock",
		TimeoutMS:  5000,
		WaitMS:     500,
		QueueDepth: depth,
		SampleRate: 8000,
		Channels:   1,
	}
	q := NewQueue(context.Background(), cfg, engine, store, registry, selector, nil, log)
	if err := q.Start(); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	t.Cleanup(q.Close)
	return q, selector
}

func TestEnqueueRejectsEmptyText(t *testing.T) {
	q, _ := newTestQueue(t, engineFunc(func(context.Context, string, string, io.Writer) error {
		t.Error("engine must not run for empty text")
		return nil
	}), 4)

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := q.Enqueue(text, ""); !errors.Is(err, ErrEmptyText) {
			t.Fatalf("expected ErrEmptyText for %q, got %v", text, err)
		}
	}
}

func TestJobsRunStrictlyInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	inFlight := 0

	engine := engineFunc(func(_ context.Context, text, _ string, w io.Writer) error {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			mu.Unlock()
			return errors.New("overlapping jobs")
		}
		order = append(order, text)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)
		_, err := w.Write([]byte("mp3"))

		mu.Lock()
		inFlight--
		mu.Unlock()
		return err
	})
	q, _ := newTestQueue(t, engine, 8)

	var jobs []*Job
	for i := 0; i < 3; i++ {
		job, err := q.Enqueue(fmt.Sprintf("job %d", i), "")
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		jobs = append(jobs, job)
	}
	for i, job := range jobs {
		select {
		case <-job.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("job %d did not complete", i)
		}
		if _, err := job.Result(); err != nil {
			t.Fatalf("job %d failed: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"job 0", "job 1", "job 2"}
	if strings.Join(order, "|") != strings.Join(want, "|") {
		t.Fatalf("jobs ran out of order: %v", order)
	}
}

func TestFailedJobDoesNotStopWorker(t *testing.T) {
	engine := engineFunc(func(_ context.Context, text, _ string, w io.Writer) error {
		if strings.Contains(text, "poison") {
			return errors.New("engine exploded")
		}
		_, err := w.Write([]byte("mp3"))
		return err
	})
	q, selector := newTestQueue(t, engine, 8)

	bad, err := q.Enqueue("poison pill", "")
	if err != nil {
		t.Fatalf("enqueue bad: %v", err)
	}
	good, err := q.Enqueue("healthy job", "")
	if err != nil {
		t.Fatalf("enqueue good: %v", err)
	}

	<-bad.Done()
	if _, err := bad.Result(); err == nil {
		t.Fatal("expected poison job to fail")
	}

	select {
	case <-good.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after a failed job")
	}
	path, err := good.Result()
	if err != nil {
		t.Fatalf("good job failed: %v", err)
	}
	if path == "" {
		t.Fatal("good job produced no path")
	}

	cur := selector.Current()
	if cur.Kind != source.KindSpeech || cur.Path != path {
		t.Fatalf("selector not preempted by good job, got %+v", cur)
	}
}

func TestWaitWindowExpiresWhileJobFinishesLater(t *testing.T) {
	release := make(chan struct{})
	engine := engineFunc(func(ctx context.Context, _, _ string, w io.Writer) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err := w.Write([]byte("mp3"))
		return err
	})
	q, _ := newTestQueue(t, engine, 8)

	job, err := q.Enqueue("slow one", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, _, completed := job.Wait(30 * time.Millisecond); completed {
		t.Fatal("job should not complete before release")
	}

	close(release)
	select {
	case <-job.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job never completed after release")
	}
	if path, err := job.Result(); err != nil || path == "" {
		t.Fatalf("unexpected result %q %v", path, err)
	}
}

func TestEnqueueReportsQueueFull(t *testing.T) {
	release := make(chan struct{})
	engine := engineFunc(func(ctx context.Context, _, _ string, w io.Writer) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err := w.Write([]byte("mp3"))
		return err
	})
	q, _ := newTestQueue(t, engine, 1)
	defer close(release)

	first, err := q.Enqueue("occupies the worker", "")
	if err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	// Wait for the worker to pick the first job up so the channel slot
	// frees; then one more fits and the next must be rejected.
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := q.Enqueue("fills the slot", ""); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first job")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := q.Enqueue("one too many", ""); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	_ = first
}

func TestEnqueueResolvesVoiceUpFront(t *testing.T) {
	q, _ := newTestQueue(t, engineFunc(func(_ context.Context, _, _ string, w io.Writer) error {
		_, err := w.Write([]byte("mp3"))
		return err
	}), 4)

	job, err := q.Enqueue("namaste", "unknown-voice")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.VoiceID != "en-IN-PrabhatNeural" {
		t.Fatalf("expected engine default fallback, got %q", job.VoiceID)
	}
	<-job.Done()
}
