package synth

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wavecast-audio/wavecast/internal/bus"
	"github.com/wavecast-audio/wavecast/internal/config"
	"github.com/wavecast-audio/wavecast/internal/protocol"
	"github.com/wavecast-audio/wavecast/internal/source"
	"github.com/wavecast-audio/wavecast/internal/speech"
	"github.com/wavecast-audio/wavecast/internal/voices"
)

// ErrQueueFull is returned when the job queue is at capacity.
var ErrQueueFull = errors.New("synthesis queue full")

// Job is the caller's handle on one queued synthesis request. A caller
// may wait on it with a bounded timeout; the job keeps running in the
// background if the caller stops waiting.
type Job struct {
	ID          string
	Text        string
	VoiceName   string
	VoiceID     string
	SubmittedAt time.Time

	done       chan struct{}
	mu         sync.Mutex
	resultPath string
	err        error
}

// Done is closed once the job has completed, successfully or not.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the outcome. Valid only after Done is closed.
func (j *Job) Result() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resultPath, j.err
}

// Wait blocks up to d for completion. The third return reports whether
// the job completed within the window.
func (j *Job) Wait(d time.Duration) (string, error, bool) {
	select {
	case <-j.done:
		path, err := j.Result()
		return path, err, true
	case <-time.After(d):
		return "", nil, false
	}
}

func (j *Job) complete(path string, err error) {
	j.mu.Lock()
	j.resultPath = path
	j.err = err
	j.mu.Unlock()
	close(j.done)
}

// Queue serializes synthesis jobs against the engine: strict FIFO, one
// job in flight at a time, per-job failure isolation.
type Queue struct {
	cfg      config.SynthesisConfig
	engine   Engine
	store    *speech.Store
	registry *voices.Registry
	selector *source.Selector
	bus      *bus.Client
	logger   *slog.Logger

	jobs   chan *Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed metric.Int64Counter
}

func NewQueue(parent context.Context, cfg config.SynthesisConfig, engine Engine, store *speech.Store, registry *voices.Registry, selector *source.Selector, busClient *bus.Client, log *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(parent)
	meter := otel.Meter("wavecast/synth")
	processed, _ := meter.Int64Counter("wavecast.synthesis.jobs",
		metric.WithDescription("Synthesis jobs processed, by outcome"))
	return &Queue{
		cfg:       cfg,
		engine:    engine,
		store:     store,
		registry:  registry,
		selector:  selector,
		bus:       busClient,
		logger:    log.With(slog.String("component", "synth-queue")),
		jobs:      make(chan *Job, cfg.QueueDepth),
		ctx:       ctx,
		cancel:    cancel,
		processed: processed,
	}
}

// Start launches the single worker goroutine.
func (q *Queue) Start() error {
	q.wg.Add(1)
	go q.run()
	return nil
}

func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) Healthy() bool { return q.ctx.Err() == nil }

// WaitWindow is the bounded period callers should wait on a fresh job.
func (q *Queue) WaitWindow() time.Duration {
	return time.Duration(q.cfg.WaitMS) * time.Millisecond
}

// Enqueue validates the request and appends a job to the FIFO. Empty
// text is rejected here, before anything is queued. The voice name is
// resolved up front so the job carries a concrete engine identifier.
func (q *Queue) Enqueue(text, voiceName string) (*Job, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	job := &Job{
		ID:          uuid.NewString(),
		Text:        text,
		VoiceName:   voiceName,
		VoiceID:     q.registry.Resolve(voiceName),
		SubmittedAt: time.Now().UTC(),
		done:        make(chan struct{}),
	}

	select {
	case q.jobs <- job:
	default:
		return nil, ErrQueueFull
	}

	q.logger.Info("job queued",
		slog.String("job_id", job.ID),
		slog.String("voice", job.VoiceID),
		slog.Int("chars", len(job.Text)))
	q.bus.PublishJSON(protocol.SubjectSynthesisQueued, protocol.SynthesisEvent{
		JobID:     job.ID,
		Voice:     job.VoiceID,
		Chars:     len(job.Text),
		Timestamp: job.SubmittedAt,
	})
	return job, nil
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.process(job)
		}
	}
}

// process runs exactly one job. Failures are recorded on the job and
// must never stop the worker.
func (q *Queue) process(job *Job) {
	ctx, cancel := context.WithTimeout(q.ctx, time.Duration(q.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	path, err := q.store.Commit(func(f *os.File) error {
		return q.engine.Synthesize(ctx, job.Text, job.VoiceID, f)
	})
	if err != nil {
		job.complete("", err)
		q.processed.Add(q.ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		q.logger.Warn("synthesis failed",
			slog.String("job_id", job.ID),
			slog.String("voice", job.VoiceID),
			slog.String("error", err.Error()))
		q.bus.PublishJSON(protocol.SubjectSynthesisFailed, protocol.SynthesisEvent{
			JobID:     job.ID,
			Voice:     job.VoiceID,
			Chars:     len(job.Text),
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return
	}

	job.complete(path, nil)
	q.selector.SetSpeech(path)
	q.processed.Add(q.ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	q.logger.Info("synthesis complete",
		slog.String("job_id", job.ID),
		slog.String("path", path))
	q.bus.PublishJSON(protocol.SubjectSynthesisDone, protocol.SynthesisEvent{
		JobID:     job.ID,
		Voice:     job.VoiceID,
		Chars:     len(job.Text),
		Path:      path,
		Timestamp: time.Now().UTC(),
	})
}
