package station

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wavecast-audio/wavecast/internal/broadcast"
	"github.com/wavecast-audio/wavecast/internal/bus"
	"github.com/wavecast-audio/wavecast/internal/config"
	"github.com/wavecast-audio/wavecast/internal/eventstore"
	"github.com/wavecast-audio/wavecast/internal/library"
	"github.com/wavecast-audio/wavecast/internal/natsserver"
	"github.com/wavecast-audio/wavecast/internal/pipeline"
	"github.com/wavecast-audio/wavecast/internal/protocol"
	"github.com/wavecast-audio/wavecast/internal/source"
	"github.com/wavecast-audio/wavecast/internal/speech"
	"github.com/wavecast-audio/wavecast/internal/synth"
	"github.com/wavecast-audio/wavecast/internal/voices"
	"github.com/wavecast-audio/wavecast/internal/web"
)

// Station wires the whole broadcast together: the transcode pipeline
// feeding the ring, the synthesis queue preempting the source selector,
// and the HTTP surface listeners and operators talk to.
type Station struct {
	cfg config.Config
	log *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	natsServer    *natsserver.EmbeddedServer
	bus           *bus.Client
	events        *eventstore.Store
	queue         *synth.Queue
	pipeline      *pipeline.Pipeline
	recorder      *nats.Subscription

	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Station {
	return &Station{
		cfg: cfg,
		log: logger,
	}
}

// Start brings the station on air and blocks until ctx is cancelled,
// then shuts everything down in dependency order.
func (s *Station) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A wiring failure must not leak whatever already started (embedded
	// bus, connections, stores); tear it down in the usual order.
	wired := false
	defer func() {
		if !wired {
			s.shutdown()
		}
	}()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(s.cfg, s.log)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	s.telemetryClose = shutdownTelemetry

	bgPath := s.backgroundPath()
	if _, err := os.Stat(bgPath); err != nil {
		return fmt.Errorf("background track unavailable: %w", err)
	}

	ns, err := natsserver.Start(s.cfg.Bus, s.log)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	s.natsServer = ns

	busClient, err := bus.Connect(s.cfg.Bus, s.log)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	s.bus = busClient

	events, err := eventstore.Open(ctx, s.cfg.EventStore, s.log)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	s.events = events

	registry, err := voices.Open(s.cfg.Voices.Path, s.cfg.Voices.EngineDefault, s.log)
	if err != nil {
		return fmt.Errorf("failed to open voice registry: %w", err)
	}
	store, err := speech.New(s.cfg.Speech.Dir, s.cfg.Speech.MaxFiles, s.log)
	if err != nil {
		return fmt.Errorf("failed to init speech store: %w", err)
	}
	lib := library.New(s.cfg.Library.Dir)

	selector := source.New(bgPath, s.log)
	selector.OnChange(func(src source.Source) {
		s.bus.PublishJSON(protocol.SubjectSourceChanged, protocol.SourceChange{
			Kind:      src.Kind.String(),
			Path:      src.Path,
			Timestamp: time.Now().UTC(),
		})
	})
	ring := broadcast.NewRing(s.cfg.Broadcast.RingChunks)

	engine, err := s.buildEngine()
	if err != nil {
		return err
	}
	s.queue = synth.NewQueue(ctx, s.cfg.Synthesis, engine, store, registry, selector, s.bus, s.log)

	pl, err := pipeline.New(ctx, s.cfg.Transcoder, selector, ring, s.log)
	if err != nil {
		return fmt.Errorf("failed to build transcode pipeline: %w", err)
	}
	s.pipeline = pl

	if err := s.startRecorder(); err != nil {
		return fmt.Errorf("failed to start event recorder: %w", err)
	}

	readTimeout := time.Duration(s.cfg.Broadcast.ReadTimeoutMS) * time.Millisecond
	handler := web.NewHandler(s.queue, registry, store, selector, ring, lib, s.bus, s.events, readTimeout, s.log)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	addr := fmt.Sprintf("%s:%d", s.cfg.HTTP.Bind, s.cfg.HTTP.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		s.metricsServer = &http.Server{
			Addr:              s.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	if err := s.queue.Start(); err != nil {
		return fmt.Errorf("failed to start synthesis queue: %w", err)
	}
	if err := s.pipeline.Start(); err != nil {
		return fmt.Errorf("failed to start transcode pipeline: %w", err)
	}

	wired = true
	s.ready.Store(true)
	s.log.Info("station on air",
		slog.String("addr", addr),
		slog.String("background", bgPath))

	<-ctx.Done()
	s.log.Info("station stopping")
	s.shutdown()
	return nil
}

func (s *Station) backgroundPath() string {
	if filepath.IsAbs(s.cfg.Library.Background) {
		return s.cfg.Library.Background
	}
	return filepath.Join(s.cfg.Library.Dir, s.cfg.Library.Background)
}

func (s *Station) buildEngine() (synth.Engine, error) {
	switch s.cfg.Synthesis.Mode {
	case "exec":
		engine, err := synth.NewExecEngine(s.cfg.Synthesis.Command)
		if err != nil {
			return nil, fmt.Errorf("failed to build synthesis engine: %w", err)
		}
		return engine, nil
	default:
		return synth.NewMockEngine(s.cfg.Synthesis.SampleRate, s.cfg.Synthesis.Channels), nil
	}
}

// startRecorder mirrors bus traffic into the event store: every station
// event lands in the timeline, and synthesis lifecycle events update the
// job ledger.
func (s *Station) startRecorder() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectStationAll, func(msg *nats.Msg) {
		ctx := context.Background()
		if err := s.events.AppendEvent(ctx, msg.Subject, msg.Data); err != nil {
			s.log.Warn("failed to record event",
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()))
		}

		switch msg.Subject {
		case protocol.SubjectSynthesisQueued, protocol.SubjectSynthesisDone, protocol.SubjectSynthesisFailed:
		default:
			return
		}
		var ev protocol.SynthesisEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		rec := eventstore.JobRecord{
			JobID:      ev.JobID,
			Voice:      ev.Voice,
			Chars:      ev.Chars,
			Status:     strings.TrimPrefix(msg.Subject, "station.synthesis."),
			ResultPath: ev.Path,
			Error:      ev.Error,
		}
		if err := s.events.UpsertJob(ctx, rec); err != nil {
			s.log.Warn("failed to record job",
				slog.String("job_id", ev.JobID),
				slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return err
	}
	s.recorder = sub
	return nil
}

func (s *Station) shutdown() {
	s.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	s.wg.Wait()

	if s.pipeline != nil {
		s.pipeline.Close()
	}
	if s.queue != nil {
		s.queue.Close()
	}
	if s.recorder != nil {
		_ = s.recorder.Unsubscribe()
	}
	if s.events != nil {
		if err := s.events.Prune(shutdownCtx); err != nil {
			s.log.Warn("event store prune failed", slog.String("error", err.Error()))
		}
		if err := s.events.Close(); err != nil {
			s.log.Warn("event store close failed", slog.String("error", err.Error()))
		}
	}
	s.bus.Close()
	s.natsServer.Shutdown()

	if s.telemetryClose != nil {
		if err := s.telemetryClose(shutdownCtx); err != nil {
			s.log.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (s *Station) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Station) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready.Load() && s.pipeline.Healthy() && s.queue.Healthy() && s.bus.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
