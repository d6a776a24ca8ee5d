package web

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/wavecast-audio/wavecast/internal/broadcast"
	"github.com/wavecast-audio/wavecast/internal/bus"
	"github.com/wavecast-audio/wavecast/internal/eventstore"
	"github.com/wavecast-audio/wavecast/internal/library"
	"github.com/wavecast-audio/wavecast/internal/protocol"
	"github.com/wavecast-audio/wavecast/internal/source"
	"github.com/wavecast-audio/wavecast/internal/speech"
	"github.com/wavecast-audio/wavecast/internal/synth"
	"github.com/wavecast-audio/wavecast/internal/voices"
)

// Handler exposes the station's HTTP surface: the synthesis request
// endpoint, the shared live stream, and the library/voice management
// endpoints around them.
type Handler struct {
	queue       *synth.Queue
	registry    *voices.Registry
	store       *speech.Store
	selector    *source.Selector
	ring        *broadcast.Ring
	lib         *library.Library
	bus         *bus.Client
	events      *eventstore.Store
	log         *slog.Logger
	readTimeout time.Duration

	listeners     atomic.Int64
	listenerGauge metric.Int64UpDownCounter
}

func NewHandler(queue *synth.Queue, registry *voices.Registry, store *speech.Store, selector *source.Selector, ring *broadcast.Ring, lib *library.Library, busClient *bus.Client, events *eventstore.Store, readTimeout time.Duration, log *slog.Logger) *Handler {
	meter := otel.Meter("wavecast/web")
	gauge, _ := meter.Int64UpDownCounter("wavecast.listeners.active",
		metric.WithDescription("Currently attached stream listeners"))
	return &Handler{
		queue:         queue,
		registry:      registry,
		store:         store,
		selector:      selector,
		ring:          ring,
		lib:           lib,
		bus:           busClient,
		events:        events,
		log:           log.With(slog.String("component", "web")),
		readTimeout:   readTimeout,
		listenerGauge: gauge,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /say", h.handleSay)
	mux.HandleFunc("GET /stream", h.handleStream)
	mux.HandleFunc("GET /songs", h.handleSongs)
	mux.HandleFunc("GET /play/{name}", h.handlePlay)
	mux.HandleFunc("POST /play/{name}", h.handlePlay)
	mux.HandleFunc("GET /voices", h.handleVoices)
	mux.HandleFunc("POST /voice", h.handleAddVoice)
	mux.HandleFunc("POST /use/{name}", h.handleUseVoice)
	mux.HandleFunc("GET /speech", h.handleSpeech)
	mux.HandleFunc("GET /history", h.handleHistory)
	mux.HandleFunc("GET /history/{job_id}", h.handleJob)
	mux.HandleFunc("GET /events", h.handleEvents)
}

type sayRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (h *Handler) handleSay(w http.ResponseWriter, r *http.Request) {
	var req sayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	job, err := h.queue.Enqueue(req.Text, req.Voice)
	if err != nil {
		switch {
		case errors.Is(err, synth.ErrEmptyText):
			writeError(w, http.StatusBadRequest, "Missing text")
		case errors.Is(err, synth.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "synthesis queue full")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	// Bounded wait to surface fast failures; the job keeps running in
	// the background if it outlives the window.
	path, jobErr, completed := job.Wait(h.queue.WaitWindow())
	switch {
	case completed && jobErr != nil:
		writeError(w, http.StatusInternalServerError, jobErr.Error())
	case completed:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"job_id":     job.ID,
			"audio_path": filepath.Base(path),
		})
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "queued",
			"job_id": job.ID,
		})
	}
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	session := broadcast.NewSession(h.ring, w, h.readTimeout, h.log)
	count := h.listeners.Add(1)
	h.listenerGauge.Add(r.Context(), 1)
	h.log.Info("listener attached",
		slog.String("session_id", session.ID),
		slog.String("remote", r.RemoteAddr),
		slog.Int64("listeners", count))
	h.bus.PublishJSON(protocol.SubjectListener, protocol.ListenerEvent{
		SessionID:  session.ID,
		RemoteAddr: r.RemoteAddr,
		Joined:     true,
		Listeners:  int(count),
		Timestamp:  time.Now().UTC(),
	})

	err := session.Run(r.Context())

	count = h.listeners.Add(-1)
	h.listenerGauge.Add(r.Context(), -1)
	h.log.Info("listener detached",
		slog.String("session_id", session.ID),
		slog.String("reason", errString(err)),
		slog.Int64("listeners", count))
	h.bus.PublishJSON(protocol.SubjectListener, protocol.ListenerEvent{
		SessionID: session.ID,
		Joined:    false,
		Listeners: int(count),
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) handleSongs(w http.ResponseWriter, _ *http.Request) {
	songs, err := h.lib.Songs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Music folder not found")
		return
	}
	if songs == nil {
		songs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"songs": songs})
}

func (h *Handler) handlePlay(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path, err := h.lib.Resolve(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	h.selector.SetBackground(path)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Now playing: " + name})
}

func (h *Handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.All())
}

type voiceRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (h *Handler) handleAddVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Name == "" || req.Value == "" {
		writeError(w, http.StatusBadRequest, "Missing name or value")
		return
	}
	if err := h.registry.Set(req.Name, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"voices": h.registry.All(),
	})
}

func (h *Handler) handleUseVoice(w http.ResponseWriter, r *http.Request) {
	id, err := h.registry.UseDefault(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Voice not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"voice":  id,
	})
}

func (h *Handler) handleSpeech(w http.ResponseWriter, _ *http.Request) {
	entries, err := h.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"name":     filepath.Base(e.Path),
			"modified": e.ModTime.UTC().Format(time.RFC3339),
			"size":     e.Size,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"speech": out})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"type":       e.Type,
			"event":      json.RawMessage(e.Payload),
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request) {
	rec, err := h.events.GetJob(r.Context(), r.PathValue("job_id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      rec.JobID,
		"voice":       rec.Voice,
		"chars":       rec.Chars,
		"status":      rec.Status,
		"result_path": rec.ResultPath,
		"error":       rec.Error,
		"created_at":  rec.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  rec.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func errString(err error) string {
	if err == nil {
		return "eof"
	}
	return err.Error()
}
