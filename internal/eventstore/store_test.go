package eventstore

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/wavecast-audio/wavecast/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.AppendEvent(context.Background(), "station.source.changed", []byte("{}")); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
	if _, err := es.GetJob(context.Background(), "any"); err != sql.ErrNoRows {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestJobLedgerLifecycle(t *testing.T) {
	cfg := config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	rec := JobRecord{JobID: "job-1", Voice: "hi-IN-MadhurNeural", Chars: 11, Status: "queued"}
	if err := es.UpsertJob(context.Background(), rec); err != nil {
		t.Fatalf("upsert queued: %v", err)
	}
	rec.Status = "done"
	rec.ResultPath = "/speech/a.mp3"
	if err := es.UpsertJob(context.Background(), rec); err != nil {
		t.Fatalf("upsert done: %v", err)
	}

	got, err := es.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != "done" || got.ResultPath != "/speech/a.mp3" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	cfg := config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.AppendEvent(context.Background(), "station.source.changed", []byte(`{"kind":"speech"}`)); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.AppendEvent(context.Background(), "station.listener", []byte(`{"joined":true}`)); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := es.ListEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "station.listener" {
		t.Fatalf("expected newest first, got %q", events[0].Type)
	}
}

func TestPruneByDaysAndJobCap(t *testing.T) {
	cfg := config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxJobs:       1,
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.UpsertJob(context.Background(), JobRecord{JobID: "old", Status: "done"}); err != nil {
		t.Fatalf("upsert old: %v", err)
	}
	if err := es.AppendEvent(context.Background(), "station.synthesis.done", nil); err != nil {
		t.Fatalf("append old event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.UpsertJob(context.Background(), JobRecord{JobID: "new", Status: "queued"}); err != nil {
		t.Fatalf("upsert new: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := es.GetJob(context.Background(), "old"); err != sql.ErrNoRows {
		t.Fatalf("expected old job pruned, got %v", err)
	}
	if _, err := es.GetJob(context.Background(), "new"); err != nil {
		t.Fatalf("expected new job kept: %v", err)
	}
	events, err := es.ListEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old events pruned, got %d", len(events))
	}
}
