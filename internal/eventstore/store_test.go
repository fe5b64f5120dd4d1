package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/scoring"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "ellie.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es := openTestStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if !es.Ephemeral() {
		t.Fatal("expected ephemeral store")
	}
	if err := es.AppendSession(ctx, "s", "learner"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	events, err := es.ListLearnerEvents(ctx, "learner", 10)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no history in ephemeral mode: %v %v", events, err)
	}
	if err := es.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := es.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("unexpected get: %q %v %v", v, ok, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openTestStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	sessionID := "session-123"
	if err := es.AppendSession(ctx, sessionID, "learner-1"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: sessionID, LearnerID: "learner-1", Type: "test", Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Payload) != "hello" || events[0].LearnerID != "learner-1" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestListLearnerEventsReturnsLatest(t *testing.T) {
	es := openTestStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := es.AppendSession(ctx, "s1", "ana"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendSession(ctx, "s2", "bo"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	for i, typ := range []string{"one", "two", "three"} {
		evt := Event{SessionID: "s1", LearnerID: "ana", Type: typ, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := es.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "s2", LearnerID: "bo", Type: "other"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := es.ListLearnerEvents(ctx, "ana", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].Type != "two" || events[1].Type != "three" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openTestStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "old-session", "learner"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", LearnerID: "learner", Type: "note"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.Put(ctx, "score:learner", []byte(`{}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "new-session", "learner"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	if _, ok, err := es.Get(ctx, "score:learner"); err != nil || !ok {
		t.Fatalf("stored values must survive pruning: %v %v", ok, err)
	}
}

func TestPruneKeepsActiveSession(t *testing.T) {
	es := openTestStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1})
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	es.clock = func() time.Time { return start }
	if err := es.AppendSession(ctx, "live", "ana"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	es.clock = func() time.Time { return start.Add(47 * time.Hour) }
	if err := es.AppendEvent(ctx, Event{SessionID: "live", LearnerID: "ana", Type: "practice.attempt"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return start.Add(48 * time.Hour) }
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "live", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected recent event to survive pruning, got %d", len(events))
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "live", LearnerID: "ana", Type: "practice.attempt"}); err != nil {
		t.Fatalf("append after prune: %v", err)
	}
}

func TestAppendEventRecreatesPrunedSession(t *testing.T) {
	es := openTestStore(t, config.EventStoreConfig{RetentionMode: "persistent", MaxSessions: 1})
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	es.clock = func() time.Time { return start }
	if err := es.AppendSession(ctx, "first", "ana"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	es.clock = func() time.Time { return start.Add(time.Hour) }
	if err := es.AppendSession(ctx, "second", "ben"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	es.clock = func() time.Time { return start.Add(2 * time.Hour) }
	if err := es.AppendEvent(ctx, Event{SessionID: "first", LearnerID: "ana", Type: "practice.attempt"}); err != nil {
		t.Fatalf("append to pruned session: %v", err)
	}
	events, err := es.ListLearnerEvents(ctx, "ana", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].SessionID != "first" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestScoreStateRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ellie.db")
	cfg := config.EventStoreConfig{Path: path, RetentionMode: "persistent"}
	ctx := context.Background()

	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok, err := es.LoadState(ctx, "ana"); err != nil || ok {
		t.Fatalf("expected no state yet: %v %v", ok, err)
	}
	machine, err := scoring.Open(ctx, es, "ana", newLogger())
	if err != nil {
		t.Fatalf("open machine: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := machine.RecordAttempt(ctx, scoring.Adverb, true); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := es.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	es = openTestStore(t, cfg)
	state, ok, err := es.LoadState(ctx, "ana")
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if got := state.Stats(scoring.Adverb); got.Attempts != 3 || got.Points != 15 || got.Streak != 3 {
		t.Fatalf("unexpected persisted stats: %+v", got)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ellie.db")
	cfg := config.EventStoreConfig{Path: path, RetentionMode: "persistent"}

	for range 2 {
		es, err := Open(ctx, cfg, newLogger())
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		var version int
		if err := es.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			t.Fatalf("user_version: %v", err)
		}
		if version != SchemaVersion {
			t.Fatalf("expected schema version %d, got %d", SchemaVersion, version)
		}
		if err := es.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ellie.db")
	es := openTestStore(t, config.EventStoreConfig{Path: path, RetentionMode: "persistent"})
	if _, err := es.db.ExecContext(ctx, "PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	if _, err := Open(ctx, config.EventStoreConfig{Path: path, RetentionMode: "persistent"}, newLogger()); err == nil {
		t.Fatal("expected error for newer schema")
	}
}
