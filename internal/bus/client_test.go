package bus_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/ellie/internal/bus"
	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/natsserver"
	"github.com/loqalabs/ellie/internal/protocol"
	"github.com/loqalabs/ellie/internal/scoring"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishOverEmbeddedServer(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true}, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	ctx := context.Background()
	client, err := bus.Connect(ctx, config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	sub, err := client.Conn().SubscribeSync(protocol.SubjectAttemptRecorded)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	want := protocol.AttemptRecorded{
		SessionID:    "s1",
		LearnerID:    "ana",
		Category:     scoring.Adverb,
		UsageCorrect: true,
		Stats:        scoring.CategoryStats{Attempts: 1, Points: 5, Streak: 1},
		TotalScore:   5,
	}
	if err := client.Publish(ctx, protocol.SubjectAttemptRecorded, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var got protocol.AttemptRecorded
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.LearnerID != "ana" || got.Category != scoring.Adverb || got.Stats.Points != 5 {
		t.Fatalf("unexpected message %+v", got)
	}
	if ct := msg.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if id := msg.Header.Get(bus.TraceHeader); id != "" {
		t.Fatalf("expected no trace header without a span, got %q", id)
	}
}

func TestPublishAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var c *bus.Client
	if err := c.Publish(ctx, protocol.SubjectBonusEarned, protocol.BonusEarned{}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := bus.Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestStartDisabled(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: false}, newLogger())
	if err != nil || srv != nil {
		t.Fatalf("expected nil server, got %v %v", srv, err)
	}
}
