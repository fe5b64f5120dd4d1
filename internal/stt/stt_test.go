package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/openaiclient"
	"github.com/loqalabs/ellie/internal/resilience"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newExecutor(t *testing.T, maxRetries int) *resilience.Executor {
	t.Helper()
	exec, err := resilience.NewExecutor(
		resilience.Policy{MaxRetries: maxRetries, InitialBackoff: time.Millisecond, Multiplier: 2},
		resilience.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	return exec
}

type flakyRecognizer struct {
	failures int
	calls    int
	err      error
}

func (f *flakyRecognizer) Transcribe(_ context.Context, _ Audio) (TranscriptResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return TranscriptResult{}, f.err
	}
	return TranscriptResult{Text: "  I goed to school  "}, nil
}

func TestServiceRetriesRateLimit(t *testing.T) {
	rec := &flakyRecognizer{failures: 2, err: resilience.WithStatus(errors.New("busy"), http.StatusTooManyRequests)}
	svc := NewService(rec, newExecutor(t, 3), newLogger())

	text, err := svc.Transcribe(context.Background(), Audio{Data: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "I goed to school" {
		t.Fatalf("unexpected transcript %q", text)
	}
	if rec.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", rec.calls)
	}
}

func TestServiceGivesUpOnOtherErrors(t *testing.T) {
	rec := &flakyRecognizer{failures: 5, err: errors.New("bad audio")}
	svc := NewService(rec, newExecutor(t, 3), newLogger())

	if _, err := svc.Transcribe(context.Background(), Audio{Data: []byte{1}}); err == nil {
		t.Fatal("expected error")
	}
	if rec.calls != 1 {
		t.Fatalf("non rate-limit errors must not retry, got %d calls", rec.calls)
	}
}

func TestServiceRejectsEmptyAudio(t *testing.T) {
	svc := NewService(NewMockRecognizer(), newExecutor(t, 0), newLogger())
	if _, err := svc.Transcribe(context.Background(), Audio{}); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestMockRecognizer(t *testing.T) {
	res, err := NewMockRecognizer().Transcribe(context.Background(), Audio{Data: make([]byte, 42)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != MockTranscript {
		t.Fatalf("unexpected mock text %q", res.Text)
	}
}

func TestExecRecognizer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-stt.sh")
	body := "#!/bin/sh\necho '{\"text\":\"she go yesterday\",\"confidence\":0.8}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	rec, err := NewExecRecognizer(config.STTConfig{Mode: "exec", Command: script, Language: "en"})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), Audio{Data: []byte("webm"), Filename: "speech.webm"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "she go yesterday" || res.Confidence != 0.8 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecRecognizerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecRecognizer(config.STTConfig{Command: "   "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestOpenAIRecognizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("model") != "whisper-1" {
			http.Error(w, "wrong model", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"I have went home"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := openaiclient.New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	rec := NewOpenAIRecognizer(client, config.STTConfig{Model: "whisper-1"})
	res, err := rec.Transcribe(context.Background(), Audio{Data: []byte("audio"), Filename: "speech.webm", ContentType: "audio/webm"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "I have went home" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestOpenAIRecognizerRateLimitStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := openaiclient.New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(NewOpenAIRecognizer(client, config.STTConfig{}), newExecutor(t, 2), newLogger())
	_, err = svc.Transcribe(context.Background(), Audio{Data: []byte("audio")})
	if !resilience.IsTerminal(err) || !resilience.IsRateLimited(err) {
		t.Fatalf("expected terminal rate limit error, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(config.STTConfig{Mode: "mock"}, config.OpenAIConfig{}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := New(config.STTConfig{Mode: "openai"}, config.OpenAIConfig{}); err == nil {
		t.Fatal("openai without key should fail")
	}
	if _, err := New(config.STTConfig{Mode: "vosk"}, config.OpenAIConfig{}); err == nil {
		t.Fatal("unknown mode should fail")
	}
}
