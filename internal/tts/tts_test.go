package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
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

	"github.com/go-audio/wav"

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

func ttsConfig() config.TTSConfig {
	return config.TTSConfig{Mode: "mock", Voice: "alloy", SampleRate: 16000, Channels: 1}
}

type flakySynth struct {
	failures int
	calls    int
}

func (f *flakySynth) Synthesize(_ context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	f.calls++
	chunks := make(chan SynthChunk, 2)
	errs := make(chan error, 1)
	if f.calls <= f.failures {
		errs <- resilience.WithStatus(errors.New("slow down"), http.StatusTooManyRequests)
	} else {
		chunks <- SynthChunk{SessionID: req.SessionID, SampleRate: 16000, Channels: 1, PCM: []byte{1, 0, 2, 0}}
		chunks <- SynthChunk{SessionID: req.SessionID, Sequence: 1, SampleRate: 16000, Channels: 1, PCM: []byte{3, 0}, Final: true}
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func decodeWAV(t *testing.T, data []byte) (int, int, []int) {
	t.Helper()
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	return int(dec.SampleRate), int(dec.NumChans), buf.Data
}

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0xff, 0x10, 0x00}
	data, err := EncodeWAV(pcm, 22050, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing wav header: %q", data[:12])
	}
	rate, chans, samples := decodeWAV(t, data)
	if rate != 22050 || chans != 1 {
		t.Fatalf("unexpected format rate=%d chans=%d", rate, chans)
	}
	want := []int{1, -1, 16}
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample %d: want %d got %d", i, want[i], samples[i])
		}
	}
}

func TestEncodeWAVRejectsOddPayload(t *testing.T) {
	if _, err := EncodeWAV([]byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatal("expected error for odd pcm length")
	}
}

func TestServiceRetriesAndWrapsPCM(t *testing.T) {
	synth := &flakySynth{failures: 1}
	svc := NewService(synth, newExecutor(t, 3), ttsConfig(), newLogger())

	clip, err := svc.Speak(context.Background(), "s1", "I went to school.")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if synth.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", synth.calls)
	}
	if clip.MIME != "audio/wav" {
		t.Fatalf("unexpected mime %q", clip.MIME)
	}
	_, _, samples := decodeWAV(t, clip.Data)
	if len(samples) != 3 {
		t.Fatalf("expected chunks to be concatenated, got %d samples", len(samples))
	}
}

func TestServiceTerminalAfterRetries(t *testing.T) {
	synth := &flakySynth{failures: 10}
	svc := NewService(synth, newExecutor(t, 2), ttsConfig(), newLogger())

	_, err := svc.Speak(context.Background(), "s1", "hello")
	if !resilience.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if synth.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", synth.calls)
	}
}

func TestServiceRejectsEmptyText(t *testing.T) {
	svc := NewService(NewMockSynth(16000, 1), newExecutor(t, 0), ttsConfig(), newLogger())
	if _, err := svc.Speak(context.Background(), "s1", "  "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestMockSynthProducesTone(t *testing.T) {
	svc := NewService(NewMockSynth(16000, 1), newExecutor(t, 0), ttsConfig(), newLogger())
	clip, err := svc.Speak(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	rate, _, samples := decodeWAV(t, clip.Data)
	if rate != 16000 || len(samples) != 1600 {
		t.Fatalf("expected 100ms at 16kHz, got rate=%d samples=%d", rate, len(samples))
	}
	peak := 0
	for _, v := range samples {
		peak = max(peak, v, -v)
	}
	if peak < 1000 {
		t.Fatalf("expected an audible tone, peak %d", peak)
	}
}

func TestExecSynth(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-tts.sh")
	chunk, _ := json.Marshal(map[string]any{
		"pcm_base64": base64.StdEncoding.EncodeToString([]byte{5, 0, 6, 0}),
		"final":      true,
	})
	body := "#!/bin/sh\ncat > /dev/null\necho '" + string(chunk) + "'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	synth, err := NewExecSynth(script, 16000, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	svc := NewService(synth, newExecutor(t, 0), ttsConfig(), newLogger())
	clip, err := svc.Speak(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	_, _, samples := decodeWAV(t, clip.Data)
	if len(samples) != 2 || samples[0] != 5 || samples[1] != 6 {
		t.Fatalf("unexpected samples %v", samples)
	}
}

func TestExecSynthRetriesHelperRateLimit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	dir := t.TempDir()
	marker := filepath.Join(dir, "called")
	script := filepath.Join(dir, "flaky-tts.sh")
	body := "#!/bin/sh\ncat > /dev/null\n" +
		"if [ ! -f " + marker + " ]; then touch " + marker + "; echo '{\"error\":\"busy\",\"status\":429}'; exit 1; fi\n" +
		"echo '{\"pcm_base64\":\"AQA=\"}'\n" +
		"echo '{\"pcm_base64\":\"AgA=\",\"final\":true}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	synth, err := NewExecSynth(script, 16000, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	svc := NewService(synth, newExecutor(t, 2), ttsConfig(), newLogger())
	clip, err := svc.Speak(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	_, _, samples := decodeWAV(t, clip.Data)
	if len(samples) != 2 || samples[0] != 1 || samples[1] != 2 {
		t.Fatalf("unexpected samples %v", samples)
	}
}

func TestOpenAISynthPassesThroughWAV(t *testing.T) {
	payload := []byte("RIFF....WAVEfake")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body["model"] != "tts-1" || body["voice"] != "alloy" || body["response_format"] != "wav" {
			http.Error(w, "unexpected params", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	client, err := openaiclient.New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(NewOpenAISynth(client, "tts-1"), newExecutor(t, 0), ttsConfig(), newLogger())
	clip, err := svc.Speak(context.Background(), "s1", "I went home.")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if !bytes.Equal(clip.Data, payload) || clip.MIME != "audio/wav" {
		t.Fatalf("unexpected clip %q %s", clip.Data, clip.MIME)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(ttsConfig(), config.OpenAIConfig{}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := New(config.TTSConfig{Mode: "openai"}, config.OpenAIConfig{}); err == nil {
		t.Fatal("openai without key should fail")
	}
	if _, err := New(config.TTSConfig{Mode: "exec", Command: ""}, config.OpenAIConfig{}); err == nil {
		t.Fatal("exec without command should fail")
	}
	if _, err := New(config.TTSConfig{Mode: "piper"}, config.OpenAIConfig{}); err == nil {
		t.Fatal("unknown mode should fail")
	}
}
