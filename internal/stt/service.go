package stt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/ellie/internal/observe"
	"github.com/loqalabs/ellie/internal/resilience"
)

var ErrEmptyAudio = errors.New("stt: audio payload is empty")

// Service runs transcriptions through the retry executor.
type Service struct {
	recognizer Recognizer
	exec       *resilience.Executor
	metrics    *observe.Metrics
	logger     *slog.Logger
}

func NewService(recognizer Recognizer, exec *resilience.Executor, logger *slog.Logger) *Service {
	return &Service{
		recognizer: recognizer,
		exec:       exec,
		metrics:    observe.DefaultMetrics(),
		logger:     logger.With(slog.String("component", "stt-service")),
	}
}

// Transcribe returns the trimmed transcript of audio.
func (s *Service) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", ErrEmptyAudio
	}
	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	start := time.Now()
	result, err := resilience.Run(ctx, s.exec, "stt.transcribe", func(ctx context.Context) (TranscriptResult, error) {
		return s.recognizer.Transcribe(ctx, audio)
	})
	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "stt.transcribe", resilience.IsRateLimited(err))
		s.logger.Warn("stt transcription failed", slogError(err))
		return "", err
	}
	text := strings.TrimSpace(result.Text)
	s.logger.Debug("stt transcription complete",
		slog.Int("bytes", len(audio.Data)),
		slog.Int("chars", len(text)),
		slog.Duration("latency", time.Since(start)))
	return text, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
