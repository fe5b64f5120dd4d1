package tts

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/observe"
	"github.com/loqalabs/ellie/internal/resilience"
)

var ErrEmptyText = errors.New("tts: text is empty")

// Service runs synthesis through the retry executor and returns a single
// playable clip.
type Service struct {
	synth      Synthesizer
	exec       *resilience.Executor
	voice      string
	sampleRate int
	channels   int
	metrics    *observe.Metrics
	logger     *slog.Logger
}

func NewService(synth Synthesizer, exec *resilience.Executor, cfg config.TTSConfig, logger *slog.Logger) *Service {
	return &Service{
		synth:      synth,
		exec:       exec,
		voice:      cfg.Voice,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		metrics:    observe.DefaultMetrics(),
		logger:     logger.With(slog.String("component", "tts-service")),
	}
}

// Speak synthesizes text. Raw PCM output is wrapped in a WAV container.
func (s *Service) Speak(ctx context.Context, sessionID, text string) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	ctx, span := observe.StartSpan(ctx, "tts.speak")
	start := time.Now()
	clip, err := resilience.Run(ctx, s.exec, "tts.speak", func(ctx context.Context) (Audio, error) {
		return s.collect(ctx, SynthRequest{SessionID: sessionID, Text: text, Voice: s.voice})
	})
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "tts.speak", resilience.IsRateLimited(err))
		s.logger.Warn("tts synthesis failed", slogError(err))
		return Audio{}, err
	}
	s.logger.Debug("tts synthesis complete",
		slog.Int("bytes", len(clip.Data)),
		slog.Duration("latency", time.Since(start)))
	return clip, nil
}

func (s *Service) collect(ctx context.Context, req SynthRequest) (Audio, error) {
	chunks, errs := s.synth.Synthesize(ctx, req)
	var pcm bytes.Buffer
	var encoded *Audio
	sampleRate, channels := s.sampleRate, s.channels
	for chunk := range chunks {
		if chunk.MIME != "" {
			encoded = &Audio{Data: chunk.PCM, MIME: chunk.MIME}
			continue
		}
		if chunk.SampleRate > 0 {
			sampleRate = chunk.SampleRate
		}
		if chunk.Channels > 0 {
			channels = chunk.Channels
		}
		pcm.Write(chunk.PCM)
	}
	if err := <-errs; err != nil {
		return Audio{}, err
	}
	if encoded != nil {
		return *encoded, nil
	}
	data, err := EncodeWAV(pcm.Bytes(), sampleRate, channels)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Data: data, MIME: "audio/wav"}, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
