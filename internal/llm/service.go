package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/observe"
	"github.com/loqalabs/ellie/internal/resilience"
)

// Service runs generations through the retry executor.
type Service struct {
	generator Generator
	exec      *resilience.Executor
	defaults  Request
	metrics   *observe.Metrics
	logger    *slog.Logger
}

func NewService(generator Generator, exec *resilience.Executor, cfg config.LLMConfig, logger *slog.Logger) *Service {
	return &Service{
		generator: generator,
		exec:      exec,
		defaults:  OptionsFromConfig(cfg),
		metrics:   observe.DefaultMetrics(),
		logger:    logger.With(slog.String("component", "llm-service")),
	}
}

// Complete returns the full trimmed completion for req. call names the
// operation in spans, logs and metrics.
func (s *Service) Complete(ctx context.Context, call string, req Request) (string, error) {
	req.MaxTokens = coalesceInt(req.MaxTokens, s.defaults.MaxTokens)
	if req.Temperature == 0 {
		req.Temperature = s.defaults.Temperature
	}

	ctx, span := observe.StartSpan(ctx, call)
	req.TraceID = observe.TraceID(ctx)
	start := time.Now()
	text, err := resilience.Run(ctx, s.exec, call, func(ctx context.Context) (string, error) {
		return Collect(ctx, s.generator, req)
	})
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	if err != nil {
		s.metrics.RecordProviderError(ctx, call, resilience.IsRateLimited(err))
		s.logger.Warn("llm generation failed", slog.String("call", call), slogError(err))
		return "", err
	}
	s.logger.Debug("llm generation complete", slog.String("call", call), slog.Duration("latency", time.Since(start)))
	return strings.TrimSpace(text), nil
}

func coalesceInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
