package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/ellie/internal/eventstore"
	"github.com/loqalabs/ellie/internal/llm"
	"github.com/loqalabs/ellie/internal/observe"
	"github.com/loqalabs/ellie/internal/protocol"
	"github.com/loqalabs/ellie/internal/scoring"
	"github.com/loqalabs/ellie/internal/stt"
	"github.com/loqalabs/ellie/internal/tts"
)

var (
	ErrNoAudio  = errors.New("practice: no audio uploaded")
	ErrNoSpeech = errors.New("practice: no speech detected")
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio stt.Audio) (string, error)
}

type Corrector interface {
	Correct(ctx context.Context, req llm.CorrectionRequest) (llm.Correction, error)
}

type Speaker interface {
	Speak(ctx context.Context, sessionID, text string) (tts.Audio, error)
}

// History receives the practice timeline. *eventstore.Store satisfies it.
type History interface {
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

// Publisher broadcasts practice events. *bus.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// AttemptInput is one recorded answer to an exercise.
type AttemptInput struct {
	Audio      stt.Audio
	Category   scoring.Category
	Suggestion string
}

// AttemptOutcome is everything the learner sees after an attempt.
type AttemptOutcome struct {
	Original     string
	Corrected    string
	Audio        tts.Audio
	UsageCorrect bool
	Result       scoring.Result
	State        scoring.State
}

// Service runs the speak, correct, listen, score loop.
type Service struct {
	stt       Transcriber
	corrector Corrector
	tts       Speaker
	history   History
	publisher Publisher
	metrics   *observe.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

// WithHistory records every attempt in h.
func WithHistory(h History) Option {
	return func(s *Service) { s.history = h }
}

// WithPublisher broadcasts every attempt through p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(transcriber Transcriber, corrector Corrector, speaker Speaker, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		stt:       transcriber,
		corrector: corrector,
		tts:       speaker,
		metrics:   observe.DefaultMetrics(),
		now:       time.Now,
		logger:    logger.With(slog.String("component", "practice")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process scores one attempt. A provider failure returns before the score
// state is touched.
func (s *Service) Process(ctx context.Context, session *Session, in AttemptInput) (AttemptOutcome, error) {
	if !in.Category.Valid() {
		return AttemptOutcome{}, fmt.Errorf("%w: %q", scoring.ErrUnknownCategory, in.Category)
	}
	if len(in.Audio.Data) == 0 {
		return AttemptOutcome{}, ErrNoAudio
	}

	session.attempt.Lock()
	defer session.attempt.Unlock()
	session.SetExercise(in.Category, in.Suggestion)

	ctx, span := observe.StartSpan(ctx, "practice.attempt")
	start := time.Now()
	out, err := s.process(ctx, session, in)
	s.metrics.AttemptDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	if err != nil {
		s.logger.Warn("practice attempt failed",
			slog.String("learner", session.Learner),
			slog.String("category", string(in.Category)),
			slogError(err))
		return AttemptOutcome{}, err
	}
	return out, nil
}

func (s *Service) process(ctx context.Context, session *Session, in AttemptInput) (AttemptOutcome, error) {
	original, err := s.stt.Transcribe(ctx, in.Audio)
	if err != nil {
		return AttemptOutcome{}, fmt.Errorf("transcribe: %w", err)
	}
	if original == "" {
		return AttemptOutcome{}, ErrNoSpeech
	}

	correction, err := s.corrector.Correct(ctx, llm.CorrectionRequest{
		SessionID:  session.ID,
		Category:   in.Category,
		Suggestion: in.Suggestion,
		Text:       original,
	})
	if err != nil {
		return AttemptOutcome{}, fmt.Errorf("correct: %w", err)
	}

	clip, err := s.tts.Speak(ctx, session.ID, correction.Text)
	if err != nil {
		return AttemptOutcome{}, fmt.Errorf("synthesize: %w", err)
	}

	res, err := session.machine.RecordAttempt(ctx, in.Category, correction.UsageCorrect)
	if err != nil {
		return AttemptOutcome{}, err
	}
	state := session.machine.Snapshot()

	s.metrics.RecordAttempt(ctx, string(in.Category), correction.UsageCorrect)
	if res.BonusJustEarned {
		s.metrics.PracticeBonus.Add(ctx, 1)
	}
	s.logger.Info("practice attempt scored",
		slog.String("learner", session.Learner),
		slog.String("category", string(in.Category)),
		slog.Bool("usage_correct", correction.UsageCorrect),
		slog.Int("points", res.Stats.Points),
		slog.Int("streak", res.Stats.Streak),
		slog.Int("total_score", state.TotalScore()))

	s.announce(ctx, session, in, original, correction, res, state)

	return AttemptOutcome{
		Original:     original,
		Corrected:    correction.Text,
		Audio:        clip,
		UsageCorrect: correction.UsageCorrect,
		Result:       res,
		State:        state,
	}, nil
}

// announce writes the attempt to history and the bus. Failures are logged.
func (s *Service) announce(ctx context.Context, session *Session, in AttemptInput, original string, correction llm.Correction, res scoring.Result, state scoring.State) {
	traceID := observe.TraceID(ctx)
	ts := s.now().UTC()

	attempt := protocol.AttemptRecorded{
		SessionID:    session.ID,
		LearnerID:    session.Learner,
		Category:     in.Category,
		Suggestion:   in.Suggestion,
		Original:     original,
		Corrected:    correction.Text,
		UsageCorrect: correction.UsageCorrect,
		Stats:        res.Stats,
		Milestone5:   res.Milestone5Earned,
		Milestone10:  res.Milestone10Earned,
		TotalScore:   state.TotalScore(),
		TraceID:      traceID,
		Timestamp:    ts,
	}
	s.emit(ctx, session, protocol.EventAttempt, protocol.SubjectAttemptRecorded, traceID, attempt)

	if res.BonusJustEarned {
		bonus := protocol.BonusEarned{
			SessionID:   session.ID,
			LearnerID:   session.Learner,
			BonusPoints: state.BonusPoints,
			TotalScore:  state.TotalScore(),
			TraceID:     traceID,
			Timestamp:   ts,
		}
		s.emit(ctx, session, protocol.EventBonus, protocol.SubjectBonusEarned, traceID, bonus)
	}
}

func (s *Service) emit(ctx context.Context, session *Session, eventType, subject, traceID string, payload any) {
	if s.history != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Warn("encode practice event failed", slog.String("type", eventType), slogError(err))
		} else if err := s.history.AppendEvent(ctx, eventstore.Event{
			SessionID: session.ID,
			LearnerID: session.Learner,
			TraceID:   traceID,
			Type:      eventType,
			Payload:   data,
		}); err != nil {
			s.logger.Warn("record practice event failed", slog.String("type", eventType), slogError(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, subject, payload); err != nil {
			s.logger.Warn("publish practice event failed", slog.String("subject", subject), slogError(err))
		}
	}
}
