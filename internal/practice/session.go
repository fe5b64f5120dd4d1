package practice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/loqalabs/ellie/internal/scoring"
)

// Session is one learner's practice context. Attempts on a session run one
// at a time.
type Session struct {
	ID      string
	Learner string

	attempt sync.Mutex

	mu         sync.Mutex
	category   scoring.Category
	suggestion string
	machine    *scoring.Machine
}

// Machine exposes the learner's score state machine.
func (s *Session) Machine() *scoring.Machine {
	return s.machine
}

// Current returns the active exercise.
func (s *Session) Current() (scoring.Category, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.category, s.suggestion
}

// SetExercise records the exercise most recently shown to the learner.
func (s *Session) SetExercise(category scoring.Category, suggestion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.category = category
	s.suggestion = suggestion
}

// SessionRecorder notes the start of a session in the practice history.
type SessionRecorder interface {
	AppendSession(ctx context.Context, sessionID, learnerID string) error
}

// Manager hands out one live session per learner.
type Manager struct {
	store    scoring.Store
	recorder SessionRecorder
	fallback string
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a Manager. defaultLearner is used when a caller does not
// name a learner. recorder may be nil.
func NewManager(store scoring.Store, recorder SessionRecorder, defaultLearner string, logger *slog.Logger) *Manager {
	if defaultLearner == "" {
		defaultLearner = "default"
	}
	return &Manager{
		store:    store,
		recorder: recorder,
		fallback: defaultLearner,
		logger:   logger.With(slog.String("component", "practice-sessions")),
		sessions: make(map[string]*Session),
	}
}

// Session returns the learner's live session, loading the stored score state
// the first time the learner is seen.
func (m *Manager) Session(ctx context.Context, learner string) (*Session, error) {
	learner = strings.TrimSpace(learner)
	if learner == "" {
		learner = m.fallback
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[learner]; ok {
		return s, nil
	}

	machine, err := scoring.Open(ctx, m.store, learner, m.logger)
	if err != nil {
		return nil, fmt.Errorf("open session for %s: %w", learner, err)
	}
	s := &Session{
		ID:       uuid.NewString(),
		Learner:  learner,
		category: scoring.Tenses,
		machine:  machine,
	}
	if m.recorder != nil {
		if err := m.recorder.AppendSession(ctx, s.ID, learner); err != nil {
			m.logger.Warn("record session start failed", slog.String("learner", learner), slogError(err))
		}
	}
	m.sessions[learner] = s
	m.logger.Info("practice session started", slog.String("learner", learner), slog.String("session_id", s.ID))
	return s, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
