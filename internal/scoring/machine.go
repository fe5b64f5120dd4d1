// Package scoring implements the practice scoring rules: per-category attempt
// and point counters, streak milestones, and the one-time global bonus.
package scoring

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Store persists whole score documents per learner.
type Store interface {
	// LoadState returns the stored state and whether one existed.
	LoadState(ctx context.Context, learner string) (State, bool, error)
	// SaveState replaces the learner's state in a single write.
	SaveState(ctx context.Context, learner string, state State) error
}

// Result describes the effect of one recorded attempt.
type Result struct {
	Category          Category
	Stats             CategoryStats
	Milestone5Earned  bool
	Milestone10Earned bool
	BonusJustEarned   bool
}

// Machine owns one learner's score state.
type Machine struct {
	mu      sync.Mutex
	learner string
	state   State
	store   Store
	logger  *slog.Logger
}

// New wraps an existing state. A nil store keeps the state in memory only.
func New(learner string, state State, store Store, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Machine{
		learner: learner,
		state:   Import(state),
		store:   store,
		logger:  logger.With(slog.String("component", "scoring"), slog.String("learner", learner)),
	}
}

// Open loads the learner's state from store, or starts from zero when none is
// stored yet.
func Open(ctx context.Context, store Store, learner string, logger *slog.Logger) (*Machine, error) {
	state := NewState()
	if store != nil {
		loaded, ok, err := store.LoadState(ctx, learner)
		if err != nil {
			return nil, fmt.Errorf("load score state: %w", err)
		}
		if ok {
			state = loaded
		}
	}
	return New(learner, state, store, logger), nil
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// RecordAttempt applies one attempt's outcome and persists the result. The
// only error is ErrUnknownCategory; a failed write is logged and the in-memory
// state is kept.
func (m *Machine) RecordAttempt(ctx context.Context, category Category, correct bool) (Result, error) {
	if !category.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state.Categories[category]
	res := Result{Category: category}

	// Milestone bonuses sit on top of the base cap.
	if st.Attempts < MaxAttempts {
		st.Attempts++
		st.Points = min(PointsCap+st.milestoneBonus(), st.Points+PointsPerAttempt)
	}

	if correct {
		st.Streak++
	} else {
		st.Streak = 0
	}

	if correct && st.Streak >= Milestone5Streak && !st.Milestone5 {
		st.Points += Milestone5Bonus
		st.Milestone5 = true
		res.Milestone5Earned = true
	}
	if correct && st.Streak >= Milestone10Streak && !st.Milestone10 {
		st.Points += Milestone10Bonus
		st.Milestone10 = true
		res.Milestone10Earned = true
	}

	if !m.state.BonusAwarded && m.state.allCapped() {
		m.state.BonusAwarded = true
		m.state.BonusPoints = GlobalBonusPoints
		res.BonusJustEarned = true
	}

	res.Stats = *st
	m.persist(ctx)
	return res, nil
}

func (m *Machine) persist(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveState(ctx, m.learner, m.state.Clone()); err != nil {
		m.logger.Warn("persist score state failed", slog.String("error", err.Error()))
	}
}
