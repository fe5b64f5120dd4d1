package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loqalabs/ellie/internal/scoring"
)

const scoreKeyPrefix = "score:"

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		v, ok := s.mem[key]
		if !ok {
			return nil, false, nil
		}
		return append([]byte(nil), v...), true, nil
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put replaces the value under key in a single statement.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.mem[key] = append([]byte(nil), value...)
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, s.clock().UTC())
	return err
}

// LoadState implements scoring.Store.
func (s *Store) LoadState(ctx context.Context, learner string) (scoring.State, bool, error) {
	raw, ok, err := s.Get(ctx, scoreKeyPrefix+learner)
	if err != nil || !ok {
		return scoring.State{}, false, err
	}
	var state scoring.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return scoring.State{}, false, fmt.Errorf("decode score state for %s: %w", learner, err)
	}
	return state, true, nil
}

// SaveState implements scoring.Store.
func (s *Store) SaveState(ctx context.Context, learner string, state scoring.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode score state: %w", err)
	}
	return s.Put(ctx, scoreKeyPrefix+learner, raw)
}
