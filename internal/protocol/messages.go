package protocol

import (
	"time"

	"github.com/loqalabs/ellie/internal/scoring"
)

// AttemptRecorded is broadcast after every scored practice attempt.
type AttemptRecorded struct {
	SessionID    string                `json:"session_id"`
	LearnerID    string                `json:"learner_id"`
	Category     scoring.Category      `json:"category"`
	Suggestion   string                `json:"suggestion,omitempty"`
	Original     string                `json:"original"`
	Corrected    string                `json:"corrected"`
	UsageCorrect bool                  `json:"usage_correct"`
	Stats        scoring.CategoryStats `json:"stats"`
	Milestone5   bool                  `json:"milestone5_earned,omitempty"`
	Milestone10  bool                  `json:"milestone10_earned,omitempty"`
	TotalScore   int                   `json:"total_score"`
	TraceID      string                `json:"trace_id,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}

// BonusEarned is broadcast once per learner when the global bonus is awarded.
type BonusEarned struct {
	SessionID   string    `json:"session_id"`
	LearnerID   string    `json:"learner_id"`
	BonusPoints int       `json:"bonus_points"`
	TotalScore  int       `json:"total_score"`
	TraceID     string    `json:"trace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectAttemptRecorded = "practice.attempt.recorded"
	SubjectBonusEarned     = "practice.bonus.earned"
)

// Event types written to the practice history.
const (
	EventAttempt = "practice.attempt"
	EventBonus   = "practice.bonus"
)
