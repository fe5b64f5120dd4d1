package scoring

import (
	"encoding/json"
	"fmt"
)

const (
	MaxAttempts       = 10
	PointsPerAttempt  = 5
	PointsCap         = 50
	Milestone5Streak  = 5
	Milestone10Streak = 10
	Milestone5Bonus   = 10
	Milestone10Bonus  = 20
	GlobalBonusPoints = 50
)

// CategoryStats tracks one category's progress.
type CategoryStats struct {
	Attempts    int  `json:"attempts"`
	Points      int  `json:"points"`
	Streak      int  `json:"streak"`
	Milestone5  bool `json:"milestone5"`
	Milestone10 bool `json:"milestone10"`
}

// milestoneBonus is the part of Points that came from streak milestones.
func (s CategoryStats) milestoneBonus() int {
	bonus := 0
	if s.Milestone5 {
		bonus += Milestone5Bonus
	}
	if s.Milestone10 {
		bonus += Milestone10Bonus
	}
	return bonus
}

// State is a learner's whole score document.
//
// It serializes flat, with category names as top-level keys next to
// bonusAwarded and bonusPoints, so documents exported from the browser
// client load unchanged.
type State struct {
	Categories   map[Category]*CategoryStats
	BonusAwarded bool
	BonusPoints  int
}

// NewState returns a zeroed state with every category present.
func NewState() State {
	s := State{Categories: make(map[Category]*CategoryStats, len(Categories))}
	for _, c := range Categories {
		s.Categories[c] = &CategoryStats{}
	}
	return s
}

// Import normalizes an externally supplied state: missing categories are
// added zeroed, unknown ones dropped, and negative counters reset to zero.
func Import(in State) State {
	out := NewState()
	for _, c := range Categories {
		src, ok := in.Categories[c]
		if !ok || src == nil {
			continue
		}
		st := *src
		st.Attempts = max(0, min(st.Attempts, MaxAttempts))
		st.Points = max(0, st.Points)
		st.Streak = max(0, st.Streak)
		*out.Categories[c] = st
	}
	out.BonusAwarded = in.BonusAwarded
	if in.BonusAwarded {
		out.BonusPoints = GlobalBonusPoints
	}
	return out
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		Categories:   make(map[Category]*CategoryStats, len(s.Categories)),
		BonusAwarded: s.BonusAwarded,
		BonusPoints:  s.BonusPoints,
	}
	for c, st := range s.Categories {
		if st == nil {
			continue
		}
		cp := *st
		out.Categories[c] = &cp
	}
	return out
}

// Stats returns a copy of the stats for c, zero if absent.
func (s State) Stats(c Category) CategoryStats {
	if st, ok := s.Categories[c]; ok && st != nil {
		return *st
	}
	return CategoryStats{}
}

// TotalScore sums every category's points plus the global bonus once awarded.
func (s State) TotalScore() int {
	total := 0
	for _, c := range Categories {
		total += s.Stats(c).Points
	}
	if s.BonusAwarded {
		total += s.BonusPoints
	}
	return total
}

// Progress is the percentage of the points cap reached in c, capped at 100.
func (s State) Progress(c Category) float64 {
	pct := float64(s.Stats(c).Points) / PointsCap * 100
	if pct > 100 {
		return 100
	}
	return pct
}

func (s State) allCapped() bool {
	for _, c := range Categories {
		if s.Stats(c).Points < PointsCap {
			return false
		}
	}
	return true
}

func (s State) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(Categories)+2)
	for _, c := range Categories {
		doc[string(c)] = s.Stats(c)
	}
	doc["bonusAwarded"] = s.BonusAwarded
	doc["bonusPoints"] = s.BonusPoints
	return json.Marshal(doc)
}

func (s *State) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	out := NewState()
	for key, raw := range doc {
		switch key {
		case "bonusAwarded":
			if err := json.Unmarshal(raw, &out.BonusAwarded); err != nil {
				return fmt.Errorf("decode bonusAwarded: %w", err)
			}
		case "bonusPoints":
			if err := json.Unmarshal(raw, &out.BonusPoints); err != nil {
				return fmt.Errorf("decode bonusPoints: %w", err)
			}
		default:
			c := Category(key)
			if !c.Valid() {
				continue
			}
			var st CategoryStats
			if err := json.Unmarshal(raw, &st); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			*out.Categories[c] = st
		}
	}
	*s = out
	return nil
}
