package llm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/loqalabs/ellie/internal/scoring"
)

const (
	markerKey  = "USAGE_CORRECT"
	basePrompt = "You are a helpful English teacher. Correct grammar and style."
)

var markerPattern = regexp.MustCompile(`(?is)^(.*?)\s*` + markerKey + `:\s*(yes|no)\W*$`)

// CorrectionRequest is one transcribed answer to correct.
type CorrectionRequest struct {
	SessionID  string
	Category   scoring.Category
	Suggestion string
	Text       string
}

// Correction is the model's corrected text with the usage marker removed.
type Correction struct {
	Text         string
	UsageCorrect bool
	MarkerFound  bool
}

// Corrector asks the model for a corrected sentence and a verdict on whether
// the exercise's target form was used correctly.
type Corrector struct {
	svc    *Service
	logger *slog.Logger
}

func NewCorrector(svc *Service, logger *slog.Logger) *Corrector {
	return &Corrector{svc: svc, logger: logger.With(slog.String("component", "corrector"))}
}

func (c *Corrector) Correct(ctx context.Context, req CorrectionRequest) (Correction, error) {
	raw, err := c.svc.Complete(ctx, "llm.correct", Request{
		SessionID: req.SessionID,
		System:    CorrectionPrompt(req.Category, req.Suggestion),
		Prompt:    req.Text,
	})
	if err != nil {
		return Correction{}, err
	}
	out := ParseCorrection(raw)
	if !out.MarkerFound {
		c.logger.Warn("correction missing usage marker, counting as incorrect",
			slog.String("category", string(req.Category)))
	}
	return out, nil
}

// CorrectionPrompt builds the system prompt for a category exercise.
func CorrectionPrompt(category scoring.Category, suggestion string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if !category.Valid() {
		return b.String()
	}
	fmt.Fprintf(&b, " The student is practicing the %s.", category.Label())
	if s := strings.TrimSpace(suggestion); s != "" {
		fmt.Fprintf(&b, " The exercise was: %s %q.", category.Instruction(), s)
	}
	fmt.Fprintf(&b, " Reply with the corrected sentence only. Then add two newlines and either %s: yes if the student used the %s correctly, or %s: no if not.",
		markerKey, category.Label(), markerKey)
	return b.String()
}

// ParseCorrection splits a trailing usage marker off raw. Without a marker the
// usage is reported as incorrect.
func ParseCorrection(raw string) Correction {
	m := markerPattern.FindStringSubmatch(raw)
	if m == nil {
		return Correction{Text: strings.TrimSpace(raw)}
	}
	return Correction{
		Text:         strings.TrimSpace(m[1]),
		UsageCorrect: strings.EqualFold(m[2], "yes"),
		MarkerFound:  true,
	}
}
