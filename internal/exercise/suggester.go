package exercise

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/loqalabs/ellie/internal/llm"
	"github.com/loqalabs/ellie/internal/scoring"
)

// Suggestion is one exercise shown to the learner.
type Suggestion struct {
	Category scoring.Category `json:"type"`
	Prompt   string           `json:"prompt"`
	Text     string           `json:"suggestion"`
}

// Completer is satisfied by *llm.Service.
type Completer interface {
	Complete(ctx context.Context, call string, req llm.Request) (string, error)
}

var fallback = map[scoring.Category][]string{
	scoring.Tenses:      {"I walk to the park.", "She eats breakfast at eight.", "They play football after school.", "We watch a movie together."},
	scoring.Preposition: {"between", "during", "across", "under", "towards"},
	scoring.Adverb:      {"quickly", "carefully", "rarely", "loudly", "eventually"},
	scoring.Adjective:   {"curious", "enormous", "gentle", "brilliant", "fragile"},
	scoring.Phrasal:     {"give up", "look after", "run into", "put off", "come across"},
}

type Suggester struct {
	llm    Completer
	pick   func(n int) int
	logger *slog.Logger
}

// NewSuggester returns a Suggester. A nil completer always uses the built-in
// list.
func NewSuggester(completer Completer, logger *slog.Logger) *Suggester {
	return &Suggester{
		llm:    completer,
		pick:   rand.IntN,
		logger: logger.With(slog.String("component", "exercise")),
	}
}

// Suggest returns a fresh exercise for category.
func (s *Suggester) Suggest(ctx context.Context, category scoring.Category) (Suggestion, error) {
	if !category.Valid() {
		return Suggestion{}, fmt.Errorf("%w: %q", scoring.ErrUnknownCategory, category)
	}
	out := Suggestion{Category: category, Prompt: category.Instruction()}
	if s.llm != nil {
		raw, err := s.llm.Complete(ctx, "llm.exercise", llm.Request{
			System: suggestionPrompt(category),
			Prompt: "Give me one new exercise.",
		})
		if err != nil {
			s.logger.Warn("exercise generation failed, using built-in list",
				slog.String("category", string(category)), slog.String("error", err.Error()))
		} else if text := cleanSuggestion(raw); text != "" {
			out.Text = text
			return out, nil
		}
	}
	list := fallback[category]
	out.Text = list[s.pick(len(list))]
	return out, nil
}

func suggestionPrompt(category scoring.Category) string {
	if category == scoring.Tenses {
		return "You write English practice exercises. Reply with one short, simple present-tense sentence for a learner to convert to the past tense. Reply with the sentence only."
	}
	return fmt.Sprintf("You write English practice exercises. Reply with one common English %s for a learner to use in a sentence. Reply with the %s only.",
		category.Label(), category.Label())
}

// cleanSuggestion keeps the first non-empty line and strips quotes and list
// markers.
func cleanSuggestion(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		line = strings.Trim(line, "\"'` ")
		if line != "" {
			return line
		}
	}
	return ""
}
