package scoring

import (
	"errors"
	"fmt"
	"strings"
)

// Category is one of the fixed exercise kinds.
type Category string

const (
	Tenses      Category = "tenses"
	Preposition Category = "preposition"
	Adverb      Category = "adverb"
	Adjective   Category = "adjective"
	Phrasal     Category = "phrasal"
)

// Categories lists every category in display order.
var Categories = []Category{Tenses, Preposition, Adverb, Adjective, Phrasal}

var ErrUnknownCategory = errors.New("unknown category")

func (c Category) Valid() bool {
	switch c {
	case Tenses, Preposition, Adverb, Adjective, Phrasal:
		return true
	}
	return false
}

// Label is the human name used in prompts and UI copy.
func (c Category) Label() string {
	switch c {
	case Tenses:
		return "past tense"
	case Phrasal:
		return "phrasal verb"
	default:
		return string(c)
	}
}

// Instruction is the exercise prompt shown before a suggestion.
func (c Category) Instruction() string {
	if c == Tenses {
		return "Convert to past tense:"
	}
	return "Use the " + c.Label() + ":"
}

// ParseCategory accepts the wire name of a category, case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}
