package llm

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

// Generate returns the prompt tidied into a sentence. Correction prompts get a
// passing usage verdict so the practice loop runs offline.
func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content := tidySentence(req.Prompt)
	if strings.Contains(req.System, markerKey) {
		content += "\n\n" + markerKey + ": yes"
	}
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   content,
		TraceID:   req.TraceID,
	})
}

func tidySentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(r)) + s[size:]
	if !strings.ContainsAny(s[len(s)-1:], ".!?") {
		s += "."
	}
	return s
}
