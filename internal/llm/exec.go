package llm

import (
	"context"
	"time"

	"github.com/loqalabs/ellie/internal/subproc"
)

type execGenerator struct {
	cmd *subproc.Command
}

type execRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type execReply struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// NewExecGenerator runs a local helper for each completion.
func NewExecGenerator(command string) (Generator, error) {
	cmd, err := subproc.Parse("llm", command)
	if err != nil {
		return nil, err
	}
	return &execGenerator{cmd: cmd}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	reply, err := subproc.RunJSON[execReply](ctx, g.cmd, execRequest{
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return err
	}
	return consumer(Chunk{
		SessionID:        req.SessionID,
		Content:          reply.Content,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}
