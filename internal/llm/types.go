package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/openaiclient"
)

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// OptionsFromConfig builds request defaults from config.
func OptionsFromConfig(cfg config.LLMConfig) Request {
	return Request{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
}

// New selects a backend by cfg.Mode.
func New(cfg config.LLMConfig, ai config.OpenAIConfig) (Generator, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "openai":
		client, err := openaiclient.New(ai)
		if err != nil {
			return nil, err
		}
		return NewOpenAIGenerator(client, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

// Collect runs gen and concatenates every chunk's content.
func Collect(ctx context.Context, gen Generator, req Request) (string, error) {
	var out []byte
	err := gen.Generate(ctx, req, func(chunk Chunk) error {
		out = append(out, chunk.Content...)
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
