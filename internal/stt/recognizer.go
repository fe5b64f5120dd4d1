package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/openaiclient"
)

// Audio is one recorded utterance as uploaded by the client.
type Audio struct {
	Data        []byte
	Filename    string
	ContentType string
}

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, audio Audio) (TranscriptResult, error)
}

// New selects a backend by cfg.Mode.
func New(cfg config.STTConfig, ai config.OpenAIConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "openai":
		client, err := openaiclient.New(ai)
		if err != nil {
			return nil, err
		}
		return NewOpenAIRecognizer(client, cfg), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
