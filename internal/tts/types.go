package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/openaiclient"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk carries either raw 16-bit PCM or, when MIME is set, an already
// encoded audio payload.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	MIME       string
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Audio is a complete playable clip.
type Audio struct {
	Data []byte
	MIME string
}

// New selects a backend by cfg.Mode.
func New(cfg config.TTSConfig, ai config.OpenAIConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "openai":
		client, err := openaiclient.New(ai)
		if err != nil {
			return nil, err
		}
		return NewOpenAISynth(client, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
