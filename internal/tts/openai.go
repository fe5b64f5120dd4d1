package tts

import (
	"context"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"

	"github.com/loqalabs/ellie/internal/openaiclient"
	"github.com/loqalabs/ellie/internal/resilience"
)

const defaultOpenAIVoice = "alloy"

type openAISynth struct {
	client oai.Client
	model  string
}

func NewOpenAISynth(client oai.Client, model string) Synthesizer {
	if model == "" {
		model = string(oai.SpeechModelTTS1)
	}
	return &openAISynth{client: client, model: model}
}

// Synthesize requests a WAV clip and delivers it as a single encoded chunk.
func (o *openAISynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		voice := req.Voice
		if voice == "" {
			voice = defaultOpenAIVoice
		}
		resp, err := o.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
			Input:          req.Text,
			Model:          oai.SpeechModel(o.model),
			Voice:          oai.AudioSpeechNewParamsVoice(voice),
			ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
		})
		if err != nil {
			errs <- openaiclient.Classify("speech", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			errs <- resilience.WithStatus(fmt.Errorf("openai: speech returned status %s", resp.Status), resp.StatusCode)
			return
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			errs <- fmt.Errorf("openai: read speech: %w", err)
			return
		}
		chunks <- SynthChunk{
			SessionID: req.SessionID,
			PCM:       data,
			MIME:      "audio/wav",
			Final:     true,
		}
	}()
	return chunks, errs
}
