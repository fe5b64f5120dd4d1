package stt

import (
	"bytes"
	"context"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/openaiclient"
)

type openAIRecognizer struct {
	client   oai.Client
	model    string
	language string
}

// NewOpenAIRecognizer transcribes through the hosted Whisper endpoint.
func NewOpenAIRecognizer(client oai.Client, cfg config.STTConfig) Recognizer {
	model := cfg.Model
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}
	return &openAIRecognizer{client: client, model: model, language: cfg.Language}
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, audio Audio) (TranscriptResult, error) {
	filename := audio.Filename
	if filename == "" {
		filename = "speech.webm"
	}
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "audio/webm"
	}
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.Data), filename, contentType),
		Model: oai.AudioModel(r.model),
	}
	if r.language != "" {
		params.Language = param.NewOpt(r.language)
	}
	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return TranscriptResult{}, openaiclient.Classify("transcribe", err)
	}
	return TranscriptResult{Text: resp.Text}, nil
}
