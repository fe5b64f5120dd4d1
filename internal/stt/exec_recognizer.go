package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/subproc"
)

type execRecognizer struct {
	cmd      *subproc.Command
	model    string
	language string
}

type execReply struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	cmd, err := subproc.Parse("stt", cfg.Command)
	if err != nil {
		return nil, err
	}
	return &execRecognizer{cmd: cmd, model: cfg.Model, language: cfg.Language}, nil
}

// Transcribe saves the upload under its original extension, since speech
// tools sniff the container from the file name, and runs the helper with
// --audio <path>. The helper prints {"text": ..., "confidence": ...}.
func (r *execRecognizer) Transcribe(ctx context.Context, audio Audio) (TranscriptResult, error) {
	ext := filepath.Ext(audio.Filename)
	if ext == "" {
		ext = ".webm"
	}
	file, err := os.CreateTemp("", "ellie_stt_*"+ext)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	_, err = file.Write(audio.Data)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("write audio: %w", err)
	}

	args := []string{"--audio", file.Name()}
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	if r.language != "" {
		args = append(args, "--language", r.language)
	}
	reply, err := subproc.RunJSON[execReply](ctx, r.cmd, nil, args...)
	if err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{Text: reply.Text, Confidence: reply.Confidence}, nil
}
