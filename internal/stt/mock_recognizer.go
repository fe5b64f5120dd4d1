package stt

import "context"

// MockTranscript is what the mock recognizer hears in every upload.
const MockTranscript = "Yesterday I walk to the park with my friend."

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, _ Audio) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{Text: MockTranscript, Confidence: 1}, nil
}
