package tts

import (
	"context"
	"encoding/binary"
	"math"
)

const (
	toneHz     = 440
	toneAmp    = 0.2
	toneMillis = 100
)

type mockSynth struct {
	sampleRate int
	channels   int
}

func NewMockSynth(sampleRate, channels int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

// Synthesize ignores the text and returns a short A4 beep so the client has
// something audible to play back.
func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	defer close(chunks)
	defer close(errs)
	if err := ctx.Err(); err != nil {
		errs <- err
		return chunks, errs
	}
	chunks <- SynthChunk{
		SessionID:  req.SessionID,
		SampleRate: m.sampleRate,
		Channels:   m.channels,
		PCM:        m.tone(),
		Final:      true,
	}
	return chunks, errs
}

func (m *mockSynth) tone() []byte {
	frames := m.sampleRate * toneMillis / 1000
	pcm := make([]byte, 0, frames*m.channels*2)
	for i := range frames {
		v := toneAmp * math.Sin(2*math.Pi*toneHz*float64(i)/float64(m.sampleRate))
		sample := uint16(int16(v * math.MaxInt16))
		for range m.channels {
			pcm = binary.LittleEndian.AppendUint16(pcm, sample)
		}
	}
	return pcm
}
