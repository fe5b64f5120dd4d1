package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/loqalabs/ellie/internal/subproc"
)

type execSynth struct {
	cmd        *subproc.Command
	sampleRate int
	channels   int
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execFrame struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	cmd, err := subproc.Parse("tts", command)
	if err != nil {
		return nil, err
	}
	return &execSynth{cmd: cmd, sampleRate: sampleRate, channels: channels}, nil
}

// Synthesize runs the helper to completion and replays its output, one
// {"pcm_base64": ..., "final": ...} frame per line, as chunks.
func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		out, err := e.cmd.Run(ctx, execRequest{
			Text:       req.Text,
			Voice:      req.Voice,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
		})
		if err != nil {
			errs <- err
			return
		}

		lines := bufio.NewScanner(bytes.NewReader(out))
		lines.Buffer(nil, len(out)+1)
		for seq := 0; lines.Scan(); {
			line := bytes.TrimSpace(lines.Bytes())
			if len(line) == 0 {
				continue
			}
			var frame execFrame
			if err := json.Unmarshal(line, &frame); err != nil {
				errs <- fmt.Errorf("decode tts frame %d: %w", seq, err)
				return
			}
			pcm, err := base64.StdEncoding.DecodeString(frame.PCMBase64)
			if err != nil {
				errs <- fmt.Errorf("decode tts frame %d audio: %w", seq, err)
				return
			}
			select {
			case chunks <- SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   seq,
				SampleRate: e.sampleRate,
				Channels:   e.channels,
				PCM:        pcm,
				Final:      frame.Final,
			}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			seq++
		}
		if err := lines.Err(); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}
