package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/ellie/internal/resilience"
)

const defaultOllamaModel = "llama3.2:latest"

// ollamaGenerator talks to a local Ollama daemon through /api/chat so the
// correction instructions travel as a proper system message.
type ollamaGenerator struct {
	chatURL string
	model   string
	client  *http.Client
}

func NewOllamaGenerator(endpoint, model string) Generator {
	if model == "" {
		model = defaultOllamaModel
	}
	return &ollamaGenerator{
		chatURL: strings.TrimRight(endpoint, "/") + "/api/chat",
		model:   model,
		client:  http.DefaultClient,
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChat struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaFrame struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	Error           string        `json:"error"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (g *ollamaGenerator) chat(req Request) ollamaChat {
	body := ollamaChat{Model: g.model, Stream: true}
	if req.System != "" {
		body.Messages = append(body.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, ollamaMessage{Role: "user", Content: req.Prompt})
	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) > 0 {
		body.Options = opts
	}
	return body
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	payload, err := json.Marshal(g.chat(req))
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.chatURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resilience.WithStatus(
			fmt.Errorf("ollama chat: %s: %s", resp.Status, strings.TrimSpace(string(detail))),
			resp.StatusCode,
		)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var frame ollamaFrame
		if err := dec.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("decode ollama frame: %w", err)
		}
		if frame.Error != "" {
			return fmt.Errorf("ollama chat: %s", frame.Error)
		}
		err := consumer(Chunk{
			SessionID:        req.SessionID,
			Content:          frame.Message.Content,
			Partial:          !frame.Done,
			PromptTokens:     frame.PromptEvalCount,
			CompletionTokens: frame.EvalCount,
			Latency:          time.Since(started),
			TraceID:          req.TraceID,
		})
		if err != nil || frame.Done {
			return err
		}
	}
}
