// Package openaiclient builds the shared OpenAI API client used by the
// hosted speech, text and voice backends.
package openaiclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/resilience"
)

// New constructs a client from config. SDK-level retries are disabled so that
// rate limits are handled only by the resilience executor.
func New(cfg config.OpenAIConfig) (oai.Client, error) {
	if cfg.APIKey == "" {
		return oai.Client{}, errors.New("openai: api key must not be empty")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.Organization))
	}
	if cfg.TimeoutMS > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		}))
	}
	return oai.NewClient(reqOpts...), nil
}

// Classify wraps err with op and, for API errors, the HTTP status the API
// returned.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("openai: %s: %w", op, err)
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return resilience.WithStatus(wrapped, apiErr.StatusCode)
	}
	return wrapped
}
