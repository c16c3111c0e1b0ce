// Package llm contains the provider adapters that turn canonical chat turns
// into each backend's wire format and unwrap the reply text, plus the factory
// that routes a request to the adapter named by the configuration.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	"marginalia/internal/domain"
	"marginalia/internal/errors"
	jsonx "marginalia/internal/shared/json"
)

// GenerationOverrides tweak a single call without touching the engine config.
type GenerationOverrides struct {
	// JSONMode asks the backend for a JSON-only response. Adapters reinforce
	// it textually as well, since some backends ignore the structured flag.
	JSONMode bool
	// Temperature overrides the configured sampling temperature when non-nil.
	Temperature *float64
	// MaxOutputTokens bounds the reply when > 0.
	MaxOutputTokens int
}

// Client is the capability set every provider adapter implements. Generate
// returns the reply text; an empty string on a 2xx response is NOT an error
// here. Callers decide whether to substitute a fallback or treat it as a
// failure.
type Client interface {
	// Generate sends the turns with an optional system instruction and
	// returns the unwrapped reply text.
	Generate(ctx context.Context, turns []domain.ChatTurn, systemInstruction string, overrides *GenerationOverrides) (string, error)
	// Provider names the backend, for logs and metrics.
	Provider() string
}

// providerError converts a non-2xx provider response into a classified error.
// The JSON error body is preferred; a generic "<Provider> API Error: <status>"
// message is the fallback.
func providerError(provider string, resp *http.Response, body []byte) error {
	message := fmt.Sprintf("%s API Error: %d", provider, resp.StatusCode)

	var parsed struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type,omitempty"`
		} `json:"error"`
	}
	if err := jsonx.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = fmt.Sprintf("%s: %s", provider, parsed.Error.Message)
	}

	base := errors.NewHTTPStatusError(resp.StatusCode, resp.Status, string(body))

	if errors.IsRetryableStatus(resp.StatusCode) {
		terr := &errors.TransientError{
			Err:        base,
			StatusCode: resp.StatusCode,
			Message:    message,
		}
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.Atoi(after); err == nil {
				terr.RetryAfter = secs
			}
		}
		return terr
	}
	return &errors.PermanentError{
		Err:        base,
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

// dataURL renders an inline part as a data URL for OpenAI-style image blocks.
func dataURL(part domain.InlinePart) string {
	mime := part.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(part.Data)
}

// maskKey shortens an API key for request logging.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "(hidden)"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

