package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/errors"
	"marginalia/internal/httpclient"
	"marginalia/internal/logging"
	jsonx "marginalia/internal/shared/json"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// geminiClient speaks the Gemini generateContent REST API.
type geminiClient struct {
	model       string
	apiKey      string
	baseURL     string
	temperature float64
	thinking    bool
	httpClient  *http.Client
	retryPolicy httpclient.RetryPolicy
	logger      logging.Logger
}

// NewGeminiClient constructs the Gemini adapter from the engine configuration.
func NewGeminiClient(cfg config.EngineConfig) Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	timeout := 120 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	policy := httpclient.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.Retries = cfg.MaxRetries
	}

	return &geminiClient{
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		thinking:    cfg.Thinking,
		httpClient:  httpclient.NewWithCircuitBreaker(timeout, "gemini", errors.DefaultCircuitBreakerConfig()),
		retryPolicy: policy,
		logger:      logging.NewComponentLogger("llm-gemini"),
	}
}

func (c *geminiClient) Provider() string { return "Gemini" }

// Gemini wire shapes.
type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"` // base64-encoded by the JSON marshaller
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64              `json:"temperature,omitempty"`
	MaxOutputTokens  int                   `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string                `json:"responseMimeType,omitempty"`
	ThinkingConfig   *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

func (c *geminiClient) Generate(ctx context.Context, turns []domain.ChatTurn, systemInstruction string, overrides *GenerationOverrides) (string, error) {
	payload := c.buildRequest(turns, systemInstruction, overrides)
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)

	c.logger.Debug("POST %s model=%s key=%s turns=%d", endpoint, c.model, maskKey(c.apiKey), len(turns))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := httpclient.DoWithRetry(ctx, c.httpClient, httpReq, c.retryPolicy, c.logger)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, 8*1024*1024)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("gemini error response (%d): %s", resp.StatusCode, string(respBody))
		return "", providerError(c.Provider(), resp, respBody)
	}

	return c.parseResponse(respBody)
}

// buildRequest shapes the canonical turns into Gemini contents. The system
// instruction rides in its own top-level object, not in the contents list.
func (c *geminiClient) buildRequest(turns []domain.ChatTurn, systemInstruction string, overrides *GenerationOverrides) geminiRequest {
	contents := make([]geminiContent, 0, len(turns))
	for _, turn := range turns {
		content := geminiContent{Role: string(turn.Role)}
		if turn.Text != "" {
			content.Parts = append(content.Parts, geminiPart{Text: turn.Text})
		}
		for _, part := range turn.Parts {
			content.Parts = append(content.Parts, geminiPart{
				InlineData: &geminiInlineData{MIMEType: part.MIMEType, Data: part.Data},
			})
		}
		if len(content.Parts) == 0 {
			continue
		}
		contents = append(contents, content)
	}

	temperature := c.temperature
	genCfg := geminiGenerationConfig{Temperature: &temperature}
	if !c.thinking {
		genCfg.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: 0}
	}
	if overrides != nil {
		if overrides.Temperature != nil {
			genCfg.Temperature = overrides.Temperature
		}
		if overrides.MaxOutputTokens > 0 {
			genCfg.MaxOutputTokens = overrides.MaxOutputTokens
		}
		if overrides.JSONMode {
			genCfg.ResponseMIMEType = "application/json"
		}
	}

	req := geminiRequest{Contents: contents, GenerationConfig: genCfg}
	if strings.TrimSpace(systemInstruction) != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: systemInstruction}},
		}
	}
	return req
}

// parseResponse extracts candidates[0].content.parts[0].text, defaulting to
// empty on any missing piece. Missing text on a 2xx is a soft failure the
// caller handles; it never throws here.
func (c *geminiClient) parseResponse(body []byte) (string, error) {
	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := jsonx.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		c.logger.Debug("gemini response carried no text")
		return "", nil
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
