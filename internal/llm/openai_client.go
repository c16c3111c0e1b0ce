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

const jsonModeDirective = "You must respond with valid JSON only. No markdown fences, no prose outside the JSON."

// openaiClient speaks any OpenAI-compatible chat completions API.
type openaiClient struct {
	model       string
	apiKey      string
	endpoint    string
	temperature float64
	httpClient  *http.Client
	retryPolicy httpclient.RetryPolicy
	logger      logging.Logger
}

// NewOpenAIClient constructs the OpenAI-compatible adapter from the engine
// configuration.
func NewOpenAIClient(cfg config.EngineConfig) Client {
	timeout := 120 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	policy := httpclient.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.Retries = cfg.MaxRetries
	}

	return &openaiClient{
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		endpoint:    normalizeChatEndpoint(cfg.BaseURL),
		temperature: cfg.Temperature,
		httpClient:  httpclient.NewWithCircuitBreaker(timeout, "openai-compat", errors.DefaultCircuitBreakerConfig()),
		retryPolicy: policy,
		logger:      logging.NewComponentLogger("llm-openai"),
	}
}

func (c *openaiClient) Provider() string { return "OpenAI" }

// normalizeChatEndpoint turns a configured base URL into a full chat
// completions endpoint. Users paste anything from a bare host to the full
// path; a URL that already ends in /chat/completions is kept as-is.
func normalizeChatEndpoint(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// OpenAI wire shapes. Content is either a plain string or a block list when a
// turn carries images.
type openaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openaiContentBlock struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *openaiImagePart `json:"image_url,omitempty"`
}

type openaiImagePart struct {
	URL string `json:"url"`
}

type openaiRequest struct {
	Model          string          `json:"model"`
	Messages       []openaiMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *openaiRespFmt  `json:"response_format,omitempty"`
}

type openaiRespFmt struct {
	Type string `json:"type"`
}

func (c *openaiClient) Generate(ctx context.Context, turns []domain.ChatTurn, systemInstruction string, overrides *GenerationOverrides) (string, error) {
	payload := c.buildRequest(turns, systemInstruction, overrides)
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("POST %s model=%s key=%s turns=%d", c.endpoint, c.model, maskKey(c.apiKey), len(turns))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		c.logger.Debug("openai error response (%d): %s", resp.StatusCode, string(respBody))
		return "", providerError(c.Provider(), resp, respBody)
	}

	return c.parseResponse(respBody)
}

// buildRequest maps canonical turns onto the messages array: a leading system
// message, user stays user, model becomes assistant. When JSON mode is
// requested the system text carries an explicit JSON-only directive as well,
// since some compatible backends ignore the structured response_format flag.
func (c *openaiClient) buildRequest(turns []domain.ChatTurn, systemInstruction string, overrides *GenerationOverrides) openaiRequest {
	jsonMode := overrides != nil && overrides.JSONMode

	messages := make([]openaiMessage, 0, len(turns)+1)

	system := systemInstruction
	if jsonMode {
		if system != "" {
			system += "\n\n"
		}
		system += jsonModeDirective
	}
	if system != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: system})
	}

	for _, turn := range turns {
		role := "user"
		if turn.Role == domain.RoleModel {
			role = "assistant"
		}
		messages = append(messages, openaiMessage{Role: role, Content: messageContent(turn)})
	}

	req := openaiRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	}
	if overrides != nil {
		if overrides.Temperature != nil {
			req.Temperature = *overrides.Temperature
		}
		if overrides.MaxOutputTokens > 0 {
			req.MaxTokens = overrides.MaxOutputTokens
		}
	}
	if jsonMode {
		req.ResponseFormat = &openaiRespFmt{Type: "json_object"}
	}
	return req
}

// messageContent renders a turn as a plain string, or as content blocks when
// it carries inline images.
func messageContent(turn domain.ChatTurn) any {
	if len(turn.Parts) == 0 {
		return turn.Text
	}

	blocks := make([]openaiContentBlock, 0, len(turn.Parts)+1)
	if turn.Text != "" {
		blocks = append(blocks, openaiContentBlock{Type: "text", Text: turn.Text})
	}
	for _, part := range turn.Parts {
		blocks = append(blocks, openaiContentBlock{
			Type:     "image_url",
			ImageURL: &openaiImagePart{URL: dataURL(part)},
		})
	}
	return blocks
}

// parseResponse extracts choices[0].message.content, defaulting to empty.
func (c *openaiClient) parseResponse(body []byte) (string, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := jsonx.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		c.logger.Debug("openai response carried no choices")
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}
