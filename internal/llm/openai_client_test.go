package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/errors"
)

func openaiTestConfig(baseURL string) config.EngineConfig {
	cfg := config.Default()
	cfg.Provider = config.ProviderOpenAI
	cfg.BaseURL = baseURL
	cfg.APIKey = "sk-test-123456789"
	cfg.Model = "gpt-4o-mini"
	cfg.MaxRetries = 0
	return cfg
}

// capturedOpenAIRequest mirrors the wire shape with concrete content types
// for assertions.
type capturedOpenAIRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	Temperature    float64 `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func TestNormalizeChatEndpoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/", "https://api.openai.com/v1/chat/completions"},
		{"https://api.deepseek.com/v1", "https://api.deepseek.com/v1/chat/completions"},
		{"http://localhost:11434/v1/chat/completions", "http://localhost:11434/v1/chat/completions"},
		{"  https://example.com/v1/  ", "https://example.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		if got := normalizeChatEndpoint(tc.in); got != tc.want {
			t.Errorf("normalizeChatEndpoint(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOpenAIGenerate(t *testing.T) {
	t.Parallel()

	var captured capturedOpenAIRequest
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"a reply"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(openaiTestConfig(srv.URL))
	got, err := client.Generate(context.Background(),
		[]domain.ChatTurn{
			{Role: domain.RoleUser, Text: "hello"},
			{Role: domain.RoleModel, Text: "hi there"},
			{Role: domain.RoleUser, Text: "continue"},
		},
		"You are June.", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a reply" {
		t.Errorf("reply = %q", got)
	}

	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test-123456789" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if captured.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", captured.Model)
	}

	roles := make([]string, 0, len(captured.Messages))
	for _, m := range captured.Messages {
		roles = append(roles, m.Role)
	}
	want := []string{"system", "user", "assistant", "user"}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("message %d role = %q, want %q", i, roles[i], want[i])
		}
	}
}

func TestOpenAIJSONMode(t *testing.T) {
	t.Parallel()

	var captured capturedOpenAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(openaiTestConfig(srv.URL))
	if _, err := client.Generate(context.Background(),
		[]domain.ChatTurn{{Role: domain.RoleUser, Text: "report"}},
		"You are June.", &GenerationOverrides{JSONMode: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v", captured.ResponseFormat)
	}
	// The system message carries the textual directive too.
	var systemText string
	if err := json.Unmarshal(captured.Messages[0].Content, &systemText); err != nil {
		t.Fatalf("system content: %v", err)
	}
	if !strings.Contains(systemText, "valid JSON only") {
		t.Errorf("system text missing JSON directive: %q", systemText)
	}
}

func TestOpenAIImageBlocks(t *testing.T) {
	t.Parallel()

	var captured capturedOpenAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"seen"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(openaiTestConfig(srv.URL))
	turns := []domain.ChatTurn{{
		Role:  domain.RoleUser,
		Text:  "what is this?",
		Parts: []domain.InlinePart{{MIMEType: "image/jpeg", Data: []byte("img")}},
	}}
	if _, err := client.Generate(context.Background(), turns, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var blocks []openaiContentBlock
	if err := json.Unmarshal(captured.Messages[0].Content, &blocks); err != nil {
		t.Fatalf("content blocks: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want text + image", len(blocks))
	}
	if blocks[1].Type != "image_url" || !strings.HasPrefix(blocks[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("image block = %+v", blocks[1])
	}
}

func TestOpenAIEmptyChoicesIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(openaiTestConfig(srv.URL))
	got, err := client.Generate(context.Background(),
		[]domain.ChatTurn{{Role: domain.RoleUser, Text: "hi"}}, "", nil)
	if err != nil {
		t.Fatalf("empty choices must not error: %v", err)
	}
	if got != "" {
		t.Errorf("reply = %q, want empty", got)
	}
}

func TestOpenAIErrorMapping(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(openaiTestConfig(srv.URL))
	_, err := client.Generate(context.Background(),
		[]domain.ChatTurn{{Role: domain.RoleUser, Text: "hi"}}, "", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsPermanent(err) {
		t.Errorf("401 should be permanent, got %v", err)
	}
	if !strings.Contains(err.Error(), "OpenAI: Incorrect API key provided") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestFactoryRoutesAndCaches(t *testing.T) {
	t.Parallel()

	f := NewFactory()

	gemini := f.ClientFor(geminiTestConfig("http://localhost:1"))
	if gemini.Provider() != "Gemini" {
		t.Errorf("provider = %q, want Gemini", gemini.Provider())
	}
	openai := f.ClientFor(openaiTestConfig("http://localhost:1"))
	if openai.Provider() != "OpenAI" {
		t.Errorf("provider = %q, want OpenAI", openai.Provider())
	}

	// Unknown providers default to Gemini.
	cfg := geminiTestConfig("http://localhost:1")
	cfg.Provider = "something-else"
	if got := f.ClientFor(cfg); got.Provider() != "Gemini" {
		t.Errorf("unknown provider routed to %q", got.Provider())
	}

	// Same identity returns the cached instance.
	again := f.ClientFor(geminiTestConfig("http://localhost:1"))
	if again != gemini {
		t.Error("same config should reuse the cached client")
	}

	// A different model is a different identity.
	other := geminiTestConfig("http://localhost:1")
	other.Model = "gemini-2.5-pro"
	if f.ClientFor(other) == gemini {
		t.Error("different model should build a new client")
	}
}

func TestFactoryDistinguishesRotatedKeys(t *testing.T) {
	t.Parallel()

	f := NewFactory()

	// Keys sharing a visible prefix and suffix are still distinct identities.
	first := geminiTestConfig("http://localhost:1")
	first.APIKey = "sk-abcd-one-wxyz"
	second := geminiTestConfig("http://localhost:1")
	second.APIKey = "sk-abcd-two-wxyz"
	if f.ClientFor(first) == f.ClientFor(second) {
		t.Error("rotating the API key must not return the cached client")
	}

	// Short keys too.
	first.APIKey = "short-a"
	second.APIKey = "short-b"
	if f.ClientFor(first) == f.ClientFor(second) {
		t.Error("short keys must not collide in the cache")
	}
}
