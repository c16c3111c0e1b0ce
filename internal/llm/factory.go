package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"marginalia/internal/config"
	"marginalia/internal/domain"
)

const defaultClientCacheSize = 16

// Factory creates and caches provider clients. Provider selection lives here
// and nowhere else: adapters never know about each other.
type Factory struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Client]
}

// NewFactory returns a Factory with the default client cache.
func NewFactory() *Factory {
	cache, err := lru.New[string, Client](defaultClientCacheSize)
	if err != nil {
		cache = nil
	}
	return &Factory{cache: cache}
}

// ClientFor returns the adapter named by cfg.Provider. An unknown or absent
// provider defaults to Gemini. Clients are cached per connection identity so
// circuit breaker state survives across calls with the same settings.
func (f *Factory) ClientFor(cfg config.EngineConfig) Client {
	key := cacheKey(cfg)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cache != nil {
		if client, ok := f.cache.Get(key); ok {
			return client
		}
	}

	var client Client
	switch cfg.Provider {
	case config.ProviderOpenAI:
		client = NewOpenAIClient(cfg)
	default:
		client = NewGeminiClient(cfg)
	}

	if f.cache != nil {
		f.cache.Add(key, client)
	}
	return client
}

// Generate dispatches a single call through the adapter selected by cfg.
func (f *Factory) Generate(ctx context.Context, cfg config.EngineConfig, turns []domain.ChatTurn, systemInstruction string, overrides *GenerationOverrides) (string, error) {
	return f.ClientFor(cfg).Generate(ctx, turns, systemInstruction, overrides)
}

// cacheKey folds the connection identity into one string. The API key enters
// as a hash so that rotating a key always misses the cache while the key
// itself never sits in a map key.
func cacheKey(cfg config.EngineConfig) string {
	sum := sha256.Sum256([]byte(cfg.APIKey))
	return fmt.Sprintf("%s|%s|%s|%s", cfg.Provider, cfg.BaseURL, cfg.Model, hex.EncodeToString(sum[:8]))
}
