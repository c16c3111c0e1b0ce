// Package config defines the engine configuration and its file/env loader.
//
// EngineConfig is an immutable value threaded through every call; no engine
// component reads ambient global state.
package config

import (
	"fmt"
	"strings"
)

// Provider selects which adapter serves AI requests.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// EngineConfig is the connection and runtime configuration for the AI engine.
// UI-only fields (fonts, theme) ride along for the host but are ignored by
// the engine itself.
type EngineConfig struct {
	Provider    Provider `json:"provider" yaml:"provider"`
	BaseURL     string   `json:"baseUrl" yaml:"baseUrl"`
	APIKey      string   `json:"apiKey" yaml:"apiKey"`
	Model       string   `json:"model" yaml:"model"`
	Temperature float64  `json:"temperature" yaml:"temperature"`
	Thinking    bool     `json:"thinking" yaml:"thinking"`

	ShortTermMemory       bool `json:"shortTermMemory" yaml:"shortTermMemory"`
	ShortTermMemoryWindow int  `json:"shortTermMemoryWindow" yaml:"shortTermMemoryWindow"`

	AutoAnnotationCount       int `json:"autoAnnotationCount" yaml:"autoAnnotationCount"`
	MemoryConsolidateInterval int `json:"memoryConsolidateInterval" yaml:"memoryConsolidateInterval"`

	TimeoutSeconds int `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxRetries     int `json:"maxRetries" yaml:"maxRetries"`

	// Host-only presentation settings, persisted but unused by the engine.
	FontFamily string `json:"fontFamily,omitempty" yaml:"fontFamily,omitempty"`
	FontSize   int    `json:"fontSize,omitempty" yaml:"fontSize,omitempty"`
	Theme      string `json:"theme,omitempty" yaml:"theme,omitempty"`
}

// Default returns the engine defaults applied beneath file and env values.
func Default() EngineConfig {
	return EngineConfig{
		Provider:                  ProviderGemini,
		Model:                     "gemini-2.0-flash",
		Temperature:               0.9,
		ShortTermMemory:           true,
		ShortTermMemoryWindow:     10,
		AutoAnnotationCount:       3,
		MemoryConsolidateInterval: 10,
		TimeoutSeconds:            120,
		MaxRetries:                3,
	}
}

// Validate checks the fields the engine depends on.
func (c EngineConfig) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI, "":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.ShortTermMemoryWindow < 0 {
		return fmt.Errorf("shortTermMemoryWindow must not be negative")
	}
	if c.AutoAnnotationCount < 0 {
		return fmt.Errorf("autoAnnotationCount must not be negative")
	}
	return nil
}
