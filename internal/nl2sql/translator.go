package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Request struct {
	Question    string      `json:"question"`
	Instruction Instruction `json:"instruction"`
}

// Result is the raw model output. Text still needs Sanitize before it can be
// executed.
type Result struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// New builds the translator for cfg.Provider. An empty provider selects
// Gemini.
func New(cfg Config) (Translator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		return NewGeminiTranslator(cfg)
	case ProviderOpenAI:
		return NewOpenAITranslator(cfg)
	default:
		return nil, fmt.Errorf("unsupported translation provider %q", cfg.Provider)
	}
}
