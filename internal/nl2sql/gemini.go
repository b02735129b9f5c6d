package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GeminiTranslator calls the generateContent endpoint of the Gemini API.
type GeminiTranslator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewGeminiTranslator(cfg Config) (*GeminiTranslator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiTranslator{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"system_instruction"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (t *GeminiTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	payload := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: req.Instruction.Text}}},
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: strings.TrimSpace(req.Question)}},
		}},
	}
	payload.GenerationConfig.Temperature = t.temperature

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, &TranslationError{Provider: ProviderGemini, Message: "marshal generate payload", Err: err}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", t.baseURL, url.PathEscape(t.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &TranslationError{Provider: ProviderGemini, Message: "build generate request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Result{}, &TranslationError{Provider: ProviderGemini, Message: "request generate content", Unavailable: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &TranslationError{Provider: ProviderGemini, Message: "read generate response body", Err: err}
	}
	if resp.StatusCode >= 400 {
		return Result{}, statusError(ProviderGemini, resp.StatusCode, rawRespBody)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Result{}, &TranslationError{Provider: ProviderGemini, Message: "decode generate response", Err: err}
	}
	if len(parsed.Candidates) == 0 {
		message := "empty candidates"
		if parsed.PromptFeedback.BlockReason != "" {
			message = "prompt blocked: " + parsed.PromptFeedback.BlockReason
		}
		return Result{}, &TranslationError{Provider: ProviderGemini, Message: message}
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return Result{
		Text:     text.String(),
		Provider: ProviderGemini,
		Model:    t.model,
	}, nil
}
