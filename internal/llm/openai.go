package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"trader-agent/internal/httpx"
	"trader-agent/internal/trace"
)

// OpenAIConfig configures the OpenAI chat-completions client.
type OpenAIConfig struct {
	APIKey            string
	Model             string
	MaxTokens         int
	Temperature       float32
	RequestsPerMinute int
}

// OpenAI calls the chat-completions API. Outbound requests are paced with a
// token-bucket limiter so bursts of concurrent analysis tasks stay inside
// the account's request quota.
type OpenAI struct {
	cfg   OpenAIConfig
	http  *httpx.Client
	pacer *rate.Limiter
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY missing")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}

	return &OpenAI{
		cfg: cfg,
		http: httpx.NewClient(
			httpx.WithBaseURL("https://api.openai.com"),
			httpx.WithTimeout(60*time.Second),
			httpx.WithHeader("Authorization", "Bearer "+cfg.APIKey),
		),
		pacer: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 3),
	}, nil
}

func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	if err := o.pacer.Wait(ctx); err != nil {
		return "", err
	}

	body := map[string]any{
		"model": o.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": o.cfg.Temperature,
		"max_tokens":  o.cfg.MaxTokens,
	}

	resp, err := o.http.POST(ctx, "/v1/chat/completions", body)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := resp.ParseJSON(&r); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(r.Choices) == 0 {
		return "", errors.New("openai: no choices")
	}
	return r.Choices[0].Message.Content, nil
}
