package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/daybreak-ai/daybreak/internal/otel"
	"github.com/daybreak-ai/daybreak/internal/pricing"
)

// OpenAIClient talks to any OpenAI-compatible /v1/chat/completions endpoint
// (OpenAI itself, Ollama, LM Studio, vLLM).
type OpenAIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// OpenAIConfig configures the client. Zero values get sane defaults.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAIClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends one chat completion request and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := otel.StartClientSpan(ctx, otel.Tracer(), "llm.complete",
		otel.AttrModel.String(req.Model))
	defer span.End()

	messages := []chatMessage{}
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(chatRequest{Model: req.Model, Messages: messages})
	if err != nil {
		return Response{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return Response{}, fmt.Errorf("chat completion status %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("chat completion: no choices")
	}

	out := Response{
		Text:             parsed.Choices[0].Message.Content,
		Model:            req.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		CostUSD:          pricing.EstimateCost(req.Model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens),
		Duration:         time.Since(started),
	}
	span.SetAttributes(otel.AttrCostUSD.Float64(out.CostUSD))
	c.logger.Debug("llm: completion",
		"model", req.Model,
		"prompt_tokens", out.PromptTokens,
		"completion_tokens", out.CompletionTokens,
		"cost_usd", out.CostUSD,
		"duration_ms", out.Duration.Milliseconds())
	return out, nil
}
