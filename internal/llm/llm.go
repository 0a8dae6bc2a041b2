// Package llm is the model boundary: a prompt goes in, text and a cost come
// out. Everything above this package treats the model as opaque.
package llm

import (
	"context"
	"time"
)

// Request is one completion call.
type Request struct {
	Model  string
	System string
	Prompt string
}

// Response carries the model's text plus usage accounting.
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Duration         time.Duration
}

// Client generates a completion for a prompt. Implementations must honor ctx
// cancellation.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
