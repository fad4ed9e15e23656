// Package llm adapts the model-provider SDKs behind one small interface so
// the debate orchestrator never sees vendor types.
package llm

import "context"

// Message is one chat turn as seen by a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a fully assembled completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage carries provider-reported token counts. Zero values mean the
// provider did not report usage and the caller should count locally.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the final completion text plus usage.
type Response struct {
	Content string
	Usage   Usage
}

// DeltaFunc receives incremental content while a response streams.
type DeltaFunc func(text string)

// Provider generates completions for one vendor family.
type Provider interface {
	// Name identifies the provider family ("openai", "anthropic", ...).
	Name() string
	// SupportsStreaming reports whether Stream delivers incremental deltas.
	// When false, callers fall back to Complete and emit the result whole.
	SupportsStreaming() bool
	// Complete runs a blocking completion.
	Complete(ctx context.Context, req Request) (Response, error)
	// Stream runs a streaming completion, invoking onDelta for each chunk,
	// and returns the assembled response.
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) (Response, error)
}
