package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
)

const anthropicDefaultMaxTokens = 4096

// Anthropic streams Claude completions through the native Messages API.
type Anthropic struct {
	client anthropic.Client
	logger *logrus.Logger
}

// NewAnthropic creates a Claude provider.
func NewAnthropic(apiKey string, logger *logrus.Logger) *Anthropic {
	if logger == nil {
		logger = logrus.New()
	}
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger,
	}
}

// Name identifies the provider family.
func (p *Anthropic) Name() string { return "anthropic" }

// SupportsStreaming reports streaming support.
func (p *Anthropic) SupportsStreaming() bool { return true }

func (p *Anthropic) params(req Request) anthropic.MessageNewParams {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

// Complete runs a blocking completion.
func (p *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	msg, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return Response{}, fmt.Errorf("anthropic completion: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return Response{
		Content: content,
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// Stream runs a streaming completion, forwarding text deltas as they arrive.
func (p *Anthropic) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (Response, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	var acc anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return Response{}, fmt.Errorf("anthropic stream accumulate: %w", err)
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if onDelta != nil {
					onDelta(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Response{}, fmt.Errorf("anthropic stream: %w", err)
	}

	var content string
	for _, block := range acc.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return Response{
		Content: content,
		Usage: Usage{
			InputTokens:  int(acc.Usage.InputTokens),
			OutputTokens: int(acc.Usage.OutputTokens),
		},
	}, nil
}
