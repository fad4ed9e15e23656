package llm

import (
	"context"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/sirupsen/logrus"
)

// OpenAICompatible talks to any endpoint speaking the OpenAI chat completions
// protocol. Besides OpenAI itself this covers Mistral's La Plateforme and
// Google's OpenAI-compatible Gemini endpoint, each behind its own base URL.
type OpenAICompatible struct {
	client    sdk.Client
	name      string
	streaming bool
	logger    *logrus.Logger
}

// NewOpenAI creates a provider for the OpenAI API.
func NewOpenAI(apiKey string, logger *logrus.Logger) *OpenAICompatible {
	return newCompatible("openai", apiKey, "", true, logger)
}

// NewMistral creates a provider for Mistral's OpenAI-compatible API.
func NewMistral(apiKey string, logger *logrus.Logger) *OpenAICompatible {
	return newCompatible("mistral", apiKey, "https://api.mistral.ai/v1", true, logger)
}

// NewGemini creates a provider for Google's OpenAI-compatible Gemini
// endpoint. Streaming over this endpoint drops usage accounting and has
// proven flaky, so responses are delivered whole.
func NewGemini(apiKey string, logger *logrus.Logger) *OpenAICompatible {
	return newCompatible("google", apiKey, "https://generativelanguage.googleapis.com/v1beta/openai/", false, logger)
}

func newCompatible(name, apiKey, baseURL string, streaming bool, logger *logrus.Logger) *OpenAICompatible {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &OpenAICompatible{
		client:    sdk.NewClient(opts...),
		name:      name,
		streaming: streaming,
		logger:    logger,
	}
}

// Name identifies the provider family.
func (p *OpenAICompatible) Name() string { return p.name }

// SupportsStreaming reports whether this endpoint streams reliably.
func (p *OpenAICompatible) SupportsStreaming() bool { return p.streaming }

func (p *OpenAICompatible) params(req Request) sdk.ChatCompletionNewParams {
	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, sdk.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, sdk.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, sdk.SystemMessage(m.Content))
		default:
			msgs = append(msgs, sdk.UserMessage(m.Content))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	return params
}

// Complete runs a blocking chat completion.
func (p *OpenAICompatible) Complete(ctx context.Context, req Request) (Response, error) {
	comp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return Response{}, fmt.Errorf("%s completion: %w", p.name, err)
	}
	if len(comp.Choices) == 0 {
		return Response{}, fmt.Errorf("%s completion: empty choices for model %s", p.name, req.Model)
	}
	return Response{
		Content: comp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  int(comp.Usage.PromptTokens),
			OutputTokens: int(comp.Usage.CompletionTokens),
		},
	}, nil
}

// Stream runs a streaming chat completion, forwarding content deltas. The
// final usage chunk, when present, fills the returned usage.
func (p *OpenAICompatible) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (Response, error) {
	if !p.streaming {
		return p.Complete(ctx, req)
	}

	params := p.params(req)
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var resp Response
	var content []byte
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				content = append(content, delta...)
				if onDelta != nil {
					onDelta(delta)
				}
			}
		}
		if chunk.Usage.TotalTokens > 0 {
			resp.Usage.InputTokens = int(chunk.Usage.PromptTokens)
			resp.Usage.OutputTokens = int(chunk.Usage.CompletionTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return Response{}, fmt.Errorf("%s stream: %w", p.name, err)
	}

	resp.Content = string(content)
	return resp, nil
}
