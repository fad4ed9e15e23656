// Package debate implements the per-debate state machine, the sequential
// turn driver and its event stream.
package debate

import (
	"fmt"
	"strings"

	"github.com/krjordan/quorum/internal/llm"
	"github.com/krjordan/quorum/internal/models"
	"github.com/krjordan/quorum/internal/tokens"
)

// defaultMaxContextTokens is the per-turn context ceiling.
const defaultMaxContextTokens = 100_000

// Assembler builds the bounded message sequence a participant sees on its
// turn: a system message plus one user message carrying the transcript.
type Assembler struct {
	counter   *tokens.Counter
	maxTokens int
}

// NewAssembler creates a context assembler. maxTokens <= 0 selects the
// default ceiling.
func NewAssembler(counter *tokens.Counter, maxTokens int) *Assembler {
	if maxTokens <= 0 {
		maxTokens = defaultMaxContextTokens
	}
	return &Assembler{counter: counter, maxTokens: maxTokens}
}

// Build assembles the request for a participant's turn and returns it with
// the input token count. The transcript is folded into the trailing user
// message; when the context exceeds the ceiling, transcript lines are
// dropped oldest-first. The system message and the user prompt skeleton are
// never dropped.
func (a *Assembler) Build(config models.DebateConfig, rounds []*models.DebateRound, participant models.ParticipantConfig) (llm.Request, int) {
	system := fmt.Sprintf(`%s

You are participating in a structured debate on the topic: %q.
Respond with your argument only. Do not prefix your response with your name.`,
		participant.SystemPrompt, config.Topic)

	window := rounds
	if config.ContextWindowRounds > 0 && len(rounds) > config.ContextWindowRounds {
		window = rounds[len(rounds)-config.ContextWindowRounds:]
	}

	var transcript []string
	for _, round := range window {
		for _, resp := range round.Responses {
			transcript = append(transcript, fmt.Sprintf("%s: %s", resp.ParticipantName, resp.Content))
		}
	}

	req := llm.Request{
		Model:       participant.Model,
		System:      system,
		Temperature: participant.Temperature,
	}

	for {
		user := userPrompt(config.Topic, transcript)
		count := a.counter.CountMessageTokens([]tokens.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		}, participant.Model)

		if count <= a.maxTokens || len(transcript) == 0 {
			req.Messages = []llm.Message{{Role: "user", Content: user}}
			return req, count
		}
		transcript = transcript[1:]
	}
}

func userPrompt(topic string, transcript []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	b.WriteString("Please provide your response to this topic. Consider any previous arguments if this is not the first round.")
	if len(transcript) > 0 {
		b.WriteString("\n\nDebate so far:\n")
		b.WriteString(strings.Join(transcript, "\n"))
	}
	return b.String()
}
