package debate

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krjordan/quorum/internal/models"
	"github.com/krjordan/quorum/internal/tokens"
)

func testParticipant() models.ParticipantConfig {
	return models.ParticipantConfig{
		Name:         "Optimist",
		Model:        "gpt-4o",
		SystemPrompt: "You are a thoughtful debate participant.",
		Temperature:  0.7,
	}
}

func roundsWith(responses ...models.ParticipantResponse) []*models.DebateRound {
	round := &models.DebateRound{RoundNumber: 1, TokensUsed: map[string]int{}, Timestamp: time.Now()}
	round.Responses = responses
	return []*models.DebateRound{round}
}

func response(name, content string) models.ParticipantResponse {
	return models.ParticipantResponse{ParticipantName: name, Content: content}
}

func TestBuildFirstTurn(t *testing.T) {
	counter := tokens.NewCounter(quietLogger())
	a := NewAssembler(counter, 0)
	config := twoPartyConfig(2)

	req, count := a.Build(config, roundsWith(), testParticipant())

	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 0.7, req.Temperature)
	assert.Contains(t, req.System, "You are a thoughtful debate participant.")
	assert.Contains(t, req.System, config.Topic)
	assert.Contains(t, req.System, "Do not prefix your response with your name")

	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Topic: "+config.Topic)
	assert.NotContains(t, req.Messages[0].Content, "Debate so far")
	assert.Greater(t, count, 0)
}

func TestBuildIncludesTranscriptSpeakerLines(t *testing.T) {
	counter := tokens.NewCounter(quietLogger())
	a := NewAssembler(counter, 0)

	rounds := roundsWith(
		response("Optimist", "Progress compounds."),
		response("Skeptic", "Risk compounds faster."),
	)
	req, _ := a.Build(twoPartyConfig(2), rounds, testParticipant())

	user := req.Messages[0].Content
	assert.Contains(t, user, "Debate so far:")
	assert.Contains(t, user, "Optimist: Progress compounds.")
	assert.Contains(t, user, "Skeptic: Risk compounds faster.")
	idx1 := strings.Index(user, "Optimist: Progress")
	idx2 := strings.Index(user, "Skeptic: Risk")
	assert.Less(t, idx1, idx2, "transcript must preserve utterance order")
}

func TestBuildSlidingWindowDropsOldRounds(t *testing.T) {
	counter := tokens.NewCounter(quietLogger())
	a := NewAssembler(counter, 0)

	config := twoPartyConfig(5)
	config.ContextWindowRounds = 3

	var rounds []*models.DebateRound
	for i := 1; i <= 5; i++ {
		rounds = append(rounds, &models.DebateRound{
			RoundNumber: i,
			Responses:   []models.ParticipantResponse{response("Optimist", fmt.Sprintf("round %d point", i))},
			TokensUsed:  map[string]int{},
		})
	}

	req, _ := a.Build(config, rounds, testParticipant())
	user := req.Messages[0].Content
	assert.NotContains(t, user, "round 1 point")
	assert.NotContains(t, user, "round 2 point")
	assert.Contains(t, user, "round 3 point")
	assert.Contains(t, user, "round 5 point")
}

func TestBuildTruncatesOldestFirst(t *testing.T) {
	counter := tokens.NewCounter(quietLogger())
	config := twoPartyConfig(2)
	participant := testParticipant()

	var responses []models.ParticipantResponse
	for i := 0; i < 6; i++ {
		responses = append(responses, response(
			fmt.Sprintf("Speaker%d", i),
			strings.Repeat(fmt.Sprintf("argument %d ", i), 40),
		))
	}
	rounds := roundsWith(responses...)

	_, fullCount := NewAssembler(counter, 0).Build(config, rounds, participant)
	_, skeletonCount := NewAssembler(counter, 0).Build(config, roundsWith(), participant)
	require.Greater(t, fullCount, skeletonCount)

	budget := skeletonCount + (fullCount-skeletonCount)/2
	req, count := NewAssembler(counter, budget).Build(config, rounds, participant)

	assert.LessOrEqual(t, count, budget)
	user := req.Messages[0].Content
	assert.NotContains(t, user, "Speaker0:", "oldest line must be dropped first")
	assert.Contains(t, user, "Speaker5:", "newest line must survive")
	assert.Contains(t, req.System, config.Topic, "system message is never dropped")
	assert.Contains(t, user, "Topic: "+config.Topic, "prompt skeleton is never dropped")
}

func TestBuildDropsEverythingWhenBudgetTiny(t *testing.T) {
	counter := tokens.NewCounter(quietLogger())
	rounds := roundsWith(response("Optimist", strings.Repeat("x ", 500)))

	req, _ := NewAssembler(counter, 1).Build(twoPartyConfig(2), rounds, testParticipant())

	require.Len(t, req.Messages, 1)
	assert.NotContains(t, req.Messages[0].Content, "Debate so far")
	assert.Contains(t, req.Messages[0].Content, "Topic:")
}
