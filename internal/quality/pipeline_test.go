package quality

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krjordan/quorum/internal/database"
	"github.com/krjordan/quorum/internal/models"
)

// fakePipelineStore implements every store slice the pipeline and its
// analyzers need.
type fakePipelineStore struct {
	conversations map[string]*models.Conversation
	messages      []models.Message
	contradicts   []models.Contradiction
	loops         []models.Loop
	samples       []models.HealthSample
	citations     map[string][]string
	nextID        int
}

func newFakePipelineStore() *fakePipelineStore {
	return &fakePipelineStore{conversations: make(map[string]*models.Conversation)}
}

func (f *fakePipelineStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	if _, ok := f.conversations[conv.ID]; !ok {
		f.conversations[conv.ID] = conv
	}
	return nil
}

func (f *fakePipelineStore) InsertMessage(_ context.Context, msg *models.Message) (string, error) {
	f.nextID++
	msg.ID = fmt.Sprintf("msg-%d", f.nextID)
	f.messages = append(f.messages, *msg)
	return msg.ID, nil
}

func (f *fakePipelineStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakePipelineStore) SimilarMessages(_ context.Context, _ string, _ []float32, _ string, _ int) ([]database.SimilarMessage, error) {
	return nil, nil
}

func (f *fakePipelineStore) InsertContradiction(_ context.Context, c *models.Contradiction) error {
	f.contradicts = append(f.contradicts, *c)
	return nil
}

func (f *fakePipelineStore) InsertLoop(_ context.Context, l *models.Loop) error {
	f.loops = append(f.loops, *l)
	return nil
}

func (f *fakePipelineStore) InsertHealthSample(_ context.Context, h *models.HealthSample) error {
	f.samples = append(f.samples, *h)
	return nil
}

func (f *fakePipelineStore) UpdateConversationHealth(_ context.Context, _ string, _ float64) error {
	return nil
}

func (f *fakePipelineStore) InsertCitation(_ context.Context, messageID, url, _ string) error {
	if f.citations == nil {
		f.citations = make(map[string][]string)
	}
	f.citations[messageID] = append(f.citations[messageID], url)
	return nil
}

type fakePipelineEmbedder struct{}

func (f *fakePipelineEmbedder) EmbedAndStore(_ context.Context, _, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakePipelineEmbedder) Generate(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestPipeline(store *fakePipelineStore) *Pipeline {
	judge := &fakeJudge{}
	emb := &fakePipelineEmbedder{}
	return NewPipeline(
		store,
		emb,
		NewContradictionDetector(store, judge, nil),
		NewLoopDetector(store, judge, nil),
		NewHealthScorer(&fakeBatchEmbedder{}, store, nil),
		nil,
	)
}

func utterance(seq, round, turn int, agent string) Utterance {
	return Utterance{
		ConversationID: "debate_1",
		Topic:          "test topic",
		SequenceNumber: seq,
		RoundNumber:    round,
		TurnIndex:      turn,
		AgentName:      agent,
		AgentModel:     "gpt-4o",
		Content:        fmt.Sprintf("argument %d from %s", seq, agent),
	}
}

func TestEnsureConversationIdempotent(t *testing.T) {
	store := newFakePipelineStore()
	p := newTestPipeline(store)
	ctx := context.Background()

	require.NoError(t, p.EnsureConversation(ctx, "debate_1", "AI safety"))
	require.NoError(t, p.EnsureConversation(ctx, "debate_1", "AI safety"))

	require.Len(t, store.conversations, 1)
	assert.Equal(t, 100.0, store.conversations["debate_1"].CurrentHealthScore)
}

func TestProcessTurnPersistsMessageAndHealth(t *testing.T) {
	store := newFakePipelineStore()
	p := newTestPipeline(store)

	result, err := p.ProcessTurn(context.Background(), utterance(1, 1, 0, "Optimist"), 2)
	require.NoError(t, err)

	assert.Equal(t, "msg-1", result.MessageID)
	require.Len(t, store.messages, 1)
	assert.Equal(t, 1, store.messages[0].SequenceNumber)
	require.NotNil(t, result.Health)
	assert.Len(t, store.samples, 1)
	assert.Nil(t, result.Loop)
}

func TestProcessTurnStoresCitedURLs(t *testing.T) {
	store := newFakePipelineStore()
	p := newTestPipeline(store)

	utt := utterance(0, 1, 0, "Optimist")
	utt.Content = "See https://example.com/study and (https://example.com/study) plus https://other.example/page."
	result, err := p.ProcessTurn(context.Background(), utt, 2)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"https://example.com/study", "https://other.example/page"},
		store.citations[result.MessageID])
}

func TestLoopCheckRunsEveryThirdMessage(t *testing.T) {
	store := newFakePipelineStore()
	p := newTestPipeline(store)
	ctx := context.Background()

	agents := []string{"A", "B"}
	var loopOrdinals []int
	for seq := 0; seq < 12; seq++ {
		utt := utterance(seq, seq/2+1, seq%2, agents[seq%2])
		// Same content per agent so the fingerprint repeats.
		utt.Content = "repeated position of " + utt.AgentName
		result, err := p.ProcessTurn(ctx, utt, 2)
		require.NoError(t, err)
		if result.Loop != nil {
			loopOrdinals = append(loopOrdinals, seq+1)
		}
	}

	require.NotEmpty(t, loopOrdinals, "alternating repetition should be detected")
	for _, n := range loopOrdinals {
		assert.Zero(t, n%3, "loop surfaced at utterance %d which is not a check point", n)
	}
}

func TestLoopDedupedPerFingerprint(t *testing.T) {
	store := newFakePipelineStore()
	p := newTestPipeline(store)

	assert.True(t, p.firstSighting("debate_1", "fp-1"))
	assert.False(t, p.firstSighting("debate_1", "fp-1"))
	assert.True(t, p.firstSighting("debate_1", "fp-2"))
	assert.True(t, p.firstSighting("debate_2", "fp-1"), "dedup is per conversation")

	p.Forget("debate_1")
	assert.True(t, p.firstSighting("debate_1", "fp-1"))
}
