package debate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krjordan/quorum/internal/models"
)

func TestSummaryAggregatesStats(t *testing.T) {
	s := newTestService(&fakeProvider{reply: "a considered argument"})
	d, err := s.Create(twoPartyConfig(1))
	require.NoError(t, err)

	drain(t, mustTurn(t, s, d.ID))
	drain(t, mustTurn(t, s, d.ID))

	summary, err := s.Summary(d.ID)
	require.NoError(t, err)

	assert.Equal(t, d.ID, summary.DebateID)
	assert.Equal(t, models.StatusCompleted, summary.Status)
	assert.Equal(t, 1, summary.RoundsCompleted)
	assert.Equal(t, 1, summary.TotalRounds)
	assert.Equal(t, []string{"Optimist", "Skeptic"}, summary.Participants)

	require.Len(t, summary.ParticipantStats, 2)
	var statCost, statTokens float64
	for _, st := range summary.ParticipantStats {
		assert.Equal(t, 1, st.ResponseCount)
		assert.Equal(t, 15, st.TotalTokens)
		statCost += st.TotalCost
		statTokens += float64(st.TotalTokens)
	}
	assert.InDelta(t, summary.TotalCost, statCost, 1e-9)

	assert.Contains(t, summary.MarkdownTranscript, "### Round 1")
	assert.Contains(t, summary.MarkdownTranscript, "**Optimist**")
	assert.Contains(t, summary.MarkdownTranscript, "a considered argument")
}

func TestSummaryOfFreshDebate(t *testing.T) {
	s := newTestService(&fakeProvider{reply: "ok"})
	d, err := s.Create(twoPartyConfig(3))
	require.NoError(t, err)

	summary, err := s.Summary(d.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.RoundsCompleted)
	assert.Zero(t, summary.TotalCost)
	assert.NotContains(t, summary.MarkdownTranscript, "### Round", "empty rounds are skipped")
}

func TestExportMarkdown(t *testing.T) {
	s := newTestService(&fakeProvider{reply: "a considered argument"})
	d, err := s.Create(twoPartyConfig(1))
	require.NoError(t, err)

	drain(t, mustTurn(t, s, d.ID))
	drain(t, mustTurn(t, s, d.ID))

	doc, err := s.ExportMarkdown(d.ID)
	require.NoError(t, err)

	assert.Contains(t, doc, "# Debate: "+d.Config.Topic)
	assert.Contains(t, doc, "| **Optimist** | gpt-4o |")
	assert.Contains(t, doc, "**Status:** completed")
	assert.Contains(t, doc, "## Transcript")

	_, err = s.ExportMarkdown("debate_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
