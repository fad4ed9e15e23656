package debate

import (
	"fmt"
	"strings"

	"github.com/krjordan/quorum/internal/models"
	"github.com/krjordan/quorum/internal/tokens"
)

// Summary aggregates a debate into per-participant stats plus a rendered
// markdown transcript. It works on any debate, finished or not.
func (s *Service) Summary(id string) (*models.DebateSummary, error) {
	d, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	stats := make([]models.ParticipantStats, len(d.Config.Participants))
	names := make([]string, len(d.Config.Participants))
	for i, p := range d.Config.Participants {
		stats[i] = models.ParticipantStats{Name: p.Name, Model: p.Model}
		names[i] = p.Name
	}
	byName := make(map[string]*models.ParticipantStats, len(stats))
	for i := range stats {
		byName[stats[i].Name] = &stats[i]
	}

	for _, round := range d.Rounds {
		for _, resp := range round.Responses {
			st, ok := byName[resp.ParticipantName]
			if !ok {
				continue
			}
			st.TotalTokens += resp.TokensUsed
			st.AverageResponseTimeMs += resp.ResponseTimeMs
			st.ResponseCount++
		}
	}
	for i := range stats {
		if stats[i].ResponseCount > 0 {
			stats[i].AverageResponseTimeMs /= float64(stats[i].ResponseCount)
		}
		stats[i].TotalCost = participantCost(d, stats[i].Model)
	}

	return &models.DebateSummary{
		DebateID:           d.ID,
		Topic:              d.Config.Topic,
		Status:             d.Status,
		RoundsCompleted:    countCompletedRounds(d),
		TotalRounds:        d.Config.MaxRounds,
		Participants:       names,
		ParticipantStats:   stats,
		TotalTokens:        d.TotalTokens,
		TotalCost:          d.TotalCost,
		DurationSeconds:    d.UpdatedAt.Sub(d.CreatedAt).Seconds(),
		MarkdownTranscript: renderTranscript(d),
		CreatedAt:          d.CreatedAt,
		CompletedAt:        d.UpdatedAt,
	}, nil
}

// ExportMarkdown renders the whole debate as a standalone markdown document.
func (s *Service) ExportMarkdown(id string) (string, error) {
	summary, err := s.Summary(id)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Debate: %s\n\n", summary.Topic))
	sb.WriteString(fmt.Sprintf("**Status:** %s  \n", summary.Status))
	sb.WriteString(fmt.Sprintf("**Rounds:** %d of %d  \n", summary.RoundsCompleted, summary.TotalRounds))
	sb.WriteString(fmt.Sprintf("**Total cost:** %s\n\n", tokens.FormatCost(summary.TotalCost)))

	sb.WriteString("## Participants\n\n")
	sb.WriteString("| Name | Model | Responses | Tokens | Cost | Avg Response |\n")
	sb.WriteString("|------|-------|-----------|--------|------|-------------|\n")
	for _, st := range summary.ParticipantStats {
		sb.WriteString(fmt.Sprintf("| **%s** | %s | %d | %d | %s | %.0fms |\n",
			st.Name, st.Model, st.ResponseCount, st.TotalTokens,
			tokens.FormatCost(st.TotalCost), st.AverageResponseTimeMs))
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(summary.MarkdownTranscript)
	return sb.String(), nil
}

// renderTranscript renders the rounds as markdown, skipping empty rounds.
func renderTranscript(d *models.Debate) string {
	var sb strings.Builder
	sb.WriteString("## Transcript\n")
	for _, round := range d.Rounds {
		if len(round.Responses) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n### Round %d\n\n", round.RoundNumber))
		for _, resp := range round.Responses {
			sb.WriteString(fmt.Sprintf("**%s** (%s):\n\n", resp.ParticipantName, resp.Model))
			sb.WriteString(resp.Content)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

// participantCost apportions the debate cost to one model. Several
// participants sharing a model split its spend evenly.
func participantCost(d *models.Debate, model string) float64 {
	modelTokens := d.TotalTokens[model]
	if modelTokens == 0 {
		return 0
	}
	sharing := 0
	for _, p := range d.Config.Participants {
		if p.Model == model {
			sharing++
		}
	}
	total := 0
	for _, v := range d.TotalTokens {
		total += v
	}
	if total == 0 || sharing == 0 {
		return 0
	}
	return d.TotalCost * (float64(modelTokens) / float64(total)) / float64(sharing)
}
