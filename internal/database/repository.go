package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/krjordan/quorum/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// CreateConversation inserts the header row quality data hangs off. The
// caller supplies the ID so it can mirror the debate ID.
func (s *Store) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = pool.Exec(ctx,
		`INSERT INTO conversations (id, title, topic, current_health_score, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (id) DO NOTHING`,
		conv.ID, conv.Title, conv.Topic, conv.CurrentHealthScore, now)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation fetches a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}

	var conv models.Conversation
	err = pool.QueryRow(ctx,
		`SELECT id, title, topic, current_health_score, created_at, updated_at
		 FROM conversations WHERE id = $1`, id).
		Scan(&conv.ID, &conv.Title, &conv.Topic, &conv.CurrentHealthScore, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// UpdateConversationHealth writes the latest overall health score back onto
// the conversation row.
func (s *Store) UpdateConversationHealth(ctx context.Context, id string, score float64) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx,
		`UPDATE conversations SET current_health_score = $2, updated_at = NOW() WHERE id = $1`,
		id, score)
	if err != nil {
		return fmt.Errorf("failed to update conversation health: %w", err)
	}
	return nil
}

// InsertMessage persists one participant response and returns its ID.
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) (string, error) {
	pool, err := s.conn()
	if err != nil {
		return "", err
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO messages
			(id, conversation_id, sequence_number, round_number, turn_index,
			 agent_name, agent_model, content, tokens_used, response_time_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.ConversationID, msg.SequenceNumber, msg.RoundNumber, msg.TurnIndex,
		msg.AgentName, msg.AgentModel, msg.Content, msg.TokensUsed, msg.ResponseTimeMs)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return msg.ID, nil
}

// MessageCount returns how many messages a conversation holds.
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	pool, err := s.conn()
	if err != nil {
		return 0, err
	}

	var count int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// RecentMessages returns the last limit messages in chronological order.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		`SELECT id, conversation_id, sequence_number, round_number, turn_index,
		        agent_name, agent_model, content, tokens_used, response_time_ms, created_at
		 FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1
			ORDER BY sequence_number DESC
			LIMIT $2
		 ) recent
		 ORDER BY sequence_number ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SequenceNumber, &m.RoundNumber, &m.TurnIndex,
			&m.AgentName, &m.AgentModel, &m.Content, &m.TokensUsed, &m.ResponseTimeMs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return out, nil
}

// InsertEmbedding stores a message embedding. Re-inserting for the same
// message is a no-op so retries stay idempotent.
func (s *Store) InsertEmbedding(ctx context.Context, emb *models.Embedding) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO message_embeddings (message_id, embedding, model_name)
		 VALUES ($1, $2::vector, $3)
		 ON CONFLICT (message_id) DO NOTHING`,
		emb.MessageID, vectorToString(emb.Vector), emb.ModelName)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

// HasEmbedding reports whether a message already has a stored vector.
func (s *Store) HasEmbedding(ctx context.Context, messageID string) (bool, error) {
	pool, err := s.conn()
	if err != nil {
		return false, err
	}

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM message_embeddings WHERE message_id = $1)`, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check embedding: %w", err)
	}
	return exists, nil
}

// SimilarMessage is one ANN search hit with its cosine similarity.
type SimilarMessage struct {
	Message    models.Message
	Similarity float64
}

// SimilarMessages finds the messages in a conversation most similar to the
// query vector, excluding one message ID (typically the query's own row).
// Similarity maps pgvector's cosine distance into [0, 1].
func (s *Store) SimilarMessages(ctx context.Context, conversationID string, vector []float32, excludeMessageID string, limit int) ([]SimilarMessage, error) {
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 10
	}
	rows, err := pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.sequence_number, m.round_number, m.turn_index,
		        m.agent_name, m.agent_model, m.content, m.tokens_used, m.response_time_ms, m.created_at,
		        1 - (e.embedding <=> $1::vector) / 2 AS similarity
		 FROM message_embeddings e
		 JOIN messages m ON m.id = e.message_id
		 WHERE m.conversation_id = $2 AND m.id <> $3
		 ORDER BY e.embedding <=> $1::vector
		 LIMIT $4`,
		vectorToString(vector), conversationID, excludeMessageID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	var out []SimilarMessage
	for rows.Next() {
		var sm SimilarMessage
		m := &sm.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SequenceNumber, &m.RoundNumber, &m.TurnIndex,
			&m.AgentName, &m.AgentModel, &m.Content, &m.TokensUsed, &m.ResponseTimeMs, &m.CreatedAt,
			&sm.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan similar message: %w", err)
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar messages: %w", err)
	}
	return out, nil
}

// InsertContradiction records a detected contradiction.
func (s *Store) InsertContradiction(ctx context.Context, c *models.Contradiction) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO contradictions
			(id, conversation_id, message_id_a, message_id_b, similarity, severity, explanation)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.ConversationID, c.MessageIDA, c.MessageIDB, c.Similarity, string(c.Severity), c.Explanation)
	if err != nil {
		return fmt.Errorf("failed to insert contradiction: %w", err)
	}
	return nil
}

// Contradictions lists all contradictions found in a conversation.
func (s *Store) Contradictions(ctx context.Context, conversationID string) ([]models.Contradiction, error) {
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		`SELECT id, conversation_id, message_id_a, message_id_b, similarity, severity, explanation, detected_at
		 FROM contradictions
		 WHERE conversation_id = $1
		 ORDER BY detected_at ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contradictions: %w", err)
	}
	defer rows.Close()

	var out []models.Contradiction
	for rows.Next() {
		var c models.Contradiction
		var severity string
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.MessageIDA, &c.MessageIDB,
			&c.Similarity, &severity, &c.Explanation, &c.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contradiction: %w", err)
		}
		c.Severity = models.ContradictionSeverity(severity)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contradictions: %w", err)
	}
	return out, nil
}

// InsertLoop records a detected repetition loop.
func (s *Store) InsertLoop(ctx context.Context, l *models.Loop) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}

	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO conversation_loops
			(id, conversation_id, pattern, fingerprint, message_ids, repetition_count, agents_involved, intervention_text)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.ConversationID, l.Pattern, l.Fingerprint, l.MessageIDs, l.RepetitionCount, l.AgentsInvolved, l.InterventionText)
	if err != nil {
		return fmt.Errorf("failed to insert loop: %w", err)
	}
	return nil
}

// Loops lists all loops detected in a conversation.
func (s *Store) Loops(ctx context.Context, conversationID string) ([]models.Loop, error) {
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		`SELECT id, conversation_id, pattern, fingerprint, message_ids, repetition_count, agents_involved, intervention_text, detected_at
		 FROM conversation_loops
		 WHERE conversation_id = $1
		 ORDER BY detected_at ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query loops: %w", err)
	}
	defer rows.Close()

	var out []models.Loop
	for rows.Next() {
		var l models.Loop
		if err := rows.Scan(&l.ID, &l.ConversationID, &l.Pattern, &l.Fingerprint,
			&l.MessageIDs, &l.RepetitionCount, &l.AgentsInvolved, &l.InterventionText, &l.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan loop: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loops: %w", err)
	}
	return out, nil
}

// InsertHealthSample appends one row to the quality time series.
func (s *Store) InsertHealthSample(ctx context.Context, h *models.HealthSample) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}

	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.AnalysisMetadata == nil {
		h.AnalysisMetadata = map[string]any{}
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO conversation_quality
			(id, conversation_id, health_score, coherence_score, contradiction_score,
			 loop_score, citation_score, progress_score, productivity_score,
			 status, message_count, analysis_metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		h.ID, h.ConversationID, h.HealthScore, h.CoherenceScore, h.ContradictionScore,
		h.LoopScore, h.CitationScore, h.ProgressScore, h.ProductivityScore,
		string(h.Status), h.MessageCount, h.AnalysisMetadata)
	if err != nil {
		return fmt.Errorf("failed to insert health sample: %w", err)
	}
	return nil
}

// LatestHealthSample returns the most recent quality row for a conversation.
func (s *Store) LatestHealthSample(ctx context.Context, conversationID string) (*models.HealthSample, error) {
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}

	var h models.HealthSample
	var status string
	err = pool.QueryRow(ctx,
		`SELECT id, conversation_id, health_score, coherence_score, contradiction_score,
		        loop_score, citation_score, progress_score, productivity_score,
		        status, message_count, analysis_metadata, created_at
		 FROM conversation_quality
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		conversationID).
		Scan(&h.ID, &h.ConversationID, &h.HealthScore, &h.CoherenceScore, &h.ContradictionScore,
			&h.LoopScore, &h.CitationScore, &h.ProgressScore, &h.ProductivityScore,
			&status, &h.MessageCount, &h.AnalysisMetadata, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health sample: %w", err)
	}
	h.Status = models.HealthStatus(status)
	return &h, nil
}

// InsertCitation records a source citation extracted from a message.
func (s *Store) InsertCitation(ctx context.Context, messageID, url, title string) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO message_citations (id, message_id, url, title) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), messageID, url, title)
	if err != nil {
		return fmt.Errorf("failed to insert citation: %w", err)
	}
	return nil
}

// CitationCount returns the number of citations across a conversation.
func (s *Store) CitationCount(ctx context.Context, conversationID string) (int, error) {
	pool, err := s.conn()
	if err != nil {
		return 0, err
	}

	var count int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_citations c
		 JOIN messages m ON m.id = c.message_id
		 WHERE m.conversation_id = $1`,
		conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count citations: %w", err)
	}
	return count, nil
}
