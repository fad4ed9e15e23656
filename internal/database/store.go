// Package database persists conversations, messages, embeddings and quality
// findings in PostgreSQL with the pgvector extension.
package database

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// embeddingDimension matches text-embedding-3-small.
const embeddingDimension = 1536

// Config holds connection pool settings.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns default pool settings for a local database.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:             url,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Store is the PostgreSQL-backed persistence layer.
type Store struct {
	config *Config
	logger *logrus.Logger

	mu        sync.RWMutex
	pool      *pgxpool.Pool
	connected bool
}

// NewStore creates a store. Connect must be called before use.
func NewStore(config *Config, logger *logrus.Logger) (*Store, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{config: config, logger: logger}, nil
}

// Connect establishes the pool, enables pgvector and migrates the schema.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	poolConfig, err := pgxpool.ParseConfig(s.config.URL)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}
	if s.config.MaxConns > 0 {
		poolConfig.MaxConns = s.config.MaxConns
	}
	if s.config.MinConns > 0 {
		poolConfig.MinConns = s.config.MinConns
	}
	if s.config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = s.config.MaxConnLifetime
	}
	if s.config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = s.config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}

	s.pool = pool
	s.connected = true

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		s.pool = nil
		s.connected = false
		return err
	}

	s.logger.Info("Connected to PostgreSQL with pgvector")
	return nil
}

// migrate creates the schema if it does not exist.
func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			current_health_score DOUBLE PRECISION NOT NULL DEFAULT 100,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sequence_number INTEGER NOT NULL,
			round_number INTEGER NOT NULL,
			turn_index INTEGER NOT NULL,
			agent_name TEXT NOT NULL,
			agent_model TEXT NOT NULL,
			content TEXT NOT NULL,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			response_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
			ON messages (conversation_id, sequence_number)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS message_embeddings (
			message_id TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
			embedding vector(%d) NOT NULL,
			model_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, embeddingDimension),
		`CREATE INDEX IF NOT EXISTS idx_message_embeddings_hnsw
			ON message_embeddings USING hnsw (embedding vector_cosine_ops)
			WITH (m = 16, ef_construction = 64)`,
		`CREATE TABLE IF NOT EXISTS contradictions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			message_id_a TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			message_id_b TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			similarity DOUBLE PRECISION NOT NULL,
			severity TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			detected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_loops (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			pattern TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			message_ids TEXT[] NOT NULL,
			repetition_count INTEGER NOT NULL,
			agents_involved TEXT[] NOT NULL,
			intervention_text TEXT NOT NULL DEFAULT '',
			detected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_quality (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			health_score DOUBLE PRECISION NOT NULL,
			coherence_score DOUBLE PRECISION NOT NULL,
			contradiction_score DOUBLE PRECISION NOT NULL DEFAULT 100,
			loop_score DOUBLE PRECISION NOT NULL DEFAULT 100,
			citation_score DOUBLE PRECISION NOT NULL DEFAULT 100,
			progress_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			productivity_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			analysis_metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS message_citations (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	s.connected = false
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.pool == nil {
		return fmt.Errorf("not connected")
	}
	return s.pool.Ping(ctx)
}

// IsConnected reports whether Connect has succeeded.
func (s *Store) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Store) conn() (*pgxpool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.pool == nil {
		return nil, fmt.Errorf("not connected")
	}
	return s.pool, nil
}

// vectorToString converts a float32 slice to pgvector text format.
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = fmt.Sprintf("%f", val)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
