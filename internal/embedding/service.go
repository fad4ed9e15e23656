// Package embedding generates, caches and stores vector embeddings for
// debate messages.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/krjordan/quorum/internal/database"
	"github.com/krjordan/quorum/internal/models"
)

// ModelName is the embedding model every vector in the store comes from.
const ModelName = "text-embedding-3-small"

// cacheTTL bounds how long a cached vector survives; identical text always
// maps to the same vector so the TTL is generous.
const cacheTTL = 24 * time.Hour

// Embedder produces vectors for text. The production implementation calls
// the OpenAI embeddings API.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// vectorStore is the slice of the database layer this service needs.
type vectorStore interface {
	InsertEmbedding(ctx context.Context, emb *models.Embedding) error
	HasEmbedding(ctx context.Context, messageID string) (bool, error)
	SimilarMessages(ctx context.Context, conversationID string, vector []float32, excludeMessageID string, limit int) ([]database.SimilarMessage, error)
}

// Service generates embeddings with a Redis read-through cache and persists
// them via the database store.
type Service struct {
	embedder Embedder
	store    vectorStore
	cache    *redis.Client
	logger   *logrus.Logger
}

// NewService creates the embedding service. cache may be nil to disable
// caching.
func NewService(embedder Embedder, store vectorStore, cache *redis.Client, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		embedder: embedder,
		store:    store,
		cache:    cache,
		logger:   logger,
	}
}

// openaiEmbedder calls the OpenAI embeddings API.
type openaiEmbedder struct {
	client sdk.Client
}

// NewOpenAIEmbedder creates the production embedder.
func NewOpenAIEmbedder(apiKey string) Embedder {
	return &openaiEmbedder{client: sdk.NewClient(option.WithAPIKey(apiKey))}
}

func (e *openaiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModelTextEmbedding3Small,
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings API: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		// The API returns items with an index field; honor it rather than
		// assuming response order.
		out[d.Index] = vec
	}
	return out, nil
}

// cacheKey derives the Redis key for a text.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + ModelName + ":" + hex.EncodeToString(sum[:])
}

func (s *Service) cachedVector(ctx context.Context, text string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, cacheKey(text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WithError(err).Debug("Embedding cache read failed")
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (s *Service) storeInCache(ctx context.Context, text string, vec []float32) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(text), raw, cacheTTL).Err(); err != nil {
		s.logger.WithError(err).Debug("Embedding cache write failed")
	}
}

// Generate returns the embedding for a single text.
func (s *Service) Generate(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.cachedVector(ctx, text); ok {
		return vec, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	s.storeInCache(ctx, text, vecs[0])
	return vecs[0], nil
}

// GenerateBatch returns embeddings for texts, preserving input order. Cached
// texts are served locally; only misses go to the API.
func (s *Service) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := s.cachedVector(ctx, text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vecs, err := s.embedder.Embed(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			out[missingIdx[j]] = vec
			s.storeInCache(ctx, missing[j], vec)
		}
	}
	return out, nil
}

// Store persists an embedding for a message. Duplicate stores for the same
// message are no-ops.
func (s *Service) Store(ctx context.Context, messageID string, vector []float32) error {
	return s.store.InsertEmbedding(ctx, &models.Embedding{
		MessageID: messageID,
		Vector:    vector,
		ModelName: ModelName,
	})
}

// EmbedAndStore generates the embedding for a message's content and persists
// it, skipping the API call when the message already has a vector.
func (s *Service) EmbedAndStore(ctx context.Context, messageID, content string) ([]float32, error) {
	exists, err := s.store.HasEmbedding(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	vec, err := s.Generate(ctx, content)
	if err != nil {
		return nil, err
	}
	if err := s.Store(ctx, messageID, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// FindSimilar runs an ANN search over a conversation's stored embeddings.
func (s *Service) FindSimilar(ctx context.Context, conversationID string, vector []float32, excludeMessageID string, limit int) ([]database.SimilarMessage, error) {
	return s.store.SimilarMessages(ctx, conversationID, vector, excludeMessageID, limit)
}

// CosineSimilarity computes the cosine similarity of two vectors, clamped
// to [0, 1]. Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Min(1, math.Max(0, sim))
}
