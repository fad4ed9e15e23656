package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10, cfg.Database.MaxConns)
	assert.Equal(t, 120*time.Second, cfg.LLM.TurnTimeout)
	assert.Equal(t, 100_000, cfg.Debate.MaxContextTokens)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TURN_TIMEOUT", "45s")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DB_MAX_CONNECTIONS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 45*time.Second, cfg.LLM.TurnTimeout)
	assert.True(t, cfg.Redis.Enabled)
	// Unparseable values fall back to the default.
	assert.Equal(t, 10, cfg.Database.MaxConns)
}
