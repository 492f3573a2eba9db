package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 3*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.WarningWindow)
	assert.Equal(t, 5*time.Second, cfg.Session.WarningInterval)
	assert.Equal(t, time.Second, cfg.Session.TickInterval)
	assert.Equal(t, 10, cfg.Rag.ChatTopK)
	assert.Equal(t, 4, cfg.Rag.QueryTopK)
	assert.Equal(t, 100, cfg.Rag.HistoryLimit)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_IDLE_TIMEOUT", "90s")
	t.Setenv("RAG_CHAT_TOP_K", "7")
	t.Setenv("SESSION_TICK_INTERVAL", "not-a-duration")

	cfg := Load()

	assert.Equal(t, 90*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, 7, cfg.Rag.ChatTopK)
	assert.Equal(t, time.Second, cfg.Session.TickInterval)
}
