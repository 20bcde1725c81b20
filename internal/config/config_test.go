package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("VIEW_DEBOUNCE_WINDOW", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Content.DebounceWindow)
	assert.Equal(t, 50*time.Millisecond, cfg.Playback.TickInterval)
	assert.Equal(t, "http://localhost:9090/uploads", cfg.Storage.BaseURL)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("VIEW_DEBOUNCE_WINDOW", "2s")
	t.Setenv("PLAYBACK_ACK_TIMEOUT", "not-a-duration")
	t.Setenv("DB_MAX_CONNS", "40")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Content.DebounceWindow)
	assert.Equal(t, 3*time.Second, cfg.Playback.AckTimeout, "invalid duration falls back")
	assert.Equal(t, int32(40), cfg.Database.MaxConns)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}
