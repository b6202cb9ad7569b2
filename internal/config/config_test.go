package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "55", cfg.DefaultCountryCode)
	assert.False(t, cfg.WebhookAllowUnverified)
	assert.Equal(t, 3, cfg.SendMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.SendBaseDelay)
	assert.Equal(t, 2, cfg.WorkerCount)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_COUNTRY_CODE", "1")
	t.Setenv("WEBHOOK_ALLOW_UNVERIFIED", "true")
	t.Setenv("SEND_MAX_ATTEMPTS", "7")
	t.Setenv("SEND_BASE_DELAY", "250ms")
	t.Setenv("SEND_RATE_PER_SEC", "2.5")
	t.Setenv("USE_MEMORY_QUEUE", "true")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "1", cfg.DefaultCountryCode)
	assert.True(t, cfg.WebhookAllowUnverified)
	assert.Equal(t, 7, cfg.SendMaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.SendBaseDelay)
	assert.Equal(t, 2.5, cfg.SendRatePerSec)
	assert.True(t, cfg.UseMemoryQueue)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SEND_MAX_ATTEMPTS", "lots")
	t.Setenv("SEND_BASE_DELAY", "soon")
	t.Setenv("WEBHOOK_ALLOW_UNVERIFIED", "yep")

	cfg := Load()

	assert.Equal(t, 3, cfg.SendMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.SendBaseDelay)
	assert.False(t, cfg.WebhookAllowUnverified)
}
