package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JOB_NAMESPACE", "")
	t.Setenv("RESYNC_WINDOW", "")
	t.Setenv("PUBLISH_TIMEOUT", "")

	cfg := LoadConfig()

	assert.Equal(t, "publish-entry", cfg.JobNamespace)
	assert.Equal(t, 24*24*time.Hour, cfg.ResyncWindow)
	assert.Equal(t, 30*time.Second, cfg.PublishTimeout)
	assert.Equal(t, "@daily", cfg.ResyncSpec)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JOB_NAMESPACE", "staging-entry")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("RESYNC_WINDOW", "48h")
	t.Setenv("RESYNC_ON_START", "false")
	t.Setenv("PUBLISH_RATE_PER_SEC", "0.5")

	cfg := LoadConfig()

	assert.Equal(t, "staging-entry", cfg.JobNamespace)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 48*time.Hour, cfg.ResyncWindow)
	assert.False(t, cfg.ResyncOnStart)
	assert.InDelta(t, 0.5, cfg.PublishRatePerSec, 1e-9)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	t.Setenv("PUBLISH_TIMEOUT", "soon")

	cfg := LoadConfig()

	assert.Equal(t, 10, cfg.WorkerConcurrency)
	assert.Equal(t, 30*time.Second, cfg.PublishTimeout)
}
