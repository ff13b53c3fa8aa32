package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaultsWithNoArgs(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(8000), cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.SessionTimeout)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParseOverridesFlags(t *testing.T) {
	cfg, err := Parse([]string{"--port=9100", "--workers=8", "--log-level=debug", "--redis-addr=localhost:6379"})
	require.NoError(t, err)
	assert.Equal(t, uint16(9100), cfg.Port)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	_, err := Parse([]string{"--not-a-real-flag"})
	assert.Error(t, err)
}

func TestValidateRejectsZeroPort(t *testing.T) {
	cfg := defaults()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveWorkerCount(t *testing.T) {
	cfg := defaults()
	cfg.WorkerCount = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeSubReactorCount(t *testing.T) {
	cfg := defaults()
	cfg.SubReactorCount = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, defaults().Validate())
}
