package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RatePerSecond = 2
	cfg.Burst = 2
	cfg.CleanupInterval = time.Hour
	return cfg
}

func TestAllowPermitsUpToBurstThenRejects(t *testing.T) {
	l := New(testConfig(), nil)
	defer l.Close()

	assert.True(t, l.Allow("AGV-1"))
	assert.True(t, l.Allow("AGV-1"))
	assert.False(t, l.Allow("AGV-1"))

	allowed, rejected := l.Stats()
	assert.Equal(t, int64(2), allowed)
	assert.Equal(t, int64(1), rejected)
}

func TestAllowTracksEachAgvIndependently(t *testing.T) {
	l := New(testConfig(), nil)
	defer l.Close()

	assert.True(t, l.Allow("AGV-1"))
	assert.True(t, l.Allow("AGV-1"))
	assert.False(t, l.Allow("AGV-1"))

	assert.True(t, l.Allow("AGV-2"))
}

func TestDistributedIsFalseWithoutRedisClient(t *testing.T) {
	l := New(testConfig(), nil)
	defer l.Close()
	assert.False(t, l.Distributed())
}
