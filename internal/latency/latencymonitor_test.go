package latency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsk225456/agv-gateway/internal/proto"
)

func TestCreatePingAssignsIncreasingSeqNums(t *testing.T) {
	m := NewMonitor()
	p1 := m.CreatePing("AGV-1")
	p2 := m.CreatePing("AGV-1")
	assert.Less(t, p1.SeqNum, p2.SeqNum)
	assert.Equal(t, 2, m.OutstandingCount())
}

func TestProcessPongMatchesOutstandingPing(t *testing.T) {
	m := NewMonitor()
	ping := m.CreatePing("AGV-1")

	pong := &proto.LatencyProbe{SeqNum: ping.SeqNum, IsResponse: true}
	rtt := m.ProcessPong(pong)

	assert.GreaterOrEqual(t, rtt, 0.0)
	assert.Equal(t, 0, m.OutstandingCount())

	stats, ok := m.GetStats("AGV-1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.SampleCount)
	assert.Equal(t, stats.Latest, stats.Avg)
}

func TestProcessPongWithUnknownSeqReturnsNegativeOne(t *testing.T) {
	m := NewMonitor()
	pong := &proto.LatencyProbe{SeqNum: 999}
	assert.Equal(t, -1.0, m.ProcessPong(pong))
}

func TestProcessPongIsOneShot(t *testing.T) {
	m := NewMonitor()
	ping := m.CreatePing("AGV-1")
	pong := &proto.LatencyProbe{SeqNum: ping.SeqNum}

	first := m.ProcessPong(pong)
	assert.GreaterOrEqual(t, first, 0.0)

	second := m.ProcessPong(pong)
	assert.Equal(t, -1.0, second)
}

func TestStatsAccumulateMinMaxAvg(t *testing.T) {
	m := NewMonitor()
	seqs := make([]uint64, 3)
	for i := range seqs {
		seqs[i] = m.CreatePing("AGV-1").SeqNum
	}
	for _, seq := range seqs {
		m.ProcessPong(&proto.LatencyProbe{SeqNum: seq})
	}

	stats, ok := m.GetStats("AGV-1")
	require.True(t, ok)
	assert.Equal(t, uint64(3), stats.SampleCount)
	assert.LessOrEqual(t, stats.Min, stats.Avg)
	assert.GreaterOrEqual(t, stats.Max, stats.Avg)
}

func TestCleanupExpiredProbesPurgesOldPingsOnly(t *testing.T) {
	m := NewMonitor()
	m.CreatePing("AGV-1")
	purged := m.CleanupExpiredProbes(0)
	assert.Equal(t, 1, purged)
	assert.Equal(t, 0, m.OutstandingCount())
}

func TestCleanupExpiredProbesKeepsFreshPings(t *testing.T) {
	m := NewMonitor()
	m.CreatePing("AGV-1")
	purged := m.CleanupExpiredProbes(60_000)
	assert.Equal(t, 0, purged)
	assert.Equal(t, 1, m.OutstandingCount())
}

func TestGetAllStatsReturnsEveryTrackedAgv(t *testing.T) {
	m := NewMonitor()
	p1 := m.CreatePing("AGV-1")
	p2 := m.CreatePing("AGV-2")
	m.ProcessPong(&proto.LatencyProbe{SeqNum: p1.SeqNum})
	m.ProcessPong(&proto.LatencyProbe{SeqNum: p2.SeqNum})

	all := m.GetAllStats()
	assert.Len(t, all, 2)
	_, ok1 := all["AGV-1"]
	_, ok2 := all["AGV-2"]
	assert.True(t, ok1)
	assert.True(t, ok2)
}
