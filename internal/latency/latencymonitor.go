// Package latency implements LatencyMonitor: a ping/pong round-trip-time
// tracker keyed by a monotonically increasing sequence number, grounded
// in LatencyMonitor.cc.
package latency

import (
	"sync"
	"time"

	"github.com/lsk225456/agv-gateway/internal/proto"
	"github.com/lsk225456/agv-gateway/internal/reactor"
)

type pending struct {
	agvID    string
	sendTime reactor.Timestamp
}

// Stats holds per-agv RTT statistics, all in milliseconds.
type Stats struct {
	Latest      float64
	Avg         float64
	Min         float64
	Max         float64
	SampleCount uint64
	total       float64
}

// Monitor is the concrete LatencyMonitor.
type Monitor struct {
	mu       sync.Mutex
	seq      uint64
	outbound map[uint64]pending
	stats    map[string]*Stats
}

func NewMonitor() *Monitor {
	return &Monitor{
		outbound: make(map[uint64]pending),
		stats:    make(map[string]*Stats),
	}
}

// CreatePing allocates the next sequence number, records the outstanding
// probe, and returns the message to send.
func (m *Monitor) CreatePing(agvID string) *proto.LatencyProbe {
	now := reactor.Now()
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.outbound[seq] = pending{agvID: agvID, sendTime: now}
	m.mu.Unlock()

	return &proto.LatencyProbe{
		TargetAgvID:     agvID,
		SendTimestampUS: now.Micros(),
		SeqNum:          seq,
		IsResponse:      false,
	}
}

// ProcessPong resolves a pong against its outstanding ping, updates the
// per-agv stats, and returns the measured RTT in milliseconds. Returns -1
// if no matching ping is outstanding (already answered, expired, or
// never sent).
func (m *Monitor) ProcessPong(pong *proto.LatencyProbe) float64 {
	now := reactor.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.outbound[pong.SeqNum]
	if !ok {
		return -1.0
	}
	delete(m.outbound, pong.SeqNum)

	rttMS := float64(now.Sub(p.sendTime).Microseconds()) / 1000.0

	s, ok := m.stats[p.agvID]
	if !ok {
		s = &Stats{Min: rttMS, Max: rttMS}
		m.stats[p.agvID] = s
	}
	s.Latest = rttMS
	if rttMS < s.Min {
		s.Min = rttMS
	}
	if rttMS > s.Max {
		s.Max = rttMS
	}
	s.SampleCount++
	s.total += rttMS
	s.Avg = s.total / float64(s.SampleCount)

	return rttMS
}

// CleanupExpiredProbes erases outstanding pings that are at least
// timeoutMS old (measured at microsecond precision), treating them as
// lost.
func (m *Monitor) CleanupExpiredProbes(timeoutMS int64) int {
	now := reactor.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	timeout := time.Duration(timeoutMS) * time.Millisecond
	purged := 0
	for seq, p := range m.outbound {
		if now.Sub(p.sendTime) >= timeout {
			delete(m.outbound, seq)
			purged++
		}
	}
	return purged
}

// GetStats returns a snapshot of one agv's stats.
func (m *Monitor) GetStats(agvID string) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[agvID]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// GetAllStats returns a snapshot of every tracked agv's stats.
func (m *Monitor) GetAllStats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.stats))
	for agvID, s := range m.stats {
		out[agvID] = *s
	}
	return out
}

func (m *Monitor) OutstandingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbound)
}
