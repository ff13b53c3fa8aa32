// Package session implements AgvSession and SessionManager: per-vehicle
// state with a fast/slow lock split, and the table that holds them keyed
// by AGV id.
package session

import (
	"sync"

	"github.com/lsk225456/agv-gateway/internal/concurrentmap"
	"github.com/lsk225456/agv-gateway/internal/reactor"
)

type State string

const (
	StateOnline   State = "ONLINE"
	StateOffline  State = "OFFLINE"
	StateCharging State = "CHARGING"
)

// Pose is read and written at ~50 Hz; callers must go through
// AgvSession's Pose accessors rather than touching this directly.
type Pose struct {
	X          float64
	Y          float64
	Theta      float64
	Confidence float64
}

// AgvSession holds per-vehicle state. Pose lives behind a SpinLock
// because it's the dominant short critical section on the I/O thread;
// everything else lives behind a general mutex.
type AgvSession struct {
	AgvID string // immutable for the session's lifetime

	pose     Pose
	poseLock SpinLock

	mu             sync.Mutex
	lastActiveTime reactor.Timestamp
	batteryLevel   float64
	state          State
	connID         uint64
	hasConn        bool

	lowBatteryChargeSent bool
}

func NewAgvSession(agvID string) *AgvSession {
	return &AgvSession{
		AgvID:          agvID,
		state:          StateOnline,
		lastActiveTime: reactor.Now(),
	}
}

func (s *AgvSession) SetPose(p Pose) {
	s.poseLock.Lock()
	s.pose = p
	s.poseLock.Unlock()
}

func (s *AgvSession) Pose() Pose {
	s.poseLock.Lock()
	p := s.pose
	s.poseLock.Unlock()
	return p
}

func (s *AgvSession) Touch(now reactor.Timestamp) {
	s.mu.Lock()
	s.lastActiveTime = now
	s.mu.Unlock()
}

func (s *AgvSession) LastActiveTime() reactor.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveTime
}

// SetBatteryLevel clamps to [0, 100], preserving the invariant.
func (s *AgvSession) SetBatteryLevel(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	s.mu.Lock()
	s.batteryLevel = level
	s.mu.Unlock()
}

func (s *AgvSession) BatteryLevel() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batteryLevel
}

func (s *AgvSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *AgvSession) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SetConnection replaces the session's connection id, the Go stand-in for
// updating a weak reference.
func (s *AgvSession) SetConnection(connID uint64) {
	s.mu.Lock()
	s.connID = connID
	s.hasConn = true
	s.mu.Unlock()
}

func (s *AgvSession) ClearConnection() {
	s.mu.Lock()
	s.hasConn = false
	s.mu.Unlock()
}

func (s *AgvSession) ConnectionID() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID, s.hasConn
}

// MarkLowBatteryChargeSent / LowBatteryChargeSent implement the
// single-fire-per-episode guard on the low-battery auto-charge rule.
func (s *AgvSession) MarkLowBatteryChargeSent(v bool) {
	s.mu.Lock()
	s.lowBatteryChargeSent = v
	s.mu.Unlock()
}

func (s *AgvSession) LowBatteryChargeSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lowBatteryChargeSent
}

// SessionManager wraps a ConcurrentMap[string, *AgvSession] with session
// semantics.
type SessionManager struct {
	sessions *concurrentmap.Map[string, *AgvSession]
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: concurrentmap.New[string, *AgvSession]()}
}

// RegisterSession returns true on insert, false on replace (updating the
// existing session's connection reference in place).
func (sm *SessionManager) RegisterSession(agvID string, connID uint64) (*AgvSession, bool) {
	if existing, ok := sm.sessions.Find(agvID); ok {
		existing.SetConnection(connID)
		return existing, false
	}
	s := NewAgvSession(agvID)
	s.SetConnection(connID)
	sm.sessions.Insert(agvID, s)
	return s, true
}

func (sm *SessionManager) FindSession(agvID string) (*AgvSession, bool) {
	return sm.sessions.Find(agvID)
}

func (sm *SessionManager) RemoveSession(agvID string) bool {
	return sm.sessions.Erase(agvID)
}

// RemoveSessionByConnection erases every session whose connection id
// matches connID, mirroring connection teardown.
func (sm *SessionManager) RemoveSessionByConnection(connID uint64) int {
	return sm.sessions.EraseIf(func(_ string, s *AgvSession) bool {
		id, ok := s.ConnectionID()
		if ok && id == connID {
			s.ClearConnection()
			return true
		}
		return false
	})
}

func (sm *SessionManager) ForEach(fn func(string, *AgvSession)) { sm.sessions.ForEach(fn) }

func (sm *SessionManager) EraseIf(pred func(string, *AgvSession) bool) int {
	return sm.sessions.EraseIf(pred)
}

func (sm *SessionManager) Size() int  { return sm.sessions.Size() }
func (sm *SessionManager) Empty() bool { return sm.sessions.Empty() }

func (sm *SessionManager) GetAllAgvIDs() []string { return sm.sessions.Keys() }
