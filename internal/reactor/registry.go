package reactor

import "sync"

// connRegistry is the live connection lookup table that stands in for the
// weak-reference idiom the original design uses for TcpConnectionWeakPtr:
// anything that wants to hold a connection across a boundary where it
// shouldn't keep a dead connection alive stores the connID instead, and
// resolves it back through here at the moment of use. A miss means the
// peer is gone.
type connRegistry struct {
	mu    sync.RWMutex
	byID  map[uint64]*TcpConnection
}

func newConnRegistry() *connRegistry {
	return &connRegistry{byID: make(map[uint64]*TcpConnection)}
}

// Put indexes c by its connID. TcpServer calls it for every accepted
// connection; packages outside reactor (the gateway's AgvCommand
// forwarding, the worker pool's reply path) only read this table, through
// TcpServer.ConnectionRegistry().Get.
func (r *connRegistry) Put(c *TcpConnection) {
	r.mu.Lock()
	r.byID[c.connID] = c
	r.mu.Unlock()
}

func (r *connRegistry) Remove(id uint64) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// Get resolves connID to a live connection, the Go stand-in for
// upgrading a weak pointer. A miss (absent, or present but not
// Connected) mirrors a failed upgrade.
func (r *connRegistry) Get(id uint64) (*TcpConnection, bool) {
	r.mu.RLock()
	c, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok || c.State() != StateConnected {
		return nil, false
	}
	return c, true
}

func (r *connRegistry) ForEach(fn func(*TcpConnection)) {
	r.mu.RLock()
	snapshot := make([]*TcpConnection, 0, len(r.byID))
	for _, c := range r.byID {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()
	for _, c := range snapshot {
		fn(c)
	}
}

func (r *connRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
