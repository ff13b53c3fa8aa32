// Package reactor implements the epoll-based event loop runtime: Poller,
// Channel, EventLoop, TimerQueue, Acceptor, Connector, TcpConnection,
// EventLoopThreadPool, TcpServer and TcpClient.
package reactor

import "time"

// Timestamp is a point in time expressed as microseconds since the Unix
// epoch, read from the wall clock. It is not monotonic: a step of the
// system clock moves later readings by the same amount. A zero or
// negative value is the invalid sentinel.
type Timestamp struct {
	micros int64
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp{micros: time.Now().UnixMicro()}
}

// Invalid returns the zero-value sentinel.
func Invalid() Timestamp {
	return Timestamp{}
}

func (t Timestamp) Valid() bool { return t.micros > 0 }

func (t Timestamp) Micros() int64 { return t.micros }

// Add returns a new Timestamp offset by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp{micros: t.micros + d.Microseconds()}
}

func (t Timestamp) Before(other Timestamp) bool { return t.micros < other.micros }
func (t Timestamp) After(other Timestamp) bool  { return t.micros > other.micros }
func (t Timestamp) Equal(other Timestamp) bool  { return t.micros == other.micros }

// Sub returns the duration t - other.
func (t Timestamp) Sub(other Timestamp) time.Duration {
	return time.Duration(t.micros-other.micros) * time.Microsecond
}

func (t Timestamp) Time() time.Time {
	return time.UnixMicro(t.micros)
}

func (t Timestamp) String() string {
	if !t.Valid() {
		return "Timestamp(invalid)"
	}
	return t.Time().UTC().Format("2006-01-02 15:04:05.000000")
}
