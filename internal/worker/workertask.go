package worker

import (
	"time"

	"github.com/lsk225456/agv-gateway/internal/proto"
	"github.com/lsk225456/agv-gateway/internal/reactor"
	"github.com/lsk225456/agv-gateway/internal/session"
)

// WorkerTask carries everything a slow-path handler needs off the I/O
// thread: the session it concerns, the parsed payload, and when it was
// handed off, modeled on WorkerTask.h. It holds connID rather than a
// live connection pointer, resolved back through the reactor's
// connection registry only if the handler actually needs to reply.
type WorkerTask struct {
	ConnID      uint64
	Session     *session.AgvSession
	MsgType     proto.MsgType
	Message     proto.Message
	SubmittedAt reactor.Timestamp
}

func NewWorkerTask(connID uint64, sess *session.AgvSession, msgType proto.MsgType, msg proto.Message) WorkerTask {
	return WorkerTask{
		ConnID:      connID,
		Session:     sess,
		MsgType:     msgType,
		Message:     msg,
		SubmittedAt: reactor.Now(),
	}
}

// QueueLatency reports how long the task sat in the pool's queue before a
// worker picked it up.
func (t WorkerTask) QueueLatency() time.Duration {
	return reactor.Now().Sub(t.SubmittedAt)
}
