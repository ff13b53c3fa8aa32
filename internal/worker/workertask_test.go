package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lsk225456/agv-gateway/internal/proto"
	"github.com/lsk225456/agv-gateway/internal/session"
)

func TestNewWorkerTaskCapturesSubmitTime(t *testing.T) {
	sess := session.NewAgvSession("AGV-1")
	hb := &proto.Heartbeat{AgvID: "AGV-1"}

	task := NewWorkerTask(7, sess, proto.MsgHeartbeat, hb)

	assert.Equal(t, uint64(7), task.ConnID)
	assert.Same(t, sess, task.Session)
	assert.Equal(t, proto.MsgHeartbeat, task.MsgType)
	assert.Same(t, hb, task.Message)
}

func TestQueueLatencyGrowsWithElapsedTime(t *testing.T) {
	task := NewWorkerTask(1, session.NewAgvSession("AGV-1"), proto.MsgHeartbeat, &proto.Heartbeat{})
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, task.QueueLatency(), time.Duration(0))
}
