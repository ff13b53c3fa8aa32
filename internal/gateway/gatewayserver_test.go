package gateway

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lsk225456/agv-gateway/internal/codec"
	"github.com/lsk225456/agv-gateway/internal/config"
	"github.com/lsk225456/agv-gateway/internal/dispatcher"
	"github.com/lsk225456/agv-gateway/internal/proto"
)

func testConfig(port uint16) config.Config {
	return config.Config{
		Port:                 port,
		SessionTimeout:       2 * time.Second,
		SubReactorCount:      0,
		WorkerCount:          16,
		LatencyProbeInterval: time.Second,
		AdminAddr:            ":0",
		DashboardAddr:        ":0",
		HealthAddr:           ":0",
		LogLevel:             "info",
		RateLimitPerSecond:   2,
		RedisAddr:            "",
	}
}

func startTestServer(t *testing.T, port uint16) *Server {
	t.Helper()
	srv, err := New(testConfig(port), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Start(ctx)
		close(done)
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	t.Cleanup(func() {
		cancel()
		srv.Stop(context.Background())
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return srv
}

func sendFrame(t *testing.T, conn net.Conn, msgType proto.MsgType, msg proto.Message) {
	t.Helper()
	payload, err := msg.MarshalBinary()
	require.NoError(t, err)
	frame, err := codec.EncodeFrame(uint16(msgType), 0, payload)
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)
}

func TestGatewayRateLimitsHeartbeatFlood(t *testing.T) {
	srv := startTestServer(t, 19180)

	conn, err := net.Dial("tcp", "127.0.0.1:19180")
	require.NoError(t, err)
	defer conn.Close()

	// DefaultConfig's Burst (100) must be exceeded in one go; RatePerSecond
	// alone wouldn't reject anything this quickly.
	for i := 0; i < 150; i++ {
		sendFrame(t, conn, proto.MsgHeartbeat, &proto.Heartbeat{AgvID: "AGV-FLOOD"})
	}

	assert.Eventually(t, func() bool {
		stats := srv.Stats()
		return stats.RateLimitRejected > 0
	}, time.Second, 10*time.Millisecond)
}

func TestGatewayRateLimitsNavigationTaskFlood(t *testing.T) {
	srv := startTestServer(t, 19181)

	conn, err := net.Dial("tcp", "127.0.0.1:19181")
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 110; i++ {
		sendFrame(t, conn, proto.MsgNavigationTask, &proto.NavigationTask{TargetAgvID: "AGV-NAV-FLOOD"})
	}

	assert.Eventually(t, func() bool {
		stats := srv.Stats()
		return stats.RateLimitRejected > 0
	}, time.Second, 10*time.Millisecond)
}

func TestGatewayTelemetryCreatesQueryableSession(t *testing.T) {
	srv := startTestServer(t, 19182)

	conn, err := net.Dial("tcp", "127.0.0.1:19182")
	require.NoError(t, err)
	defer conn.Close()

	sendFrame(t, conn, proto.MsgTelemetry, &proto.Telemetry{AgvID: "AGV-1", Battery: 80, X: 1, Y: 2})

	assert.Eventually(t, func() bool {
		_, ok := srv.FindSession("AGV-1")
		return ok
	}, time.Second, 10*time.Millisecond)
}

// TestGatewayDispatchSurvivesHandlerPanic installs a deliberately
// panicking Heartbeat handler on a live server's dispatcher, then proves
// a panicking message neither crashes the reactor loop nor wedges the
// connection it arrived on: a later, well-behaved message still gets a
// session.
func TestGatewayDispatchSurvivesHandlerPanic(t *testing.T) {
	srv := startTestServer(t, 19183)
	dispatcher.Register(srv.disp, proto.MsgHeartbeat,
		func() *proto.Heartbeat { return &proto.Heartbeat{} },
		func(conn dispatcher.Conn, msg *proto.Heartbeat) { panic("boom") })

	conn, err := net.Dial("tcp", "127.0.0.1:19183")
	require.NoError(t, err)
	defer conn.Close()

	sendFrame(t, conn, proto.MsgHeartbeat, &proto.Heartbeat{AgvID: "AGV-PANIC"})
	sendFrame(t, conn, proto.MsgTelemetry, &proto.Telemetry{AgvID: "AGV-2", Battery: 90})

	assert.Eventually(t, func() bool {
		_, ok := srv.FindSession("AGV-2")
		return ok
	}, time.Second, 10*time.Millisecond)
}
