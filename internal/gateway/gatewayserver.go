// Package gateway composes the reactor runtime, the message pipeline,
// and the fast/slow worker split into the top-level server: TcpServer,
// ProtobufDispatcher, SessionManager, ThreadPool and LatencyMonitor,
// plus the ambient/domain stack (config, logging, metrics, rate
// limiting, AdminAPI, Dashboard), grounded in GatewayServer.h/.cc.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/lsk225456/agv-gateway/internal/adminapi"
	"github.com/lsk225456/agv-gateway/internal/codec"
	"github.com/lsk225456/agv-gateway/internal/config"
	"github.com/lsk225456/agv-gateway/internal/dashboard"
	"github.com/lsk225456/agv-gateway/internal/dispatcher"
	"github.com/lsk225456/agv-gateway/internal/latency"
	"github.com/lsk225456/agv-gateway/internal/metrics"
	"github.com/lsk225456/agv-gateway/internal/proto"
	"github.com/lsk225456/agv-gateway/internal/ratelimit"
	"github.com/lsk225456/agv-gateway/internal/reactor"
	"github.com/lsk225456/agv-gateway/internal/session"
	"github.com/lsk225456/agv-gateway/internal/worker"

	promclient "github.com/prometheus/client_golang/prometheus"
)

const (
	watchdogInterval        = 100 * time.Millisecond
	latencyProbeCleanupMS   = 30_000
	navigationTaskSleep     = 200 * time.Millisecond
	lowBatteryThreshold     = 20.0
)

// Server is the concrete GatewayServer.
type Server struct {
	cfg    config.Config
	logger *zap.Logger

	loop   *reactor.EventLoop
	tcp    *reactor.TcpServer
	disp   *dispatcher.Dispatcher
	sess   *session.SessionManager
	pool   *worker.ThreadPool
	lat    *latency.Monitor
	met    *metrics.Registry
	limit  *ratelimit.Limiter
	hub    *dashboard.Hub
	admin  *adminapi.Server

	watchdogTimer reactor.TimerID
	probeTimer    reactor.TimerID
}

// New wires every component together but does not start them.
func New(cfg config.Config, logger *zap.Logger) (*Server, error) {
	loop, err := reactor.NewEventLoop()
	if err != nil {
		return nil, fmt.Errorf("gateway: new event loop: %w", err)
	}

	tcp, err := reactor.NewTcpServer(loop, "agv-gateway", fmt.Sprintf(":%d", cfg.Port), true)
	if err != nil {
		return nil, fmt.Errorf("gateway: new tcp server: %w", err)
	}
	if cfg.SubReactorCount > 0 {
		if err := tcp.SetThreadNum(cfg.SubReactorCount); err != nil {
			return nil, fmt.Errorf("gateway: set thread num: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RatePerSecond = cfg.RateLimitPerSecond

	met := metrics.New()
	reg := promclient.NewRegistry()
	met.MustRegister(reg)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		loop:   loop,
		tcp:    tcp,
		disp:   dispatcher.New(),
		sess:   session.NewSessionManager(),
		pool:   worker.NewThreadPool("agv-worker", logger),
		lat:    latency.NewMonitor(),
		met:    met,
		limit:  ratelimit.New(rlCfg, redisClient),
		hub:    dashboard.NewHub(logger),
	}
	s.admin = adminapi.New(logger, s, reg, cfg.AdminAddr, cfg.HealthAddr)

	s.registerHandlers()
	tcp.ConnectionCallback = s.onConnection
	tcp.MessageCallback = s.onMessage

	return s, nil
}

// Start begins accepting connections, schedules the watchdog and
// latency-probe timers, starts the worker pool, and runs the AdminAPI
// and Dashboard as independent goroutines, then blocks in the reactor
// loop until Stop is called from another goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.pool.SetMaxQueueSize(0)
	s.pool.Start(s.cfg.WorkerCount)

	if err := s.tcp.Start(1024); err != nil {
		return fmt.Errorf("gateway: start tcp server: %w", err)
	}

	s.watchdogTimer = s.loop.RunEvery(watchdogInterval, s.runWatchdog)
	s.probeTimer = s.loop.RunEvery(s.cfg.LatencyProbeInterval, s.runLatencyProbe)

	s.admin.Start()
	go s.hub.Run(ctx)
	go func() {
		if err := http.ListenAndServe(s.cfg.DashboardAddr, s.hub.Router()); err != nil {
			s.logger.Error("dashboard listener stopped", zap.Error(err))
		}
	}()

	s.logger.Info("agv gateway listening",
		zap.Uint16("port", s.cfg.Port),
		zap.Int("sub_reactors", s.cfg.SubReactorCount),
		zap.Int("workers", s.cfg.WorkerCount))

	s.loop.Loop()
	return nil
}

// Stop requests a graceful shutdown: quits the reactor, stops the
// worker pool, and tears down the admin listeners.
func (s *Server) Stop(ctx context.Context) {
	s.loop.CancelTimer(s.watchdogTimer)
	s.loop.CancelTimer(s.probeTimer)
	s.tcp.Stop()
	s.pool.Stop()
	s.limit.Close()
	if err := s.admin.Stop(ctx); err != nil {
		s.logger.Warn("admin API shutdown", zap.Error(err))
	}
	s.loop.Quit()
}

func (s *Server) registerHandlers() {
	dispatcher.Register(s.disp, proto.MsgTelemetry, func() *proto.Telemetry { return &proto.Telemetry{} }, s.handleTelemetry)
	dispatcher.Register(s.disp, proto.MsgHeartbeat, func() *proto.Heartbeat { return &proto.Heartbeat{} }, s.handleHeartbeat)
	dispatcher.Register(s.disp, proto.MsgNavigationTask, func() *proto.NavigationTask { return &proto.NavigationTask{} }, s.handleNavigationTask)
	dispatcher.Register(s.disp, proto.MsgAgvCommand, func() *proto.AgvCommand { return &proto.AgvCommand{} }, s.handleAgvCommand)
	dispatcher.Register(s.disp, proto.MsgLatencyProbe, func() *proto.LatencyProbe { return &proto.LatencyProbe{} }, s.handleLatencyProbe)

	s.disp.SetDefaultHandler(func(conn dispatcher.Conn, msgType proto.MsgType, payload []byte) {
		s.logger.Warn("unknown message type", zap.Uint16("msg_type", uint16(msgType)), zap.Int("payload_len", len(payload)))
	})
	s.disp.SetParseErrorHandler(func(msgType proto.MsgType, err error) {
		s.logger.Error("frame parse failure", zap.Uint16("msg_type", uint16(msgType)), zap.Error(err))
		s.met.FrameDecodeErrors.Inc()
	})
}

func (s *Server) onConnection(conn *reactor.TcpConnection) {
	if conn.Connected() {
		s.met.ActiveConnections.WithLabelValues(conn.Loop().String()).Inc()
		return
	}
	s.met.ActiveConnections.WithLabelValues(conn.Loop().String()).Dec()
	removed := s.sess.RemoveSessionByConnection(conn.ConnID())
	if removed > 0 {
		s.met.ActiveSessions.Set(float64(s.sess.Size()))
	}
}

func (s *Server) onMessage(conn *reactor.TcpConnection, buf *reactor.Buffer, receiveTime reactor.Timestamp) {
	for codec.HasCompleteMessage(buf) {
		frame, err := codec.Decode(buf)
		if err != nil {
			s.logger.Error("framing error, closing connection", zap.String("conn", conn.Name()), zap.Error(err))
			s.met.FrameDecodeErrors.Inc()
			conn.ForceClose()
			return
		}
		msgType := proto.MsgType(frame.MsgType)
		s.met.MessagesProcessed.WithLabelValues(msgType.String()).Inc()
		s.dispatchGuarded(conn, msgType, frame.Payload)
	}
}

// dispatchGuarded runs the dispatch inline on the I/O thread but recovers
// any handler panic: a programmer error in one handler must not take the
// whole reactor loop down with it.
func (s *Server) dispatchGuarded(conn *reactor.TcpConnection, msgType proto.MsgType, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered panic in message handler",
				zap.String("conn", conn.Name()), zap.Stringer("msg_type", msgType),
				zap.Any("panic", r), zap.StackSkip("stack", 1))
		}
	}()
	s.disp.Dispatch(conn, msgType, payload)
}

func (s *Server) send(conn dispatcher.Conn, msgType proto.MsgType, msg proto.Message) {
	payload, err := msg.MarshalBinary()
	if err != nil {
		s.logger.Error("marshal failure", zap.Error(err))
		return
	}
	frame, err := codec.EncodeFrame(uint16(msgType), 0, payload)
	if err != nil {
		s.logger.Error("encode failure", zap.Error(err))
		return
	}
	conn.Send(frame)
}

func (s *Server) handleTelemetry(conn dispatcher.Conn, msg *proto.Telemetry) {
	if !s.limit.Allow(msg.AgvID) {
		s.met.RateLimitDrops.Inc()
		s.logger.Warn("rate limit dropped message", zap.String("agv_id", msg.AgvID), zap.Stringer("msg_type", proto.MsgTelemetry))
		return
	}

	sess, created := s.sess.RegisterSession(msg.AgvID, conn.ConnID())
	if created {
		s.met.ActiveSessions.Set(float64(s.sess.Size()))
		s.hub.Publish(dashboard.Event{Kind: dashboard.EventSessionCreated, AgvID: msg.AgvID, TimeUnixMS: msg.TimestampUS / 1000})
	}
	now := reactor.Now()
	sess.Touch(now)
	sess.SetBatteryLevel(msg.Battery)
	sess.SetPose(session.Pose{X: msg.X, Y: msg.Y, Theta: msg.Theta, Confidence: msg.Confidence})
	if sess.State() != session.StateCharging {
		sess.SetState(session.StateOnline)
	}

	s.hub.Publish(dashboard.Event{
		Kind: dashboard.EventPose, AgvID: msg.AgvID,
		X: msg.X, Y: msg.Y, Theta: msg.Theta, Battery: msg.Battery,
		TimeUnixMS: now.Micros() / 1000,
	})

	if msg.Battery < lowBatteryThreshold && sess.State() != session.StateCharging {
		if !sess.LowBatteryChargeSent() {
			sess.MarkLowBatteryChargeSent(true)
			sess.SetState(session.StateCharging)
			s.send(conn, proto.MsgAgvCommand, &proto.AgvCommand{
				TargetAgvID: msg.AgvID,
				TimestampUS: now.Micros(),
				CmdType:     proto.CmdNavigateTo,
			})
		}
	} else if sess.State() == session.StateCharging && msg.Battery >= lowBatteryThreshold {
		sess.MarkLowBatteryChargeSent(false)
		sess.SetState(session.StateOnline)
	}
}

func (s *Server) handleHeartbeat(conn dispatcher.Conn, msg *proto.Heartbeat) {
	if !s.limit.Allow(msg.AgvID) {
		s.met.RateLimitDrops.Inc()
		s.logger.Warn("rate limit dropped message", zap.String("agv_id", msg.AgvID), zap.Stringer("msg_type", proto.MsgHeartbeat))
		return
	}

	sess, _ := s.sess.RegisterSession(msg.AgvID, conn.ConnID())
	sess.Touch(reactor.Now())
	s.send(conn, proto.MsgHeartbeat, &proto.Heartbeat{AgvID: msg.AgvID, TimestampUS: reactor.Now().Micros()})
}

func (s *Server) handleNavigationTask(conn dispatcher.Conn, msg *proto.NavigationTask) {
	if !s.limit.Allow(msg.TargetAgvID) {
		s.met.RateLimitDrops.Inc()
		s.logger.Warn("rate limit dropped message", zap.String("agv_id", msg.TargetAgvID), zap.Stringer("msg_type", proto.MsgNavigationTask))
		return
	}

	sess, _ := s.sess.RegisterSession(msg.TargetAgvID, conn.ConnID())
	task := worker.NewWorkerTask(conn.ConnID(), sess, proto.MsgNavigationTask, msg)
	s.met.WorkerQueueDepth.Set(float64(s.pool.QueueSize() + 1))

	s.pool.Run(func() {
		s.runNavigationTask(task)
	})
}

func (s *Server) runNavigationTask(task worker.WorkerTask) {
	s.met.WorkerTaskLatency.Observe(task.QueueLatency().Seconds())
	time.Sleep(navigationTaskSleep)

	conn, ok := s.tcp.ConnectionRegistry().Get(task.ConnID)
	if !ok {
		return // weak connection reference failed to upgrade: peer gone, drop silently.
	}
	conn.Loop().RunInLoop(func() {
		s.send(conn, proto.MsgCommonResponse, &proto.CommonResponse{
			Status:      proto.StatusOK,
			TimestampUS: reactor.Now().Micros(),
		})
	})
}

func (s *Server) handleAgvCommand(conn dispatcher.Conn, msg *proto.AgvCommand) {
	target, ok := s.sess.FindSession(msg.TargetAgvID)
	if !ok {
		s.send(conn, proto.MsgCommonResponse, &proto.CommonResponse{
			Status: proto.StatusInvalidRequest, Message: "unknown target agv", TimestampUS: reactor.Now().Micros(),
		})
		return
	}
	targetConnID, hasConn := target.ConnectionID()
	if !hasConn {
		s.send(conn, proto.MsgCommonResponse, &proto.CommonResponse{
			Status: proto.StatusInternalError, Message: "target peer not connected", TimestampUS: reactor.Now().Micros(),
		})
		return
	}
	targetConn, ok := s.tcp.ConnectionRegistry().Get(targetConnID)
	if !ok {
		s.send(conn, proto.MsgCommonResponse, &proto.CommonResponse{
			Status: proto.StatusInternalError, Message: "target peer not connected", TimestampUS: reactor.Now().Micros(),
		})
		return
	}
	s.send(targetConn, proto.MsgAgvCommand, msg)
	s.send(conn, proto.MsgCommonResponse, &proto.CommonResponse{
		Status: proto.StatusOK, TimestampUS: reactor.Now().Micros(),
	})
}

func (s *Server) handleLatencyProbe(conn dispatcher.Conn, msg *proto.LatencyProbe) {
	if !msg.IsResponse {
		s.logger.Warn("received a latency probe request from a peer; probes are server-initiated", zap.String("agv_id", msg.TargetAgvID))
		return
	}
	rtt := s.lat.ProcessPong(msg)
	if rtt < 0 {
		s.logger.Warn("pong with no matching outstanding ping", zap.Uint64("seq", msg.SeqNum))
		return
	}
	s.met.RTTMilliseconds.WithLabelValues(msg.TargetAgvID).Observe(rtt)
}

func (s *Server) runWatchdog() {
	now := reactor.Now()
	s.sess.ForEach(func(agvID string, sess *session.AgvSession) {
		if sess.State() != session.StateOnline {
			return
		}
		if now.Sub(sess.LastActiveTime()) > s.cfg.SessionTimeout {
			sess.SetState(session.StateOffline)
			s.logger.Warn("session timed out", zap.String("agv_id", agvID))
			s.hub.Publish(dashboard.Event{Kind: dashboard.EventWatchdogOffline, AgvID: agvID, TimeUnixMS: now.Micros() / 1000})
		}
	})
}

func (s *Server) runLatencyProbe() {
	s.sess.ForEach(func(agvID string, sess *session.AgvSession) {
		if sess.State() != session.StateOnline {
			return
		}
		connID, ok := sess.ConnectionID()
		if !ok {
			return
		}
		conn, ok := s.tcp.ConnectionRegistry().Get(connID)
		if !ok {
			return
		}
		ping := s.lat.CreatePing(agvID)
		s.send(conn, proto.MsgLatencyProbe, ping)
	})
	for agvID, st := range s.lat.GetAllStats() {
		s.logger.Info("rtt stats", zap.String("agv_id", agvID),
			zap.Float64("latest_ms", st.Latest), zap.Float64("avg_ms", st.Avg),
			zap.Float64("min_ms", st.Min), zap.Float64("max_ms", st.Max),
			zap.Uint64("samples", st.SampleCount))
	}
	purged := s.lat.CleanupExpiredProbes(latencyProbeCleanupMS)
	if purged > 0 {
		s.logger.Debug("purged expired latency probes", zap.Int("count", purged))
	}
}

// --- adminapi.Backend ---

func (s *Server) ListSessions() []adminapi.SessionView {
	var out []adminapi.SessionView
	s.sess.ForEach(func(agvID string, sess *session.AgvSession) {
		out = append(out, s.sessionView(sess))
	})
	return out
}

func (s *Server) FindSession(agvID string) (adminapi.SessionView, bool) {
	sess, ok := s.sess.FindSession(agvID)
	if !ok {
		return adminapi.SessionView{}, false
	}
	return s.sessionView(sess), true
}

func (s *Server) sessionView(sess *session.AgvSession) adminapi.SessionView {
	pose := sess.Pose()
	_, connected := sess.ConnectionID()
	return adminapi.SessionView{
		AgvID:          sess.AgvID,
		State:          string(sess.State()),
		BatteryLevel:   sess.BatteryLevel(),
		X:              pose.X,
		Y:              pose.Y,
		Theta:          pose.Theta,
		LastActiveUnix: sess.LastActiveTime().Micros() / 1000,
		Connected:      connected,
	}
}

func (s *Server) Stats() adminapi.StatsView {
	allowed, rejected := s.limit.Stats()
	return adminapi.StatsView{
		ActiveSessions:    s.sess.Size(),
		ActiveConnections: s.tcp.ConnectionCount(),
		WorkerQueueDepth:  s.pool.QueueSize(),
		RateLimitAllowed:  allowed,
		RateLimitRejected: rejected,
	}
}

func (s *Server) IssueCommand(agvID string, cmdType string) error {
	sess, ok := s.sess.FindSession(agvID)
	if !ok {
		return fmt.Errorf("gateway: no session for %q", agvID)
	}
	connID, ok := sess.ConnectionID()
	if !ok {
		return fmt.Errorf("gateway: %q has no live connection", agvID)
	}
	conn, ok := s.tcp.ConnectionRegistry().Get(connID)
	if !ok {
		return fmt.Errorf("gateway: %q's connection reference failed to upgrade", agvID)
	}
	cmd := &proto.AgvCommand{
		TargetAgvID: agvID,
		TimestampUS: reactor.Now().Micros(),
		CmdType:     proto.CmdType(cmdType),
	}
	conn.Loop().RunInLoop(func() { s.send(conn, proto.MsgAgvCommand, cmd) })
	return nil
}
