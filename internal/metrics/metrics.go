// Package metrics holds the gateway's prometheus registry: counters and
// histograms for reactor and message-pipeline activity, served by the
// AdminAPI's /metrics route.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every collector the gateway exposes. Constructed once
// at startup and threaded through GatewayServer.
type Registry struct {
	MessagesProcessed *prometheus.CounterVec
	FrameDecodeErrors prometheus.Counter
	ActiveSessions    prometheus.Gauge
	ActiveConnections *prometheus.GaugeVec
	WorkerQueueDepth  prometheus.Gauge
	WorkerTaskLatency prometheus.Histogram
	RateLimitDrops    prometheus.Counter
	RTTMilliseconds   *prometheus.HistogramVec
}

func New() *Registry {
	return &Registry{
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agv_gateway",
			Name:      "messages_processed_total",
			Help:      "Messages dispatched, by wire message type.",
		}, []string{"msg_type"}),
		FrameDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agv_gateway",
			Name:      "frame_decode_errors_total",
			Help:      "Frames rejected by the length-header codec.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agv_gateway",
			Name:      "active_sessions",
			Help:      "AGV sessions currently tracked.",
		}),
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agv_gateway",
			Name:      "active_connections",
			Help:      "Live TCP connections, by owning sub-reactor.",
		}, []string{"loop"}),
		WorkerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agv_gateway",
			Name:      "worker_queue_depth",
			Help:      "Tasks currently queued in the worker pool.",
		}),
		WorkerTaskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agv_gateway",
			Name:      "worker_task_seconds",
			Help:      "Time a WorkerTask waited in the worker queue before a worker picked it up.",
			Buckets:   prometheus.DefBuckets,
		}),
		RateLimitDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agv_gateway",
			Name:      "rate_limit_drops_total",
			Help:      "Messages dropped by the per-AGV rate limiter.",
		}),
		RTTMilliseconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agv_gateway",
			Name:      "rtt_milliseconds",
			Help:      "Ping/Pong round-trip time, mirrored from the latency monitor.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		}, []string{"agv_id"})}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate registration (a programmer error: a Registry's collectors
// may be registered with a given Registerer only once).
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.MessagesProcessed,
		r.FrameDecodeErrors,
		r.ActiveSessions,
		r.ActiveConnections,
		r.WorkerQueueDepth,
		r.WorkerTaskLatency,
		r.RateLimitDrops,
		r.RTTMilliseconds,
	)
}
