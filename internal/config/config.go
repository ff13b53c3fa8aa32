// Package config parses and validates the gateway's CLI flags, grounded
// in the teacher's own literal choice of the standard flag package
// (cmd/main.go's flag.String/flag.Int with defaults) rather than a
// flag-parsing library.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Config holds every runtime-tunable knob. Zero values are never valid;
// Parse always returns a fully-populated, validated Config.
type Config struct {
	Port                 uint16
	SessionTimeout       time.Duration
	SubReactorCount      int
	WorkerCount          int
	LatencyProbeInterval time.Duration
	AdminAddr            string
	DashboardAddr        string
	HealthAddr           string
	LogLevel             string
	RateLimitPerSecond   float64
	RedisAddr            string
}

func defaults() Config {
	return Config{
		Port:                 8000,
		SessionTimeout:       5 * time.Second,
		SubReactorCount:      0,
		WorkerCount:          4,
		LatencyProbeInterval: 5 * time.Second,
		AdminAddr:            ":8090",
		DashboardAddr:        ":8091",
		HealthAddr:           ":8092",
		LogLevel:             "info",
		RateLimitPerSecond:   50,
		RedisAddr:            "",
	}
}

// Parse builds a Config from args (pass os.Args[1:] in production, a
// fixture slice in tests). Returns a usage error wrapped with context
// on a bad flag, matching the rest of this lineage's fmt.Errorf("...:
// %w", err) boundary idiom.
func Parse(args []string) (Config, error) {
	d := defaults()
	fs := flag.NewFlagSet("agv-gateway", flag.ContinueOnError)

	port := fs.Uint("port", uint(d.Port), "TCP port to listen on")
	timeout := fs.Float64("timeout", d.SessionTimeout.Seconds(), "session liveness timeout, seconds")
	threads := fs.Int("threads", d.SubReactorCount, "sub-reactor count (0 = single reactor)")
	workers := fs.Int("workers", d.WorkerCount, "worker pool size")
	probeInterval := fs.Float64("probe-interval", d.LatencyProbeInterval.Seconds(), "latency probe interval, seconds")
	adminAddr := fs.String("admin-addr", d.AdminAddr, "admin API listen address")
	dashboardAddr := fs.String("dashboard-addr", d.DashboardAddr, "dashboard websocket listen address")
	healthAddr := fs.String("health-addr", d.HealthAddr, "liveness probe listen address")
	logLevel := fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	rateLimit := fs.Float64("rate-limit", d.RateLimitPerSecond, "per-AGV inbound messages per second")
	redisAddr := fs.String("redis-addr", d.RedisAddr, "Redis address for distributed rate limiting (empty disables it)")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: parse flags: %w", err)
	}
	if *port > 65535 {
		return Config{}, fmt.Errorf("config: port %d out of range", *port)
	}

	cfg := Config{
		Port:                 uint16(*port),
		SessionTimeout:       time.Duration(*timeout * float64(time.Second)),
		SubReactorCount:      *threads,
		WorkerCount:          *workers,
		LatencyProbeInterval: time.Duration(*probeInterval * float64(time.Second)),
		AdminAddr:            *adminAddr,
		DashboardAddr:        *dashboardAddr,
		HealthAddr:           *healthAddr,
		LogLevel:             *logLevel,
		RateLimitPerSecond:   *rateLimit,
		RedisAddr:            *redisAddr,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the bounds the gateway assumes everywhere else:
// a non-zero port, positive timeout, probe interval, worker count and
// rate limit, and a non-negative sub-reactor count. Parse rejects ports
// above 65535 before they are narrowed to Port's uint16.
func (c Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("config: port must be non-zero")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("config: timeout must be positive")
	}
	if c.SubReactorCount < 0 {
		return fmt.Errorf("config: threads must be >= 0")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("config: workers must be positive")
	}
	if c.LatencyProbeInterval <= 0 {
		return fmt.Errorf("config: probe-interval must be positive")
	}
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("config: rate-limit must be positive")
	}
	return nil
}
