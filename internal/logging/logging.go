// Package logging builds the gateway's zap logger. The non-blocking
// append(bytes, len) / flush() contract external collaborators are
// specified through is satisfied by zap's own zapcore.BufferedWriteSyncer:
// log calls append into its buffer, which a background goroutine flushes
// every 3 seconds, when the buffer fills, or on Sync, the same
// buffer-and-flush shape as the original's AsyncLogging, without
// hand-rolling a second ring buffer.
package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger at the given level
// ("debug"|"info"|"warn"|"error"), JSON-encoded, sampled, writing to
// stderr with a buffered, periodically-flushed sink.
func New(level string) (*zap.Logger, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: bad level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := &zapcore.BufferedWriteSyncer{WS: zapcore.AddSync(os.Stderr), FlushInterval: 3 * time.Second}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), sink, cfg.Level)
	core = zapcore.NewSamplerWithOptions(core, time.Second, cfg.Sampling.Initial, cfg.Sampling.Thereafter)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
