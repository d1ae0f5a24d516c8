// Package logging builds the process logger. Every logger it returns also
// writes into a bounded Ring that the admin API can query, so recent warnings
// and errors are inspectable without shell access to the host.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Env        string
	Level      string
	BufferSize int
}

// New returns a logger teeing the console/JSON output and the ring buffer.
// "prod", "production" and "release" envs use the JSON encoder.
func New(opts Options) (*zap.Logger, *Ring, error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(opts.Level) != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	size := opts.BufferSize
	if size <= 0 {
		size = DefaultRingSize
	}
	ring := NewRing(size)

	var encoder zapcore.Encoder
	var zapOpts []zap.Option
	if isProd(opts.Env) {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
		NewRingCore(ring, level),
	)
	return zap.New(core, zapOpts...), ring, nil
}

// NewRingOnly is used by tests that want to assert on emitted entries.
func NewRingOnly(size int) (*zap.Logger, *Ring) {
	ring := NewRing(size)
	return zap.New(NewRingCore(ring, zapcore.DebugLevel)), ring
}

func isProd(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}
