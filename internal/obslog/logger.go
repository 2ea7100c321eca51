// Package obslog composes the process-wide logging backend: a zap
// core wrapped behind go-logr/logr via zapr, so every component
// depends on the logr interface rather than zap directly.
package obslog

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls the underlying zap core.
type Options struct {
	// Development enables human-readable console output and debug
	// level; production mode emits structured JSON at info level.
	Development bool
}

// New builds a logr.Logger backed by zap, per Options.
func New(opts Options) (logr.Logger, func(), error) {
	var zl *zap.Logger
	var err error
	if opts.Development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zl, err = cfg.Build()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Logger{}, func() {}, err
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}
