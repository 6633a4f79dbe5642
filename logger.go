package compute

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"
)

// nopHandler discards every record. Enabled returns false so callers skip
// formatting altogether.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var (
	loggerPtr atomic.Pointer[slog.Logger]

	// loggerSet records whether SetLogger was called with a real logger,
	// so new engines only override backend loggers the caller asked for.
	loggerSet atomic.Bool
)

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for compute, the HAL layer and the
// devices of engines created afterwards. By default nothing is logged.
// Pass nil to restore silence.
//
// Levels:
//   - [slog.LevelDebug]: dispatches, submissions, kernel compilation
//   - [slog.LevelInfo]: device selection
//   - [slog.LevelWarn]: discarded batches, release errors
//
// Example:
//
//	compute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	loggerSet.Store(l != nil)
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	hal.SetLogger(l)
}

// Logger returns the package logger. Safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func propagateLogger(dev any, l *slog.Logger) {
	if ls, ok := dev.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
