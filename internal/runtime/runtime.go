// Package runtime carries the decoder's ambient state: the worker pool used
// by the T1 code-block scheduler, and the logging sink used to report
// recoverable errors. The inverse DWT does not use the pool; it runs on the
// calling goroutine.
//
// The original C implementation this design descends from kept a scheduler
// singleton and message-handler globals. Per the design notes, both are
// re-expressed here as an explicit value threaded through every operation
// instead of package-level state, so multiple decodes can run concurrently
// without sharing a scheduler.
package runtime

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Runtime bundles the resources a decode needs beyond the codestream
// itself: how much parallelism to use and where diagnostics go.
type Runtime struct {
	// Workers is the number of T1 code-blocks decoded concurrently. With 1,
	// code-blocks are decoded one at a time through the same errgroup;
	// there is no separate sequential path.
	Workers int

	log *slog.Logger
}

// New creates a Runtime with the given worker count and logger. A nil
// logger falls back to slog.Default().
func New(workers int, log *slog.Logger) *Runtime {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{Workers: workers, log: log}
}

// NewFileLogging builds a Runtime whose logger writes structured records to
// a rotating file sink, the way jpfielding/dicos.go's cmd/ctl wires
// lumberjack behind slog for long-running batch jobs.
func NewFileLogging(workers int, path string, maxSizeMB int) *Runtime {
	sink := &lumberjack.Logger{
		Filename: path,
		MaxSize:  maxSizeMB,
		Compress: true,
	}
	return New(workers, slog.New(slog.NewJSONHandler(sink, nil)))
}

// Discard returns a Runtime whose logger drops everything, for tests and
// for callers who only want default error propagation.
func Discard(workers int) *Runtime {
	return New(workers, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Log returns the runtime's logger.
func (r *Runtime) Log() *slog.Logger { return r.log }

// WarnAt logs a recoverable error with its codestream byte position, per
// section 7's "one log line per error with codestream byte position".
func (r *Runtime) WarnAt(pos int64, msg string, err error) {
	r.log.Warn(msg, slog.Int64("position", pos), slog.Any("error", err))
}

// Group returns an errgroup bound to ctx, sized to r.Workers. Callers that
// only need sequential execution (Workers == 1) can still use this; the
// group degenerates to running goroutines one at a time bound by
// SetLimit, which keeps a single code path for both concurrency
// disciplines described in section 5.
func (r *Runtime) Group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Workers)
	return g, gctx
}
