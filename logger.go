package drawingarea

import (
	"log/slog"

	"github.com/gogpu/drawingarea/internal/logging"
)

// SetLogger configures the logger for drawingarea and all its sub-packages.
// By default, drawingarea produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by drawingarea:
//   - [slog.LevelDebug]: scheduling diagnostics (stale acknowledgments,
//     deferred flushes, swallowed transport errors)
//   - [slog.LevelInfo]: lifecycle events (area created, closed, adopted)
//   - [slog.LevelWarn]: commits the compositor rejected
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	drawingarea.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger used by drawingarea.
// Sub-packages share the same logger configuration through internal/logging.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.Logger()
}
