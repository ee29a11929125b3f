// Package drawingarea keeps a remote compositor in sync with a page's retained
// layer tree.
//
// # Overview
//
// A page owns a tree of layers (package layer) and programs against the
// DrawingArea contract: it marks regions dirty, replaces the root layer,
// freezes and unfreezes rendering and asks for repaints. The drawing area
// decides when those changes become a transaction (package transaction) and
// how that transaction reaches pixels on screen.
//
// Two backends are provided:
//   - remote: batches changes into versioned commits, throttles their rate,
//     keeps at most one commit in flight and sends it over an ipc.Connection
//     to a compositor (package compositor) that acknowledges each commit.
//   - local: composites synchronously into an image or texture in the same
//     process.
//
// Backends register themselves with the package registry; New picks the best
// one that can serve the given Parameters:
//
//	import (
//	    "github.com/gogpu/drawingarea"
//	    _ "github.com/gogpu/drawingarea/remote"
//	)
//
//	area, err := drawingarea.New(page, drawingarea.Parameters{
//	    Loop:       loop,
//	    Connection: conn,
//	})
//
// # Threading
//
// Every DrawingArea method must be called from the area's run loop
// (package runloop). Inbound acknowledgments are re-dispatched onto that loop,
// so the scheduling state never needs locks. Pixel transfer runs on a
// separate commit queue.
//
// # Logging
//
// The package is silent by default. Call SetLogger to receive diagnostics from
// drawingarea and all its sub-packages.
package drawingarea
