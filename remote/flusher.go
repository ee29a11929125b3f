// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package remote

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/drawingarea/internal/logging"
	"github.com/gogpu/drawingarea/ipc"
	"github.com/gogpu/drawingarea/layer"
	"github.com/gogpu/drawingarea/transaction"
)

// BackingStoreFlusher sends one encoded commit together with its pixels.
//
// The commit is prepared on the run loop; Flush may run on any goroutine and
// transfers the commit at most once no matter how often it is called. A
// flusher chained after another sends only once its predecessor has finished.
type BackingStoreFlusher struct {
	conn    ipc.Connection
	msg     ipc.Message
	buffers []layer.Buffer
	log     *slog.Logger

	// prev is only read by the Flush call that wins flushed.
	prev *BackingStoreFlusher

	flushed atomic.Bool
	done    chan struct{}
}

// NewBackingStoreFlusher prepares msg and the pixels of buffers for sending.
// The buffer images must not be modified afterwards.
func NewBackingStoreFlusher(conn ipc.Connection, msg ipc.Message, buffers []layer.Buffer) *BackingStoreFlusher {
	return &BackingStoreFlusher{
		conn:    conn,
		msg:     msg,
		buffers: buffers,
		done:    make(chan struct{}),
	}
}

// TransactionID returns the ID of the commit being flushed.
func (f *BackingStoreFlusher) TransactionID() transaction.ID {
	return f.msg.TransactionID
}

// After orders f behind prev: f's commit is sent only after prev's. It must be
// called before f is handed to another goroutine.
func (f *BackingStoreFlusher) After(prev *BackingStoreFlusher) {
	f.prev = prev
}

// Flush transfers the commit. Only the first call sends; transport errors are
// logged and otherwise ignored. A predecessor that has not been flushed yet
// is flushed first.
func (f *BackingStoreFlusher) Flush() {
	if !f.flushed.CompareAndSwap(false, true) {
		return
	}
	defer close(f.done)

	if prev := f.prev; prev != nil {
		prev.Flush()
		prev.Wait()
		f.prev = nil
	}

	msg := f.msg
	if len(f.buffers) > 0 {
		msg.Buffers = make([][]byte, len(f.buffers))
		for i, b := range f.buffers {
			msg.Buffers[i] = b.Pixels()
		}
	}
	f.buffers = nil

	if err := f.conn.Send(msg); err != nil {
		logging.Or(f.log).Debug("remote: commit not delivered",
			"transaction", msg.TransactionID, "error", err)
	}
}

// HasFlushed reports whether Flush has been called.
func (f *BackingStoreFlusher) HasFlushed() bool {
	return f.flushed.Load()
}

// Wait blocks until a started Flush has finished. It returns immediately if
// Flush was never called.
func (f *BackingStoreFlusher) Wait() {
	if f.flushed.Load() {
		<-f.done
	}
}
