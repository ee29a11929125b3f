// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ipc

import (
	"sync"

	"github.com/gogpu/drawingarea/internal/logging"
)

// Router dispatches inbound messages to receivers by Message.Destination.
// Install it with Connection.SetReceiver to share one connection between
// several drawing areas.
//
// Thread safety: Router is safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	receivers map[uint64]Receiver
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{receivers: make(map[uint64]Receiver)}
}

// AddReceiver routes messages for dest to r, replacing any previous receiver.
func (rt *Router) AddReceiver(dest uint64, r Receiver) {
	rt.mu.Lock()
	rt.receivers[dest] = r
	rt.mu.Unlock()
}

// RemoveReceiver stops routing messages for dest.
func (rt *Router) RemoveReceiver(dest uint64) {
	rt.mu.Lock()
	delete(rt.receivers, dest)
	rt.mu.Unlock()
}

// Len returns the number of registered destinations.
func (rt *Router) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.receivers)
}

// DidReceiveMessage forwards msg to its destination. Messages for unknown
// destinations are dropped.
func (rt *Router) DidReceiveMessage(conn Connection, msg Message) {
	rt.mu.RLock()
	r, ok := rt.receivers[msg.Destination]
	rt.mu.RUnlock()
	if !ok {
		logging.Logger().Debug("ipc: no receiver for message",
			"kind", msg.Kind, "destination", msg.Destination, "transaction", msg.TransactionID)
		return
	}
	r.DidReceiveMessage(conn, msg)
}
