// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ipc

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/drawingarea/runloop"
)

// Pipe returns two connected in-process endpoints. Each endpoint delivers
// inbound messages on its own goroutine, in send order.
func Pipe() (Connection, Connection) {
	shared := &pipeState{}
	a := &pipeEnd{state: shared, inbox: runloop.NewQueue("ipc.pipe.a")}
	b := &pipeEnd{state: shared, inbox: runloop.NewQueue("ipc.pipe.b")}
	a.peer, b.peer = b, a
	return a, b
}

type pipeState struct {
	closed atomic.Bool
}

type pipeEnd struct {
	state *pipeState
	peer  *pipeEnd
	inbox *runloop.Queue

	mu       sync.Mutex
	receiver Receiver
	held     []Message
}

func (p *pipeEnd) Send(msg Message) error {
	if p.state.closed.Load() {
		return ErrConnectionClosed
	}
	peer := p.peer
	peer.inbox.Dispatch(func() { peer.deliver(&msg) })
	return nil
}

// deliver runs on the inbox goroutine. Held messages are handed over first
// so order survives a late SetReceiver.
func (p *pipeEnd) deliver(msg *Message) {
	p.mu.Lock()
	if msg != nil {
		p.held = append(p.held, *msg)
	}
	r := p.receiver
	if r == nil {
		p.mu.Unlock()
		return
	}
	held := p.held
	p.held = nil
	p.mu.Unlock()

	for _, m := range held {
		r.DidReceiveMessage(p, m)
	}
}

func (p *pipeEnd) SetReceiver(r Receiver) {
	p.mu.Lock()
	p.receiver = r
	p.mu.Unlock()
	if r != nil {
		p.inbox.Dispatch(func() { p.deliver(nil) })
	}
}

func (p *pipeEnd) IsValid() bool {
	return !p.state.closed.Load()
}

func (p *pipeEnd) Close() error {
	if !p.state.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Close may run on one of the inbox goroutines; Queue.Close waits for
	// its worker, so shut both down from a separate goroutine.
	go func() {
		p.inbox.Close()
		p.peer.inbox.Close()
	}()
	return nil
}
