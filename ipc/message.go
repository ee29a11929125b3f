// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package ipc carries layer tree commits and their acknowledgments between a
// drawing area and its compositor.
//
// It is deliberately small: one message shape, ordered delivery per
// connection, and a Router that fans inbound messages out by destination.
package ipc

import (
	"errors"
	"fmt"

	"github.com/gogpu/drawingarea/transaction"
)

// ErrConnectionClosed is returned by Send after the connection was closed or
// its peer went away.
var ErrConnectionClosed = errors.New("ipc: connection closed")

// MessageKind selects what a Message means.
type MessageKind uint8

const (
	// KindCommitLayerTree carries an encoded transaction in Payload and the
	// packed bitmap pixels in Buffers.
	KindCommitLayerTree MessageKind = iota + 1

	// KindDidUpdate acknowledges that TransactionID was applied.
	KindDidUpdate

	// KindDidUpdateGeometry acknowledges a geometry change.
	KindDidUpdateGeometry
)

// String returns the kind name.
func (k MessageKind) String() string {
	switch k {
	case KindCommitLayerTree:
		return "CommitLayerTree"
	case KindDidUpdate:
		return "DidUpdate"
	case KindDidUpdateGeometry:
		return "DidUpdateGeometry"
	default:
		return fmt.Sprintf("MessageKind(%d)", uint8(k))
	}
}

// Message is the unit of transfer. After Send the message belongs to the
// connection; callers must not modify Payload or Buffers.
type Message struct {
	Kind          MessageKind
	Destination   uint64
	TransactionID transaction.ID
	Payload       []byte
	Buffers       [][]byte
}

// Size returns the number of payload and buffer bytes.
func (m *Message) Size() int {
	n := len(m.Payload)
	for _, b := range m.Buffers {
		n += len(b)
	}
	return n
}

// Receiver handles inbound messages. Calls for one connection are serialized
// and arrive in send order.
type Receiver interface {
	DidReceiveMessage(conn Connection, msg Message)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(conn Connection, msg Message)

// DidReceiveMessage calls f(conn, msg).
func (f ReceiverFunc) DidReceiveMessage(conn Connection, msg Message) {
	f(conn, msg)
}

// Connection is one endpoint of an ordered, reliable message channel.
//
// Thread safety: implementations are safe for concurrent use.
type Connection interface {
	// Send queues msg for delivery to the peer. It does not wait for the peer
	// to handle it.
	Send(msg Message) error

	// SetReceiver installs the handler for inbound messages. Messages that
	// arrive before a receiver is set are held until one is.
	SetReceiver(r Receiver)

	// IsValid reports whether the connection can still deliver messages.
	IsValid() bool

	// Close shuts the connection down. Close is safe to call multiple times.
	Close() error
}
