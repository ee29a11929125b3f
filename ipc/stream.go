// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gogpu/drawingarea/internal/logging"
	"github.com/gogpu/drawingarea/transaction"
)

// Frame layout, little-endian:
//
//	magic   u32  "LTIP"
//	kind    u8
//	dest    u64
//	txID    u64
//	payload u32 length + bytes
//	buffers u32 count, then per buffer u32 length + bytes
const (
	frameMagic      uint32 = 0x5049544c // "LTIP"
	frameHeaderSize        = 4 + 1 + 8 + 8 + 4
	maxFrameBytes          = 256 << 20
	maxFrameBuffers        = 1 << 16
)

// ErrMalformedFrame is reported when the byte stream is not a valid frame.
var ErrMalformedFrame = errors.New("ipc: malformed frame")

// StreamConnection frames messages over a byte stream such as a socket or
// net.Pipe. Inbound frames are read on a dedicated goroutine that starts with
// the first SetReceiver call.
type StreamConnection struct {
	rwc io.ReadWriteCloser

	wmu sync.Mutex
	w   *bufio.Writer

	mu       sync.Mutex
	receiver Receiver
	reading  bool

	closed atomic.Bool
	done   chan struct{}
}

// NewStreamConnection wraps rwc. The connection owns rwc and closes it on Close.
func NewStreamConnection(rwc io.ReadWriteCloser) *StreamConnection {
	return &StreamConnection{
		rwc:  rwc,
		w:    bufio.NewWriter(rwc),
		done: make(chan struct{}),
	}
}

// Send writes msg as one frame.
func (c *StreamConnection) Send(msg Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if msg.Size() > maxFrameBytes || len(msg.Buffers) > maxFrameBuffers {
		return fmt.Errorf("ipc: message of %d bytes in %d buffers exceeds frame limits", msg.Size(), len(msg.Buffers))
	}

	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], frameMagic)
	hdr[4] = byte(msg.Kind)
	binary.LittleEndian.PutUint64(hdr[5:], msg.Destination)
	binary.LittleEndian.PutUint64(hdr[13:], uint64(msg.TransactionID))
	binary.LittleEndian.PutUint32(hdr[21:], uint32(len(msg.Payload))) //nolint:gosec // bounded by maxFrameBytes

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if _, err := c.w.Write(hdr[:]); err != nil {
		return c.writeFailed(err)
	}
	if _, err := c.w.Write(msg.Payload); err != nil {
		return c.writeFailed(err)
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(msg.Buffers))) //nolint:gosec // bounded by maxFrameBuffers
	if _, err := c.w.Write(n[:]); err != nil {
		return c.writeFailed(err)
	}
	for _, b := range msg.Buffers {
		binary.LittleEndian.PutUint32(n[:], uint32(len(b))) //nolint:gosec // bounded by maxFrameBytes
		if _, err := c.w.Write(n[:]); err != nil {
			return c.writeFailed(err)
		}
		if _, err := c.w.Write(b); err != nil {
			return c.writeFailed(err)
		}
	}
	if err := c.w.Flush(); err != nil {
		return c.writeFailed(err)
	}
	return nil
}

func (c *StreamConnection) writeFailed(err error) error {
	c.shutdown()
	return fmt.Errorf("ipc: write frame: %w", err)
}

// SetReceiver installs r and starts reading if it has not started yet.
func (c *StreamConnection) SetReceiver(r Receiver) {
	c.mu.Lock()
	c.receiver = r
	start := r != nil && !c.reading && !c.closed.Load()
	if start {
		c.reading = true
	}
	c.mu.Unlock()

	if start {
		go c.readLoop()
	}
}

// IsValid reports whether the stream is still open.
func (c *StreamConnection) IsValid() bool {
	return !c.closed.Load()
}

// Close closes the underlying stream.
func (c *StreamConnection) Close() error {
	if c.shutdown() {
		return c.rwc.Close()
	}
	return nil
}

// Done is closed once the connection is no longer valid.
func (c *StreamConnection) Done() <-chan struct{} { return c.done }

func (c *StreamConnection) shutdown() bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	close(c.done)
	return true
}

func (c *StreamConnection) readLoop() {
	r := bufio.NewReader(c.rwc)
	for {
		msg, err := readFrame(r)
		if err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) {
				logging.Logger().Debug("ipc: stream read failed", "err", err)
			}
			if c.shutdown() {
				_ = c.rwc.Close()
			}
			return
		}

		c.mu.Lock()
		recv := c.receiver
		c.mu.Unlock()
		if recv != nil {
			recv.DidReceiveMessage(c, msg)
		}
	}
}

func readFrame(r io.Reader) (Message, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	if binary.LittleEndian.Uint32(hdr[0:]) != frameMagic {
		return Message{}, fmt.Errorf("%w: bad magic", ErrMalformedFrame)
	}
	msg := Message{
		Kind:          MessageKind(hdr[4]),
		Destination:   binary.LittleEndian.Uint64(hdr[5:]),
		TransactionID: transaction.ID(binary.LittleEndian.Uint64(hdr[13:])),
	}

	budget := maxFrameBytes
	payload, err := readBlock(r, binary.LittleEndian.Uint32(hdr[21:]), &budget)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = payload

	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return Message{}, unexpected(err)
	}
	count := binary.LittleEndian.Uint32(n[:])
	if count > maxFrameBuffers {
		return Message{}, fmt.Errorf("%w: %d buffers", ErrMalformedFrame, count)
	}
	if count > 0 {
		msg.Buffers = make([][]byte, count)
	}
	for i := range msg.Buffers {
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return Message{}, unexpected(err)
		}
		if msg.Buffers[i], err = readBlock(r, binary.LittleEndian.Uint32(n[:]), &budget); err != nil {
			return Message{}, err
		}
	}
	return msg, nil
}

func readBlock(r io.Reader, n uint32, budget *int) ([]byte, error) {
	if int(n) > *budget {
		return nil, fmt.Errorf("%w: block of %d bytes exceeds limit", ErrMalformedFrame, n)
	}
	*budget -= int(n)
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, unexpected(err)
	}
	return b, nil
}

// unexpected turns EOF inside a frame into ErrUnexpectedEOF.
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
