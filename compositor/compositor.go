// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package compositor is the receiving end of remote drawing areas.
//
// A Compositor keeps one retained layer tree per drawing area, applies each
// commit to it atomically and acknowledges the commit so the area may send
// the next one. Commits that arrive out of order are dropped.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/drawingarea/internal/logging"
	"github.com/gogpu/drawingarea/ipc"
	"github.com/gogpu/drawingarea/layer"
	"github.com/gogpu/drawingarea/transaction"
)

// ErrNotPending is returned by Acknowledge for a transaction that was not
// applied or was already acknowledged.
var ErrNotPending = errors.New("compositor: transaction not pending acknowledgment")

// CommitHandler observes every applied transaction.
type CommitHandler func(dest uint64, tx *transaction.Transaction)

// Presenter receives a freshly composited frame after each applied commit.
type Presenter interface {
	Present(dest uint64, frame *image.RGBA) error
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithManualAck stops automatic acknowledgments. Applied transactions wait
// for Acknowledge.
func WithManualAck() Option {
	return func(c *Compositor) {
		c.manualAck = true
	}
}

// WithCommitHandler calls h after each applied transaction.
func WithCommitHandler(h CommitHandler) Option {
	return func(c *Compositor) {
		c.onCommit = h
	}
}

// WithPresenter composites and presents a frame after each applied commit.
func WithPresenter(p Presenter) Option {
	return func(c *Compositor) {
		c.presenter = p
	}
}

// WithFrameCacheSize sets how many composited frames are kept for Frame.
// A size of zero disables caching.
func WithFrameCacheSize(n int) Option {
	return func(c *Compositor) {
		c.frames = newFrameCache(n)
	}
}

// WithLogger sets the logger used by the compositor.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compositor) {
		c.log = l
	}
}

type scene struct {
	tree        *layer.Tree
	lastApplied transaction.ID
	pending     []transaction.ID
}

// Compositor applies layer tree commits received over one connection.
// It is safe for concurrent use.
type Compositor struct {
	conn      ipc.Connection
	manualAck bool
	onCommit  CommitHandler
	presenter Presenter
	log       *slog.Logger
	frames    *frameCache

	mu     sync.Mutex
	scenes map[uint64]*scene
}

var _ ipc.Receiver = (*Compositor)(nil)

// New creates a compositor and installs it as conn's receiver.
func New(conn ipc.Connection, opts ...Option) *Compositor {
	c := &Compositor{
		conn:   conn,
		scenes: make(map[uint64]*scene),
		frames: newFrameCache(DefaultFrameCacheSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	conn.SetReceiver(c)
	return c
}

func (c *Compositor) logger() *slog.Logger {
	return logging.Or(c.log)
}

// DidReceiveMessage implements ipc.Receiver.
func (c *Compositor) DidReceiveMessage(_ ipc.Connection, msg ipc.Message) {
	switch msg.Kind {
	case ipc.KindCommitLayerTree:
		c.commit(msg)
	case ipc.KindDidUpdateGeometry:
		c.logger().Debug("compositor: geometry updated", "area", msg.Destination)
	default:
		c.logger().Debug("compositor: unexpected message", "area", msg.Destination, "kind", msg.Kind)
	}
}

func (c *Compositor) commit(msg ipc.Message) {
	tx, err := transaction.Decode(msg.Payload)
	if err != nil {
		c.logger().Error("compositor: malformed commit", "area", msg.Destination,
			"transaction", msg.TransactionID, "error", err)
		return
	}

	c.mu.Lock()
	s := c.scenes[msg.Destination]
	if s == nil {
		s = &scene{tree: layer.NewTree()}
		c.scenes[msg.Destination] = s
	}
	if tx.ID <= s.lastApplied {
		last := s.lastApplied
		c.mu.Unlock()
		c.logger().Warn("compositor: out of order commit dropped", "area", msg.Destination,
			"transaction", tx.ID, "lastApplied", last)
		return
	}
	if err := s.tree.Apply(tx, msg.Buffers); err != nil {
		// The tree is unchanged; acknowledge anyway so the area keeps going.
		c.logger().Error("compositor: commit not applied", "area", msg.Destination,
			"transaction", tx.ID, "error", err)
	}
	s.lastApplied = tx.ID
	if c.manualAck {
		s.pending = append(s.pending, tx.ID)
	}
	var snapshot *layer.Tree
	if c.presenter != nil {
		snapshot = s.tree.Copy()
	}
	c.mu.Unlock()

	c.logger().Debug("compositor: applied", "area", msg.Destination, "transaction", tx.ID,
		"created", len(tx.CreatedLayers), "bitmaps", len(tx.Bitmaps))

	if c.onCommit != nil {
		c.onCommit(msg.Destination, tx)
	}
	if snapshot != nil {
		frame := c.frames.getOrRender(frameKey{msg.Destination, tx.ID}, func() *image.RGBA {
			return render(snapshot)
		})
		if err := c.presenter.Present(msg.Destination, frame); err != nil {
			c.logger().Warn("compositor: present failed", "area", msg.Destination, "error", err)
		}
	}
	if !c.manualAck {
		c.sendAck(msg.Destination, tx.ID)
	}
}

// Acknowledge sends the acknowledgment for transaction id of area dest.
// It is only needed with WithManualAck.
func (c *Compositor) Acknowledge(dest uint64, id transaction.ID) error {
	c.mu.Lock()
	s := c.scenes[dest]
	i := -1
	if s != nil {
		i = slices.Index(s.pending, id)
	}
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: area %d transaction %d", ErrNotPending, dest, id)
	}
	s.pending = slices.Delete(s.pending, i, i+1)
	c.mu.Unlock()

	c.sendAck(dest, id)
	return nil
}

func (c *Compositor) sendAck(dest uint64, id transaction.ID) {
	err := c.conn.Send(ipc.Message{Kind: ipc.KindDidUpdate, Destination: dest, TransactionID: id})
	if err != nil {
		c.logger().Debug("compositor: acknowledgment not delivered", "area", dest, "transaction", id, "error", err)
	}
}

// PendingAcks returns the applied transactions of dest that still await
// Acknowledge.
func (c *Compositor) PendingAcks(dest uint64) []transaction.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.scenes[dest]; s != nil {
		return slices.Clone(s.pending)
	}
	return nil
}

// LastAppliedID returns the newest transaction applied for dest, or zero.
func (c *Compositor) LastAppliedID(dest uint64) transaction.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.scenes[dest]; s != nil {
		return s.lastApplied
	}
	return 0
}

// Areas returns the destinations that have committed, in ascending order.
func (c *Compositor) Areas() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.scenes))
	for id := range c.scenes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Snapshot returns a copy of the retained tree of dest.
func (c *Compositor) Snapshot(dest uint64) (*layer.Tree, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.scenes[dest]
	if s == nil {
		return nil, false
	}
	return s.tree.Copy(), true
}

// Frame composites the retained tree of dest at its view size. Frames are
// cached per transaction and shared between callers; do not modify them.
func (c *Compositor) Frame(dest uint64) (*image.RGBA, bool) {
	c.mu.Lock()
	s := c.scenes[dest]
	if s == nil {
		c.mu.Unlock()
		return nil, false
	}
	key := frameKey{dest, s.lastApplied}
	tree := s.tree.Copy()
	c.mu.Unlock()

	return c.frames.getOrRender(key, func() *image.RGBA {
		return render(tree)
	}), true
}

// FrameCacheStats reports the activity of the frame cache.
func (c *Compositor) FrameCacheStats() FrameCacheStats {
	return c.frames.stats()
}

// Forget drops the retained tree and cached frames of dest.
func (c *Compositor) Forget(dest uint64) {
	c.mu.Lock()
	delete(c.scenes, dest)
	c.mu.Unlock()
	c.frames.forget(dest)
}

// Close detaches the compositor from its connection.
func (c *Compositor) Close() error {
	c.conn.SetReceiver(nil)
	return nil
}

func render(tree *layer.Tree) *image.RGBA {
	frame := image.NewRGBA(image.Rectangle{Max: tree.ViewSize()})
	tree.Composite(frame)
	return frame
}
