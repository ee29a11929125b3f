// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package layer

import (
	"image"
	"slices"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/drawingarea/transaction"
)

// lastLayerID is process wide so layers keep their identity when a context
// hands them to a successor.
var lastLayerID atomic.Uint64

func nextLayerID() transaction.LayerID {
	return transaction.LayerID(lastLayerID.Add(1))
}

// Context creates layers and records what changed between commits.
//
// A Context belongs to one drawing area and is driven from its run loop.
type Context struct {
	format gputypes.TextureFormat

	live      map[transaction.LayerID]*Layer
	created   map[transaction.LayerID]struct{}
	destroyed []transaction.LayerID
	changed   map[transaction.LayerID]*Layer
}

// NewContext creates a context whose content layers store pixels in format.
// Unsupported formats fall back to RGBA8Unorm.
func NewContext(format gputypes.TextureFormat) *Context {
	if !SupportsFormat(format) {
		format = gputypes.TextureFormatRGBA8Unorm
	}
	return &Context{
		format:  format,
		live:    make(map[transaction.LayerID]*Layer),
		created: make(map[transaction.LayerID]struct{}),
		changed: make(map[transaction.LayerID]*Layer),
	}
}

// Format returns the pixel format of content layers.
func (c *Context) Format() gputypes.TextureFormat { return c.format }

// CreateLayer allocates a new layer of kind.
func (c *Context) CreateLayer(kind transaction.LayerKind) *Layer {
	l := &Layer{
		id:    nextLayerID(),
		kind:  kind,
		ctx:   c,
		props: transaction.DefaultLayerProperties(),
	}
	c.live[l.id] = l
	c.created[l.id] = struct{}{}
	l.noteChanged(transaction.AllPropertiesChanged)
	return l
}

// Layer returns the live layer with id.
func (c *Context) Layer(id transaction.LayerID) (*Layer, bool) {
	l, ok := c.live[id]
	return l, ok
}

// LayerCount returns the number of live layers.
func (c *Context) LayerCount() int { return len(c.live) }

// HasChanges reports whether BuildTransaction would record anything.
func (c *Context) HasChanges() bool {
	return len(c.created) > 0 || len(c.destroyed) > 0 || len(c.changed) > 0
}

// BuildTransaction moves every pending change into tx and displays the dirty
// backing stores. The returned buffers are index-aligned with tx.Bitmaps.
// root may be nil when the page has no root layer yet.
func (c *Context) BuildTransaction(tx *transaction.Transaction, root *Layer) []Buffer {
	if root != nil && !root.destroyed {
		tx.RootLayerID = root.id
	}

	for _, id := range sortedKeys(c.created) {
		tx.CreatedLayers = append(tx.CreatedLayers, transaction.LayerCreation{ID: id, Kind: c.live[id].kind})
	}
	tx.DestroyedLayers = append(tx.DestroyedLayers, c.destroyed...)

	var buffers []Buffer
	for _, id := range sortedKeys(c.changed) {
		l := c.changed[id]
		mask := l.changed
		l.changed = 0

		if mask.Has(transaction.BackingStoreChanged) && l.store != nil {
			if buf, ok := l.store.Display(l, l.painter); ok {
				buffers = append(buffers, buf)
				tx.Bitmaps = append(tx.Bitmaps, buf.Update())
			}
		}
		tx.Changes = append(tx.Changes, transaction.LayerChange{
			ID:         id,
			Changed:    mask,
			Properties: l.Properties(),
		})
	}

	clear(c.created)
	clear(c.changed)
	c.destroyed = c.destroyed[:0]
	return buffers
}

// AdoptLayersFrom takes over every live layer of old. The layers keep their
// IDs but are announced again as created, so a new remote tree receives
// their full state and pixels on the next commit. old is left empty.
func (c *Context) AdoptLayersFrom(old *Context) {
	if old == nil || old == c {
		return
	}
	for id, l := range old.live {
		l.ctx = c
		c.live[id] = l
		c.created[id] = struct{}{}
		if l.store != nil {
			l.store.MakeVolatile()
			l.noteChanged(transaction.BackingStoreChanged)
		}
		l.noteChanged(transaction.AllPropertiesChanged)
	}
	clear(old.live)
	clear(old.created)
	clear(old.changed)
	old.destroyed = old.destroyed[:0]
}

// MarkVolatile releases the front buffers of every content layer. The next
// display of each layer repaints it in full.
func (c *Context) MarkVolatile() {
	for _, l := range c.live {
		if l.store != nil {
			l.store.MakeVolatile()
		}
	}
}

// VolatileLayerCount returns how many content layers hold no pixels.
func (c *Context) VolatileLayerCount() int {
	n := 0
	for _, l := range c.live {
		if l.store != nil && l.store.IsVolatile() {
			n++
		}
	}
	return n
}

// Resize changes the size of every root-level content layer and marks it
// for repaint. Used on geometry changes.
func (c *Context) Resize(root *Layer, size image.Point) {
	if root == nil {
		return
	}
	root.SetSize(size)
	for _, child := range root.children {
		if child.kind == transaction.LayerKindContent {
			child.SetSize(size)
		}
	}
}

func (c *Context) layerDidChange(l *Layer) {
	c.changed[l.id] = l
}

func (c *Context) layerWasDestroyed(l *Layer) {
	delete(c.live, l.id)
	delete(c.changed, l.id)
	if _, ok := c.created[l.id]; ok {
		// Never sent; the remote side does not need to hear about it.
		delete(c.created, l.id)
		return
	}
	c.destroyed = append(c.destroyed, l.id)
}

func sortedKeys[V any](m map[transaction.LayerID]V) []transaction.LayerID {
	keys := make([]transaction.LayerID, 0, len(m))
	for id := range m {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys
}
