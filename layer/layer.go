// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package layer

import (
	"image"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/drawingarea/transaction"
)

// Layer is one node of the client-side retained layer tree.
//
// Layers are created by a Context and are not safe for concurrent use; they
// belong to the loop that drives the owning drawing area. Every setter records
// which property changed so the next transaction carries only the delta.
type Layer struct {
	id   transaction.LayerID
	kind transaction.LayerKind
	ctx  *Context

	parent   *Layer
	children []*Layer

	props   transaction.LayerProperties
	changed transaction.ChangeMask

	store     *BackingStore
	painter   Painter
	destroyed bool
}

// ID returns the layer identifier.
func (l *Layer) ID() transaction.LayerID { return l.id }

// Kind returns the layer kind.
func (l *Layer) Kind() transaction.LayerKind { return l.kind }

// Parent returns the parent layer, or nil.
func (l *Layer) Parent() *Layer { return l.parent }

// Children returns the child layers in paint order. The slice must not be modified.
func (l *Layer) Children() []*Layer { return l.children }

// Properties returns a copy of the current properties with child IDs filled in.
func (l *Layer) Properties() transaction.LayerProperties {
	p := l.props
	p.Children = l.childIDs()
	return p
}

// Position returns the offset from the parent origin.
func (l *Layer) Position() image.Point { return l.props.Position }

// Size returns the layer size.
func (l *Layer) Size() image.Point { return l.props.Size }

// BackingStore returns the pixel store of a content layer, or nil.
func (l *Layer) BackingStore() *BackingStore { return l.store }

// IsDestroyed reports whether Destroy was called.
func (l *Layer) IsDestroyed() bool { return l.destroyed }

// SetPainter sets the painter used to fill the backing store.
func (l *Layer) SetPainter(p Painter) { l.painter = p }

// SetPosition moves the layer relative to its parent.
func (l *Layer) SetPosition(p image.Point) {
	if l.props.Position == p {
		return
	}
	l.props.Position = p
	l.noteChanged(transaction.PositionChanged)
}

// SetSize resizes the layer. Content layers get a new backing store that
// needs a full repaint.
func (l *Layer) SetSize(size image.Point) {
	if l.props.Size == size {
		return
	}
	l.props.Size = size
	if l.kind == transaction.LayerKindContent {
		l.store = NewBackingStore(size, l.ctx.format)
		l.noteChanged(transaction.BackingStoreChanged)
	}
	l.noteChanged(transaction.SizeChanged)
}

// SetOpacity sets the layer opacity in [0, 1].
func (l *Layer) SetOpacity(opacity float32) {
	opacity = min(max(opacity, 0), 1)
	if l.props.Opacity == opacity {
		return
	}
	l.props.Opacity = opacity
	l.noteChanged(transaction.OpacityChanged)
}

// SetHidden hides or shows the layer and its subtree.
func (l *Layer) SetHidden(hidden bool) {
	if l.props.Hidden == hidden {
		return
	}
	l.props.Hidden = hidden
	l.noteChanged(transaction.HiddenChanged)
}

// SetBackgroundColor sets the colour painted under the layer contents.
func (l *Layer) SetBackgroundColor(c gputypes.Color) {
	if l.props.BackgroundColor == c {
		return
	}
	l.props.BackgroundColor = c
	l.noteChanged(transaction.BackgroundColorChanged)
}

// SetContentsScale sets the device scale the backing store is painted at.
func (l *Layer) SetContentsScale(scale float64) {
	if scale <= 0 || l.props.ContentsScale == scale {
		return
	}
	l.props.ContentsScale = scale
	l.noteChanged(transaction.ContentsScaleChanged)
	l.SetNeedsDisplay()
}

// AddChild appends child on top of the existing children. A child that
// already has a parent is moved.
func (l *Layer) AddChild(child *Layer) {
	if child == nil || child == l {
		return
	}
	child.RemoveFromParent()
	child.parent = l
	l.children = append(l.children, child)
	l.noteChanged(transaction.ChildrenChanged)
}

// RemoveFromParent detaches the layer from its parent.
func (l *Layer) RemoveFromParent() {
	p := l.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == l {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	l.parent = nil
	p.noteChanged(transaction.ChildrenChanged)
}

// RemoveAllChildren detaches every child.
func (l *Layer) RemoveAllChildren() {
	if len(l.children) == 0 {
		return
	}
	for _, c := range l.children {
		c.parent = nil
	}
	l.children = nil
	l.noteChanged(transaction.ChildrenChanged)
}

// SetNeedsDisplay marks the whole layer for repaint.
func (l *Layer) SetNeedsDisplay() {
	if l.store == nil {
		return
	}
	l.store.SetNeedsDisplay()
	l.noteChanged(transaction.BackingStoreChanged)
}

// SetNeedsDisplayInRect marks rect, in layer coordinates, for repaint.
func (l *Layer) SetNeedsDisplayInRect(rect image.Rectangle) {
	if l.store == nil || rect.Empty() {
		return
	}
	l.store.SetNeedsDisplayInRect(rect)
	l.noteChanged(transaction.BackingStoreChanged)
}

// NeedsDisplay reports whether the backing store has pending pixels.
func (l *Layer) NeedsDisplay() bool {
	return l.store != nil && l.store.NeedsDisplay()
}

// Scroll shifts the pixels inside rect by delta.
func (l *Layer) Scroll(rect image.Rectangle, delta image.Point) {
	if l.store == nil {
		return
	}
	l.store.Scroll(rect, delta)
	l.noteChanged(transaction.BackingStoreChanged)
}

// Destroy removes the layer from its tree and from its context. Children are
// detached but not destroyed.
func (l *Layer) Destroy() {
	if l.destroyed {
		return
	}
	l.RemoveFromParent()
	l.RemoveAllChildren()
	l.destroyed = true
	l.store = nil
	l.ctx.layerWasDestroyed(l)
}

func (l *Layer) noteChanged(mask transaction.ChangeMask) {
	if l.destroyed {
		return
	}
	l.changed |= mask
	l.ctx.layerDidChange(l)
}

func (l *Layer) childIDs() []transaction.LayerID {
	if len(l.children) == 0 {
		return nil
	}
	ids := make([]transaction.LayerID, len(l.children))
	for i, c := range l.children {
		ids[i] = c.id
	}
	return ids
}

// InvalidateRect marks rect, given in the coordinates of l's parent, for
// repaint on l and on every layer below it that it overlaps.
func (l *Layer) InvalidateRect(rect image.Rectangle) {
	local := rect.Sub(l.props.Position)
	if hit := local.Intersect(image.Rectangle{Max: l.props.Size}); !hit.Empty() {
		l.SetNeedsDisplayInRect(hit)
	}
	for _, c := range l.children {
		c.InvalidateRect(local)
	}
}

// ScrollRect scrolls rect, given in the coordinates of l's parent, by delta
// on l and on every content layer below it that it overlaps.
func (l *Layer) ScrollRect(rect image.Rectangle, delta image.Point) {
	local := rect.Sub(l.props.Position)
	if hit := local.Intersect(image.Rectangle{Max: l.props.Size}); !hit.Empty() {
		l.Scroll(hit, delta)
	}
	for _, c := range l.children {
		c.ScrollRect(local, delta)
	}
}

// Walk calls fn for l and every layer below it, parents first.
func (l *Layer) Walk(fn func(*Layer)) {
	fn(l)
	for _, c := range l.children {
		c.Walk(fn)
	}
}
