// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package layer

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/gputypes"
	"github.com/tidwall/btree"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/drawingarea/transaction"
)

// Errors returned by Tree.Apply.
var (
	// ErrUnknownLayer is returned when a transaction references a layer the
	// tree has never seen.
	ErrUnknownLayer = errors.New("layer: unknown layer")

	// ErrBitmapCount is returned when the pixel buffers do not line up with
	// the transaction's bitmap updates.
	ErrBitmapCount = errors.New("layer: bitmap count mismatch")
)

// node is immutable once stored in a tree. Apply replaces nodes instead of
// mutating them, so copies of the tree can share nodes freely.
type node struct {
	kind   transaction.LayerKind
	props  transaction.LayerProperties
	pixels *image.RGBA
}

func (n *node) clone() *node {
	c := *n
	c.props.Children = append([]transaction.LayerID(nil), n.props.Children...)
	return &c
}

// Tree is the compositor-side mirror of a client layer tree.
//
// Layers are kept in an ordered B-tree keyed by LayerID. Copy is O(1) and
// the copy shares structure with the original until either is modified.
// A Tree is not safe for concurrent mutation; copies may be read from other
// goroutines while the original keeps applying transactions.
type Tree struct {
	layers *btree.Map[transaction.LayerID, *node]
	root   transaction.LayerID

	viewSize image.Point
	scale    float64
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{
		layers: btree.NewMap[transaction.LayerID, *node](0),
		scale:  1,
	}
}

// Copy returns a snapshot that is unaffected by later Apply calls.
func (t *Tree) Copy() *Tree {
	c := *t
	c.layers = t.layers.Copy()
	return &c
}

// Root returns the root layer ID, or 0 before the first root is set.
func (t *Tree) Root() transaction.LayerID { return t.root }

// Len returns the number of layers.
func (t *Tree) Len() int { return t.layers.Len() }

// ViewSize returns the view size of the last applied transaction.
func (t *Tree) ViewSize() image.Point { return t.viewSize }

// ScaleFactor returns the device scale of the last applied transaction.
func (t *Tree) ScaleFactor() float64 { return t.scale }

// IDs returns the layer IDs in ascending order.
func (t *Tree) IDs() []transaction.LayerID { return t.layers.Keys() }

// Layer returns the properties of layer id.
func (t *Tree) Layer(id transaction.LayerID) (transaction.LayerProperties, bool) {
	n, ok := t.layers.Get(id)
	if !ok {
		return transaction.LayerProperties{}, false
	}
	return n.props, true
}

// Pixels returns the backing pixels of layer id, or nil. The image must not
// be modified.
func (t *Tree) Pixels(id transaction.LayerID) *image.RGBA {
	n, ok := t.layers.Get(id)
	if !ok {
		return nil
	}
	return n.pixels
}

// Apply applies tx atomically: on error the tree is left unchanged.
// pixels holds the packed rows for each entry of tx.Bitmaps.
func (t *Tree) Apply(tx *transaction.Transaction, pixels [][]byte) error {
	if len(pixels) != len(tx.Bitmaps) {
		return fmt.Errorf("%w: %d updates, %d buffers", ErrBitmapCount, len(tx.Bitmaps), len(pixels))
	}

	next := t.layers.Copy()

	for _, c := range tx.CreatedLayers {
		next.Set(c.ID, &node{kind: c.Kind, props: transaction.DefaultLayerProperties()})
	}
	for _, id := range tx.DestroyedLayers {
		next.Delete(id)
	}

	for _, ch := range tx.Changes {
		old, ok := next.Get(ch.ID)
		if !ok {
			return fmt.Errorf("%w: change for %d", ErrUnknownLayer, ch.ID)
		}
		n := old.clone()
		applyProperties(&n.props, ch.Changed, ch.Properties)
		next.Set(ch.ID, n)
	}

	for i, b := range tx.Bitmaps {
		old, ok := next.Get(b.Layer)
		if !ok {
			return fmt.Errorf("%w: bitmap for %d", ErrUnknownLayer, b.Layer)
		}
		n := old.clone()
		n.pixels = updatedPixels(old.pixels, b.Size)
		if err := UnpackPixels(n.pixels, b.Rect, b.Format, pixels[i], int(b.Layout.BytesPerRow)); err != nil {
			return fmt.Errorf("layer: bitmap for %d: %w", b.Layer, err)
		}
		next.Set(b.Layer, n)
	}

	root := t.root
	if tx.RootLayerID != 0 {
		if _, ok := next.Get(tx.RootLayerID); !ok {
			return fmt.Errorf("%w: root %d", ErrUnknownLayer, tx.RootLayerID)
		}
		root = tx.RootLayerID
	}
	if _, ok := next.Get(root); !ok {
		root = 0
	}

	t.layers = next
	t.root = root
	if tx.ViewSize != (image.Point{}) {
		t.viewSize = tx.ViewSize
	}
	if tx.ScaleFactor > 0 {
		t.scale = tx.ScaleFactor
	}
	return nil
}

func applyProperties(dst *transaction.LayerProperties, mask transaction.ChangeMask, src transaction.LayerProperties) {
	if mask.Has(transaction.PositionChanged) {
		dst.Position = src.Position
	}
	if mask.Has(transaction.SizeChanged) {
		dst.Size = src.Size
	}
	if mask.Has(transaction.OpacityChanged) {
		dst.Opacity = src.Opacity
	}
	if mask.Has(transaction.HiddenChanged) {
		dst.Hidden = src.Hidden
	}
	if mask.Has(transaction.ChildrenChanged) {
		dst.Children = append(dst.Children[:0], src.Children...)
	}
	if mask.Has(transaction.BackgroundColorChanged) {
		dst.BackgroundColor = src.BackgroundColor
	}
	if mask.Has(transaction.ContentsScaleChanged) {
		dst.ContentsScale = src.ContentsScale
	}
}

// updatedPixels returns a private copy of old sized to size. A size change
// discards the old contents.
func updatedPixels(old *image.RGBA, size image.Point) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	if old != nil && old.Bounds().Size() == size {
		copy(img.Pix, old.Pix)
	}
	return img
}

// Bounds returns the rectangle of layer id in root coordinates.
func (t *Tree) Bounds(id transaction.LayerID) (image.Rectangle, bool) {
	var (
		found bool
		out   image.Rectangle
	)
	t.walk(func(lid transaction.LayerID, _ *node, r image.Rectangle, _ float64) bool {
		if lid == id {
			found, out = true, r
			return false
		}
		return true
	}, false)
	return out, found
}

// Composite renders the tree into dst, clearing it first. Hidden subtrees are
// skipped and opacity accumulates down the tree.
func (t *Tree) Composite(dst *image.RGBA) {
	xdraw.Draw(dst, dst.Bounds(), image.Transparent, image.Point{}, xdraw.Src)
	t.walk(func(_ transaction.LayerID, n *node, r image.Rectangle, opacity float64) bool {
		drawLayer(dst, n, r, opacity)
		return true
	}, true)
}

// walk visits the layers reachable from the root in paint order. With
// visibleOnly set, hidden and fully transparent subtrees are skipped.
func (t *Tree) walk(fn func(transaction.LayerID, *node, image.Rectangle, float64) bool, visibleOnly bool) {
	if t.root == 0 {
		return
	}
	visited := make(map[transaction.LayerID]bool, t.layers.Len())
	var visit func(id transaction.LayerID, origin image.Point, opacity float64) bool
	visit = func(id transaction.LayerID, origin image.Point, opacity float64) bool {
		n, ok := t.layers.Get(id)
		if !ok || visited[id] {
			return true
		}
		visited[id] = true
		opacity *= float64(n.props.Opacity)
		if visibleOnly && (n.props.Hidden || opacity <= 0) {
			return true
		}
		at := origin.Add(n.props.Position)
		r := image.Rectangle{Min: at, Max: at.Add(n.props.Size)}
		if !fn(id, n, r, opacity) {
			return false
		}
		for _, child := range n.props.Children {
			if !visit(child, r.Min, opacity) {
				return false
			}
		}
		return true
	}
	visit(t.root, image.Point{}, 1)
}

func drawLayer(dst *image.RGBA, n *node, r image.Rectangle, opacity float64) {
	if r.Empty() {
		return
	}
	if bg := n.props.BackgroundColor; bg.A > 0 {
		xdraw.Draw(dst, r, image.NewUniform(premultiplied(bg, opacity)), image.Point{}, xdraw.Over)
	}
	if n.pixels == nil {
		return
	}

	var mask image.Image
	if opacity < 1 {
		mask = image.NewUniform(color.Alpha16{A: uint16(opacity * 0xffff)})
	}
	src := n.pixels
	if src.Bounds().Size() == r.Size() {
		xdraw.DrawMask(dst, r, src, src.Bounds().Min, mask, image.Point{}, xdraw.Over)
		return
	}
	// Backing store painted at a different scale than the layer's logical size.
	xdraw.ApproxBiLinear.Scale(dst, r, src, src.Bounds(), xdraw.Over, &xdraw.Options{SrcMask: mask})
}

func premultiplied(c gputypes.Color, opacity float64) color.RGBA64 {
	a := clamp01(c.A * opacity)
	return color.RGBA64{
		R: uint16(clamp01(c.R) * a * 0xffff),
		G: uint16(clamp01(c.G) * a * 0xffff),
		B: uint16(clamp01(c.B) * a * 0xffff),
		A: uint16(a * 0xffff),
	}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
