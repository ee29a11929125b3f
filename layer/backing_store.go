// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package layer

import (
	"image"

	"github.com/gogpu/gputypes"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/drawingarea/transaction"
)

// Painter produces the pixels of a content layer.
//
// dst is already clipped to clip; a painter must not assume it starts at the
// origin. Painting is the owning page's job; the layer only decides what to
// repaint and when.
type Painter interface {
	PaintContents(l *Layer, dst *image.RGBA, clip image.Rectangle)
}

// PainterFunc adapts a function to the Painter interface.
type PainterFunc func(l *Layer, dst *image.RGBA, clip image.Rectangle)

// PaintContents calls f(l, dst, clip).
func (f PainterFunc) PaintContents(l *Layer, dst *image.RGBA, clip image.Rectangle) {
	f(l, dst, clip)
}

// Buffer is a displayed backing store image handed to the transport.
//
// Image is never written again after Display returns it, so it may be read
// from another goroutine while the layer keeps painting into a new buffer.
type Buffer struct {
	Layer  transaction.LayerID
	Image  *image.RGBA
	Rect   image.Rectangle
	Format gputypes.TextureFormat
}

// Update describes the buffer for a transaction.
func (b Buffer) Update() transaction.BitmapUpdate {
	rowLen := b.Rect.Dx() * bytesPerPixel
	return transaction.BitmapUpdate{
		Layer:  b.Layer,
		Size:   b.Image.Bounds().Size(),
		Rect:   b.Rect,
		Format: b.Format,
		Layout: gputypes.TextureDataLayout{
			BytesPerRow:  uint32(rowLen),      //nolint:gosec // layer sizes fit in uint32
			RowsPerImage: uint32(b.Rect.Dy()), //nolint:gosec // layer sizes fit in uint32
		},
	}
}

// Pixels packs the updated rect for transfer.
func (b Buffer) Pixels() []byte {
	return PackPixels(b.Image, b.Rect, b.Format)
}

// BackingStore holds the pixels of one content layer.
//
// It is double buffered: Display paints into a fresh image seeded from the
// previous front buffer, so a buffer already handed to the transport is
// never mutated.
type BackingStore struct {
	size   image.Point
	format gputypes.TextureFormat
	front  *image.RGBA

	// dirty needs painting; upload is valid in front but not yet transferred.
	dirty  DirtyRegion
	upload DirtyRegion
}

// NewBackingStore creates a store that needs a full paint.
func NewBackingStore(size image.Point, format gputypes.TextureFormat) *BackingStore {
	b := &BackingStore{size: size, format: format}
	b.dirty.AddAll()
	return b
}

// Size returns the store dimensions.
func (b *BackingStore) Size() image.Point { return b.size }

// Bounds returns the store rectangle anchored at the origin.
func (b *BackingStore) Bounds() image.Rectangle {
	return image.Rectangle{Max: b.size}
}

// Format returns the transfer pixel format.
func (b *BackingStore) Format() gputypes.TextureFormat { return b.format }

// Front returns the last displayed image, or nil.
func (b *BackingStore) Front() *image.RGBA { return b.front }

// SetNeedsDisplay marks the whole store for repaint.
func (b *BackingStore) SetNeedsDisplay() {
	b.dirty.AddAll()
}

// SetNeedsDisplayInRect marks rect for repaint.
func (b *BackingStore) SetNeedsDisplayInRect(rect image.Rectangle) {
	b.dirty.Add(rect.Intersect(b.Bounds()))
}

// NeedsDisplay reports whether Display would produce a buffer.
func (b *BackingStore) NeedsDisplay() bool {
	if b.Bounds().Empty() {
		return false
	}
	return !b.dirty.IsEmpty() || !b.upload.IsEmpty()
}

// IsVolatile reports whether the store has released its pixels.
func (b *BackingStore) IsVolatile() bool {
	return b.front == nil
}

// MakeVolatile releases the front buffer. The next Display repaints everything.
func (b *BackingStore) MakeVolatile() {
	b.front = nil
	b.upload.Clear()
	b.dirty.AddAll()
}

// Display paints the dirty area into a new front buffer and returns it.
// It returns false when there is nothing to transfer.
func (b *BackingStore) Display(l *Layer, p Painter) (Buffer, bool) {
	bounds := b.Bounds()
	if !b.NeedsDisplay() {
		return Buffer{}, false
	}
	if b.front == nil {
		b.dirty.AddAll()
	}

	back := image.NewRGBA(bounds)
	if b.front != nil && !b.dirty.IsFull() {
		xdraw.Copy(back, image.Point{}, b.front, b.front.Bounds(), xdraw.Src, nil)
	}

	if p != nil {
		for _, r := range b.dirty.Clipped(bounds) {
			p.PaintContents(l, back.SubImage(r).(*image.RGBA), r)
		}
	}

	changed := b.dirty.Bounds(bounds).Union(b.upload.Bounds(bounds))
	b.front = back
	b.dirty.Clear()
	b.upload.Clear()

	var id transaction.LayerID
	if l != nil {
		id = l.ID()
	}
	return Buffer{Layer: id, Image: back, Rect: changed, Format: b.format}, true
}

// Scroll moves the pixels inside rect by delta. Pixels scrolled in from
// outside rect are marked for repaint; moved pixels are only re-uploaded.
func (b *BackingStore) Scroll(rect image.Rectangle, delta image.Point) {
	rect = rect.Intersect(b.Bounds())
	if rect.Empty() || delta == (image.Point{}) {
		return
	}

	// Pending damage inside the scrolled area moves with the content.
	if !b.dirty.IsFull() {
		for _, r := range append([]image.Rectangle(nil), b.dirty.Rects()...) {
			b.dirty.Add(r.Intersect(rect).Add(delta).Intersect(rect))
		}
	}

	if b.front == nil {
		b.dirty.Add(rect)
		return
	}

	dst := rect.Add(delta).Intersect(rect)
	next := image.NewRGBA(b.Bounds())
	xdraw.Copy(next, image.Point{}, b.front, b.front.Bounds(), xdraw.Src, nil)
	if !dst.Empty() {
		xdraw.Copy(next, dst.Min, b.front, dst.Sub(delta), xdraw.Src, nil)
	}
	b.front = next

	b.upload.Add(dst)
	for _, r := range subtractRect(rect, dst) {
		b.dirty.Add(r)
	}
}

// subtractRect returns up to four rects covering a minus b.
func subtractRect(a, b image.Rectangle) []image.Rectangle {
	b = b.Intersect(a)
	if b.Empty() {
		return []image.Rectangle{a}
	}
	var out []image.Rectangle
	if b.Min.Y > a.Min.Y {
		out = append(out, image.Rect(a.Min.X, a.Min.Y, a.Max.X, b.Min.Y))
	}
	if b.Max.Y < a.Max.Y {
		out = append(out, image.Rect(a.Min.X, b.Max.Y, a.Max.X, a.Max.Y))
	}
	if b.Min.X > a.Min.X {
		out = append(out, image.Rect(a.Min.X, b.Min.Y, b.Min.X, b.Max.Y))
	}
	if b.Max.X < a.Max.X {
		out = append(out, image.Rect(b.Max.X, b.Min.Y, a.Max.X, b.Max.Y))
	}
	return out
}
