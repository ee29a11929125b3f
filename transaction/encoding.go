// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package transaction

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gputypes"
)

// Wire format constants.
const (
	encodingMagic   uint32 = 0x4c545458 // "LTTX"
	encodingVersion uint16 = 1
)

// ErrMalformedTransaction is returned when a payload cannot be decoded.
var ErrMalformedTransaction = errors.New("transaction: malformed payload")

// Encode serializes tx into the little-endian commit payload.
func Encode(tx *Transaction) []byte {
	e := encoder{buf: make([]byte, 0, 128+len(tx.Changes)*96+len(tx.Bitmaps)*64)}

	e.u32(encodingMagic)
	e.u16(encodingVersion)

	e.u64(uint64(tx.ID))
	e.u64(uint64(tx.RootLayerID))
	e.u32(uint32(tx.Milestones))
	e.u64(uint64(tx.ActivityStateChangeID))
	e.point(tx.ViewSize)
	e.f64(tx.ScaleFactor)
	e.boolean(tx.HasExposedRect)
	e.rect(tx.ExposedRect)

	e.count(len(tx.CreatedLayers))
	for _, c := range tx.CreatedLayers {
		e.u64(uint64(c.ID))
		e.u8(uint8(c.Kind))
	}

	e.count(len(tx.DestroyedLayers))
	for _, id := range tx.DestroyedLayers {
		e.u64(uint64(id))
	}

	e.count(len(tx.Changes))
	for i := range tx.Changes {
		e.change(&tx.Changes[i])
	}

	e.count(len(tx.Bitmaps))
	for _, b := range tx.Bitmaps {
		e.u64(uint64(b.Layer))
		e.point(b.Size)
		e.rect(b.Rect)
		e.u32(uint32(b.Format))
		e.u64(b.Layout.Offset)
		e.u32(b.Layout.BytesPerRow)
		e.u32(b.Layout.RowsPerImage)
	}

	e.count(len(tx.CallbackIDs))
	for _, id := range tx.CallbackIDs {
		e.u64(uint64(id))
	}

	return e.buf
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (*Transaction, error) {
	d := decoder{buf: data}

	if magic := d.u32(); d.err == nil && magic != encodingMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrMalformedTransaction, magic)
	}
	if version := d.u16(); d.err == nil && version != encodingVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedTransaction, version)
	}

	tx := &Transaction{}
	tx.ID = ID(d.u64())
	tx.RootLayerID = LayerID(d.u64())
	tx.Milestones = Milestones(d.u32())
	tx.ActivityStateChangeID = ActivityStateChangeID(d.u64())
	tx.ViewSize = d.point()
	tx.ScaleFactor = d.f64()
	tx.HasExposedRect = d.boolean()
	tx.ExposedRect = d.rect()

	if n := d.count(9); n > 0 {
		tx.CreatedLayers = make([]LayerCreation, n)
		for i := range tx.CreatedLayers {
			tx.CreatedLayers[i] = LayerCreation{ID: LayerID(d.u64()), Kind: LayerKind(d.u8())}
		}
	}

	if n := d.count(8); n > 0 {
		tx.DestroyedLayers = make([]LayerID, n)
		for i := range tx.DestroyedLayers {
			tx.DestroyedLayers[i] = LayerID(d.u64())
		}
	}

	if n := d.count(minChangeSize); n > 0 {
		tx.Changes = make([]LayerChange, n)
		for i := range tx.Changes {
			d.change(&tx.Changes[i])
		}
	}

	if n := d.count(bitmapSize); n > 0 {
		tx.Bitmaps = make([]BitmapUpdate, n)
		for i := range tx.Bitmaps {
			b := &tx.Bitmaps[i]
			b.Layer = LayerID(d.u64())
			b.Size = d.point()
			b.Rect = d.rect()
			b.Format = gputypes.TextureFormat(d.u32())
			b.Layout.Offset = d.u64()
			b.Layout.BytesPerRow = d.u32()
			b.Layout.RowsPerImage = d.u32()
		}
	}

	if n := d.count(8); n > 0 {
		tx.CallbackIDs = make([]CallbackID, n)
		for i := range tx.CallbackIDs {
			tx.CallbackIDs[i] = CallbackID(d.u64())
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != d.off {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, len(d.buf)-d.off)
	}
	return tx, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	return Encode(tx), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (tx *Transaction) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*tx = *decoded
	return nil
}

// Minimum encoded sizes used to reject absurd element counts before allocating.
const (
	minChangeSize = 8 + 4 + 8 + 8 + 4 + 1 + 4 + 32 + 8
	bitmapSize    = 8 + 8 + 16 + 4 + 8 + 4 + 4
)

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) i32(v int)    { e.u32(uint32(int32(v))) } //nolint:gosec // coordinates fit in int32
func (e *encoder) f32(v float32) {
	e.u32(math.Float32bits(v))
}
func (e *encoder) f64(v float64) {
	e.u64(math.Float64bits(v))
}

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
		return
	}
	e.u8(0)
}

func (e *encoder) count(n int) { e.u32(uint32(n)) } //nolint:gosec // slice lengths fit in uint32

func (e *encoder) point(p image.Point) {
	e.i32(p.X)
	e.i32(p.Y)
}

func (e *encoder) rect(r image.Rectangle) {
	e.point(r.Min)
	e.point(r.Max)
}

func (e *encoder) change(c *LayerChange) {
	p := &c.Properties
	e.u64(uint64(c.ID))
	e.u32(uint32(c.Changed))
	e.point(p.Position)
	e.point(p.Size)
	e.f32(p.Opacity)
	e.boolean(p.Hidden)
	e.count(len(p.Children))
	for _, id := range p.Children {
		e.u64(uint64(id))
	}
	e.f64(p.BackgroundColor.R)
	e.f64(p.BackgroundColor.G)
	e.f64(p.BackgroundColor.B)
	e.f64(p.BackgroundColor.A)
	e.f64(p.ContentsScale)
}

// decoder reads the wire format. The first error sticks; later reads
// return zero values so callers can check err once at the end.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf)-d.off < n {
		d.err = fmt.Errorf("%w: truncated at offset %d", ErrMalformedTransaction, d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) i32() int      { return int(int32(d.u32())) } //nolint:gosec // round-trips encoder.i32
func (d *decoder) f32() float32  { return math.Float32frombits(d.u32()) }
func (d *decoder) f64() float64  { return math.Float64frombits(d.u64()) }
func (d *decoder) boolean() bool { return d.u8() != 0 }

// count reads an element count and rejects counts that cannot fit in the
// remaining bytes given each element's minimum size.
func (d *decoder) count(minSize int) int {
	n := int(d.u32())
	if d.err != nil {
		return 0
	}
	if n < 0 || n > (len(d.buf)-d.off)/minSize {
		d.err = fmt.Errorf("%w: count %d exceeds payload", ErrMalformedTransaction, n)
		return 0
	}
	return n
}

func (d *decoder) point() image.Point {
	x := d.i32()
	y := d.i32()
	return image.Point{X: x, Y: y}
}

func (d *decoder) rect() image.Rectangle {
	minPt := d.point()
	maxPt := d.point()
	return image.Rectangle{Min: minPt, Max: maxPt}
}

func (d *decoder) change(c *LayerChange) {
	p := &c.Properties
	c.ID = LayerID(d.u64())
	c.Changed = ChangeMask(d.u32())
	p.Position = d.point()
	p.Size = d.point()
	p.Opacity = d.f32()
	p.Hidden = d.boolean()
	if n := d.count(8); n > 0 {
		p.Children = make([]LayerID, n)
		for i := range p.Children {
			p.Children[i] = LayerID(d.u64())
		}
	}
	p.BackgroundColor = gputypes.Color{R: d.f64(), G: d.f64(), B: d.f64(), A: d.f64()}
	p.ContentsScale = d.f64()
}
