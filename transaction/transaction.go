// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package transaction

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
)

// LayerID identifies a layer in the retained tree. Zero is never a valid layer.
type LayerID uint64

// LayerKind selects what a layer carries.
type LayerKind uint8

const (
	// LayerKindContainer layers only group children.
	LayerKindContainer LayerKind = iota

	// LayerKindContent layers own a backing store with pixels.
	LayerKindContent
)

// String returns the kind name.
func (k LayerKind) String() string {
	switch k {
	case LayerKindContainer:
		return "Container"
	case LayerKindContent:
		return "Content"
	default:
		return fmt.Sprintf("LayerKind(%d)", uint8(k))
	}
}

// ChangeMask records which layer properties changed since the last commit.
type ChangeMask uint32

// Layer property change bits.
const (
	PositionChanged ChangeMask = 1 << iota
	SizeChanged
	OpacityChanged
	HiddenChanged
	ChildrenChanged
	BackgroundColorChanged
	ContentsScaleChanged
	BackingStoreChanged

	// AllPropertiesChanged is used when a layer is (re)introduced to a tree.
	AllPropertiesChanged = PositionChanged | SizeChanged | OpacityChanged |
		HiddenChanged | ChildrenChanged | BackgroundColorChanged | ContentsScaleChanged
)

// Has reports whether every bit of flag is set.
func (m ChangeMask) Has(flag ChangeMask) bool {
	return m&flag == flag
}

// LayerProperties is the full property set of one layer.
// Position is relative to the parent layer's origin.
type LayerProperties struct {
	Position        image.Point
	Size            image.Point
	Opacity         float32
	Hidden          bool
	Children        []LayerID
	BackgroundColor gputypes.Color
	ContentsScale   float64
}

// DefaultLayerProperties returns the properties of a freshly created layer.
func DefaultLayerProperties() LayerProperties {
	return LayerProperties{
		Opacity:         1,
		BackgroundColor: gputypes.Color{},
		ContentsScale:   1,
	}
}

// LayerCreation announces a layer the remote side has not seen yet.
type LayerCreation struct {
	ID   LayerID
	Kind LayerKind
}

// LayerChange carries the changed properties of one layer. Only the fields
// selected by Changed are meaningful.
type LayerChange struct {
	ID         LayerID
	Changed    ChangeMask
	Properties LayerProperties
}

// BitmapUpdate describes newly produced pixels for a layer's backing store.
//
// The pixels themselves travel out of band, index-aligned with
// Transaction.Bitmaps, as densely packed rows of Rect in Format.
type BitmapUpdate struct {
	Layer  LayerID
	Size   image.Point
	Rect   image.Rectangle
	Format gputypes.TextureFormat
	Layout gputypes.TextureDataLayout
}

// ByteLen returns the number of pixel bytes the update expects.
func (b BitmapUpdate) ByteLen() int {
	return int(b.Layout.BytesPerRow) * b.Rect.Dy()
}

// Transaction is one atomic, ordered update to the remote retained scene.
type Transaction struct {
	ID          ID
	RootLayerID LayerID

	CreatedLayers   []LayerCreation
	DestroyedLayers []LayerID
	Changes         []LayerChange
	Bitmaps         []BitmapUpdate

	CallbackIDs           []CallbackID
	Milestones            Milestones
	ActivityStateChangeID ActivityStateChangeID

	ViewSize       image.Point
	ScaleFactor    float64
	ExposedRect    image.Rectangle
	HasExposedRect bool
}

// HasLayerChanges reports whether the transaction mutates the layer tree.
func (tx *Transaction) HasLayerChanges() bool {
	return len(tx.CreatedLayers) > 0 || len(tx.DestroyedLayers) > 0 ||
		len(tx.Changes) > 0 || len(tx.Bitmaps) > 0
}

// ChangedLayer returns the change record for id, if any.
func (tx *Transaction) ChangedLayer(id LayerID) (LayerChange, bool) {
	for _, c := range tx.Changes {
		if c.ID == id {
			return c, true
		}
	}
	return LayerChange{}, false
}

// DirtyRects returns the bitmap rectangles updated for layer id.
func (tx *Transaction) DirtyRects(id LayerID) []image.Rectangle {
	var rects []image.Rectangle
	for _, b := range tx.Bitmaps {
		if b.Layer == id {
			rects = append(rects, b.Rect)
		}
	}
	return rects
}

// String returns a short description for logs.
func (tx *Transaction) String() string {
	return fmt.Sprintf("transaction %d: root=%d created=%d destroyed=%d changes=%d bitmaps=%d callbacks=%d milestones=%s",
		tx.ID, tx.RootLayerID, len(tx.CreatedLayers), len(tx.DestroyedLayers),
		len(tx.Changes), len(tx.Bitmaps), len(tx.CallbackIDs), tx.Milestones)
}
