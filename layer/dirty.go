// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package layer

import "image"

// maxDirtyRects is the threshold after which a region collapses to a full
// repaint. Past this many rects it's cheaper to redraw everything.
const maxDirtyRects = 16

// DirtyRegion accumulates rectangles that need to be repainted.
//
// The zero value is an empty region.
type DirtyRegion struct {
	rects []image.Rectangle
	full  bool
}

// Add marks rect as dirty. Empty rects are ignored and rects already covered
// by an accumulated rect are dropped.
func (r *DirtyRegion) Add(rect image.Rectangle) {
	if r.full || rect.Empty() {
		return
	}

	for _, existing := range r.rects {
		if rect.In(existing) {
			return
		}
	}

	kept := r.rects[:0]
	for _, existing := range r.rects {
		if !existing.In(rect) {
			kept = append(kept, existing)
		}
	}
	r.rects = append(kept, rect)

	if len(r.rects) > maxDirtyRects {
		r.AddAll()
	}
}

// AddAll marks the whole area dirty.
func (r *DirtyRegion) AddAll() {
	r.full = true
	r.rects = r.rects[:0]
}

// Union adds every rect of other to r.
func (r *DirtyRegion) Union(other *DirtyRegion) {
	if other.full {
		r.AddAll()
		return
	}
	for _, rect := range other.rects {
		r.Add(rect)
	}
}

// Clear empties the region.
func (r *DirtyRegion) Clear() {
	r.rects = r.rects[:0]
	r.full = false
}

// IsEmpty reports whether nothing is dirty.
func (r *DirtyRegion) IsEmpty() bool {
	return !r.full && len(r.rects) == 0
}

// IsFull reports whether the whole area is dirty.
func (r *DirtyRegion) IsFull() bool {
	return r.full
}

// Rects returns the accumulated rects. It returns nil when the region is full.
// The returned slice must not be modified.
func (r *DirtyRegion) Rects() []image.Rectangle {
	if r.full {
		return nil
	}
	return r.rects
}

// Bounds returns the union of the dirty rects clipped to area, or area itself
// when the region is full.
func (r *DirtyRegion) Bounds(area image.Rectangle) image.Rectangle {
	if r.full {
		return area
	}
	var u image.Rectangle
	for _, rect := range r.rects {
		u = u.Union(rect)
	}
	return u.Intersect(area)
}

// Clipped returns the dirty rects clipped to area, dropping empty results.
func (r *DirtyRegion) Clipped(area image.Rectangle) []image.Rectangle {
	if r.full {
		if area.Empty() {
			return nil
		}
		return []image.Rectangle{area}
	}
	out := make([]image.Rectangle, 0, len(r.rects))
	for _, rect := range r.rects {
		if c := rect.Intersect(area); !c.Empty() {
			out = append(out, c)
		}
	}
	return out
}
