// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package drawingarea

import (
	"fmt"
	"image"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/drawingarea/layer"
	"github.com/gogpu/drawingarea/transaction"
)

// Kind identifies a drawing area backend.
type Kind uint8

const (
	// KindRemoteLayerTree sends layer tree commits to an out-of-process compositor.
	KindRemoteLayerTree Kind = iota + 1

	// KindLocal composites in process.
	KindLocal
)

// String returns the backend name used by the registry.
func (k Kind) String() string {
	switch k {
	case KindRemoteLayerTree:
		return "remote"
	case KindLocal:
		return "local"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Page is the owning page as seen by a drawing area.
//
// Geometry and scale come from the embedded WindowProvider. Layout and paint
// happen in UpdateRendering, which the area calls right before it snapshots
// the layer tree.
type Page interface {
	gpucontext.WindowProvider

	// UpdateRendering brings layout and the layer tree up to date.
	UpdateRendering()

	// WillCommitLayerTree is called with each transaction before it is sent.
	WillCommitLayerTree(tx *transaction.Transaction)
}

// DrawingArea is the contract a page drives rendering through, independent of
// which backend composites the result.
//
// All methods must be called from the area's run loop.
type DrawingArea interface {
	// Kind returns the backend kind.
	Kind() Kind

	// Identifier returns the ID messages for this area are routed by.
	Identifier() uint64

	// SetNeedsDisplay marks the whole view dirty.
	SetNeedsDisplay()

	// SetNeedsDisplayInRect marks rect, in view coordinates, dirty.
	SetNeedsDisplayInRect(rect image.Rectangle)

	// Scroll moves the pixels in rect by delta and dirties what was exposed.
	Scroll(rect image.Rectangle, delta image.Point)

	// SetRootCompositingLayer replaces the root of the page's layer tree.
	// A nil root detaches the page content.
	SetRootCompositingLayer(root *layer.Layer)

	// LayerContext returns the context the page creates layers with.
	LayerContext() *layer.Context

	// ScheduleCompositingLayerFlush requests a flush subject to throttling.
	ScheduleCompositingLayerFlush()

	// ScheduleCompositingLayerFlushImmediately requests a flush at the next
	// scheduling opportunity.
	ScheduleCompositingLayerFlushImmediately()

	// ScheduleInitialDeferredPaint requests the first paint after creation.
	ScheduleInitialDeferredPaint()

	// SetLayerTreeStateIsFrozen freezes or unfreezes the flush pipeline.
	SetLayerTreeStateIsFrozen(frozen bool)

	// LayerTreeStateIsFrozen reports whether the pipeline is frozen.
	LayerTreeStateIsFrozen() bool

	// ForceRepaint brings the page up to date and dispatches it now.
	ForceRepaint()

	// ForceRepaintAsync schedules a repaint and reports completion through
	// callback. It returns false if the backend cannot honor it.
	ForceRepaintAsync(callback transaction.CallbackID) bool

	// LayerFlushThrottlingIsActive reports whether throttling is in effect.
	LayerFlushThrottlingIsActive() bool

	// AdjustLayerFlushThrottling changes throttling. It returns false if the
	// backend does not throttle.
	AdjustLayerFlushThrottling(flags ThrottleFlags) bool

	// ActivityStateDidChange reports a visibility or activity transition.
	// A non-zero id must be reflected by the transaction that satisfies
	// callbacks.
	ActivityStateDidChange(changed ActivityState, id transaction.ActivityStateChangeID, callbacks []transaction.CallbackID)

	// AddTransactionCallbackID asks to be told when the next commit lands.
	AddTransactionCallbackID(callback transaction.CallbackID)

	// AddMilestonesToDispatch queues milestones for the next commit. It
	// returns false if the backend does not dispatch milestones.
	AddMilestonesToDispatch(m transaction.Milestones) bool

	// UpdateGeometry resizes the view.
	UpdateGeometry(size image.Point, flushSynchronously bool)

	// MainFrameContentSizeChanged reports a new document size.
	MainFrameContentSizeChanged(size image.Point)

	// SetViewExposedRect limits painting to rect; nil removes the limit.
	SetViewExposedRect(rect *image.Rectangle)

	// ViewExposedRect returns the exposed rect, if one is set.
	ViewExposedRect() (image.Rectangle, bool)

	// SetDeviceScaleFactor changes the device scale.
	SetDeviceScaleFactor(scale float64)

	// MarkLayersVolatileImmediatelyIfPossible releases layer pixels. It
	// returns false if that is not possible right now.
	MarkLayersVolatileImmediatelyIfPossible() bool

	// AdoptLayersFrom takes over the layers of a predecessor area.
	AdoptLayersFrom(old DrawingArea) error

	// AdoptDisplayRefreshMonitorsFrom takes over the refresh monitors of a
	// predecessor area.
	AdoptDisplayRefreshMonitorsFrom(old DrawingArea) error

	// Close releases the area. Pending work is flushed or abandoned.
	Close() error
}

// ViewSize returns the page size as a point.
func ViewSize(p Page) image.Point {
	w, h := p.Size()
	return image.Pt(w, h)
}
