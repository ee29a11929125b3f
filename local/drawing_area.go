// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package local implements a drawing area that composites the page's layers
// in process.
//
// Every flush applies the same transaction a remote compositor would receive
// to a local layer.Tree and composites the tree into the target image. When
// an uploader is configured, the damaged part of the frame is handed to it,
// so a GPU texture can mirror the target without a full upload per frame.
package local

import (
	"errors"
	"image"
	"log/slog"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/drawingarea"
	"github.com/gogpu/drawingarea/internal/logging"
	"github.com/gogpu/drawingarea/layer"
	"github.com/gogpu/drawingarea/runloop"
	"github.com/gogpu/drawingarea/transaction"
)

// Priority is the registry priority of the local backend.
const Priority = 10

var errNilPage = errors.New("local: nil page")

func init() {
	drawingarea.Register(drawingarea.KindLocal, Priority, factory, nil)
}

func factory(page drawingarea.Page, params drawingarea.Parameters) (drawingarea.DrawingArea, error) {
	a, err := New(page, params)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Option configures a local drawing area.
type Option func(*DrawingArea)

// WithFlushDelay delays flushes by d so bursts of changes composite once.
func WithFlushDelay(d time.Duration) Option {
	return func(a *DrawingArea) {
		a.flushDelay = d
	}
}

// WithLogger sets the logger used by the area.
func WithLogger(l *slog.Logger) Option {
	return func(a *DrawingArea) {
		a.log = l
	}
}

// DrawingArea composites a page into an image on the page's run loop.
type DrawingArea struct {
	page       drawingarea.Page
	id         uint64
	loop       runloop.Loop
	target     *image.RGBA
	uploader   gpucontext.TextureUpdater
	flushDelay time.Duration
	log        *slog.Logger

	ctx         *layer.Context
	rootLayer   *layer.Layer
	contentRoot *layer.Layer
	tree        *layer.Tree

	timer   runloop.Timer
	counter transaction.Counter

	frozen             bool
	pendingWhileFrozen bool

	pendingCallbacks      []transaction.CallbackID
	pendingMilestones     transaction.Milestones
	activityStateChangeID transaction.ActivityStateChangeID

	viewSize       image.Point
	contentSize    image.Point
	scale          float64
	exposedRect    image.Rectangle
	hasExposedRect bool

	closed bool
}

var _ drawingarea.DrawingArea = (*DrawingArea)(nil)

// New creates a local drawing area that composites into params.Target.
func New(page drawingarea.Page, params drawingarea.Parameters, opts ...Option) (*DrawingArea, error) {
	if page == nil {
		return nil, errNilPage
	}
	if params.Loop == nil {
		return nil, drawingarea.ErrNoLoop
	}
	if params.Target == nil {
		return nil, drawingarea.ErrNoTarget
	}

	a := &DrawingArea{
		page:     page,
		id:       params.ResolveIdentifier(),
		loop:     params.Loop,
		target:   params.Target,
		uploader: params.Uploader,
		viewSize: drawingarea.ViewSize(page),
		scale:    page.ScaleFactor(),
		tree:     layer.NewTree(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.scale <= 0 {
		a.scale = 1
	}

	a.ctx = layer.NewContext(params.Format)
	a.rootLayer = a.ctx.CreateLayer(transaction.LayerKindContainer)
	a.rootLayer.SetSize(a.viewSize)
	a.timer = a.loop.NewTimer(a.flushLayers)

	a.logger().Info("local: drawing area created", "area", a.id, "target", a.target.Bounds())
	return a, nil
}

func (a *DrawingArea) logger() *slog.Logger {
	return logging.Or(a.log)
}

// Kind returns drawingarea.KindLocal.
func (a *DrawingArea) Kind() drawingarea.Kind { return drawingarea.KindLocal }

// Identifier returns the ID of the area.
func (a *DrawingArea) Identifier() uint64 { return a.id }

// LayerContext returns the context page layers must be created with.
func (a *DrawingArea) LayerContext() *layer.Context { return a.ctx }

// RootCompositingLayer returns the page root set by SetRootCompositingLayer.
func (a *DrawingArea) RootCompositingLayer() *layer.Layer { return a.contentRoot }

// Target returns the image frames are composited into.
func (a *DrawingArea) Target() *image.RGBA { return a.target }

// Tree returns a snapshot of the composited layer tree.
func (a *DrawingArea) Tree() *layer.Tree { return a.tree.Copy() }

// LastCommittedTransactionID returns the ID of the latest frame, or zero.
func (a *DrawingArea) LastCommittedTransactionID() transaction.ID { return a.counter.Current() }

// ContentSize returns the last reported main frame content size.
func (a *DrawingArea) ContentSize() image.Point { return a.contentSize }

// SetNeedsDisplay marks every layer for repaint.
func (a *DrawingArea) SetNeedsDisplay() {
	a.rootLayer.Walk((*layer.Layer).SetNeedsDisplay)
	a.ScheduleCompositingLayerFlush()
}

// SetNeedsDisplayInRect marks rect, in view coordinates, for repaint.
func (a *DrawingArea) SetNeedsDisplayInRect(rect image.Rectangle) {
	if rect.Empty() {
		return
	}
	a.rootLayer.InvalidateRect(rect)
	a.ScheduleCompositingLayerFlush()
}

// Scroll moves the pixels in rect by delta.
func (a *DrawingArea) Scroll(rect image.Rectangle, delta image.Point) {
	a.rootLayer.ScrollRect(rect, delta)
	a.ScheduleCompositingLayerFlush()
}

// SetRootCompositingLayer replaces the page content under the area root.
func (a *DrawingArea) SetRootCompositingLayer(root *layer.Layer) {
	a.rootLayer.RemoveAllChildren()
	a.contentRoot = root
	if root != nil {
		a.rootLayer.AddChild(root)
	}
	a.ScheduleCompositingLayerFlush()
}

// ScheduleCompositingLayerFlush requests a composite after the flush delay.
func (a *DrawingArea) ScheduleCompositingLayerFlush() {
	if a.closed {
		return
	}
	if a.frozen {
		a.pendingWhileFrozen = true
		return
	}
	if !a.timer.IsActive() {
		a.timer.StartOneShot(a.flushDelay)
	}
}

// ScheduleCompositingLayerFlushImmediately requests a composite on the next
// loop turn.
func (a *DrawingArea) ScheduleCompositingLayerFlushImmediately() {
	if a.closed {
		return
	}
	if a.frozen {
		a.pendingWhileFrozen = true
		return
	}
	a.timer.StartOneShot(0)
}

// ScheduleInitialDeferredPaint requests the first paint.
func (a *DrawingArea) ScheduleInitialDeferredPaint() {
	a.ScheduleCompositingLayerFlushImmediately()
}

// SetLayerTreeStateIsFrozen freezes or unfreezes compositing.
func (a *DrawingArea) SetLayerTreeStateIsFrozen(frozen bool) {
	if frozen == a.frozen {
		return
	}
	a.frozen = frozen
	if frozen {
		if a.timer.IsActive() {
			a.timer.Stop()
			a.pendingWhileFrozen = true
		}
		return
	}
	if a.pendingWhileFrozen {
		a.pendingWhileFrozen = false
		a.ScheduleCompositingLayerFlushImmediately()
	}
}

// LayerTreeStateIsFrozen reports whether compositing is frozen.
func (a *DrawingArea) LayerTreeStateIsFrozen() bool { return a.frozen }

// ForceRepaint composites now unless the area is frozen.
func (a *DrawingArea) ForceRepaint() {
	if a.closed {
		return
	}
	if a.frozen {
		a.pendingWhileFrozen = true
		return
	}
	a.timer.Stop()
	a.composite()
}

// ForceRepaintAsync schedules an immediate composite that carries callback.
func (a *DrawingArea) ForceRepaintAsync(callback transaction.CallbackID) bool {
	a.pendingCallbacks = append(a.pendingCallbacks, callback)
	a.ScheduleCompositingLayerFlushImmediately()
	return true
}

// LayerFlushThrottlingIsActive always returns false.
func (a *DrawingArea) LayerFlushThrottlingIsActive() bool { return false }

// AdjustLayerFlushThrottling returns false; local compositing is not throttled.
func (a *DrawingArea) AdjustLayerFlushThrottling(drawingarea.ThrottleFlags) bool { return false }

// ActivityStateDidChange records callbacks for the next frame.
func (a *DrawingArea) ActivityStateDidChange(changed drawingarea.ActivityState, id transaction.ActivityStateChangeID, callbacks []transaction.CallbackID) {
	a.logger().Debug("local: activity state changed", "area", a.id, "changed", changed, "change", id)
	a.pendingCallbacks = append(a.pendingCallbacks, callbacks...)
	if id != transaction.ActivityStateChangeAsynchronous {
		a.activityStateChangeID = id
		a.ScheduleCompositingLayerFlushImmediately()
		return
	}
	if len(callbacks) > 0 {
		a.ScheduleCompositingLayerFlush()
	}
}

// AddTransactionCallbackID attaches callback to the next frame.
func (a *DrawingArea) AddTransactionCallbackID(callback transaction.CallbackID) {
	a.pendingCallbacks = append(a.pendingCallbacks, callback)
	a.ScheduleCompositingLayerFlush()
}

// AddMilestonesToDispatch attaches m to the next frame.
func (a *DrawingArea) AddMilestonesToDispatch(m transaction.Milestones) bool {
	a.pendingMilestones = a.pendingMilestones.Add(m)
	a.ScheduleCompositingLayerFlush()
	return true
}

// UpdateGeometry resizes the view. The target image keeps its size.
func (a *DrawingArea) UpdateGeometry(size image.Point, flushSynchronously bool) {
	a.viewSize = size
	a.ctx.Resize(a.rootLayer, size)
	if flushSynchronously {
		a.ForceRepaint()
		return
	}
	a.ScheduleCompositingLayerFlushImmediately()
}

// MainFrameContentSizeChanged records the document size.
func (a *DrawingArea) MainFrameContentSizeChanged(size image.Point) {
	a.contentSize = size
}

// SetViewExposedRect limits compositing to rect; nil removes the limit.
func (a *DrawingArea) SetViewExposedRect(rect *image.Rectangle) {
	if rect == nil {
		a.exposedRect, a.hasExposedRect = image.Rectangle{}, false
	} else {
		a.exposedRect, a.hasExposedRect = *rect, true
	}
	a.ScheduleCompositingLayerFlush()
}

// ViewExposedRect returns the exposed rect, if set.
func (a *DrawingArea) ViewExposedRect() (image.Rectangle, bool) {
	return a.exposedRect, a.hasExposedRect
}

// SetDeviceScaleFactor changes the contents scale of every layer.
func (a *DrawingArea) SetDeviceScaleFactor(scale float64) {
	if scale <= 0 || scale == a.scale {
		return
	}
	a.scale = scale
	a.rootLayer.Walk(func(l *layer.Layer) { l.SetContentsScale(scale) })
	a.ScheduleCompositingLayerFlush()
}

// MarkLayersVolatileImmediatelyIfPossible releases layer pixels. Frames are
// composited synchronously, so this always succeeds.
func (a *DrawingArea) MarkLayersVolatileImmediatelyIfPossible() bool {
	a.ctx.MarkVolatile()
	return true
}

// AdoptLayersFrom takes over the layers of a local predecessor.
func (a *DrawingArea) AdoptLayersFrom(old drawingarea.DrawingArea) error {
	if old == nil {
		return nil
	}
	prev, ok := old.(*DrawingArea)
	if !ok {
		return &drawingarea.IncompatibleAreaError{Want: a.Kind(), Got: old.Kind()}
	}
	if prev == a {
		return nil
	}

	a.ctx.AdoptLayersFrom(prev.ctx)
	if prev.contentRoot != nil && a.contentRoot == nil {
		a.SetRootCompositingLayer(prev.contentRoot)
	}
	prev.rootLayer.Destroy()
	prev.rootLayer = prev.ctx.CreateLayer(transaction.LayerKindContainer)
	prev.rootLayer.SetSize(prev.viewSize)
	prev.contentRoot = nil

	a.ScheduleCompositingLayerFlushImmediately()
	return nil
}

// AdoptDisplayRefreshMonitorsFrom accepts a local predecessor, which has no
// refresh monitors to hand over.
func (a *DrawingArea) AdoptDisplayRefreshMonitorsFrom(old drawingarea.DrawingArea) error {
	if old == nil {
		return nil
	}
	if old.Kind() != drawingarea.KindLocal {
		return &drawingarea.IncompatibleAreaError{Want: a.Kind(), Got: old.Kind()}
	}
	return nil
}

func (a *DrawingArea) flushLayers() {
	if a.closed {
		return
	}
	if a.frozen {
		a.pendingWhileFrozen = true
		return
	}
	a.composite()
}

// composite builds a transaction, applies it to the local tree and renders
// the tree into the target.
func (a *DrawingArea) composite() {
	a.page.UpdateRendering()

	tx := &transaction.Transaction{
		ViewSize:       a.viewSize,
		ScaleFactor:    a.scale,
		ExposedRect:    a.exposedRect,
		HasExposedRect: a.hasExposedRect,
	}
	buffers := a.ctx.BuildTransaction(tx, a.rootLayer)
	tx.CallbackIDs, a.pendingCallbacks = a.pendingCallbacks, nil
	tx.Milestones, a.pendingMilestones = a.pendingMilestones, 0
	tx.ActivityStateChangeID = a.activityStateChangeID
	a.activityStateChangeID = transaction.ActivityStateChangeAsynchronous
	tx.ID = a.counter.Increment()
	a.page.WillCommitLayerTree(tx)

	pixels := make([][]byte, len(buffers))
	for i, b := range buffers {
		pixels[i] = b.Pixels()
	}
	next := a.tree.Copy()
	if err := next.Apply(tx, pixels); err != nil {
		a.logger().Warn("local: transaction rejected", "area", a.id, "transaction", tx.ID, "error", err)
		return
	}
	damage := a.damage(tx, next)
	a.tree = next

	if damage.Empty() {
		return
	}
	if a.hasExposedRect {
		damage = damage.Intersect(a.exposedRect)
	}
	a.tree.Composite(a.target)
	a.upload(damage)
	a.page.RequestRedraw()

	a.logger().Debug("local: composited", "area", a.id, "transaction", tx.ID, "damage", damage)
}

// damage returns the part of the target that changed. Structural or
// property changes damage the whole frame; pure pixel updates damage only
// their layers' rects.
func (a *DrawingArea) damage(tx *transaction.Transaction, tree *layer.Tree) image.Rectangle {
	full := a.target.Bounds()
	if len(tx.CreatedLayers) > 0 || len(tx.DestroyedLayers) > 0 || tx.RootLayerID != a.tree.Root() {
		return full
	}
	for _, c := range tx.Changes {
		if c.Changed&^transaction.BackingStoreChanged != 0 {
			return full
		}
	}

	var damage image.Rectangle
	for _, b := range tx.Bitmaps {
		bounds, ok := tree.Bounds(b.Layer)
		if !ok {
			return full
		}
		if b.Size != bounds.Size() {
			// Scaled contents; map through the layer bounds.
			damage = damage.Union(bounds)
			continue
		}
		damage = damage.Union(b.Rect.Add(bounds.Min).Intersect(bounds))
	}
	return damage.Intersect(full)
}

func (a *DrawingArea) upload(damage image.Rectangle) {
	if a.uploader == nil || damage.Empty() {
		return
	}
	var err error
	if ru, ok := a.uploader.(gpucontext.TextureRegionUpdater); ok && damage != a.target.Bounds() {
		r := damage.Sub(a.target.Bounds().Min)
		err = ru.UpdateRegion(r.Min.X, r.Min.Y, r.Dx(), r.Dy(),
			layer.PackPixels(a.target, damage, gputypes.TextureFormatRGBA8Unorm))
	} else {
		err = a.uploader.UpdateData(layer.PackPixels(a.target, a.target.Bounds(), gputypes.TextureFormatRGBA8Unorm))
	}
	if err != nil {
		a.logger().Warn("local: texture upload failed", "area", a.id, "error", err)
	}
}

// Close stops compositing.
func (a *DrawingArea) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.timer.Stop()
	a.logger().Info("local: drawing area closed", "area", a.id, "frames", a.counter.Current())
	return nil
}
