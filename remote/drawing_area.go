// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package remote implements the drawing area that commits layer tree
// transactions to an out-of-process compositor.
//
// Flushes are coalesced by a one-shot timer on the area's run loop. At most
// one commit awaits acknowledgment at any time: a flush that comes due while
// the compositor has not acknowledged the previous commit is deferred and
// runs the moment the acknowledgment arrives. Freezing the area suspends
// commits entirely; one catch-up flush runs on unfreeze if anything was
// requested in between.
//
// Importing the package registers the backend with drawingarea:
//
//	import _ "github.com/gogpu/drawingarea/remote"
package remote

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"

	"github.com/gogpu/drawingarea"
	"github.com/gogpu/drawingarea/internal/logging"
	"github.com/gogpu/drawingarea/ipc"
	"github.com/gogpu/drawingarea/layer"
	"github.com/gogpu/drawingarea/runloop"
	"github.com/gogpu/drawingarea/transaction"
)

// Priority is the registry priority of the remote backend.
const Priority = 100

var errNilPage = errors.New("remote: nil page")

func init() {
	drawingarea.Register(drawingarea.KindRemoteLayerTree, Priority, factory, nil)
}

func factory(page drawingarea.Page, params drawingarea.Parameters) (drawingarea.DrawingArea, error) {
	a, err := New(page, params)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// DrawingArea schedules and sends layer tree commits for one page.
//
// All methods except DidReceiveMessage must be called on the area's run loop.
type DrawingArea struct {
	page   drawingarea.Page
	id     uint64
	loop   runloop.Loop
	conn   ipc.Connection
	router *ipc.Router
	cfg    Config

	commitQueue runloop.Loop
	ownedQueue  *runloop.Queue
	flushers    []*BackingStoreFlusher
	lastFlusher *BackingStoreFlusher

	ctx         *layer.Context
	rootLayer   *layer.Layer
	contentRoot *layer.Layer

	timer   runloop.Timer
	state   flushState
	counter transaction.Counter

	pendingCallbacks      []transaction.CallbackID
	pendingMilestones     transaction.Milestones
	activityStateChangeID transaction.ActivityStateChangeID

	throttling                       bool
	throttlingDisabledForInteraction bool
	initialThrottledFlush            bool

	viewSize        image.Point
	geometryChanged bool
	contentSize     image.Point
	scale           float64
	exposedRect     image.Rectangle
	hasExposedRect  bool

	monitors []*DisplayRefreshMonitor
	closed   bool
}

var (
	_ drawingarea.DrawingArea = (*DrawingArea)(nil)
	_ ipc.Receiver            = (*DrawingArea)(nil)
)

// New creates a remote drawing area for page.
//
// params.Loop and params.Connection are required. Without params.Router the
// area installs itself as the connection's receiver.
func New(page drawingarea.Page, params drawingarea.Parameters, opts ...Option) (*DrawingArea, error) {
	if page == nil {
		return nil, errNilPage
	}
	if params.Loop == nil {
		return nil, drawingarea.ErrNoLoop
	}
	if params.Connection == nil {
		return nil, drawingarea.ErrNoConnection
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &DrawingArea{
		page:     page,
		id:       params.ResolveIdentifier(),
		loop:     params.Loop,
		conn:     params.Connection,
		router:   params.Router,
		cfg:      cfg,
		viewSize: drawingarea.ViewSize(page),
		scale:    page.ScaleFactor(),
	}
	if a.scale <= 0 {
		a.scale = 1
	}

	a.commitQueue = cfg.CommitQueue
	if a.commitQueue == nil {
		a.commitQueue = params.CommitQueue
	}
	if a.commitQueue == nil {
		a.ownedQueue = runloop.NewQueue(fmt.Sprintf("drawingarea.remote.%d.commit", a.id))
		a.commitQueue = a.ownedQueue
	}

	a.ctx = layer.NewContext(params.Format)
	a.rootLayer = a.ctx.CreateLayer(transaction.LayerKindContainer)
	a.rootLayer.SetSize(a.viewSize)

	a.timer = a.loop.NewTimer(a.flushLayers)

	if a.router != nil {
		a.router.AddReceiver(a.id, a)
	} else {
		a.conn.SetReceiver(a)
	}

	a.logger().Info("remote: drawing area created", "area", a.id, "size", a.viewSize, "scale", a.scale)
	return a, nil
}

func (a *DrawingArea) logger() *slog.Logger {
	return logging.Or(a.cfg.Logger)
}

// Kind returns drawingarea.KindRemoteLayerTree.
func (a *DrawingArea) Kind() drawingarea.Kind { return drawingarea.KindRemoteLayerTree }

// Identifier returns the routing ID of the area.
func (a *DrawingArea) Identifier() uint64 { return a.id }

// LayerContext returns the context page layers must be created with.
func (a *DrawingArea) LayerContext() *layer.Context { return a.ctx }

// RootCompositingLayer returns the page root set by SetRootCompositingLayer.
func (a *DrawingArea) RootCompositingLayer() *layer.Layer { return a.contentRoot }

// State returns the state of the flush pipeline.
func (a *DrawingArea) State() State { return a.state.State() }

// AwaitedTransactionID returns the transaction whose acknowledgment gates
// the next regular flush, or zero.
func (a *DrawingArea) AwaitedTransactionID() transaction.ID { return a.state.awaiting }

// LastCommittedTransactionID returns the ID of the latest commit, or zero.
func (a *DrawingArea) LastCommittedTransactionID() transaction.ID { return a.counter.Current() }

// NextTransactionID returns the ID the next commit will carry.
func (a *DrawingArea) NextTransactionID() transaction.ID { return a.counter.Next() }

// ViewSize returns the current view size.
func (a *DrawingArea) ViewSize() image.Point { return a.viewSize }

// ContentSize returns the last reported main frame content size.
func (a *DrawingArea) ContentSize() image.Point { return a.contentSize }

// ScaleFactor returns the device scale factor.
func (a *DrawingArea) ScaleFactor() float64 { return a.scale }

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

// ScheduleCompositingLayerFlush requests a flush. Requests coalesce: while
// the flush timer runs, further requests do not move it.
func (a *DrawingArea) ScheduleCompositingLayerFlush() {
	if a.closed {
		return
	}
	if a.state.frozen {
		a.state.notePending()
		return
	}
	if a.throttlingDisabledForInteraction {
		a.throttlingDisabledForInteraction = false
		a.ScheduleCompositingLayerFlushImmediately()
		return
	}
	if a.timer.IsActive() {
		return
	}
	a.startFlushTimer()
}

// ScheduleCompositingLayerFlushImmediately requests a flush on the next loop
// turn, overriding any pending delay.
func (a *DrawingArea) ScheduleCompositingLayerFlushImmediately() {
	if a.closed {
		return
	}
	if a.state.frozen {
		a.state.notePending()
		return
	}
	a.timer.StartOneShot(0)
}

// ScheduleInitialDeferredPaint requests the first paint.
func (a *DrawingArea) ScheduleInitialDeferredPaint() {
	a.ScheduleCompositingLayerFlushImmediately()
}

func (a *DrawingArea) startFlushTimer() {
	delay := a.cfg.FlushDelay
	if a.throttling {
		delay = a.cfg.ThrottledFlushDelay
		if a.initialThrottledFlush {
			delay = a.cfg.InitialThrottledFlushDelay
		}
	}
	a.initialThrottledFlush = false
	a.timer.StartOneShot(delay)
}

// LayerFlushThrottlingIsActive reports whether a throttled flush is pending.
func (a *DrawingArea) LayerFlushThrottlingIsActive() bool {
	return a.throttling && a.timer.IsActive()
}

// AdjustLayerFlushThrottling turns throttling on or off. User interaction
// lifts throttling for the next request. A pending flush is rescheduled with
// the unthrottled delay when throttling turns off.
func (a *DrawingArea) AdjustLayerFlushThrottling(flags drawingarea.ThrottleFlags) bool {
	if flags.Has(drawingarea.ThrottleUserIsInteracting) {
		a.throttlingDisabledForInteraction = true
	}

	was := a.throttling
	a.throttling = flags.Has(drawingarea.ThrottleEnabled)

	if !was && a.throttling {
		a.initialThrottledFlush = true
	}
	if was && !a.throttling && a.timer.IsActive() {
		a.startFlushTimer()
	}
	return true
}

// SetLayerTreeStateIsFrozen freezes or unfreezes the flush pipeline. A flush
// requested while frozen runs once, immediately, on unfreeze.
func (a *DrawingArea) SetLayerTreeStateIsFrozen(frozen bool) {
	if frozen {
		if !a.state.freeze() {
			return
		}
		if a.timer.IsActive() {
			a.timer.Stop()
			a.state.notePending()
		}
		a.logger().Debug("remote: layer tree frozen", "area", a.id)
		return
	}

	changed, catchUp := a.state.unfreeze()
	if !changed {
		return
	}
	a.logger().Debug("remote: layer tree unfrozen", "area", a.id, "catchUp", catchUp)
	if catchUp {
		a.ScheduleCompositingLayerFlushImmediately()
	}
}

// LayerTreeStateIsFrozen reports whether the pipeline is frozen.
func (a *DrawingArea) LayerTreeStateIsFrozen() bool { return a.state.frozen }

// ForceRepaint commits now, bypassing the timer and the acknowledgment gate.
// A frozen area only records the request.
func (a *DrawingArea) ForceRepaint() {
	if a.closed {
		return
	}
	if a.state.frozen {
		a.state.notePending()
		return
	}
	id, ok := a.commit()
	if !ok {
		return
	}
	if !a.state.inFlight() {
		a.timer.Stop()
	}
	a.state.didForceCommit(id)
}

// ForceRepaintAsync schedules an immediate flush that carries callback.
func (a *DrawingArea) ForceRepaintAsync(callback transaction.CallbackID) bool {
	a.pendingCallbacks = append(a.pendingCallbacks, callback)
	a.ScheduleCompositingLayerFlushImmediately()
	return true
}

// ActivityStateDidChange records callbacks for the next commit. A synchronous
// change is committed without delay and tagged with id.
func (a *DrawingArea) ActivityStateDidChange(changed drawingarea.ActivityState, id transaction.ActivityStateChangeID, callbacks []transaction.CallbackID) {
	a.logger().Debug("remote: activity state changed", "area", a.id, "changed", changed, "change", id)

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

// AddTransactionCallbackID attaches callback to the next commit.
func (a *DrawingArea) AddTransactionCallbackID(callback transaction.CallbackID) {
	a.pendingCallbacks = append(a.pendingCallbacks, callback)
	a.ScheduleCompositingLayerFlush()
}

// AddMilestonesToDispatch attaches m to the next commit.
func (a *DrawingArea) AddMilestonesToDispatch(m transaction.Milestones) bool {
	a.pendingMilestones = a.pendingMilestones.Add(m)
	a.ScheduleCompositingLayerFlush()
	return true
}

// UpdateGeometry resizes the view. The compositor is told about the new
// geometry right after the commit that carries the resized tree.
func (a *DrawingArea) UpdateGeometry(size image.Point, flushSynchronously bool) {
	a.viewSize = size
	a.ctx.Resize(a.rootLayer, size)
	a.geometryChanged = true

	if flushSynchronously {
		a.ForceRepaint()
	} else {
		a.ScheduleCompositingLayerFlushImmediately()
	}
}

// sendGeometryAfter queues the geometry notification behind commit f.
func (a *DrawingArea) sendGeometryAfter(f *BackingStoreFlusher) {
	conn, msg := a.conn, ipc.Message{Kind: ipc.KindDidUpdateGeometry, Destination: a.id}
	log := a.logger()
	a.commitQueue.Dispatch(func() {
		f.Flush()
		f.Wait()
		if err := conn.Send(msg); err != nil {
			log.Debug("remote: geometry update not delivered", "error", err)
		}
	})
}

// MainFrameContentSizeChanged records the document size.
func (a *DrawingArea) MainFrameContentSizeChanged(size image.Point) {
	a.contentSize = size
}

// SetViewExposedRect limits the visible part of the view; nil removes it.
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

// MarkLayersVolatileImmediatelyIfPossible releases layer pixels unless a
// commit is still awaiting acknowledgment.
func (a *DrawingArea) MarkLayersVolatileImmediatelyIfPossible() bool {
	if a.state.inFlight() {
		return false
	}
	a.ctx.MarkVolatile()
	return true
}

// AdoptLayersFrom takes over the layers, page root and pending callbacks of
// a remote predecessor. Adopted layers are sent again in full.
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

	a.pendingCallbacks = append(prev.pendingCallbacks, a.pendingCallbacks...)
	a.pendingMilestones = a.pendingMilestones.Add(prev.pendingMilestones)
	prev.pendingCallbacks, prev.pendingMilestones = nil, 0

	a.logger().Info("remote: adopted layers", "area", a.id, "from", prev.id, "layers", a.ctx.LayerCount())
	a.ScheduleCompositingLayerFlushImmediately()
	return nil
}

// AdoptDisplayRefreshMonitorsFrom moves the refresh monitors of a remote
// predecessor to this area.
func (a *DrawingArea) AdoptDisplayRefreshMonitorsFrom(old drawingarea.DrawingArea) error {
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

	pending := false
	for _, m := range prev.monitors {
		m.area = a
		pending = pending || m.HasRequestedRefreshCallback()
	}
	a.monitors = append(a.monitors, prev.monitors...)
	prev.monitors = nil

	if pending {
		a.ScheduleCompositingLayerFlush()
	}
	return nil
}

// CreateDisplayRefreshMonitor returns a monitor whose callbacks are paced
// by this area's acknowledgments.
func (a *DrawingArea) CreateDisplayRefreshMonitor(displayID uint32) *DisplayRefreshMonitor {
	m := &DisplayRefreshMonitor{displayID: displayID, area: a}
	a.monitors = append(a.monitors, m)
	return m
}

func (a *DrawingArea) removeMonitor(m *DisplayRefreshMonitor) {
	a.monitors = slices.DeleteFunc(a.monitors, func(x *DisplayRefreshMonitor) bool { return x == m })
}

// DidReceiveMessage implements ipc.Receiver. It may be called from any
// goroutine and forwards to the run loop.
func (a *DrawingArea) DidReceiveMessage(_ ipc.Connection, msg ipc.Message) {
	switch msg.Kind {
	case ipc.KindDidUpdate:
		id := msg.TransactionID
		a.loop.Dispatch(func() { a.DidUpdate(id) })
	case ipc.KindDidUpdateGeometry:
		a.logger().Debug("remote: compositor updated geometry", "area", a.id)
	default:
		a.logger().Debug("remote: unexpected message", "area", a.id, "kind", msg.Kind)
	}
}

// DidUpdate handles the compositor's acknowledgment of transaction id.
// Acknowledgments for anything but the awaited transaction are ignored.
func (a *DrawingArea) DidUpdate(id transaction.ID) {
	if a.closed {
		return
	}
	accepted, replay := a.state.acknowledge(id)
	if !accepted {
		a.logger().Debug("remote: stale acknowledgment ignored", "area", a.id, "transaction", id)
		return
	}
	if replay {
		a.flushLayers()
	}
	for _, m := range slices.Clone(a.monitors) {
		m.didUpdateLayers()
	}
}

// flushLayers runs when the flush timer fires.
func (a *DrawingArea) flushLayers() {
	if a.closed {
		return
	}
	switch a.state.beginAttempt() {
	case attemptFrozen:
		a.logger().Debug("remote: flush suspended", "area", a.id)
		return
	case attemptDeferred:
		a.logger().Debug("remote: flush deferred", "area", a.id, "awaiting", a.state.awaiting)
		return
	}
	if id, ok := a.commit(); ok {
		a.state.didCommit(id)
	}
}

// commit builds the next transaction and hands it to the commit queue.
// Nothing is built while the connection is down, so pending changes carry
// over to the next commit.
func (a *DrawingArea) commit() (transaction.ID, bool) {
	if !a.conn.IsValid() {
		a.logger().Debug("remote: connection invalid, commit skipped", "area", a.id)
		return 0, false
	}

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

	msg := ipc.Message{
		Kind:          ipc.KindCommitLayerTree,
		Destination:   a.id,
		TransactionID: tx.ID,
		Payload:       transaction.Encode(tx),
	}
	f := NewBackingStoreFlusher(a.conn, msg, buffers)
	f.log = a.cfg.Logger
	f.After(a.lastFlusher)
	a.lastFlusher = f

	a.flushers = slices.DeleteFunc(a.flushers, (*BackingStoreFlusher).HasFlushed)
	a.flushers = append(a.flushers, f)
	a.commitQueue.Dispatch(f.Flush)

	if a.geometryChanged {
		a.geometryChanged = false
		a.sendGeometryAfter(f)
	}

	a.logger().Debug("remote: committed", "area", a.id, "transaction", tx.ID,
		"changes", len(tx.Changes), "bitmaps", len(tx.Bitmaps))
	return tx.ID, true
}

// Close stops scheduling, sends commits that are still queued and detaches
// the area from its connection.
func (a *DrawingArea) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.timer.Stop()

	if a.router != nil {
		a.router.RemoveReceiver(a.id)
	} else {
		a.conn.SetReceiver(nil)
	}

	for _, f := range a.flushers {
		f.Flush()
	}
	if a.lastFlusher != nil {
		a.lastFlusher.Wait()
	}
	a.flushers = nil
	a.lastFlusher = nil

	for _, m := range a.monitors {
		m.area = nil
		m.callbacks = nil
	}
	a.monitors = nil

	if a.ownedQueue != nil {
		a.ownedQueue.Close()
	}
	a.logger().Info("remote: drawing area closed", "area", a.id, "lastTransaction", a.counter.Current())
	return nil
}
