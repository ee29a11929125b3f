// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package remote

import (
	"errors"
	"image"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/drawingarea"
	"github.com/gogpu/drawingarea/ipc"
	"github.com/gogpu/drawingarea/layer"
	"github.com/gogpu/drawingarea/runloop"
	"github.com/gogpu/drawingarea/transaction"
)

// recordingConn records every sent message.
type recordingConn struct {
	mu       sync.Mutex
	sent     []ipc.Message
	invalid  bool
	receiver ipc.Receiver
}

func (c *recordingConn) Send(msg ipc.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalid {
		return ipc.ErrConnectionClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingConn) SetReceiver(r ipc.Receiver) {
	c.mu.Lock()
	c.receiver = r
	c.mu.Unlock()
}

func (c *recordingConn) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.invalid
}

func (c *recordingConn) Close() error {
	c.setValid(false)
	return nil
}

func (c *recordingConn) setValid(valid bool) {
	c.mu.Lock()
	c.invalid = !valid
	c.mu.Unlock()
}

func (c *recordingConn) messages() []ipc.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ipc.Message(nil), c.sent...)
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

// transactions decodes every commit sent so far.
func (c *recordingConn) transactions(t *testing.T) []*transaction.Transaction {
	t.Helper()
	var txs []*transaction.Transaction
	for _, msg := range c.messages() {
		if msg.Kind != ipc.KindCommitLayerTree {
			continue
		}
		tx, err := transaction.Decode(msg.Payload)
		if err != nil {
			t.Fatalf("Decode(commit %d) error = %v", msg.TransactionID, err)
		}
		if tx.ID != msg.TransactionID {
			t.Fatalf("payload ID = %d, message ID = %d", tx.ID, msg.TransactionID)
		}
		txs = append(txs, tx)
	}
	return txs
}

type testPage struct {
	gpucontext.NullWindowProvider
	updates   int
	committed []transaction.ID
}

func (p *testPage) UpdateRendering() { p.updates++ }

func (p *testPage) WillCommitLayerTree(tx *transaction.Transaction) {
	p.committed = append(p.committed, tx.ID)
}

var white = layer.PainterFunc(func(_ *layer.Layer, dst *image.RGBA, clip image.Rectangle) {
	xdraw.Draw(dst, clip, image.White, image.Point{}, xdraw.Src)
})

type harness struct {
	loop    *runloop.Manual
	conn    *recordingConn
	page    *testPage
	area    *DrawingArea
	content *layer.Layer
}

// newHarness creates an area over a 100x100 page whose root is a single
// content layer. Commits are transferred on the area's own loop.
func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		loop: runloop.NewManual(),
		conn: &recordingConn{},
		page: &testPage{NullWindowProvider: gpucontext.NullWindowProvider{W: 100, H: 100}},
	}
	a, err := New(h.page, drawingarea.Parameters{
		Loop:        h.loop,
		CommitQueue: h.loop,
		Connection:  h.conn,
	}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.area = a
	h.content = a.LayerContext().CreateLayer(transaction.LayerKindContent)
	h.content.SetSize(image.Pt(100, 100))
	h.content.SetPainter(white)
	a.SetRootCompositingLayer(h.content)
	t.Cleanup(func() { _ = a.Close() })
	return h
}

// warmUp sends and acknowledges the initial full paint.
func (h *harness) warmUp(t *testing.T) {
	t.Helper()
	h.area.ScheduleCompositingLayerFlushImmediately()
	h.loop.RunUntilIdle()
	id := h.area.LastCommittedTransactionID()
	if id != 1 {
		t.Fatalf("initial commit ID = %d, want 1", id)
	}
	h.area.DidUpdate(id)
	h.conn.reset()
}

func (h *harness) wantState(t *testing.T, want State) {
	t.Helper()
	if got := h.area.State(); got != want {
		t.Errorf("State() = %v, want %v", got, want)
	}
}

func (h *harness) wantCommits(t *testing.T, n int) []*transaction.Transaction {
	t.Helper()
	txs := h.conn.transactions(t)
	if len(txs) != n {
		t.Fatalf("sent %d transactions, want %d", len(txs), n)
	}
	return txs
}

func wantDirty(t *testing.T, tx *transaction.Transaction, id transaction.LayerID, want image.Rectangle) {
	t.Helper()
	rects := tx.DirtyRects(id)
	if len(rects) != 1 || rects[0] != want {
		t.Errorf("transaction %d dirty rects = %v, want [%v]", tx.ID, rects, want)
	}
}

func TestAckGatesNextFlush(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)
	r1 := image.Rect(0, 0, 10, 10)
	r2 := image.Rect(50, 50, 60, 60)

	h.area.SetNeedsDisplayInRect(r1)
	h.loop.RunUntilIdle()
	txs := h.wantCommits(t, 1)
	if txs[0].ID != 2 {
		t.Errorf("first commit ID = %d, want 2", txs[0].ID)
	}
	wantDirty(t, txs[0], h.content.ID(), r1)
	h.wantState(t, StateAwaitingAck)

	h.area.SetNeedsDisplayInRect(r2)
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)
	h.wantState(t, StateDeferredPending)

	h.area.DidUpdate(2)
	h.loop.RunUntilIdle()
	txs = h.wantCommits(t, 2)
	if txs[1].ID != 3 {
		t.Errorf("deferred commit ID = %d, want 3", txs[1].ID)
	}
	wantDirty(t, txs[1], h.content.ID(), r2)
	h.wantState(t, StateAwaitingAck)
	if got := h.area.AwaitedTransactionID(); got != 3 {
		t.Errorf("AwaitedTransactionID() = %d, want 3", got)
	}
}

func TestChangesWhileAwaitingAreMerged(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	h.area.SetNeedsDisplayInRect(image.Rect(0, 0, 5, 5))
	h.loop.RunUntilIdle()

	r2 := image.Rect(10, 10, 20, 20)
	r3 := image.Rect(70, 70, 80, 80)
	h.area.SetNeedsDisplayInRect(r2)
	h.loop.RunUntilIdle()
	h.area.SetNeedsDisplayInRect(r3)
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)

	h.area.DidUpdate(2)
	h.loop.RunUntilIdle()
	txs := h.wantCommits(t, 2)
	rects := txs[1].DirtyRects(h.content.ID())
	if len(rects) != 1 || !r2.In(rects[0]) || !r3.In(rects[0]) {
		t.Errorf("merged dirty rects = %v, want one rect covering %v and %v", rects, r2, r3)
	}
}

func TestFreezeCoalescesIntoOneFlush(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)
	r1 := image.Rect(0, 0, 10, 10)
	r2 := image.Rect(90, 90, 100, 100)

	h.area.SetLayerTreeStateIsFrozen(true)
	h.area.SetNeedsDisplayInRect(r1)
	h.area.SetNeedsDisplayInRect(r2)
	h.loop.RunUntilIdle()
	h.loop.Advance(10 * time.Second)
	h.wantCommits(t, 0)
	h.wantState(t, StateSuspended)

	h.area.SetLayerTreeStateIsFrozen(false)
	h.loop.RunUntilIdle()
	txs := h.wantCommits(t, 1)
	rects := txs[0].DirtyRects(h.content.ID())
	if len(rects) != 1 || !r1.In(rects[0]) || !r2.In(rects[0]) {
		t.Errorf("dirty rects = %v, want one rect covering %v and %v", rects, r1, r2)
	}

	h.area.DidUpdate(2)
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)
	h.wantState(t, StateActive)
}

func TestFreezeStopsArmedTimer(t *testing.T) {
	h := newHarness(t, WithFlushDelay(10*time.Millisecond))
	h.warmUp(t)

	h.area.SetNeedsDisplay()
	if !h.area.timer.IsActive() {
		t.Fatal("flush timer not armed")
	}
	h.area.SetLayerTreeStateIsFrozen(true)
	if h.area.timer.IsActive() {
		t.Error("freeze left the flush timer armed")
	}
	h.loop.Advance(time.Second)
	h.wantCommits(t, 0)

	h.area.SetLayerTreeStateIsFrozen(false)
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)
}

func TestUnfreezeWithoutRequestsSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	h.area.SetLayerTreeStateIsFrozen(true)
	h.area.SetLayerTreeStateIsFrozen(false)
	h.loop.RunUntilIdle()
	h.wantCommits(t, 0)
	h.wantState(t, StateActive)
}

func TestAckWhileFrozenKeepsDeferredFlush(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	h.area.SetNeedsDisplay()
	h.loop.RunUntilIdle()
	h.area.SetNeedsDisplay()
	h.loop.RunUntilIdle()
	h.wantState(t, StateDeferredPending)

	h.area.SetLayerTreeStateIsFrozen(true)
	h.area.DidUpdate(2)
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)
	h.wantState(t, StateSuspended)

	h.area.SetLayerTreeStateIsFrozen(false)
	h.loop.RunUntilIdle()
	txs := h.wantCommits(t, 2)
	if txs[1].ID != 3 {
		t.Errorf("catch-up commit ID = %d, want 3", txs[1].ID)
	}
}

func TestForceRepaintBypassesAckGate(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	h.area.SetNeedsDisplayInRect(image.Rect(0, 0, 10, 10))
	h.loop.RunUntilIdle()
	h.wantState(t, StateAwaitingAck)

	// Dirty the layer without requesting a flush of its own.
	h.content.SetNeedsDisplayInRect(image.Rect(20, 20, 30, 30))
	h.area.ForceRepaint()
	h.loop.RunUntilIdle()
	txs := h.wantCommits(t, 2)
	if txs[1].ID != 3 {
		t.Errorf("forced commit ID = %d, want 3", txs[1].ID)
	}
	wantDirty(t, txs[1], h.content.ID(), image.Rect(20, 20, 30, 30))
	h.wantState(t, StateAwaitingAck)
	if got := h.area.AwaitedTransactionID(); got != 2 {
		t.Errorf("AwaitedTransactionID() = %d, want 2", got)
	}

	h.area.DidUpdate(3)
	h.wantState(t, StateAwaitingAck)

	h.area.DidUpdate(2)
	h.wantState(t, StateActive)

	h.area.SetNeedsDisplayInRect(image.Rect(0, 0, 1, 1))
	h.loop.RunUntilIdle()
	txs = h.wantCommits(t, 3)
	if txs[2].ID != 4 {
		t.Errorf("next commit ID = %d, want 4", txs[2].ID)
	}
}

func TestForceRepaintWhenActiveIsAwaited(t *testing.T) {
	h := newHarness(t, WithFlushDelay(time.Second))
	h.warmUp(t)

	h.area.SetNeedsDisplay()
	h.area.ForceRepaint()
	if h.area.timer.IsActive() {
		t.Error("ForceRepaint left the flush timer armed")
	}
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)
	if got := h.area.AwaitedTransactionID(); got != 2 {
		t.Errorf("AwaitedTransactionID() = %d, want 2", got)
	}
}

func TestForceRepaintWhileFrozen(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	h.area.SetLayerTreeStateIsFrozen(true)
	h.area.ForceRepaint()
	h.loop.RunUntilIdle()
	h.wantCommits(t, 0)

	h.area.SetLayerTreeStateIsFrozen(false)
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)
}

func TestThrottledRequestsCoalesce(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)
	r1 := image.Rect(0, 0, 10, 10)
	r2 := image.Rect(30, 30, 40, 40)

	h.area.AdjustLayerFlushThrottling(drawingarea.ThrottleEnabled)
	h.area.SetNeedsDisplayInRect(r1)
	if !h.area.LayerFlushThrottlingIsActive() {
		t.Error("LayerFlushThrottlingIsActive() = false with a throttled flush pending")
	}
	if at, ok := h.loop.TimerDeadline(h.area.timer); !ok || at != DefaultInitialThrottledFlushDelay {
		t.Errorf("first throttled deadline = %v (armed %v), want %v", at, ok, DefaultInitialThrottledFlushDelay)
	}

	h.loop.Advance(5 * time.Millisecond)
	h.area.SetNeedsDisplayInRect(r2)
	h.wantCommits(t, 0)

	h.loop.Advance(DefaultInitialThrottledFlushDelay - 5*time.Millisecond)
	txs := h.wantCommits(t, 1)
	rects := txs[0].DirtyRects(h.content.ID())
	if len(rects) != 1 || !r1.In(rects[0]) || !r2.In(rects[0]) {
		t.Errorf("dirty rects = %v, want one rect covering %v and %v", rects, r1, r2)
	}

	h.area.DidUpdate(txs[0].ID)
	start := h.loop.Now()
	h.area.SetNeedsDisplay()
	if at, _ := h.loop.TimerDeadline(h.area.timer); at-start != DefaultThrottledFlushDelay {
		t.Errorf("steady throttled delay = %v, want %v", at-start, DefaultThrottledFlushDelay)
	}
}

func TestUnthrottledFlushesAreNotDelayed(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	for i := range 3 {
		h.area.SetNeedsDisplayInRect(image.Rect(i, i, i+1, i+1))
		h.loop.RunUntilIdle()
		txs := h.wantCommits(t, i+1)
		h.area.DidUpdate(txs[i].ID)
		h.loop.Advance(5 * time.Millisecond)
	}
}

func TestThrottleOffReschedulesPendingFlush(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	h.area.AdjustLayerFlushThrottling(drawingarea.ThrottleEnabled)
	h.area.SetNeedsDisplay()
	h.area.AdjustLayerFlushThrottling(0)
	if h.area.LayerFlushThrottlingIsActive() {
		t.Error("LayerFlushThrottlingIsActive() = true after throttling was turned off")
	}
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)
}

func TestUserInteractionLiftsThrottle(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	h.area.AdjustLayerFlushThrottling(drawingarea.ThrottleEnabled | drawingarea.ThrottleUserIsInteracting)
	h.area.SetNeedsDisplay()
	if at, ok := h.loop.TimerDeadline(h.area.timer); !ok || at != h.loop.Now() {
		t.Errorf("deadline = %v (armed %v), want now", at, ok)
	}
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)
}

func TestImmediateRequestOverridesThrottle(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	h.area.AdjustLayerFlushThrottling(drawingarea.ThrottleEnabled)
	h.area.SetNeedsDisplay()
	h.area.ScheduleCompositingLayerFlushImmediately()
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)
}

func TestTransactionIDsIncreaseByOne(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	for i := range 5 {
		h.area.SetNeedsDisplay()
		h.loop.RunUntilIdle()
		h.area.DidUpdate(h.area.LastCommittedTransactionID())
		if i == 2 {
			h.area.ForceRepaint()
			h.loop.RunUntilIdle()
			h.area.DidUpdate(h.area.LastCommittedTransactionID())
		}
	}
	txs := h.wantCommits(t, 6)
	for i, tx := range txs {
		if want := transaction.ID(i + 2); tx.ID != want {
			t.Errorf("commit %d ID = %d, want %d", i, tx.ID, want)
		}
	}
	if got := h.page.committed; len(got) != 7 || got[6] != 7 {
		t.Errorf("WillCommitLayerTree saw %v, want IDs 1..7", got)
	}
	if h.area.NextTransactionID() != 8 {
		t.Errorf("NextTransactionID() = %d, want 8", h.area.NextTransactionID())
	}
}

func TestStaleAcknowledgments(t *testing.T) {
	tests := []struct {
		name string
		ack  transaction.ID
		busy bool
		want State
	}{
		{"future id while awaiting", 99, true, StateAwaitingAck},
		{"past id while awaiting", 1, true, StateAwaitingAck},
		{"any id while active", 1, false, StateActive},
		{"zero id while active", 0, false, StateActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.warmUp(t)
			if tt.busy {
				h.area.SetNeedsDisplay()
				h.loop.RunUntilIdle()
			}
			h.area.DidUpdate(tt.ack)
			h.loop.RunUntilIdle()
			h.wantState(t, tt.want)
		})
	}
}

func TestInvalidConnectionDropsNothing(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)
	r1 := image.Rect(0, 0, 10, 10)
	r2 := image.Rect(40, 40, 50, 50)

	h.conn.setValid(false)
	h.area.SetNeedsDisplayInRect(r1)
	h.loop.RunUntilIdle()
	h.area.ForceRepaint()
	h.wantState(t, StateActive)
	if got := h.area.LastCommittedTransactionID(); got != 1 {
		t.Errorf("LastCommittedTransactionID() = %d, want 1", got)
	}

	h.conn.setValid(true)
	h.area.SetNeedsDisplayInRect(r2)
	h.loop.RunUntilIdle()
	txs := h.wantCommits(t, 1)
	rects := txs[0].DirtyRects(h.content.ID())
	if len(rects) != 1 || !r1.In(rects[0]) || !r2.In(rects[0]) {
		t.Errorf("dirty rects = %v, want one rect covering %v and %v", rects, r1, r2)
	}
}

func TestActivityStateAndCallbacks(t *testing.T) {
	h := newHarness(t, WithFlushDelay(time.Second))
	h.warmUp(t)

	h.area.ActivityStateDidChange(drawingarea.IsVisible, 7, []transaction.CallbackID{1, 2})
	h.loop.RunUntilIdle()
	txs := h.wantCommits(t, 1)
	if txs[0].ActivityStateChangeID != 7 {
		t.Errorf("ActivityStateChangeID = %d, want 7", txs[0].ActivityStateChangeID)
	}
	if got := txs[0].CallbackIDs; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("CallbackIDs = %v, want [1 2]", got)
	}
	h.area.DidUpdate(txs[0].ID)

	h.area.AddTransactionCallbackID(3)
	h.area.AddMilestonesToDispatch(transaction.DidFirstLayout)
	h.loop.Advance(time.Second)
	txs = h.wantCommits(t, 2)
	if txs[1].ActivityStateChangeID != transaction.ActivityStateChangeAsynchronous {
		t.Errorf("ActivityStateChangeID = %d, want asynchronous", txs[1].ActivityStateChangeID)
	}
	if got := txs[1].CallbackIDs; len(got) != 1 || got[0] != 3 {
		t.Errorf("CallbackIDs = %v, want [3]", got)
	}
	if !txs[1].Milestones.Contains(transaction.DidFirstLayout) {
		t.Errorf("Milestones = %v, want DidFirstLayout", txs[1].Milestones)
	}
	h.area.DidUpdate(txs[1].ID)

	if !h.area.ForceRepaintAsync(9) {
		t.Fatal("ForceRepaintAsync() = false")
	}
	h.loop.RunUntilIdle()
	txs = h.wantCommits(t, 3)
	if got := txs[2].CallbackIDs; len(got) != 1 || got[0] != 9 {
		t.Errorf("CallbackIDs = %v, want [9]", got)
	}
}

func TestGeometryAndScale(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	h.area.UpdateGeometry(image.Pt(200, 150), true)
	h.loop.RunUntilIdle()
	msgs := h.conn.messages()
	if len(msgs) != 2 || msgs[0].Kind != ipc.KindCommitLayerTree || msgs[1].Kind != ipc.KindDidUpdateGeometry {
		t.Fatalf("sent %d messages, want commit then geometry", len(msgs))
	}
	tx := h.wantCommits(t, 1)[0]
	if tx.ViewSize != image.Pt(200, 150) {
		t.Errorf("ViewSize = %v, want (200,150)", tx.ViewSize)
	}
	if h.content.Size() != image.Pt(200, 150) {
		t.Errorf("content size = %v, want (200,150)", h.content.Size())
	}
	h.area.DidUpdate(tx.ID)
	h.conn.reset()

	exposed := image.Rect(0, 0, 50, 50)
	h.area.SetViewExposedRect(&exposed)
	h.area.SetDeviceScaleFactor(2)
	h.area.MainFrameContentSizeChanged(image.Pt(200, 1000))
	h.loop.RunUntilIdle()
	tx = h.wantCommits(t, 1)[0]
	if tx.ScaleFactor != 2 || !tx.HasExposedRect || tx.ExposedRect != exposed {
		t.Errorf("scale %v exposed %v (%v), want 2 %v", tx.ScaleFactor, tx.ExposedRect, tx.HasExposedRect, exposed)
	}
	if c, ok := tx.ChangedLayer(h.content.ID()); !ok || c.Properties.ContentsScale != 2 {
		t.Errorf("content change = %+v (%v), want ContentsScale 2", c, ok)
	}
	if h.area.ContentSize() != image.Pt(200, 1000) {
		t.Errorf("ContentSize() = %v", h.area.ContentSize())
	}
}

func TestMarkLayersVolatile(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	if !h.area.MarkLayersVolatileImmediatelyIfPossible() {
		t.Fatal("MarkLayersVolatileImmediatelyIfPossible() = false while idle")
	}
	if n := h.area.LayerContext().VolatileLayerCount(); n != 1 {
		t.Errorf("VolatileLayerCount() = %d, want 1", n)
	}

	h.area.SetNeedsDisplayInRect(image.Rect(0, 0, 1, 1))
	h.loop.RunUntilIdle()
	tx := h.wantCommits(t, 1)[0]
	wantDirty(t, tx, h.content.ID(), image.Rect(0, 0, 100, 100))

	if h.area.MarkLayersVolatileImmediatelyIfPossible() {
		t.Error("MarkLayersVolatileImmediatelyIfPossible() = true while awaiting an acknowledgment")
	}
}

func TestRefreshMonitor(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	m := h.area.CreateDisplayRefreshMonitor(1)
	calls := 0
	if !m.RequestRefreshCallback(func() { calls++ }) {
		t.Fatal("RequestRefreshCallback() = false")
	}
	h.loop.RunUntilIdle()
	h.wantCommits(t, 1)
	if calls != 0 {
		t.Errorf("callback ran %d times before the acknowledgment", calls)
	}

	h.area.DidUpdate(2)
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}

	m.Close()
	if m.RequestRefreshCallback(func() {}) {
		t.Error("RequestRefreshCallback() on a closed monitor = true")
	}
}

func TestAdoptDisplayRefreshMonitors(t *testing.T) {
	old := newHarness(t)
	next := newHarness(t)
	next.warmUp(t)

	m := old.area.CreateDisplayRefreshMonitor(3)
	calls := 0
	m.RequestRefreshCallback(func() { calls++ })

	if err := next.area.AdoptDisplayRefreshMonitorsFrom(old.area); err != nil {
		t.Fatalf("AdoptDisplayRefreshMonitorsFrom() error = %v", err)
	}
	next.loop.RunUntilIdle()
	next.area.DidUpdate(next.area.LastCommittedTransactionID())
	if calls != 1 {
		t.Errorf("adopted callback ran %d times, want 1", calls)
	}
}

// otherArea is a drawing area of another backend.
type otherArea struct {
	drawingarea.DrawingArea
}

func (otherArea) Kind() drawingarea.Kind { return drawingarea.KindLocal }

func TestAdoptLayers(t *testing.T) {
	old := newHarness(t)
	old.warmUp(t)

	conn := &recordingConn{}
	page := &testPage{NullWindowProvider: gpucontext.NullWindowProvider{W: 100, H: 100}}
	a, err := New(page, drawingarea.Parameters{Loop: old.loop, CommitQueue: old.loop, Connection: conn})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if err := a.AdoptLayersFrom(old.area); err != nil {
		t.Fatalf("AdoptLayersFrom() error = %v", err)
	}
	if a.RootCompositingLayer() != old.content {
		t.Error("page root was not adopted")
	}
	if old.area.RootCompositingLayer() != nil {
		t.Error("predecessor still holds the page root")
	}

	old.loop.RunUntilIdle()
	txs := conn.transactions(t)
	if len(txs) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(txs))
	}
	created := false
	for _, c := range txs[0].CreatedLayers {
		created = created || c.ID == old.content.ID()
	}
	if !created {
		t.Errorf("adopted layer %d not announced as created", old.content.ID())
	}
	wantDirty(t, txs[0], old.content.ID(), image.Rect(0, 0, 100, 100))

	err = a.AdoptLayersFrom(otherArea{})
	var incompatible *drawingarea.IncompatibleAreaError
	if !errors.As(err, &incompatible) || incompatible.Got != drawingarea.KindLocal {
		t.Errorf("AdoptLayersFrom(local) error = %v, want *IncompatibleAreaError", err)
	}
	if err := a.AdoptDisplayRefreshMonitorsFrom(otherArea{}); !errors.Is(err, drawingarea.ErrIncompatibleArea) {
		t.Errorf("AdoptDisplayRefreshMonitorsFrom(local) error = %v", err)
	}
}

func TestCloseFlushesQueuedCommit(t *testing.T) {
	loop := runloop.NewManual()
	commits := runloop.NewManual()
	conn := &recordingConn{}
	page := &testPage{NullWindowProvider: gpucontext.NullWindowProvider{W: 10, H: 10}}
	a, err := New(page, drawingarea.Parameters{Loop: loop, Connection: conn}, WithCommitQueue(commits))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a.ScheduleInitialDeferredPaint()
	loop.RunUntilIdle()
	if n := len(conn.messages()); n != 0 {
		t.Fatalf("sent %d messages before the commit queue ran", n)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := len(conn.messages()); n != 1 {
		t.Fatalf("sent %d messages on Close, want 1", n)
	}
	commits.RunUntilIdle()
	if n := len(conn.messages()); n != 1 {
		t.Errorf("commit sent %d times, want 1", n)
	}

	a.SetNeedsDisplay()
	loop.RunUntilIdle()
	if n := len(conn.messages()); n != 1 {
		t.Errorf("closed area sent %d messages, want 1", n)
	}
}

func TestCloseSendsQueuedCommitsInOrder(t *testing.T) {
	loop := runloop.NewManual()
	commits := runloop.NewQueue("test.commits")
	defer commits.Close()

	// Hold the commit queue until Close is underway.
	gate := make(chan struct{})
	commits.Dispatch(func() { <-gate })

	conn := &slowConn{recordingConn: &recordingConn{}, slow: 1, delay: 100 * time.Millisecond}
	page := &testPage{NullWindowProvider: gpucontext.NullWindowProvider{W: 10, H: 10}}
	a, err := New(page, drawingarea.Parameters{Loop: loop, Connection: conn}, WithCommitQueue(commits))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	content := a.LayerContext().CreateLayer(transaction.LayerKindContent)
	content.SetSize(image.Pt(10, 10))
	content.SetPainter(white)
	a.SetRootCompositingLayer(content)

	a.ForceRepaint()
	a.ForceRepaint()
	if id := a.LastCommittedTransactionID(); id != 2 {
		t.Fatalf("LastCommittedTransactionID() = %d, want 2", id)
	}

	release := time.AfterFunc(20*time.Millisecond, func() { close(gate) })
	defer release.Stop()
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got, want := conn.commitIDs(), []transaction.ID{1, 2}; !slices.Equal(got, want) {
		t.Errorf("send order = %v, want %v", got, want)
	}
}

func TestGeometryFollowsItsCommit(t *testing.T) {
	h := newHarness(t)
	h.warmUp(t)

	h.area.UpdateGeometry(image.Pt(120, 80), false)
	if n := len(h.conn.messages()); n != 0 {
		t.Fatalf("sent %d messages before the flush ran", n)
	}
	h.loop.RunUntilIdle()
	msgs := h.conn.messages()
	if len(msgs) != 2 || msgs[0].Kind != ipc.KindCommitLayerTree || msgs[1].Kind != ipc.KindDidUpdateGeometry {
		t.Fatalf("sent %d messages, want commit then geometry", len(msgs))
	}
	tx := h.wantCommits(t, 1)[0]
	if tx.ViewSize != image.Pt(120, 80) {
		t.Errorf("ViewSize = %v, want (120,80)", tx.ViewSize)
	}

	// While the commit is unacknowledged the next resize waits with it.
	h.conn.reset()
	h.area.UpdateGeometry(image.Pt(60, 40), false)
	h.loop.RunUntilIdle()
	if n := len(h.conn.messages()); n != 0 {
		t.Fatalf("sent %d messages while awaiting an ack", n)
	}
	h.area.DidUpdate(tx.ID)
	h.loop.RunUntilIdle()
	msgs = h.conn.messages()
	if len(msgs) != 2 || msgs[0].Kind != ipc.KindCommitLayerTree || msgs[1].Kind != ipc.KindDidUpdateGeometry {
		t.Fatalf("sent %d messages after the ack, want commit then geometry", len(msgs))
	}
	if tx := h.wantCommits(t, 1)[0]; tx.ViewSize != image.Pt(60, 40) {
		t.Errorf("ViewSize = %v, want (60,40)", tx.ViewSize)
	}
}

func TestRouterDelivery(t *testing.T) {
	loop := runloop.NewManual()
	conn := &recordingConn{}
	router := ipc.NewRouter()
	page := &testPage{NullWindowProvider: gpucontext.NullWindowProvider{W: 10, H: 10}}
	a, err := New(page, drawingarea.Parameters{Loop: loop, CommitQueue: loop, Connection: conn, Router: router})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if router.Len() != 1 {
		t.Fatalf("router has %d receivers, want 1", router.Len())
	}

	a.ScheduleInitialDeferredPaint()
	loop.RunUntilIdle()
	if a.State() != StateAwaitingAck {
		t.Fatalf("State() = %v, want AwaitingAck", a.State())
	}

	router.DidReceiveMessage(conn, ipc.Message{Kind: ipc.KindDidUpdate, Destination: a.Identifier(), TransactionID: 1})
	loop.RunUntilIdle()
	if a.State() != StateActive {
		t.Errorf("State() = %v, want Active", a.State())
	}

	_ = a.Close()
	if router.Len() != 0 {
		t.Errorf("router has %d receivers after Close, want 0", router.Len())
	}
}

func TestNewErrors(t *testing.T) {
	page := &testPage{}
	tests := []struct {
		name    string
		page    drawingarea.Page
		params  drawingarea.Parameters
		wantErr error
	}{
		{"nil page", nil, drawingarea.Parameters{Loop: runloop.NewManual(), Connection: &recordingConn{}}, errNilPage},
		{"no loop", page, drawingarea.Parameters{Connection: &recordingConn{}}, drawingarea.ErrNoLoop},
		{"no connection", page, drawingarea.Parameters{Loop: runloop.NewManual()}, drawingarea.ErrNoConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.page, tt.params); !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistered(t *testing.T) {
	loop := runloop.NewManual()
	a, err := drawingarea.NewByKind(drawingarea.KindRemoteLayerTree, &testPage{}, drawingarea.Parameters{
		Loop:        loop,
		CommitQueue: loop,
		Connection:  &recordingConn{},
	})
	if err != nil {
		t.Fatalf("NewByKind(remote) error = %v", err)
	}
	defer a.Close()
	if _, ok := a.(*DrawingArea); !ok {
		t.Errorf("NewByKind(remote) = %T, want *remote.DrawingArea", a)
	}
}
