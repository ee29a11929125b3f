// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package local

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gpucontext"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/drawingarea"
	"github.com/gogpu/drawingarea/layer"
	"github.com/gogpu/drawingarea/runloop"
	"github.com/gogpu/drawingarea/transaction"
)

type testPage struct {
	gpucontext.NullWindowProvider
	redraws   int
	committed []*transaction.Transaction
}

func (p *testPage) RequestRedraw()   { p.redraws++ }
func (p *testPage) UpdateRendering() {}

func (p *testPage) WillCommitLayerTree(tx *transaction.Transaction) {
	p.committed = append(p.committed, tx)
}

type region struct {
	x, y, w, h int
	n          int
}

// regionUploader records texture uploads.
type regionUploader struct {
	full    [][]byte
	regions []region
}

func (u *regionUploader) UpdateData(data []byte) error {
	u.full = append(u.full, data)
	return nil
}

func (u *regionUploader) UpdateRegion(x, y, w, h int, data []byte) error {
	u.regions = append(u.regions, region{x, y, w, h, len(data)})
	return nil
}

var red = color.RGBA{R: 0xff, A: 0xff}

func fill(c color.Color) layer.Painter {
	return layer.PainterFunc(func(_ *layer.Layer, dst *image.RGBA, clip image.Rectangle) {
		xdraw.Draw(dst, clip, image.NewUniform(c), image.Point{}, xdraw.Src)
	})
}

type harness struct {
	loop     *runloop.Manual
	page     *testPage
	target   *image.RGBA
	uploader *regionUploader
	area     *DrawingArea
	content  *layer.Layer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loop:     runloop.NewManual(),
		page:     &testPage{NullWindowProvider: gpucontext.NullWindowProvider{W: 20, H: 20}},
		target:   image.NewRGBA(image.Rect(0, 0, 20, 20)),
		uploader: &regionUploader{},
	}
	a, err := New(h.page, drawingarea.Parameters{Loop: h.loop, Target: h.target, Uploader: h.uploader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.area = a
	h.content = a.LayerContext().CreateLayer(transaction.LayerKindContent)
	h.content.SetSize(image.Pt(20, 20))
	h.content.SetPainter(fill(red))
	a.SetRootCompositingLayer(h.content)
	t.Cleanup(func() { _ = a.Close() })
	return h
}

func TestCompositesIntoTarget(t *testing.T) {
	h := newHarness(t)
	h.loop.RunUntilIdle()

	if got := h.target.RGBAAt(5, 5); got != red {
		t.Errorf("target(5,5) = %v, want %v", got, red)
	}
	if h.page.redraws != 1 {
		t.Errorf("RequestRedraw called %d times, want 1", h.page.redraws)
	}
	if h.area.LastCommittedTransactionID() != 1 {
		t.Errorf("LastCommittedTransactionID() = %d, want 1", h.area.LastCommittedTransactionID())
	}
	if len(h.uploader.full) != 1 || len(h.uploader.full[0]) != 20*20*4 {
		t.Errorf("full uploads = %d, want one of %d bytes", len(h.uploader.full), 20*20*4)
	}
	if tree := h.area.Tree(); tree.Len() != 2 {
		t.Errorf("tree holds %d layers, want 2", tree.Len())
	}
}

func TestUploadsOnlyDamage(t *testing.T) {
	h := newHarness(t)
	h.loop.RunUntilIdle()

	h.area.SetNeedsDisplayInRect(image.Rect(2, 2, 6, 6))
	h.loop.RunUntilIdle()

	if len(h.uploader.regions) != 1 {
		t.Fatalf("region uploads = %d, want 1", len(h.uploader.regions))
	}
	want := region{2, 2, 4, 4, 4 * 4 * 4}
	if got := h.uploader.regions[0]; got != want {
		t.Errorf("region upload = %+v, want %+v", got, want)
	}
}

func TestPropertyChangeDamagesWholeFrame(t *testing.T) {
	h := newHarness(t)
	h.loop.RunUntilIdle()

	h.content.SetOpacity(0.5)
	h.area.ScheduleCompositingLayerFlush()
	h.loop.RunUntilIdle()

	if len(h.uploader.full) != 2 || len(h.uploader.regions) != 0 {
		t.Errorf("uploads full=%d regions=%d, want 2 and 0", len(h.uploader.full), len(h.uploader.regions))
	}
	if got := h.target.RGBAAt(5, 5); got.A == 0xff || got.A == 0 {
		t.Errorf("target(5,5) alpha = %#x, want partial", got.A)
	}
}

func TestFreeze(t *testing.T) {
	h := newHarness(t)
	h.loop.RunUntilIdle()

	h.area.SetLayerTreeStateIsFrozen(true)
	h.area.SetNeedsDisplay()
	h.area.ForceRepaint()
	h.loop.RunUntilIdle()
	if h.area.LastCommittedTransactionID() != 1 {
		t.Errorf("frozen area composited frame %d", h.area.LastCommittedTransactionID())
	}

	h.area.SetLayerTreeStateIsFrozen(false)
	h.loop.RunUntilIdle()
	if h.area.LastCommittedTransactionID() != 2 {
		t.Errorf("LastCommittedTransactionID() = %d after unfreeze, want 2", h.area.LastCommittedTransactionID())
	}
}

func TestCallbacksReachPage(t *testing.T) {
	h := newHarness(t)
	h.loop.RunUntilIdle()

	h.area.ActivityStateDidChange(drawingarea.IsVisible, 4, []transaction.CallbackID{8})
	h.area.AddMilestonesToDispatch(transaction.DidFirstLayout)
	h.loop.RunUntilIdle()

	tx := h.page.committed[len(h.page.committed)-1]
	if tx.ActivityStateChangeID != 4 || len(tx.CallbackIDs) != 1 || tx.CallbackIDs[0] != 8 {
		t.Errorf("transaction = %v, want activity change 4 and callback 8", tx)
	}
	if !tx.Milestones.Contains(transaction.DidFirstLayout) {
		t.Errorf("Milestones = %v, want DidFirstLayout", tx.Milestones)
	}
}

func TestThrottlingUnsupported(t *testing.T) {
	h := newHarness(t)
	if h.area.AdjustLayerFlushThrottling(drawingarea.ThrottleEnabled) {
		t.Error("AdjustLayerFlushThrottling() = true")
	}
	if h.area.LayerFlushThrottlingIsActive() {
		t.Error("LayerFlushThrottlingIsActive() = true")
	}
}

type otherArea struct {
	drawingarea.DrawingArea
}

func (otherArea) Kind() drawingarea.Kind { return drawingarea.KindRemoteLayerTree }

func TestAdopt(t *testing.T) {
	old := newHarness(t)
	old.loop.RunUntilIdle()

	next := newHarness(t)
	next.area.SetRootCompositingLayer(nil)
	if err := next.area.AdoptLayersFrom(old.area); err != nil {
		t.Fatalf("AdoptLayersFrom() error = %v", err)
	}
	if next.area.RootCompositingLayer() != old.content {
		t.Error("page root was not adopted")
	}
	next.loop.RunUntilIdle()
	if got := next.target.RGBAAt(10, 10); got != red {
		t.Errorf("target(10,10) = %v, want %v", got, red)
	}

	err := next.area.AdoptLayersFrom(otherArea{})
	if !errors.Is(err, drawingarea.ErrIncompatibleArea) {
		t.Errorf("AdoptLayersFrom(remote) error = %v, want ErrIncompatibleArea", err)
	}
	if err := next.area.AdoptDisplayRefreshMonitorsFrom(old.area); err != nil {
		t.Errorf("AdoptDisplayRefreshMonitorsFrom(local) error = %v", err)
	}
}

func TestNewRequiresTarget(t *testing.T) {
	_, err := drawingarea.NewByKind(drawingarea.KindLocal, &testPage{}, drawingarea.Parameters{Loop: runloop.NewManual()})
	if !errors.Is(err, drawingarea.ErrNoTarget) {
		t.Errorf("NewByKind(local) error = %v, want ErrNoTarget", err)
	}
}
