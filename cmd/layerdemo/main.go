// Command layerdemo animates a small layer tree through a drawing area and
// saves the last composited frame.
//
// With -backend remote the commits travel over an in-memory stream to a
// compositor, exactly as they would to another process.
package main

import (
	"errors"
	"flag"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/drawingarea"
	"github.com/gogpu/drawingarea/compositor"
	"github.com/gogpu/drawingarea/ipc"
	"github.com/gogpu/drawingarea/layer"
	"github.com/gogpu/drawingarea/local"
	"github.com/gogpu/drawingarea/remote"
	"github.com/gogpu/drawingarea/runloop"
	"github.com/gogpu/drawingarea/transaction"
)

func main() {
	var (
		width    = flag.Int("width", 320, "view width")
		height   = flag.Int("height", 200, "view height")
		frames   = flag.Int("frames", 30, "number of animation frames")
		backend  = flag.String("backend", "remote", "drawing area backend: remote or local")
		throttle = flag.Bool("throttle", false, "throttle layer flushes (remote only)")
		verbose  = flag.Bool("verbose", false, "log scheduling decisions")
		output   = flag.String("output", "layerdemo.png", "output file")
	)
	flag.Parse()

	if *verbose {
		drawingarea.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	page := newDemoPage(*width, *height)

	var (
		img image.Image
		err error
	)
	switch *backend {
	case drawingarea.KindRemoteLayerTree.String():
		img, err = runRemote(page, *frames, *throttle)
	case drawingarea.KindLocal.String():
		img, err = runLocal(page, *frames)
	default:
		log.Fatalf("Unknown backend %q", *backend)
	}
	if err != nil {
		log.Fatalf("Failed to render: %v", err)
	}

	if err := savePNG(*output, img); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}
	log.Printf("Demo saved to %s (%dx%d, %d frames, %s)\n", *output, *width, *height, *frames, *backend)
}

// demoPage moves a square across a gradient, one step per rendering update.
type demoPage struct {
	gpucontext.NullWindowProvider
	frame  int
	square *layer.Layer
}

func newDemoPage(w, h int) *demoPage {
	return &demoPage{NullWindowProvider: gpucontext.NullWindowProvider{W: w, H: h}}
}

func (p *demoPage) attach(area drawingarea.DrawingArea) {
	ctx := area.LayerContext()

	bg := ctx.CreateLayer(transaction.LayerKindContent)
	bg.SetSize(image.Pt(p.W, p.H))
	bg.SetPainter(layer.PainterFunc(paintGradient))

	p.square = ctx.CreateLayer(transaction.LayerKindContainer)
	p.square.SetSize(image.Pt(40, 40))
	p.square.SetBackgroundColor(gputypes.Color{R: 1, G: 0.6, B: 0.1, A: 1})
	bg.AddChild(p.square)

	area.SetRootCompositingLayer(bg)
}

func (p *demoPage) UpdateRendering() {
	if p.square == nil {
		return
	}
	span := max(p.W-40, 1)
	p.square.SetPosition(image.Pt((p.frame*8)%span, (p.H-40)/2))
}

func (p *demoPage) WillCommitLayerTree(tx *transaction.Transaction) {
	drawingarea.Logger().Debug("layerdemo: commit", "transaction", tx)
}

func paintGradient(l *layer.Layer, dst *image.RGBA, clip image.Rectangle) {
	h := max(l.Size().Y, 1)
	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		t := float64(y) / float64(h)
		c := color.RGBA{R: uint8(25 + t*100), G: uint8(50 + t*75), B: uint8(100 + t*50), A: 0xff}
		xdraw.Draw(dst, image.Rect(clip.Min.X, y, clip.Max.X, y+1), image.NewUniform(c), image.Point{}, xdraw.Src)
	}
}

func runRemote(page *demoPage, frames int, throttle bool) (image.Image, error) {
	a, b := net.Pipe()
	areaConn := ipc.NewStreamConnection(a)
	compConn := ipc.NewStreamConnection(b)
	defer func() {
		_ = areaConn.Close()
		_ = compConn.Close()
	}()

	comp := compositor.New(compConn)
	loop := runloop.NewQueue("layerdemo.main")
	defer loop.Close()

	var (
		area *remote.DrawingArea
		err  error
	)
	loop.DispatchSync(func() {
		area, err = remote.New(page, drawingarea.Parameters{Loop: loop, Connection: areaConn})
		if err != nil {
			return
		}
		page.attach(area)
		if throttle {
			area.AdjustLayerFlushThrottling(drawingarea.ThrottleEnabled)
		}
	})
	if err != nil {
		return nil, err
	}

	for i := range frames {
		loop.DispatchSync(func() {
			page.frame = i
			area.ScheduleCompositingLayerFlush()
		})
		time.Sleep(16 * time.Millisecond)
	}

	var last transaction.ID
	loop.DispatchSync(func() {
		area.ForceRepaint()
		last = area.LastCommittedTransactionID()
	})

	id := area.Identifier()
	deadline := time.Now().Add(5 * time.Second)
	for comp.LastAppliedID(id) < last {
		if time.Now().After(deadline) {
			return nil, errors.New("compositor did not apply the final commit")
		}
		time.Sleep(time.Millisecond)
	}

	frame, _ := comp.Frame(id)
	loop.DispatchSync(func() { _ = area.Close() })
	return frame, nil
}

func runLocal(page *demoPage, frames int) (image.Image, error) {
	target := image.NewRGBA(image.Rect(0, 0, page.W, page.H))
	loop := runloop.NewManual()

	area, err := local.New(page, drawingarea.Parameters{Loop: loop, Target: target})
	if err != nil {
		return nil, err
	}
	defer func() { _ = area.Close() }()

	page.attach(area)
	for i := range frames {
		page.frame = i
		area.ScheduleCompositingLayerFlush()
		loop.RunUntilIdle()
	}
	return target, nil
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return png.Encode(f, img)
}
