// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package compositor

import (
	"image"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/drawingarea/layer"
)

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(dest uint64, frame *image.RGBA) error

// Present calls f.
func (f PresenterFunc) Present(dest uint64, frame *image.RGBA) error {
	return f(dest, frame)
}

// TexturePresenter uploads the frames of one area to a texture. Frames of
// other areas are ignored.
type TexturePresenter struct {
	Area    uint64
	Texture gpucontext.TextureUpdater
}

// Present uploads frame as densely packed RGBA rows.
func (p TexturePresenter) Present(dest uint64, frame *image.RGBA) error {
	if dest != p.Area || p.Texture == nil {
		return nil
	}
	return p.Texture.UpdateData(layer.PackPixels(frame, frame.Bounds(), gputypes.TextureFormatRGBA8Unorm))
}
