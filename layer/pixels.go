// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package layer

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
)

// bytesPerPixel is fixed: every supported format is four 8-bit channels.
const bytesPerPixel = 4

// Errors returned by pixel transfer helpers.
var (
	// ErrUnsupportedFormat is returned for pixel formats other than 8-bit RGBA/BGRA.
	ErrUnsupportedFormat = errors.New("layer: unsupported pixel format")

	// ErrPixelDataSize is returned when a pixel buffer does not match its update.
	ErrPixelDataSize = errors.New("layer: pixel data size mismatch")
)

// SupportsFormat reports whether f can back a layer.
func SupportsFormat(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return true
	default:
		return false
	}
}

func isBGRA(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatBGRA8Unorm || f == gputypes.TextureFormatBGRA8UnormSrgb
}

// PackPixels copies rect of src into densely packed rows in format f.
func PackPixels(src *image.RGBA, rect image.Rectangle, f gputypes.TextureFormat) []byte {
	rect = rect.Intersect(src.Bounds())
	if rect.Empty() {
		return nil
	}
	rowLen := rect.Dx() * bytesPerPixel
	out := make([]byte, rowLen*rect.Dy())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := src.PixOffset(rect.Min.X, y)
		row := out[(y-rect.Min.Y)*rowLen : (y-rect.Min.Y+1)*rowLen]
		copy(row, src.Pix[off:off+rowLen])
		if isBGRA(f) {
			swapRedBlue(row)
		}
	}
	return out
}

// UnpackPixels writes packed pixel rows for rect into dst.
// bytesPerRow is the stride of data; zero means densely packed.
func UnpackPixels(dst *image.RGBA, rect image.Rectangle, f gputypes.TextureFormat, data []byte, bytesPerRow int) error {
	if !SupportsFormat(f) {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, f)
	}
	if rect.Empty() {
		return nil
	}
	rowLen := rect.Dx() * bytesPerPixel
	if bytesPerRow == 0 {
		bytesPerRow = rowLen
	}
	if bytesPerRow < rowLen || len(data) < bytesPerRow*(rect.Dy()-1)+rowLen {
		return fmt.Errorf("%w: have %d bytes for %v", ErrPixelDataSize, len(data), rect)
	}
	if !rect.In(dst.Bounds()) {
		return fmt.Errorf("%w: %v outside %v", ErrPixelDataSize, rect, dst.Bounds())
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := dst.PixOffset(rect.Min.X, y)
		row := dst.Pix[off : off+rowLen]
		copy(row, data[(y-rect.Min.Y)*bytesPerRow:])
		if isBGRA(f) {
			swapRedBlue(row)
		}
	}
	return nil
}

func swapRedBlue(row []byte) {
	for i := 0; i+3 < len(row); i += bytesPerPixel {
		row[i], row[i+2] = row[i+2], row[i]
	}
}
