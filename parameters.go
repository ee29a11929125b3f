// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package drawingarea

import (
	"image"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/drawingarea/ipc"
	"github.com/gogpu/drawingarea/runloop"
)

// Parameters carry what a backend needs to create a drawing area.
// Backends ignore the fields they have no use for.
type Parameters struct {
	// Identifier routes messages to the area. Zero allocates a fresh one.
	Identifier uint64

	// Loop is the run loop every method of the area is called on. Required.
	Loop runloop.Loop

	// CommitQueue runs pixel transfers off the loop. When nil the remote
	// backend starts its own queue and stops it on Close.
	CommitQueue runloop.Loop

	// Connection reaches the compositor. Required by the remote backend.
	Connection ipc.Connection

	// Router shares Connection between areas. When nil the area installs
	// itself as the connection's receiver.
	Router *ipc.Router

	// Target receives composited frames. Required by the local backend.
	Target *image.RGBA

	// Uploader optionally receives each composited frame as texture data.
	// A gpucontext.TextureRegionUpdater receives only the damaged region.
	Uploader gpucontext.TextureUpdater

	// Format is the pixel format of layer backing stores.
	// Zero selects RGBA8Unorm.
	Format gputypes.TextureFormat
}

var lastIdentifier atomic.Uint64

// NextIdentifier returns a process-unique drawing area identifier.
func NextIdentifier() uint64 {
	return lastIdentifier.Add(1)
}

// ResolveIdentifier returns p.Identifier, allocating one when it is zero.
func (p *Parameters) ResolveIdentifier() uint64 {
	if p.Identifier == 0 {
		p.Identifier = NextIdentifier()
	}
	return p.Identifier
}
