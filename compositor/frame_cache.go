// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package compositor

import (
	"image"
	"slices"
	"sync"

	"github.com/gogpu/drawingarea/transaction"
)

// DefaultFrameCacheSize is the number of composited frames kept by default.
const DefaultFrameCacheSize = 8

type frameKey struct {
	area uint64
	id   transaction.ID
}

type cachedFrame struct {
	frame *image.RGBA
	atime int64
}

// frameCache keeps recently composited frames, keyed by the transaction they
// show. When it grows past its soft limit the least recently used quarter is
// evicted.
type frameCache struct {
	mu      sync.Mutex
	frames  map[frameKey]*cachedFrame
	limit   int
	tick    int64
	hits    uint64
	misses  uint64
	renders uint64
}

func newFrameCache(limit int) *frameCache {
	return &frameCache{
		frames: make(map[frameKey]*cachedFrame),
		limit:  limit,
	}
}

// getOrRender returns the cached frame for key or stores the result of
// render. render runs under the lock so a frame is composited once.
func (c *frameCache) getOrRender(key frameKey, render func() *image.RGBA) *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	if f, ok := c.frames[key]; ok {
		f.atime = c.tick
		c.hits++
		return f.frame
	}
	c.misses++

	frame := render()
	c.renders++
	if c.limit <= 0 {
		return frame
	}
	c.frames[key] = &cachedFrame{frame: frame, atime: c.tick}
	if len(c.frames) > c.limit {
		c.evict()
	}
	return frame
}

// forget drops every frame of area.
func (c *frameCache) forget(area uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.frames {
		if k.area == area {
			delete(c.frames, k)
		}
	}
}

func (c *frameCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// evict must be called with c.mu held.
func (c *frameCache) evict() {
	target := max(c.limit*3/4, 1)
	if len(c.frames) <= target {
		return
	}

	keys := make([]frameKey, 0, len(c.frames))
	for k := range c.frames {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b frameKey) int {
		return int(c.frames[a].atime - c.frames[b].atime)
	})
	for _, k := range keys[:len(keys)-target] {
		delete(c.frames, k)
	}
}

// FrameCacheStats reports frame cache activity.
type FrameCacheStats struct {
	Len     int
	Limit   int
	Hits    uint64
	Misses  uint64
	Renders uint64
}

func (c *frameCache) stats() FrameCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FrameCacheStats{
		Len:     len(c.frames),
		Limit:   c.limit,
		Hits:    c.hits,
		Misses:  c.misses,
		Renders: c.renders,
	}
}
