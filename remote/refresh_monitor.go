// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package remote

// DisplayRefreshMonitor paces animation callbacks by the compositor's
// acknowledgments instead of a display link. Callbacks requested through it
// run on the area's loop once the next commit is acknowledged.
type DisplayRefreshMonitor struct {
	displayID uint32
	area      *DrawingArea
	callbacks []func()
}

// DisplayID returns the display the monitor was created for.
func (m *DisplayRefreshMonitor) DisplayID() uint32 { return m.displayID }

// RequestRefreshCallback queues fn for the next refresh and schedules a
// flush. It returns false if the monitor no longer belongs to a live area.
func (m *DisplayRefreshMonitor) RequestRefreshCallback(fn func()) bool {
	if m.area == nil || m.area.closed {
		return false
	}
	m.callbacks = append(m.callbacks, fn)
	m.area.ScheduleCompositingLayerFlush()
	return true
}

// HasRequestedRefreshCallback reports whether a callback is queued.
func (m *DisplayRefreshMonitor) HasRequestedRefreshCallback() bool {
	return len(m.callbacks) > 0
}

// Close detaches the monitor from its area and drops queued callbacks.
func (m *DisplayRefreshMonitor) Close() {
	if m.area != nil {
		m.area.removeMonitor(m)
	}
	m.area = nil
	m.callbacks = nil
}

// didUpdateLayers runs the queued callbacks. Callbacks queued while running
// wait for the next refresh.
func (m *DisplayRefreshMonitor) didUpdateLayers() {
	callbacks := m.callbacks
	m.callbacks = nil
	for _, fn := range callbacks {
		fn()
	}
}
