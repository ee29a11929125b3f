// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package runloop provides the serial execution contexts drawing areas run on.
//
// A drawing area mutates its state only from tasks on its Loop, so none of its
// fields need locks. Two implementations are provided: Queue runs tasks on a
// dedicated goroutine in real time, Manual runs them on the caller's goroutine
// in virtual time for deterministic tests.
package runloop

import "time"

// Loop runs tasks one at a time in submission order.
type Loop interface {
	// Dispatch schedules fn to run on the loop. It never blocks on fn.
	Dispatch(fn func())

	// NewTimer creates a stopped one-shot timer whose callback runs on the loop.
	NewTimer(fn func()) Timer
}

// Timer is a restartable one-shot timer bound to a Loop.
// Its methods must be called from the loop it belongs to.
type Timer interface {
	// StartOneShot (re)arms the timer to fire once after d. A pending firing
	// is cancelled.
	StartOneShot(d time.Duration)

	// Stop cancels a pending firing.
	Stop()

	// IsActive reports whether the timer is armed and has not fired yet.
	IsActive() bool
}
