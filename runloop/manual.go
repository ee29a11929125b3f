// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package runloop

import (
	"sync"
	"time"
)

// Manual is a Loop driven explicitly by its owner in virtual time.
//
// Nothing runs until RunUntilIdle or Advance is called; both run tasks on the
// calling goroutine. Dispatch may be called from any goroutine.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	tasks  []func()
	timers []*manualTimer
	seq    uint64
}

// NewManual creates a manual loop at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Dispatch queues fn.
func (m *Manual) Dispatch(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.tasks = append(m.tasks, fn)
	m.mu.Unlock()
}

// Pending returns the number of queued tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// NewTimer creates a timer on the loop.
func (m *Manual) NewTimer(fn func()) Timer {
	t := &manualTimer{m: m, fn: fn}
	m.mu.Lock()
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	return t
}

// RunUntilIdle runs queued tasks and due timers until neither is left.
// It returns the number of tasks and timer callbacks run.
func (m *Manual) RunUntilIdle() int {
	n := 0
	for {
		if fn := m.popTask(); fn != nil {
			fn()
			n++
			continue
		}
		if t := m.popDueTimer(); t != nil {
			t.fn()
			n++
			continue
		}
		return n
	}
}

// Advance moves virtual time forward by d, firing timers at their deadlines
// in order and running all work they generate.
func (m *Manual) Advance(d time.Duration) {
	m.RunUntilIdle()
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()
	for {
		m.mu.Lock()
		next, ok := m.nextDeadline()
		if !ok || next > target {
			m.now = target
			m.mu.Unlock()
			break
		}
		if next > m.now {
			m.now = next
		}
		m.mu.Unlock()
		m.RunUntilIdle()
	}
	m.RunUntilIdle()
}

func (m *Manual) popTask() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tasks) == 0 {
		return nil
	}
	fn := m.tasks[0]
	m.tasks[0] = nil
	m.tasks = m.tasks[1:]
	return fn
}

// popDueTimer deactivates and returns the earliest due timer. Ties fire in
// the order they were armed.
func (m *Manual) popDueTimer() *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due *manualTimer
	for _, t := range m.timers {
		if !t.active || t.deadline > m.now {
			continue
		}
		if due == nil || t.deadline < due.deadline || (t.deadline == due.deadline && t.seq < due.seq) {
			due = t
		}
	}
	if due != nil {
		due.active = false
	}
	return due
}

// nextDeadline must be called with m.mu held.
func (m *Manual) nextDeadline() (time.Duration, bool) {
	var (
		next  time.Duration
		found bool
	)
	for _, t := range m.timers {
		if t.active && (!found || t.deadline < next) {
			next, found = t.deadline, true
		}
	}
	return next, found
}

type manualTimer struct {
	m        *Manual
	fn       func()
	deadline time.Duration
	seq      uint64
	active   bool
}

func (t *manualTimer) StartOneShot(d time.Duration) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.seq++
	t.seq = t.m.seq
	t.deadline = t.m.now + max(d, 0)
	t.active = true
}

func (t *manualTimer) Stop() {
	t.m.mu.Lock()
	t.active = false
	t.m.mu.Unlock()
}

func (t *manualTimer) IsActive() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.active
}

// TimerDeadline returns the virtual time the timer fires at and whether it is armed.
// It is meant for tests asserting on scheduling delays.
func (m *Manual) TimerDeadline(t Timer) (time.Duration, bool) {
	mt, ok := t.(*manualTimer)
	if !ok || mt.m != m {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return mt.deadline, mt.active
}
