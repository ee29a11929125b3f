// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package runloop

import (
	"sync"
	"sync/atomic"
	"time"
)

// Queue is a Loop backed by a single goroutine.
//
// Dispatch never blocks: tasks are appended to an unbounded queue so a task
// may dispatch further work onto its own queue.
//
// Thread safety: Queue is safe for concurrent use.
type Queue struct {
	name string

	mu    sync.Mutex
	tasks []func()

	// wake has room for one pending signal; the worker drains all tasks per wake.
	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	running atomic.Bool
}

// NewQueue starts a queue. name is used in logs only.
func NewQueue(name string) *Queue {
	q := &Queue{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	q.running.Store(true)
	q.wg.Add(1)
	go q.worker()
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Dispatch schedules fn. Tasks dispatched after Close are dropped.
func (q *Queue) Dispatch(fn func()) {
	if fn == nil || !q.running.Load() {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// DispatchSync runs fn on the queue and waits for it. It must not be called
// from a task on the same queue. It returns false if the queue is closed.
func (q *Queue) DispatchSync(fn func()) bool {
	if !q.running.Load() {
		return false
	}
	ran := make(chan struct{})
	q.Dispatch(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
		return true
	case <-q.done:
		// Close drains queued tasks before the worker exits.
		q.wg.Wait()
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Close stops accepting tasks, runs the ones already queued and stops the
// worker. Close is safe to call multiple times.
func (q *Queue) Close() {
	if !q.running.CompareAndSwap(true, false) {
		return
	}
	close(q.done)
	q.wg.Wait()
}

// IsRunning reports whether the queue accepts tasks.
func (q *Queue) IsRunning() bool { return q.running.Load() }

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			q.drain()
			return
		case <-q.wake:
			q.drain()
		}
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		tasks := q.tasks
		q.tasks = nil
		q.mu.Unlock()
		if len(tasks) == 0 {
			return
		}
		for _, fn := range tasks {
			fn()
		}
	}
}

// NewTimer creates a timer that fires on the queue.
func (q *Queue) NewTimer(fn func()) Timer {
	return &queueTimer{q: q, fn: fn}
}

// queueTimer state is only touched from the queue goroutine; the real timer
// merely posts a task carrying the generation it was armed with.
type queueTimer struct {
	q      *Queue
	fn     func()
	timer  *time.Timer
	gen    uint64
	active bool
}

func (t *queueTimer) StartOneShot(d time.Duration) {
	t.Stop()
	t.active = true
	gen := t.gen
	fire := func() { t.fire(gen) }
	if d <= 0 {
		t.q.Dispatch(fire)
		return
	}
	t.timer = time.AfterFunc(d, func() { t.q.Dispatch(fire) })
}

func (t *queueTimer) Stop() {
	t.gen++
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *queueTimer) IsActive() bool { return t.active }

func (t *queueTimer) fire(gen uint64) {
	if gen != t.gen || !t.active {
		return
	}
	t.active = false
	t.timer = nil
	t.fn()
}
