// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package remote

import (
	"fmt"

	"github.com/gogpu/drawingarea/transaction"
)

// State is the externally observable state of the flush pipeline.
type State uint8

const (
	// StateActive means no commit is awaiting acknowledgment.
	StateActive State = iota

	// StateAwaitingAck means a commit was sent and its acknowledgment has
	// not arrived yet.
	StateAwaitingAck

	// StateDeferredPending means a flush was attempted while awaiting an
	// acknowledgment. It runs as soon as the acknowledgment arrives.
	StateDeferredPending

	// StateSuspended means the pipeline is frozen. Acknowledgments are
	// still processed but nothing is committed.
	StateSuspended
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateAwaitingAck:
		return "AwaitingAck"
	case StateDeferredPending:
		return "DeferredPending"
	case StateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// attempt is the outcome of trying to start a flush.
type attempt uint8

const (
	attemptCommit attempt = iota
	attemptFrozen
	attemptDeferred
)

type phase uint8

const (
	phaseIdle phase = iota
	phaseAwaiting
	phaseDeferred
)

// flushState gates commits on acknowledgments and on freezing. It holds no
// timers and sends nothing; the drawing area acts on what it returns.
type flushState struct {
	phase    phase
	awaiting transaction.ID

	frozen             bool
	pendingWhileFrozen bool
}

func (s *flushState) State() State {
	switch {
	case s.frozen:
		return StateSuspended
	case s.phase == phaseAwaiting:
		return StateAwaitingAck
	case s.phase == phaseDeferred:
		return StateDeferredPending
	default:
		return StateActive
	}
}

// inFlight reports whether a commit is awaiting acknowledgment.
func (s *flushState) inFlight() bool {
	return s.phase != phaseIdle
}

// beginAttempt decides what a regular flush attempt does. A frozen pipeline
// remembers the attempt for unfreeze; an unacknowledged commit turns it into
// a deferred flush.
func (s *flushState) beginAttempt() attempt {
	if s.frozen {
		s.pendingWhileFrozen = true
		return attemptFrozen
	}
	if s.phase != phaseIdle {
		s.phase = phaseDeferred
		return attemptDeferred
	}
	return attemptCommit
}

// didCommit records that transaction id was sent by a regular flush.
func (s *flushState) didCommit(id transaction.ID) {
	s.phase = phaseAwaiting
	s.awaiting = id
}

// didForceCommit records a forced commit. It only becomes the awaited
// transaction when nothing else is awaited, so an earlier acknowledgment
// keeps releasing a deferred flush.
func (s *flushState) didForceCommit(id transaction.ID) {
	if s.phase == phaseIdle {
		s.didCommit(id)
	}
}

// acknowledge processes an acknowledgment for id. accepted is false for an
// acknowledgment that does not match the awaited transaction. replay is true
// when a deferred flush must run now.
func (s *flushState) acknowledge(id transaction.ID) (accepted, replay bool) {
	if s.phase == phaseIdle || id != s.awaiting {
		return false, false
	}
	deferred := s.phase == phaseDeferred
	s.phase = phaseIdle
	s.awaiting = 0
	if deferred && s.frozen {
		s.pendingWhileFrozen = true
		return true, false
	}
	return true, deferred
}

// freeze suspends commits. It reports whether the state changed.
func (s *flushState) freeze() bool {
	if s.frozen {
		return false
	}
	s.frozen = true
	return true
}

// unfreeze resumes commits. catchUp is true when a flush was requested while
// frozen and must run once now.
func (s *flushState) unfreeze() (changed, catchUp bool) {
	if !s.frozen {
		return false, false
	}
	s.frozen = false
	catchUp = s.pendingWhileFrozen
	s.pendingWhileFrozen = false
	return true, catchUp
}

// notePending remembers a flush request made while frozen.
func (s *flushState) notePending() {
	if s.frozen {
		s.pendingWhileFrozen = true
	}
}
