// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package transaction

import "strconv"

// ID identifies one layer tree transaction.
//
// IDs handed out by a single Counter strictly increase by one per commit.
// The zero ID is never assigned to a transaction; it means "nothing committed".
type ID uint64

// Next returns the ID that follows id.
func (id ID) Next() ID {
	return id + 1
}

// IsValid reports whether id refers to a committed transaction.
func (id ID) IsValid() bool {
	return id != 0
}

// String returns the decimal form of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Counter hands out transaction IDs.
//
// The zero Counter has committed nothing and its first Increment returns 1.
// Counter is not safe for concurrent use; it is owned by the scheduling loop.
type Counter struct {
	current ID
}

// Current returns the most recently handed out ID, or zero.
func (c *Counter) Current() ID {
	return c.current
}

// Next returns the ID the following Increment will hand out.
func (c *Counter) Next() ID {
	return c.current.Next()
}

// Increment advances the counter and returns the new ID.
func (c *Counter) Increment() ID {
	c.current = c.current.Next()
	return c.current
}

// CallbackID correlates a caller's request, such as "tell me when this
// repaint lands", with the transaction that eventually satisfies it.
type CallbackID uint64

// ActivityStateChangeID tags an activity state transition that must be
// reflected by a specific transaction.
type ActivityStateChangeID uint64

// ActivityStateChangeAsynchronous marks a transaction that carries no
// synchronous activity state change.
const ActivityStateChangeAsynchronous ActivityStateChangeID = 0
