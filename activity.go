// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package drawingarea

import "strings"

// ActivityState describes how visible and active the page's view is.
type ActivityState uint16

// Activity state flags.
const (
	WindowIsActive ActivityState = 1 << iota
	IsFocused
	IsVisible
	IsVisibleOrOccluded
	IsInWindow
	IsVisuallyIdle
	IsAudible
	IsLoading
)

var activityStateNames = [...]string{
	"WindowIsActive",
	"IsFocused",
	"IsVisible",
	"IsVisibleOrOccluded",
	"IsInWindow",
	"IsVisuallyIdle",
	"IsAudible",
	"IsLoading",
}

// Contains reports whether every flag of other is set.
func (s ActivityState) Contains(other ActivityState) bool {
	return s&other == other
}

// String returns the flag names joined by "|".
func (s ActivityState) String() string {
	if s == 0 {
		return "None"
	}
	var parts []string
	for i, name := range activityStateNames {
		if s&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 || s>>len(activityStateNames) != 0 {
		parts = append(parts, "Unknown")
	}
	return strings.Join(parts, "|")
}

// ThrottleFlags tune layer flush throttling.
type ThrottleFlags uint8

const (
	// ThrottleEnabled widens the flush interval.
	ThrottleEnabled ThrottleFlags = 1 << iota

	// ThrottleUserIsInteracting lifts throttling for the next flush so the
	// view catches up with input.
	ThrottleUserIsInteracting
)

// Has reports whether every bit of flag is set.
func (f ThrottleFlags) Has(flag ThrottleFlags) bool {
	return f&flag == flag
}
