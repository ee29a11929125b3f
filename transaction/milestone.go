// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package transaction

import "strings"

// Milestones is a set of content-readiness events.
//
// Milestones reached between two commits accumulate and are delivered with
// the next transaction, then cleared.
type Milestones uint32

// Milestone flags.
const (
	DidFirstLayout Milestones = 1 << iota
	DidFirstVisuallyNonEmptyLayout
	DidHitRelevantRepaintedObjectsAreaThreshold
	DidFirstFlushForHeaderLayer
	DidFirstLayoutAfterSuppressedIncrementalRendering
	DidFirstPaintAfterSuppressedIncrementalRendering
	ReachedSessionRestorationRenderTreeSizeThreshold
	DidRenderSignificantAmountOfText
	DidFirstMeaningfulPaint
)

var milestoneNames = [...]string{
	"DidFirstLayout",
	"DidFirstVisuallyNonEmptyLayout",
	"DidHitRelevantRepaintedObjectsAreaThreshold",
	"DidFirstFlushForHeaderLayer",
	"DidFirstLayoutAfterSuppressedIncrementalRendering",
	"DidFirstPaintAfterSuppressedIncrementalRendering",
	"ReachedSessionRestorationRenderTreeSizeThreshold",
	"DidRenderSignificantAmountOfText",
	"DidFirstMeaningfulPaint",
}

// Add returns the union of m and other.
func (m Milestones) Add(other Milestones) Milestones {
	return m | other
}

// Contains reports whether every milestone in other is in m.
func (m Milestones) Contains(other Milestones) bool {
	return m&other == other
}

// IsEmpty reports whether no milestone is set.
func (m Milestones) IsEmpty() bool {
	return m == 0
}

// String returns the set as "A|B", or "None".
func (m Milestones) String() string {
	if m == 0 {
		return "None"
	}
	var sb strings.Builder
	for i, name := range milestoneNames {
		if m&(1<<i) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(name)
	}
	if unknown := m &^ (1<<len(milestoneNames) - 1); unknown != 0 {
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString("Unknown")
	}
	return sb.String()
}
