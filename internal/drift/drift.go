// Package drift decides whether the survey structure changed since the last
// recorded snapshot.
package drift

import (
	"cmp"
	"slices"

	"surveysync/internal/snapshot"
	"surveysync/internal/survey"
)

// State is the outcome of a classification.
type State int

const (
	NoPriorSnapshot State = iota
	SnapshotMatches
	SnapshotDiffers
	// SnapshotCorrupt means a snapshot exists but could not be read or
	// verified. It is handled like SnapshotDiffers.
	SnapshotCorrupt
)

func (s State) String() string {
	switch s {
	case NoPriorSnapshot:
		return "no_prior_snapshot"
	case SnapshotMatches:
		return "snapshot_matches"
	case SnapshotDiffers:
		return "snapshot_differs"
	case SnapshotCorrupt:
		return "snapshot_corrupt"
	default:
		return "unknown"
	}
}

// NeedsRefresh reports whether the view must be rebuilt.
func (s State) NeedsRefresh() bool { return s != SnapshotMatches }

// Reader is the read side of a snapshot store.
type Reader interface {
	Exists() bool
	Read() (*snapshot.Snapshot, error)
}

// Result carries the state and what led to it.
type Result struct {
	State State
	// Cause is the read error behind SnapshotCorrupt.
	Cause error
	// Previous is the decoded snapshot, nil unless it was read successfully.
	Previous *snapshot.Snapshot
}

// Detector compares the current structure with the stored one.
type Detector struct {
	// StrictOrder requires identical row order. By default rows are compared
	// as a multiset of (SurveyId, QuestionId) pairs, since the database does
	// not guarantee read order.
	StrictOrder bool
}

// Classify never fails: an unreadable snapshot is reported as SnapshotCorrupt.
func (d Detector) Classify(current survey.Structure, r Reader) Result {
	if !r.Exists() {
		return Result{State: NoPriorSnapshot}
	}
	prev, err := r.Read()
	if err != nil {
		return Result{State: SnapshotCorrupt, Cause: err}
	}
	if d.Equal(current, prev.Rows) {
		return Result{State: SnapshotMatches, Previous: prev}
	}
	return Result{State: SnapshotDiffers, Previous: prev}
}

// Equal compares two structures under the detector's ordering rule.
func (d Detector) Equal(a, b survey.Structure) bool {
	if len(a) != len(b) {
		return false
	}
	if d.StrictOrder {
		return slices.Equal(a, b)
	}
	return slices.Equal(sorted(a), sorted(b))
}

func sorted(s survey.Structure) survey.Structure {
	out := slices.Clone(s)
	slices.SortFunc(out, func(x, y survey.StructureRow) int {
		if c := cmp.Compare(x.SurveyID, y.SurveyID); c != 0 {
			return c
		}
		return cmp.Compare(x.QuestionID, y.QuestionID)
	})
	return out
}

// Diff lists rows present only in current (added) and only in previous
// (removed), counting duplicates.
func Diff(previous, current survey.Structure) (added, removed survey.Structure) {
	counts := make(map[survey.StructureRow]int, len(previous))
	for _, r := range previous {
		counts[r]++
	}
	for _, r := range current {
		if counts[r] > 0 {
			counts[r]--
			continue
		}
		added = append(added, r)
	}
	for _, r := range previous {
		if counts[r] > 0 {
			counts[r]--
			removed = append(removed, r)
		}
	}
	return added, removed
}
