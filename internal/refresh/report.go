package refresh

import (
	"fmt"
	"time"

	"surveysync/internal/drift"
)

// Stage is a point in the run state machine.
type Stage int

const (
	Start Stage = iota
	StructureFetched
	Persisted
	Compared
	Refreshed
	Skipped
	Exported
	Done
	Aborted
)

var stageNames = [...]string{
	Start:            "start",
	StructureFetched: "structure_fetched",
	Persisted:        "persisted",
	Compared:         "compared",
	Refreshed:        "refreshed",
	Skipped:          "skipped",
	Exported:         "exported",
	Done:             "done",
	Aborted:          "aborted",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// PersistOutcome says what happened to the snapshot file during a run.
type PersistOutcome int

const (
	// PersistUnchanged leaves the existing snapshot as is.
	PersistUnchanged PersistOutcome = iota
	// PersistWritten wrote or replaced the snapshot.
	PersistWritten
	// PersistSkippedNotWritable skipped the write because the snapshot
	// directory does not accept files. The view was still refreshed.
	PersistSkippedNotWritable
)

func (p PersistOutcome) String() string {
	switch p {
	case PersistUnchanged:
		return "unchanged"
	case PersistWritten:
		return "written"
	case PersistSkippedNotWritable:
		return "skipped_not_writable"
	default:
		return fmt.Sprintf("PersistOutcome(%d)", int(p))
	}
}

// Report summarizes one run. On failure Stage is Aborted and FailedStage
// names the step that failed.
type Report struct {
	RunID       string
	Stage       Stage
	FailedStage Stage
	// Trail lists every stage reached, in order.
	Trail []Stage

	Drift        drift.Result
	Refreshed    bool
	Persist      PersistOutcome
	RowsExported int
	// Query is the pivot SQL pushed into the view, empty when skipped.
	Query    string
	Duration time.Duration
}

func (r *Report) reach(s Stage) {
	r.Stage = s
	r.Trail = append(r.Trail, s)
}

func (r *Report) abort(failed Stage) {
	r.FailedStage = failed
	r.reach(Aborted)
}

// Summary is a one-line description for logs.
func (r *Report) Summary() string {
	if r.Stage == Aborted {
		return fmt.Sprintf("run %s aborted at %s after %s", r.RunID, r.FailedStage, r.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("run %s %s: drift=%s refreshed=%t snapshot=%s rows=%d in %s",
		r.RunID, r.Stage, r.Drift.State, r.Refreshed, r.Persist, r.RowsExported, r.Duration.Round(time.Millisecond))
}
