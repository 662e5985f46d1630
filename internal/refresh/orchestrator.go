// Package refresh runs one survey view refresh: read the survey structure,
// decide against the stored snapshot whether the view is stale, rebuild the
// view when it is, and export the view contents.
//
// A run is strictly sequential over one connection. Nothing is rolled back
// across steps: if the export fails after the view was replaced, the new
// view stays in place and the error is returned.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"surveysync/internal/dataset"
	"surveysync/internal/dialect"
	"surveysync/internal/drift"
	"surveysync/internal/metrics"
	"surveysync/internal/pivot"
	"surveysync/internal/snapshot"
	"surveysync/internal/sqltmpl"
	"surveysync/internal/survey"
)

// DB is the connector surface used by a run.
type DB interface {
	Select(ctx context.Context, dest any, query string, args ...any) error
	Query(ctx context.Context, query string) (*dataset.Table, error)
	Exec(ctx context.Context, statements ...string) error
	Dialect() dialect.Dialect
}

// SnapshotStore persists the structure baseline.
type SnapshotStore interface {
	drift.Reader
	Write(rows survey.Structure, runID string) error
	Replace(rows survey.Structure, runID string) error
	DirWritable() (bool, error)
}

// Exporter receives the view contents.
type Exporter interface {
	Export(ctx context.Context, t *dataset.Table) (int, error)
}

// Options configure the run.
type Options struct {
	// View is the target view, optionally schema qualified.
	View        string
	Numbering   pivot.Numbering
	StrictOrder bool
	// Job labels metrics; defaults to View.
	Job string
}

// Deps are the collaborators of a run. Exporter is only needed by Run.
type Deps struct {
	DB        DB
	Snapshots SnapshotStore
	Exporter  Exporter

	Now      func() time.Time
	NewRunID func() string
}

var exportTmpl = sqltmpl.New("export_view", `SELECT * FROM <VIEW_NAME> ORDER BY "SurveyId", "UserId"`)

// Orchestrator drives runs against one view.
type Orchestrator struct {
	opts     Options
	deps     Deps
	view     sqltmpl.Value
	intro    *survey.Introspector
	builder  pivot.Builder
	detector drift.Detector
}

// New validates the view name and collaborators.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	if deps.DB == nil {
		return nil, errors.New("refresh: DB is required")
	}
	if deps.Snapshots == nil {
		return nil, errors.New("refresh: snapshot store is required")
	}
	view, err := sqltmpl.Ident(opts.View)
	if err != nil {
		return nil, fmt.Errorf("refresh: view name: %w", err)
	}
	if opts.Job == "" {
		opts.Job = opts.View
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	return &Orchestrator{
		opts:     opts,
		deps:     deps,
		view:     view,
		intro:    survey.NewIntrospector(deps.DB),
		builder:  pivot.Builder{Numbering: opts.Numbering},
		detector: drift.Detector{StrictOrder: opts.StrictOrder},
	}, nil
}

// step times fn and records it under name.
func (o *Orchestrator) step(name string, fn func() error) error {
	start := o.deps.Now()
	err := fn()
	metrics.RecordStep(o.opts.Job, name, err, o.deps.Now().Sub(start))
	return err
}

// Run performs a full refresh. The returned report is never nil; on error
// its Stage is Aborted.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	if o.deps.Exporter == nil {
		return nil, errors.New("refresh: exporter is required")
	}
	rep := &Report{RunID: o.deps.NewRunID()}
	rep.reach(Start)
	started := o.deps.Now()
	defer func() { rep.Duration = o.deps.Now().Sub(started) }()

	logf := func(format string, args ...any) {
		log.Printf("refresh: run=%s "+format, append([]any{rep.RunID}, args...)...)
	}
	fail := func(at Stage, err error) (*Report, error) {
		rep.abort(at)
		logf("aborted at %s: %v", at, err)
		return rep, err
	}

	var current survey.Structure
	err := o.step("fetch_structure", func() (err error) {
		current, err = o.intro.FetchStructure(ctx)
		return err
	})
	if err != nil {
		return fail(StructureFetched, err)
	}
	rep.reach(StructureFetched)
	metrics.RecordRows(o.opts.Job, "structure", int64(len(current)))
	logf("fetched %d survey structure rows", len(current))

	if !o.deps.Snapshots.Exists() {
		rep.Drift = drift.Result{State: drift.NoPriorSnapshot}
		metrics.RecordDrift(o.opts.Job, rep.Drift.State.String())
		logf("no prior snapshot; view will be rebuilt")

		writable := o.checkWritable(logf)
		if err := o.refreshView(ctx, rep); err != nil {
			return fail(Refreshed, err)
		}
		if writable {
			if err := o.step("persist_snapshot", func() error {
				return o.deps.Snapshots.Write(current, rep.RunID)
			}); err != nil {
				return fail(Persisted, err)
			}
			rep.Persist = PersistWritten
			rep.reach(Persisted)
		} else {
			rep.Persist = PersistSkippedNotWritable
		}
	} else {
		var res drift.Result
		_ = o.step("compare", func() error {
			res = o.detector.Classify(current, o.deps.Snapshots)
			return nil
		})
		rep.Drift = res
		rep.reach(Compared)
		metrics.RecordDrift(o.opts.Job, res.State.String())

		switch res.State {
		case drift.SnapshotMatches:
			logf("structure unchanged; keeping view %s", o.view)
			rep.reach(Skipped)
		default:
			if res.State == drift.SnapshotCorrupt {
				logf("snapshot unreadable (%v); view will be rebuilt", res.Cause)
			} else if res.Previous != nil {
				added, removed := drift.Diff(res.Previous.Rows, current)
				logf("structure changed (+%d -%d rows); view will be rebuilt", len(added), len(removed))
			}
			if err := o.refreshView(ctx, rep); err != nil {
				return fail(Refreshed, err)
			}
			if o.checkWritable(logf) {
				if err := o.step("persist_snapshot", func() error {
					return o.deps.Snapshots.Replace(current, rep.RunID)
				}); err != nil {
					return fail(Persisted, err)
				}
				rep.Persist = PersistWritten
				rep.reach(Persisted)
			} else {
				rep.Persist = PersistSkippedNotWritable
			}
		}
	}

	if err := o.export(ctx, rep); err != nil {
		return fail(Exported, err)
	}
	rep.reach(Done)
	rep.Duration = o.deps.Now().Sub(started)
	logf("%s", rep.Summary())
	return rep, nil
}

// checkWritable reports whether the snapshot can be written. Probe errors
// are logged and treated as not writable.
func (o *Orchestrator) checkWritable(logf func(string, ...any)) bool {
	ok, err := o.deps.Snapshots.DirWritable()
	if err != nil {
		logf("snapshot directory check failed: %v", err)
		return false
	}
	if !ok {
		logf("%v; continuing without saving a snapshot", snapshot.ErrDirNotWritable)
	}
	return ok
}

func (o *Orchestrator) refreshView(ctx context.Context, rep *Report) error {
	return o.step("refresh_view", func() error {
		q, err := o.builder.Build(ctx, o.intro)
		if err != nil {
			return fmt.Errorf("build pivot query: %w", err)
		}
		stmts, err := o.deps.DB.Dialect().ViewStatements(o.view, q)
		if err != nil {
			return err
		}
		if err := o.deps.DB.Exec(ctx, stmts...); err != nil {
			return fmt.Errorf("replace view %s: %w", o.view, err)
		}
		rep.Query = q.String()
		rep.Refreshed = true
		rep.reach(Refreshed)
		return nil
	})
}

func (o *Orchestrator) export(ctx context.Context, rep *Report) error {
	return o.step("export", func() error {
		q, err := exportTmpl.Render(sqltmpl.Values{sqltmpl.ViewName: o.view})
		if err != nil {
			return err
		}
		t, err := o.deps.DB.Query(ctx, q.String())
		if err != nil {
			return fmt.Errorf("read view %s: %w", o.view, err)
		}
		n, err := o.deps.Exporter.Export(ctx, t)
		if err != nil {
			return err
		}
		rep.RowsExported = n
		rep.reach(Exported)
		metrics.RecordRows(o.opts.Job, "exported", int64(n))
		return nil
	})
}

// Check classifies drift without touching the view or the snapshot.
func (o *Orchestrator) Check(ctx context.Context) (drift.Result, error) {
	current, err := o.intro.FetchStructure(ctx)
	if err != nil {
		return drift.Result{}, err
	}
	return o.detector.Classify(current, o.deps.Snapshots), nil
}

// Query builds the pivot query without executing it.
func (o *Orchestrator) Query(ctx context.Context) (string, error) {
	q, err := o.builder.Build(ctx, o.intro)
	if err != nil {
		return "", err
	}
	return q.String(), nil
}

// ViewStatements builds the DDL that Run would execute.
func (o *Orchestrator) ViewStatements(ctx context.Context) ([]string, error) {
	q, err := o.builder.Build(ctx, o.intro)
	if err != nil {
		return nil, err
	}
	return o.deps.DB.Dialect().ViewStatements(o.view, q)
}
