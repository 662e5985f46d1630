package refresh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveysync/internal/connector"
	"surveysync/internal/dataset"
	"surveysync/internal/drift"
	"surveysync/internal/export"
	"surveysync/internal/metrics"
	"surveysync/internal/pivot"
	"surveysync/internal/snapshot"
	"surveysync/internal/sqltmpl"
	"surveysync/internal/survey/surveytest"
)

type captureExporter struct {
	tables []*dataset.Table
	err    error
}

func (c *captureExporter) Export(_ context.Context, t *dataset.Table) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.tables = append(c.tables, t)
	return t.Len(), nil
}

func (c *captureExporter) last() *dataset.Table {
	if len(c.tables) == 0 {
		return nil
	}
	return c.tables[len(c.tables)-1]
}

type harness struct {
	db    *connector.SQL
	store *snapshot.Store
	exp   *captureExporter
	orch  *Orchestrator
}

func newHarness(t *testing.T, f surveytest.Fixture, snapPath string) *harness {
	t.Helper()
	if snapPath == "" {
		snapPath = filepath.Join(t.TempDir(), "structure.json")
	}
	h := &harness{
		db:    surveytest.Open(t, f),
		store: snapshot.NewStore(snapPath),
		exp:   &captureExporter{},
	}
	n := 0
	orch, err := New(Options{View: "vw_SurveyAnswers"}, Deps{
		DB:        h.db,
		Snapshots: h.store,
		Exporter:  h.exp,
		NewRunID: func() string {
			n++
			return fmt.Sprintf("run-%d", n)
		},
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) run(t *testing.T) *Report {
	t.Helper()
	rep, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Done, rep.Stage)
	return rep
}

func TestRun_Lifecycle(t *testing.T) {
	h := newHarness(t, surveytest.Standard(), "")
	ctx := context.Background()

	// First run: no baseline, so the view is built and the snapshot written.
	rep := h.run(t)
	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, drift.NoPriorSnapshot, rep.Drift.State)
	assert.True(t, rep.Refreshed)
	assert.Equal(t, PersistWritten, rep.Persist)
	assert.Equal(t, 3, rep.RowsExported)
	assert.Equal(t, []Stage{Start, StructureFetched, Refreshed, Persisted, Exported, Done}, rep.Trail)
	assert.Contains(t, rep.Query, "\nUNION\n")
	assert.True(t, h.store.Exists())

	tb := h.exp.last()
	require.NotNil(t, tb)
	assert.Equal(t, []string{"UserId", "SurveyId", "ANS_Q1", "ANS_Q2", "ANS_Q3"}, tb.Columns)
	assert.Equal(t, []any{int64(10), int64(1), int64(4), nil, int64(-1)}, tb.Rows[0])

	// Second run: unchanged structure keeps the view.
	rep = h.run(t)
	assert.Equal(t, drift.SnapshotMatches, rep.Drift.State)
	assert.False(t, rep.Refreshed)
	assert.Equal(t, PersistUnchanged, rep.Persist)
	assert.Empty(t, rep.Query)
	assert.Equal(t, []Stage{Start, StructureFetched, Compared, Skipped, Exported, Done}, rep.Trail)
	assert.Equal(t, 3, rep.RowsExported)

	// Question 3 joins survey 2: drift, rebuild, snapshot replaced.
	require.NoError(t, h.db.Exec(ctx, `INSERT INTO "SurveyStructure" VALUES (2, 3, 9)`))
	rep = h.run(t)
	assert.Equal(t, drift.SnapshotDiffers, rep.Drift.State)
	assert.True(t, rep.Refreshed)
	assert.Equal(t, PersistWritten, rep.Persist)
	assert.Equal(t, []Stage{Start, StructureFetched, Compared, Refreshed, Persisted, Exported, Done}, rep.Trail)
	assert.Equal(t, []any{int64(11), int64(2), nil, int64(5), int64(-1)}, h.exp.last().Rows[2])

	snap, err := h.store.Read()
	require.NoError(t, err)
	assert.Equal(t, "run-3", snap.RunID)
	assert.Len(t, snap.Rows, 4)

	rep = h.run(t)
	assert.Equal(t, drift.SnapshotMatches, rep.Drift.State)
}

func TestRun_DeletedSnapshotForcesRefresh(t *testing.T) {
	h := newHarness(t, surveytest.Standard(), "")
	h.run(t)
	require.NoError(t, h.store.Remove())

	rep := h.run(t)
	assert.Equal(t, drift.NoPriorSnapshot, rep.Drift.State)
	assert.True(t, rep.Refreshed)
	assert.True(t, h.store.Exists())
}

func TestRun_CorruptSnapshotForcesRefreshAndIsReplaced(t *testing.T) {
	h := newHarness(t, surveytest.Standard(), "")
	h.run(t)
	require.NoError(t, os.WriteFile(h.store.Path(), []byte("SurveyId,QuestionId\n1,1\n"), 0o644))

	rep := h.run(t)
	assert.Equal(t, drift.SnapshotCorrupt, rep.Drift.State)
	assert.ErrorIs(t, rep.Drift.Cause, snapshot.ErrDecode)
	assert.True(t, rep.Refreshed)
	assert.Equal(t, PersistWritten, rep.Persist)

	rep = h.run(t)
	assert.Equal(t, drift.SnapshotMatches, rep.Drift.State)
}

func TestRun_UnwritableSnapshotDirectoryStillRefreshes(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist", "structure.json")
	h := newHarness(t, surveytest.Standard(), missing)

	rep := h.run(t)
	assert.Equal(t, PersistSkippedNotWritable, rep.Persist)
	assert.True(t, rep.Refreshed)
	assert.Equal(t, 3, rep.RowsExported)
	assert.False(t, h.store.Exists())

	rep = h.run(t)
	assert.Equal(t, drift.NoPriorSnapshot, rep.Drift.State)
	assert.True(t, rep.Refreshed)
}

func TestRun_NoSurveysAborts(t *testing.T) {
	h := newHarness(t, surveytest.Fixture{Questions: []int64{1}}, "")

	rep, err := h.orch.Run(context.Background())
	require.ErrorIs(t, err, pivot.ErrNoSurveys)
	assert.Equal(t, Aborted, rep.Stage)
	assert.Equal(t, Refreshed, rep.FailedStage)
	assert.False(t, h.store.Exists(), "snapshot must not be written when the refresh failed")
	assert.Empty(t, h.exp.tables)
}

func TestRun_ViewPushFailureLeavesNoBaseline(t *testing.T) {
	h := newHarness(t, surveytest.Standard(), "")
	// A table with the view's name makes DROP VIEW fail.
	require.NoError(t, h.db.Exec(context.Background(), `CREATE TABLE "vw_SurveyAnswers" ("x" INTEGER)`))

	rep, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, connector.ErrQueryExecution)
	assert.Equal(t, Refreshed, rep.FailedStage)
	assert.False(t, rep.Refreshed)
	assert.False(t, h.store.Exists())
}

func TestRun_StructureFetchFailure(t *testing.T) {
	h := newHarness(t, surveytest.Standard(), "")
	require.NoError(t, h.db.Exec(context.Background(), `DROP TABLE "SurveyStructure"`))

	rep, err := h.orch.Run(context.Background())
	assert.ErrorIs(t, err, connector.ErrQueryExecution)
	assert.Equal(t, Aborted, rep.Stage)
	assert.Equal(t, StructureFetched, rep.FailedStage)
	assert.Equal(t, []Stage{Start, Aborted}, rep.Trail)
}

func TestRun_ExportFailureKeepsRefreshedView(t *testing.T) {
	h := newHarness(t, surveytest.Standard(), "")
	h.exp.err = errors.New("disk full")

	rep, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Exported, rep.FailedStage)
	assert.True(t, rep.Refreshed)
	assert.True(t, h.store.Exists())

	tb, err := h.db.Query(context.Background(), `SELECT COUNT(*) AS "n" FROM "vw_SurveyAnswers"`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), tb.Rows[0][0])
}

func TestRun_WritesResultsFile(t *testing.T) {
	dir := t.TempDir()
	exp, err := export.New(filepath.Join(dir, "results.csv"), export.Options{})
	require.NoError(t, err)

	orch, err := New(Options{View: "vw_SurveyAnswers"}, Deps{
		DB:        surveytest.Open(t, surveytest.Standard()),
		Snapshots: snapshot.NewStore(filepath.Join(dir, "structure.json")),
		Exporter:  exp,
	})
	require.NoError(t, err)

	rep, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.RunID, 36, "uuid run id")

	b, err := os.ReadFile(filepath.Join(dir, "results.csv"))
	require.NoError(t, err)
	want := strings.Join([]string{
		"UserId,SurveyId,ANS_Q1,ANS_Q2,ANS_Q3",
		"10,1,4,,-1",
		"11,1,-1,,2",
		"11,2,,5,",
		"",
	}, "\n")
	assert.Equal(t, want, string(b))
}

func TestCheckAndQuery(t *testing.T) {
	h := newHarness(t, surveytest.Standard(), "")
	ctx := context.Background()

	res, err := h.orch.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, drift.NoPriorSnapshot, res.State)
	assert.False(t, h.store.Exists(), "Check must not persist")

	q, err := h.orch.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(q, "\nUNION\n"))

	stmts, err := h.orch.ViewStatements(ctx)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, `DROP VIEW IF EXISTS "vw_SurveyAnswers"`, stmts[0])
	assert.True(t, strings.HasPrefix(stmts[1], `CREATE VIEW "vw_SurveyAnswers" AS SELECT`))

	h.run(t)
	res, err = h.orch.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, drift.SnapshotMatches, res.State)
}

func TestNew_Validation(t *testing.T) {
	db := surveytest.Open(t, surveytest.Fixture{})
	store := snapshot.NewStore(filepath.Join(t.TempDir(), "s.json"))

	_, err := New(Options{View: `vw"; DROP TABLE "User`}, Deps{DB: db, Snapshots: store})
	assert.ErrorIs(t, err, sqltmpl.ErrInvalidIdent)

	_, err = New(Options{View: "vw"}, Deps{Snapshots: store})
	assert.Error(t, err)

	_, err = New(Options{View: "vw"}, Deps{DB: db})
	assert.Error(t, err)

	o, err := New(Options{View: "dbo.vw"}, Deps{DB: db, Snapshots: store})
	require.NoError(t, err)
	_, err = o.Run(context.Background())
	assert.Error(t, err, "Run without exporter")
}

// recordingBackend captures metric calls.
type recordingBackend struct {
	mu    sync.Mutex
	steps []string
	drift []string
}

func (r *recordingBackend) IncCounter(name string, _ float64, l metrics.Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch name {
	case metrics.StepTotal:
		r.steps = append(r.steps, l["step"]+":"+l["status"])
	case metrics.DriftTotal:
		r.drift = append(r.drift, l["state"])
	}
}
func (r *recordingBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (r *recordingBackend) Flush() error                                     { return nil }

func TestRun_RecordsMetrics(t *testing.T) {
	rb := &recordingBackend{}
	metrics.SetBackend(rb)
	defer metrics.Reset()

	h := newHarness(t, surveytest.Standard(), "")
	h.run(t)
	h.run(t)

	assert.Equal(t, []string{
		"fetch_structure:success", "refresh_view:success", "persist_snapshot:success", "export:success",
		"fetch_structure:success", "compare:success", "export:success",
	}, rb.steps)
	assert.Equal(t, []string{"no_prior_snapshot", "snapshot_matches"}, rb.drift)
}

func TestReport_Summary(t *testing.T) {
	r := &Report{RunID: "r", Stage: Done, Drift: drift.Result{State: drift.SnapshotMatches}, RowsExported: 2, Duration: time.Second}
	assert.Contains(t, r.Summary(), "drift=snapshot_matches")
	r.abort(Exported)
	assert.Contains(t, r.Summary(), "aborted at exported")
	assert.Equal(t, "Stage(42)", Stage(42).String())
}
