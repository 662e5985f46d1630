package survey_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"surveysync/internal/connector"
	"surveysync/internal/dialect"
	"surveysync/internal/survey"
	"surveysync/internal/survey/surveytest"
)

func mockIntrospector(t *testing.T) (*survey.Introspector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return survey.NewIntrospector(connector.Attach(dialect.MSSQL, db)), mock
}

func TestListSurveyIDs(t *testing.T) {
	in, mock := mockIntrospector(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "SurveyId" FROM "Survey" ORDER BY "SurveyId"`)).
		WillReturnRows(sqlmock.NewRows([]string{"SurveyId"}).AddRow(1).AddRow(4))

	ids, err := in.ListSurveyIDs(context.Background())
	if err != nil {
		t.Fatalf("ListSurveyIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 4 {
		t.Errorf("ids = %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestListQuestionMembership_Scans(t *testing.T) {
	in, mock := mockIntrospector(t)
	mock.ExpectQuery(`FROM "SurveyStructure" AS ss\s+WHERE ss."SurveyId" = 7`).
		WillReturnRows(sqlmock.NewRows([]string{"SurveyId", "QuestionId", "InSurvey"}).
			AddRow(7, 1, 1).
			AddRow(7, 2, 0))

	got, err := in.ListQuestionMembership(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListQuestionMembership failed: %v", err)
	}
	want := []survey.Membership{{QuestionID: 1, InSurvey: true}, {QuestionID: 2, InSurvey: false}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("membership = %+v, want %+v", got, want)
	}
}

func TestIntrospector_PropagatesQueryError(t *testing.T) {
	in, mock := mockIntrospector(t)
	mock.ExpectQuery("SurveyStructure").WillReturnError(errors.New("invalid object name"))

	_, err := in.FetchStructure(context.Background())
	if !errors.Is(err, connector.ErrQueryExecution) {
		t.Fatalf("want ErrQueryExecution, got %v", err)
	}
}

func TestMembershipQuery_SubstitutesEverywhere(t *testing.T) {
	q, err := survey.MembershipQuery(42)
	if err != nil {
		t.Fatalf("MembershipQuery: %v", err)
	}
	if strings.Contains(q, "<") {
		t.Fatalf("placeholder left in query:\n%s", q)
	}
	if n := strings.Count(q, "42"); n != 3 {
		t.Fatalf("survey id substituted %d times, want 3:\n%s", n, q)
	}
}

func TestListQuestionMembership_CompleteCatalog(t *testing.T) {
	c := surveytest.Open(t, surveytest.Standard())
	in := survey.NewIntrospector(c)
	ctx := context.Background()

	got, err := in.ListQuestionMembership(ctx, 1)
	if err != nil {
		t.Fatalf("ListQuestionMembership: %v", err)
	}
	want := []survey.Membership{{1, true}, {2, false}, {3, true}}
	if len(got) != len(want) {
		t.Fatalf("membership = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("membership[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	// A survey with no structure rows still sees the whole catalog, all out.
	got, err = in.ListQuestionMembership(ctx, 99)
	if err != nil {
		t.Fatalf("ListQuestionMembership(99): %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("membership for unknown survey = %+v", got)
	}
	for _, m := range got {
		if m.InSurvey {
			t.Fatalf("question %d unexpectedly in survey 99", m.QuestionID)
		}
	}
}

func TestFetchStructure_PreservesReadOrder(t *testing.T) {
	c := surveytest.Open(t, surveytest.Fixture{
		Surveys:   []int64{1, 2},
		Questions: []int64{1, 2},
		Structure: [][2]int64{{2, 2}, {1, 1}, {1, 2}},
	})
	rows, err := survey.NewIntrospector(c).FetchStructure(context.Background())
	if err != nil {
		t.Fatalf("FetchStructure: %v", err)
	}
	want := survey.Structure{{2, 2}, {1, 1}, {1, 2}}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v", rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("rows[%d] = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestFetchStructure_EmptyIsNotNil(t *testing.T) {
	c := surveytest.Open(t, surveytest.Fixture{})
	rows, err := survey.NewIntrospector(c).FetchStructure(context.Background())
	if err != nil {
		t.Fatalf("FetchStructure: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("rows = %#v", rows)
	}
}
