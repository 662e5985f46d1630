// Package surveytest seeds the survey schema for tests that run against a
// real (usually in-memory sqlite) database.
package surveytest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"surveysync/internal/connector"
	"surveysync/internal/dialect"
)

// Schema creates the five survey tables.
var Schema = []string{
	`CREATE TABLE "Survey" ("SurveyId" INTEGER PRIMARY KEY, "SurveyDescription" TEXT)`,
	`CREATE TABLE "Question" ("QuestionId" INTEGER PRIMARY KEY, "Question_Text" TEXT)`,
	`CREATE TABLE "SurveyStructure" ("SurveyId" INTEGER NOT NULL, "QuestionId" INTEGER NOT NULL, "OrdinalValue" INTEGER)`,
	`CREATE TABLE "User" ("UserId" INTEGER PRIMARY KEY, "User_Name" TEXT)`,
	`CREATE TABLE "Answer" ("QuestionId" INTEGER NOT NULL, "SurveyId" INTEGER NOT NULL, "UserId" INTEGER NOT NULL, "Answer_Value" INTEGER)`,
}

// Answer is one Answer row.
type Answer struct {
	UserID, SurveyID, QuestionID int64
	Value                        *int64
}

// Fixture describes table contents. Structure pairs are (SurveyId, QuestionId).
type Fixture struct {
	Surveys   []int64
	Questions []int64
	Structure [][2]int64
	Users     []int64
	Answers   []Answer
}

// Val returns a pointer to v for Answer.Value.
func Val(v int64) *int64 { return &v }

// Statements renders the inserts for f.
func (f Fixture) Statements() []string {
	var out []string
	add := func(table string, rows []string) {
		if len(rows) > 0 {
			out = append(out, fmt.Sprintf(`INSERT INTO "%s" VALUES %s`, table, strings.Join(rows, ", ")))
		}
	}
	var rows []string
	for _, id := range f.Surveys {
		rows = append(rows, fmt.Sprintf("(%d, 'survey %d')", id, id))
	}
	add("Survey", rows)

	rows = nil
	for _, id := range f.Questions {
		rows = append(rows, fmt.Sprintf("(%d, 'question %d')", id, id))
	}
	add("Question", rows)

	rows = nil
	for i, p := range f.Structure {
		rows = append(rows, fmt.Sprintf("(%d, %d, %d)", p[0], p[1], i+1))
	}
	add("SurveyStructure", rows)

	rows = nil
	for _, id := range f.Users {
		rows = append(rows, fmt.Sprintf("(%d, 'user %d')", id, id))
	}
	add("User", rows)

	rows = nil
	for _, a := range f.Answers {
		v := "NULL"
		if a.Value != nil {
			v = fmt.Sprint(*a.Value)
		}
		rows = append(rows, fmt.Sprintf("(%d, %d, %d, %s)", a.QuestionID, a.SurveyID, a.UserID, v))
	}
	add("Answer", rows)
	return out
}

// Open returns an opened sqlite connector over a private in-memory database
// holding the schema and f. The connector is closed when the test ends.
func Open(t testing.TB, f Fixture) *connector.SQL {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	c := connector.Attach(dialect.SQLite, db)
	t.Cleanup(func() { _ = c.Close() })

	stmts := append(append([]string{}, Schema...), f.Statements()...)
	if err := c.Exec(context.Background(), stmts...); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return c
}

// Standard is a small catalog: questions {1,2,3}, survey 1 holds {1,3},
// survey 2 holds {2}. Users 10 and 11 answered survey 1; user 11 answered
// survey 2.
func Standard() Fixture {
	return Fixture{
		Surveys:   []int64{1, 2},
		Questions: []int64{1, 2, 3},
		Structure: [][2]int64{{1, 1}, {1, 3}, {2, 2}},
		Users:     []int64{10, 11, 12},
		Answers: []Answer{
			{UserID: 10, SurveyID: 1, QuestionID: 1, Value: Val(4)},
			{UserID: 11, SurveyID: 1, QuestionID: 3, Value: Val(2)},
			{UserID: 11, SurveyID: 2, QuestionID: 2, Value: Val(5)},
		},
	}
}
