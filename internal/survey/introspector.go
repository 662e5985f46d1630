// Package survey reads the shape of the survey schema: which surveys exist,
// which questions belong to each, and the raw structure table used as the
// drift baseline.
//
// The schema is fixed: Survey(SurveyId), Question(QuestionId),
// SurveyStructure(SurveyId, QuestionId), User(UserId) and
// Answer(UserId, SurveyId, QuestionId, Answer_Value).
package survey

import (
	"context"
	"fmt"

	"surveysync/internal/sqltmpl"
)

// Querier is the read side of a connector.
type Querier interface {
	Select(ctx context.Context, dest any, query string, args ...any) error
}

// StructureRow links one question to one survey.
type StructureRow struct {
	SurveyID   int64 `db:"SurveyId" json:"survey_id"`
	QuestionID int64 `db:"QuestionId" json:"question_id"`
}

// Structure is the full SurveyStructure table in database read order.
type Structure []StructureRow

// Membership says whether a catalog question belongs to a survey.
type Membership struct {
	QuestionID int64
	InSurvey   bool
}

const (
	listSurveysSQL    = `SELECT "SurveyId" FROM "Survey" ORDER BY "SurveyId"`
	fetchStructureSQL = `SELECT "SurveyId", "QuestionId" FROM "SurveyStructure"`
)

// membershipTmpl yields every catalog question once for a survey: linked
// questions flagged 1, the rest flagged 0.
var membershipTmpl = sqltmpl.New("question_membership", `SELECT t."SurveyId", t."QuestionId", t."InSurvey"
FROM (
	SELECT ss."SurveyId", ss."QuestionId", 1 AS "InSurvey"
	FROM "SurveyStructure" AS ss
	WHERE ss."SurveyId" = <CURRENT_SURVEY_ID>
	UNION
	SELECT <CURRENT_SURVEY_ID> AS "SurveyId", q."QuestionId", 0 AS "InSurvey"
	FROM "Question" AS q
	WHERE NOT EXISTS (
		SELECT * FROM "SurveyStructure" AS s
		WHERE s."SurveyId" = <CURRENT_SURVEY_ID> AND s."QuestionId" = q."QuestionId"
	)
) AS t
ORDER BY t."QuestionId"`)

// Introspector issues the read-only schema queries.
type Introspector struct {
	db Querier
}

// NewIntrospector returns an Introspector reading through db.
func NewIntrospector(db Querier) *Introspector {
	return &Introspector{db: db}
}

// ListSurveyIDs returns every SurveyId in ascending order.
func (in *Introspector) ListSurveyIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := in.db.Select(ctx, &ids, listSurveysSQL); err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	return ids, nil
}

// MembershipQuery renders the membership statement for surveyID.
func MembershipQuery(surveyID int64) (string, error) {
	f, err := membershipTmpl.Render(sqltmpl.Values{sqltmpl.CurrentSurveyID: sqltmpl.Int(surveyID)})
	if err != nil {
		return "", err
	}
	return f.String(), nil
}

type membershipRow struct {
	SurveyID   int64 `db:"SurveyId"`
	QuestionID int64 `db:"QuestionId"`
	InSurvey   int64 `db:"InSurvey"`
}

// ListQuestionMembership returns the whole question catalog for surveyID,
// ordered by QuestionId, each flagged with whether it belongs to the survey.
func (in *Introspector) ListQuestionMembership(ctx context.Context, surveyID int64) ([]Membership, error) {
	q, err := MembershipQuery(surveyID)
	if err != nil {
		return nil, err
	}
	var rows []membershipRow
	if err := in.db.Select(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("question membership for survey %d: %w", surveyID, err)
	}
	out := make([]Membership, len(rows))
	for i, r := range rows {
		out[i] = Membership{QuestionID: r.QuestionID, InSurvey: r.InSurvey != 0}
	}
	return out, nil
}

// FetchStructure returns every SurveyStructure row in the order the database
// yields them.
func (in *Introspector) FetchStructure(ctx context.Context) (Structure, error) {
	var rows Structure
	if err := in.db.Select(ctx, &rows, fetchStructureSQL); err != nil {
		return nil, fmt.Errorf("fetch survey structure: %w", err)
	}
	if rows == nil {
		rows = Structure{}
	}
	return rows, nil
}
