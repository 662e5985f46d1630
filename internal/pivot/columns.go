package pivot

import (
	"fmt"
	"strconv"

	"surveysync/internal/sqltmpl"
)

var (
	answerColumnTmpl = sqltmpl.New("answer_column", `COALESCE((
		SELECT a."Answer_Value"
		FROM "Answer" AS a
		WHERE a."UserId" = u."UserId"
			AND a."SurveyId" = <SURVEY_ID>
			AND a."QuestionId" = <QUESTION_ID>
	), -1) AS "ANS_Q<QUESTION_ID>"`)

	nullColumnTmpl = sqltmpl.New("null_column", `NULL AS "ANS_Q<QUESTION_ID>"`)

	surveyBlockTmpl = sqltmpl.New("survey_block", `SELECT u."UserId", <SURVEY_ID> AS "SurveyId",
	<DYNAMIC_QUESTION_ANSWERS>
FROM "User" AS u
WHERE EXISTS (
	SELECT *
	FROM "Answer" AS a
	WHERE a."UserId" = u."UserId"
		AND a."SurveyId" = <SURVEY_ID>
)`)
)

const (
	columnSep = ",\n\t"
	unionSep  = "\nUNION\n"
)

// ColumnKind says how a question is rendered in a survey block.
type ColumnKind int

const (
	// Answer looks up the user's answer, -1 when there is none.
	Answer ColumnKind = iota
	// Null is a placeholder for a question outside the survey.
	Null
)

func (k ColumnKind) String() string {
	switch k {
	case Answer:
		return "answer"
	case Null:
		return "null"
	default:
		return "ColumnKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ColumnSpec is one pivoted answer column.
type ColumnSpec struct {
	Kind       ColumnKind
	SurveyID   int64
	QuestionID int64
}

// Alias is the output column name, identical for Answer and Null.
func (c ColumnSpec) Alias() string {
	return "ANS_Q" + strconv.FormatInt(c.QuestionID, 10)
}

// Fragment renders the column expression.
func (c ColumnSpec) Fragment() (sqltmpl.Fragment, error) {
	switch c.Kind {
	case Answer:
		return answerColumnTmpl.Render(sqltmpl.Values{
			sqltmpl.SurveyID:   sqltmpl.Int(c.SurveyID),
			sqltmpl.QuestionID: sqltmpl.Int(c.QuestionID),
		})
	case Null:
		return nullColumnTmpl.Render(sqltmpl.Values{
			sqltmpl.QuestionID: sqltmpl.Int(c.QuestionID),
		})
	default:
		return sqltmpl.Fragment{}, fmt.Errorf("pivot: unknown column kind %v", c.Kind)
	}
}

// Block is the SELECT for one survey.
type Block struct {
	SurveyID int64
	Columns  []ColumnSpec
}

// Aliases lists the answer column names in order.
func (b Block) Aliases() []string {
	out := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		out[i] = c.Alias()
	}
	return out
}

// Fragment renders the block.
func (b Block) Fragment() (sqltmpl.Fragment, error) {
	cols := make([]sqltmpl.Fragment, len(b.Columns))
	for i, c := range b.Columns {
		f, err := c.Fragment()
		if err != nil {
			return sqltmpl.Fragment{}, err
		}
		cols[i] = f
	}
	return surveyBlockTmpl.Render(sqltmpl.Values{
		sqltmpl.SurveyID:               sqltmpl.Int(b.SurveyID),
		sqltmpl.DynamicQuestionAnswers: sqltmpl.Frag(sqltmpl.Join(cols, columnSep)),
	})
}
