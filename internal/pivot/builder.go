// Package pivot builds the query behind the survey answers view: one row per
// (user, survey) with at least one answer, one column per catalog question.
//
// The query is held as a Plan of per-survey blocks and column specs and is
// only turned into text by Plan.SQL. Every block carries the same column
// list, so the blocks can be joined with UNION.
package pivot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"surveysync/internal/sqltmpl"
	"surveysync/internal/survey"
)

var (
	ErrNoSurveys          = errors.New("pivot: no surveys found")
	ErrNoQuestions        = errors.New("pivot: question catalog is empty")
	ErrInvalidID          = errors.New("pivot: identifiers must be positive")
	ErrIncompatibleBlocks = errors.New("pivot: survey blocks have different columns")
)

// Source is the slice of the introspector the builder needs.
type Source interface {
	ListSurveyIDs(ctx context.Context) ([]int64, error)
	ListQuestionMembership(ctx context.Context, surveyID int64) ([]survey.Membership, error)
}

// Numbering selects which survey ids the builder iterates.
type Numbering int

const (
	// Actual uses the SurveyId values read from the Survey table.
	Actual Numbering = iota
	// Sequential uses 1..N where N is the number of surveys, ignoring the
	// stored ids. Only correct when ids are gap free and start at 1.
	Sequential
)

func (n Numbering) String() string {
	if n == Sequential {
		return "sequential"
	}
	return "actual"
}

// ParseNumbering accepts "actual" (or "") and "sequential".
func ParseNumbering(s string) (Numbering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "actual":
		return Actual, nil
	case "sequential":
		return Sequential, nil
	default:
		return Actual, fmt.Errorf("pivot: unknown numbering %q (want actual or sequential)", s)
	}
}

// Builder turns the survey schema into a pivot Plan.
type Builder struct {
	Numbering Numbering
}

// Plan is the structured form of the pivot query.
type Plan struct {
	Blocks []Block
}

// Plan reads the schema through src and assembles one block per survey.
func (b Builder) Plan(ctx context.Context, src Source) (*Plan, error) {
	ids, err := src.ListSurveyIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoSurveys
	}
	if b.Numbering == Sequential {
		seq := make([]int64, len(ids))
		for i := range seq {
			seq[i] = int64(i + 1)
		}
		ids = seq
	}

	p := &Plan{Blocks: make([]Block, 0, len(ids))}
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("%w: survey id %d", ErrInvalidID, id)
		}
		members, err := src.ListQuestionMembership(ctx, id)
		if err != nil {
			return nil, err
		}
		blk, err := newBlock(id, members)
		if err != nil {
			return nil, err
		}
		p.Blocks = append(p.Blocks, blk)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Build is Plan followed by SQL.
func (b Builder) Build(ctx context.Context, src Source) (sqltmpl.Fragment, error) {
	p, err := b.Plan(ctx, src)
	if err != nil {
		return sqltmpl.Fragment{}, err
	}
	return p.SQL()
}

func newBlock(surveyID int64, members []survey.Membership) (Block, error) {
	if len(members) == 0 {
		return Block{}, fmt.Errorf("%w: survey %d", ErrNoQuestions, surveyID)
	}
	blk := Block{SurveyID: surveyID, Columns: make([]ColumnSpec, len(members))}
	for i, m := range members {
		if m.QuestionID <= 0 {
			return Block{}, fmt.Errorf("%w: question id %d in survey %d", ErrInvalidID, m.QuestionID, surveyID)
		}
		if i > 0 && m.QuestionID <= members[i-1].QuestionID {
			return Block{}, fmt.Errorf("%w: survey %d questions not strictly ascending at %d", ErrIncompatibleBlocks, surveyID, m.QuestionID)
		}
		kind := Null
		if m.InSurvey {
			kind = Answer
		}
		blk.Columns[i] = ColumnSpec{Kind: kind, SurveyID: surveyID, QuestionID: m.QuestionID}
	}
	return blk, nil
}

// validate checks that every block exposes the same aliases in the same order.
func (p *Plan) validate() error {
	if len(p.Blocks) == 0 {
		return ErrNoSurveys
	}
	first := p.Blocks[0].Aliases()
	for _, blk := range p.Blocks[1:] {
		if !slices.Equal(first, blk.Aliases()) {
			return fmt.Errorf("%w: survey %d differs from survey %d", ErrIncompatibleBlocks, blk.SurveyID, p.Blocks[0].SurveyID)
		}
	}
	return nil
}

// Columns returns the full output column list of the query.
func (p *Plan) Columns() []string {
	if len(p.Blocks) == 0 {
		return nil
	}
	return append([]string{"UserId", "SurveyId"}, p.Blocks[0].Aliases()...)
}

// SQL renders the blocks joined by UNION.
func (p *Plan) SQL() (sqltmpl.Fragment, error) {
	if err := p.validate(); err != nil {
		return sqltmpl.Fragment{}, err
	}
	parts := make([]sqltmpl.Fragment, len(p.Blocks))
	for i, blk := range p.Blocks {
		f, err := blk.Fragment()
		if err != nil {
			return sqltmpl.Fragment{}, fmt.Errorf("survey %d: %w", blk.SurveyID, err)
		}
		parts[i] = f
	}
	return sqltmpl.Join(parts, unionSep), nil
}
