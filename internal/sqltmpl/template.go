// Package sqltmpl renders SQL fragments from templates with positional
// placeholders such as <SURVEY_ID> or <VIEW_NAME>.
//
// Substituted values are typed: integers, validated identifiers, and
// fragments previously produced by this package. There is no way to pass
// arbitrary text through a template, so callers cannot splice untrusted input
// into generated SQL by accident. The engine performs no other escaping.
package sqltmpl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Placeholder is a token of the form <NAME> inside a template.
type Placeholder string

const (
	SurveyID               Placeholder = "<SURVEY_ID>"
	QuestionID             Placeholder = "<QUESTION_ID>"
	DynamicQuestionAnswers Placeholder = "<DYNAMIC_QUESTION_ANSWERS>"
	ViewName               Placeholder = "<VIEW_NAME>"
	CurrentSurveyID        Placeholder = "<CURRENT_SURVEY_ID>"
	Query                  Placeholder = "<QUERY>"
)

// ErrMissingSubstitution is matched by every *MissingSubstitutionError.
var ErrMissingSubstitution = errors.New("sqltmpl: missing substitution")

// MissingSubstitutionError reports a placeholder the caller did not supply.
type MissingSubstitutionError struct {
	Template    string
	Placeholder Placeholder
}

func (e *MissingSubstitutionError) Error() string {
	return fmt.Sprintf("sqltmpl: template %q: no value for %s", e.Template, e.Placeholder)
}

func (e *MissingSubstitutionError) Unwrap() error { return ErrMissingSubstitution }

var placeholderRe = regexp.MustCompile(`<[A-Z][A-Z_]*>`)

// Template is a named SQL text with placeholders. The zero value renders to
// an empty fragment.
type Template struct {
	name         string
	text         string
	placeholders []Placeholder
}

// New parses text once and records the distinct placeholders it uses, in
// order of first appearance.
func New(name, text string) Template {
	seen := make(map[Placeholder]struct{})
	var ps []Placeholder
	for _, m := range placeholderRe.FindAllString(text, -1) {
		p := Placeholder(m)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		ps = append(ps, p)
	}
	return Template{name: name, text: text, placeholders: ps}
}

// Name returns the template name used in error messages.
func (t Template) Name() string { return t.name }

// Placeholders lists the distinct placeholders used by the template.
func (t Template) Placeholders() []Placeholder {
	out := make([]Placeholder, len(t.placeholders))
	copy(out, t.placeholders)
	return out
}

// Values maps placeholders to their substitution.
type Values map[Placeholder]Value

// Render replaces every occurrence of every placeholder. Values for
// placeholders the template does not use are ignored.
func (t Template) Render(vals Values) (Fragment, error) {
	if len(t.placeholders) == 0 {
		return Fragment{sql: t.text}, nil
	}
	pairs := make([]string, 0, 2*len(t.placeholders))
	for _, p := range t.placeholders {
		v, ok := vals[p]
		if !ok || !v.set {
			return Fragment{}, &MissingSubstitutionError{Template: t.name, Placeholder: p}
		}
		pairs = append(pairs, string(p), v.text)
	}
	return Fragment{sql: strings.NewReplacer(pairs...).Replace(t.text)}, nil
}

// Fragment is rendered SQL. It can only be obtained from Render or Join.
type Fragment struct {
	sql string
}

func (f Fragment) String() string { return f.sql }

// IsEmpty reports whether the fragment holds no SQL text.
func (f Fragment) IsEmpty() bool { return strings.TrimSpace(f.sql) == "" }

// Join concatenates fragments with sep between consecutive elements.
func Join(fs []Fragment, sep string) Fragment {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.sql
	}
	return Fragment{sql: strings.Join(parts, sep)}
}
