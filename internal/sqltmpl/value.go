package sqltmpl

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidIdent is returned by Ident for names that are not plain
// identifiers.
var ErrInvalidIdent = errors.New("sqltmpl: invalid identifier")

var identPartRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Value is one substitution. The zero Value counts as missing.
type Value struct {
	text string
	set  bool
}

// Int substitutes a decimal integer literal.
func Int(n int64) Value {
	return Value{text: strconv.FormatInt(n, 10), set: true}
}

// Ident substitutes a double-quoted identifier. Schema-qualified names
// ("dbo.SurveyAnswers") are quoted part by part.
func Ident(name string) (Value, error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return Value{}, fmt.Errorf("%w: %q has more than one qualifier", ErrInvalidIdent, name)
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		if !identPartRe.MatchString(p) {
			return Value{}, fmt.Errorf("%w: %q", ErrInvalidIdent, name)
		}
		quoted[i] = `"` + p + `"`
	}
	return Value{text: strings.Join(quoted, "."), set: true}, nil
}

// Frag substitutes a previously rendered fragment verbatim.
func Frag(f Fragment) Value {
	return Value{text: f.sql, set: true}
}

// String returns the substituted text.
func (v Value) String() string { return v.text }
