package cronexpr

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Reason enumerates why an expression was rejected.
type Reason string

const (
	ReasonWrongFieldCount   Reason = "WrongFieldCount"
	ReasonInvalidListMember Reason = "InvalidListMember"
	ReasonInvalidRange      Reason = "InvalidRange"
	ReasonInvalidStep       Reason = "InvalidStep"
	ReasonInvalidLiteral    Reason = "InvalidLiteral"
	ReasonOutOfDomain       Reason = "OutOfDomain"
)

var (
	ErrWrongFieldCount   = errors.New("cron expression must have 6 fields")
	ErrInvalidListMember = errors.New("invalid list member")
	ErrInvalidRange      = errors.New("invalid range")
	ErrInvalidStep       = errors.New("invalid step")
	ErrInvalidLiteral    = errors.New("invalid value")
	ErrOutOfDomain       = errors.New("value out of range")
)

var reasonErrors = map[Reason]error{
	ReasonWrongFieldCount:   ErrWrongFieldCount,
	ReasonInvalidListMember: ErrInvalidListMember,
	ReasonInvalidRange:      ErrInvalidRange,
	ReasonInvalidStep:       ErrInvalidStep,
	ReasonInvalidLiteral:    ErrInvalidLiteral,
	ReasonOutOfDomain:       ErrOutOfDomain,
}

// ValidationError describes the first field that failed to parse. Field and
// Token are unset for ReasonWrongFieldCount.
type ValidationError struct {
	Reason Reason
	Field  Field
	Token  string
	Count  int
}

func (e *ValidationError) Error() string {
	if e.Reason == ReasonWrongFieldCount {
		return fmt.Sprintf("%s, got %d", ErrWrongFieldCount, e.Count)
	}
	msg := fmt.Sprintf("%s field: %s %q", e.Field.Name(), reasonErrors[e.Reason], e.Token)
	if e.Reason == ReasonOutOfDomain {
		lo, hi := e.Field.Bounds()
		msg += fmt.Sprintf(" (allowed %d-%d)", lo, hi)
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return reasonErrors[e.Reason] }

// Expression is an immutable, fully parsed six-field cron expression.
type Expression struct {
	source string
	fields [fieldCount]Pattern
}

// Parse validates source and returns the parsed expression. Any error is a
// *ValidationError; either all six fields parse or the expression is rejected.
func Parse(source string) (Expression, error) {
	tokens := strings.Fields(source)
	if len(tokens) != fieldCount {
		return Expression{}, &ValidationError{Reason: ReasonWrongFieldCount, Count: len(tokens)}
	}
	expr := Expression{source: strings.Join(tokens, " ")}
	for i, field := range fields {
		pattern, reason := parseToken(field, tokens[i])
		if reason != "" {
			return Expression{}, &ValidationError{Reason: reason, Field: field, Token: tokens[i]}
		}
		expr.fields[i] = pattern
	}
	return expr, nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// package-level presets and tests.
func MustParse(source string) Expression {
	expr, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return expr
}

// ValidationResult is either a valid Expression or the reason it is not.
type ValidationResult struct {
	Expression Expression
	Err        *ValidationError
}

func Validate(source string) ValidationResult {
	expr, err := Parse(source)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return ValidationResult{Err: verr}
		}
		return ValidationResult{Err: &ValidationError{Reason: ReasonInvalidLiteral, Token: source}}
	}
	return ValidationResult{Expression: expr}
}

func (r ValidationResult) Valid() bool { return r.Err == nil }

func (r ValidationResult) Reason() Reason {
	if r.Err == nil {
		return ""
	}
	return r.Err.Reason
}

// Source returns the normalized expression text (single spaces between fields).
func (e Expression) Source() string { return e.source }

func (e Expression) String() string { return e.source }

func (e Expression) IsZero() bool { return e.source == "" }

// Field returns the parsed pattern for f.
func (e Expression) Field(f Field) Pattern {
	p := e.fields[f]
	if p.Kind == List {
		p.Values = append([]int(nil), p.Values...)
	}
	return p
}

// parseToken classifies a token with a fixed precedence:
// wildcard, then list, then range, then step, then literal.
func parseToken(field Field, token string) (Pattern, Reason) {
	switch {
	case token == "*" || token == "?":
		return WildcardPattern(), ""
	case strings.Contains(token, ","):
		return parseList(field, token)
	case strings.Contains(token, "-"):
		return parseRange(field, token)
	case strings.Contains(token, "/"):
		return parseStep(field, token)
	default:
		n, ok := atoi(token)
		if !ok {
			return Pattern{}, ReasonInvalidLiteral
		}
		if !field.contains(n) {
			return Pattern{}, ReasonOutOfDomain
		}
		return LiteralPattern(n), ""
	}
}

func parseList(field Field, token string) (Pattern, Reason) {
	parts := strings.Split(token, ",")
	seen := make(map[int]struct{}, len(parts))
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		n, ok := atoi(part)
		if !ok {
			return Pattern{}, ReasonInvalidListMember
		}
		if !field.contains(n) {
			return Pattern{}, ReasonOutOfDomain
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		values = append(values, n)
	}
	sort.Ints(values)
	return Pattern{Kind: List, Values: values}, ""
}

func parseRange(field Field, token string) (Pattern, Reason) {
	parts := strings.Split(token, "-")
	if len(parts) != 2 {
		return Pattern{}, ReasonInvalidRange
	}
	start, ok := atoi(parts[0])
	if !ok {
		return Pattern{}, ReasonInvalidRange
	}
	end, ok := atoi(parts[1])
	if !ok {
		return Pattern{}, ReasonInvalidRange
	}
	if start > end {
		return Pattern{}, ReasonInvalidRange
	}
	if !field.contains(start) || !field.contains(end) {
		return Pattern{}, ReasonOutOfDomain
	}
	return RangePattern(start, end), ""
}

func parseStep(field Field, token string) (Pattern, Reason) {
	parts := strings.Split(token, "/")
	if len(parts) != 2 {
		return Pattern{}, ReasonInvalidStep
	}
	base := 0
	if parts[0] != "*" {
		n, ok := atoi(parts[0])
		if !ok {
			return Pattern{}, ReasonInvalidStep
		}
		if !field.contains(n) {
			return Pattern{}, ReasonOutOfDomain
		}
		base = n
	}
	interval, ok := atoi(parts[1])
	if !ok || interval < 1 {
		return Pattern{}, ReasonInvalidStep
	}
	return StepPattern(base, interval), ""
}

// atoi accepts only unsigned decimal digits.
func atoi(s string) (int, bool) {
	if s == "" || len(s) > 9 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
