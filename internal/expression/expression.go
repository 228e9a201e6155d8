// Package expression parses and evaluates expected-node expressions of the
// form "path", "path,unaryOp" and "path,op,value".
package expression

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrTooManyParts is returned when an expression has more than three parts.
	ErrTooManyParts = errors.New("invalid node properties specified")
	// ErrInvalidUnaryOperator is returned for a two-part expression with an unknown operator.
	ErrInvalidUnaryOperator = errors.New("invalid comparison operator specified, only one of (isnull, isnotnull, isblank, isnotblank) allowed")
	// ErrInvalidOperator is returned for a three-part expression with an unknown operator.
	ErrInvalidOperator = errors.New("invalid comparison operator specified, only one of (<, >, <=, >=, ==, !=, regex, startswith, endswith, contains) allowed")
	// ErrEmptyExpression is returned for a blank expression.
	ErrEmptyExpression = errors.New("empty node expression")
)

// Operator is a comparison or presence check.
type Operator string

const (
	OpNone       Operator = ""
	OpIsNull     Operator = "isnull"
	OpIsBlank    Operator = "isblank"
	OpIsNotNull  Operator = "isnotnull"
	OpIsNotBlank Operator = "isnotblank"
	OpLess       Operator = "<"
	OpGreater    Operator = ">"
	OpLessEq     Operator = "<="
	OpGreaterEq  Operator = ">="
	OpEqual      Operator = "=="
	OpNotEqual   Operator = "!="
	OpRegex      Operator = "regex"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"
	OpContains   Operator = "contains"
)

var (
	unaryOperators = map[Operator]struct{}{
		OpIsNull: {}, OpIsBlank: {}, OpIsNotNull: {}, OpIsNotBlank: {},
	}
	binaryOperators = map[Operator]struct{}{
		OpLess: {}, OpGreater: {}, OpLessEq: {}, OpGreaterEq: {}, OpEqual: {},
		OpNotEqual: {}, OpRegex: {}, OpStartsWith: {}, OpEndsWith: {}, OpContains: {},
	}
)

// IsUnary reports whether op is a presence check.
func (op Operator) IsUnary() bool {
	_, ok := unaryOperators[op]
	return ok
}

// Expression is a parsed expected-node expression.
type Expression struct {
	Raw      string
	Path     string
	Operator Operator
	Value    string
}

// Arity returns the number of parts the expression was written with.
func (e *Expression) Arity() int {
	switch {
	case e.Operator == OpNone:
		return 1
	case e.Operator.IsUnary():
		return 2
	default:
		return 3
	}
}

// Parse splits raw on commas into path, operator and value. More than three
// parts is an error.
func Parse(raw string) (*Expression, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyExpression
	}

	parts := strings.SplitN(raw, ",", 4)
	if len(parts) > 3 {
		return nil, fmt.Errorf("%w - %s", ErrTooManyParts, raw)
	}

	expr := &Expression{Raw: raw, Path: parts[0]}

	switch len(parts) {
	case 2:
		op := Operator(strings.ToLower(parts[1]))
		if !op.IsUnary() {
			return nil, fmt.Errorf("%w - %s", ErrInvalidUnaryOperator, raw)
		}

		expr.Operator = op
	case 3:
		op := Operator(parts[1])
		if op == "=" {
			op = OpEqual
		}

		if _, ok := binaryOperators[op]; !ok {
			return nil, fmt.Errorf("%w - %s", ErrInvalidOperator, raw)
		}

		expr.Operator = op
		expr.Value = parts[2]
	}

	return expr, nil
}

// CheckPresence applies a unary operator to a resolved value. present is
// false when the value does not exist.
func CheckPresence(op Operator, value string, present bool) bool {
	blank := present && strings.TrimSpace(value) == ""

	switch op {
	case OpIsNull:
		return !present
	case OpIsNotNull:
		return present
	case OpIsBlank:
		return blank
	case OpIsNotBlank:
		return present && !blank
	default:
		return false
	}
}

// Compare applies a binary operator. Ordering is lexicographic over bytes;
// regex must match the whole value.
func Compare(lhs string, op Operator, rhs string) (bool, error) {
	switch op {
	case OpEqual:
		return lhs == rhs, nil
	case OpNotEqual:
		return lhs != rhs, nil
	case OpLess:
		return strings.Compare(lhs, rhs) < 0, nil
	case OpGreater:
		return strings.Compare(lhs, rhs) > 0, nil
	case OpLessEq:
		return strings.Compare(lhs, rhs) <= 0, nil
	case OpGreaterEq:
		return strings.Compare(lhs, rhs) >= 0, nil
	case OpRegex:
		re, err := regexp.Compile("^(?:" + rhs + ")$")
		if err != nil {
			return false, fmt.Errorf("compiling regex %q: %w", rhs, err)
		}

		return re.MatchString(lhs), nil
	case OpStartsWith:
		return strings.HasPrefix(lhs, rhs), nil
	case OpEndsWith:
		return strings.HasSuffix(lhs, rhs), nil
	case OpContains:
		return strings.Contains(lhs, rhs), nil
	default:
		return false, fmt.Errorf("%w - %s", ErrInvalidOperator, op)
	}
}
