package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    *Expression
		wantErr error
	}{
		{
			name: "path only",
			raw:  "user.id",
			want: &Expression{Raw: "user.id", Path: "user.id"},
		},
		{
			name: "unary operator",
			raw:  "token,isnotnull",
			want: &Expression{Raw: "token,isnotnull", Path: "token", Operator: OpIsNotNull},
		},
		{
			name: "unary operator any case",
			raw:  "token,IsBlank",
			want: &Expression{Raw: "token,IsBlank", Path: "token", Operator: OpIsBlank},
		},
		{
			name: "binary operator",
			raw:  "count,>=,10",
			want: &Expression{Raw: "count,>=,10", Path: "count", Operator: OpGreaterEq, Value: "10"},
		},
		{
			name: "equals alias",
			raw:  "status,=,ok",
			want: &Expression{Raw: "status,=,ok", Path: "status", Operator: OpEqual, Value: "ok"},
		},
		{
			name: "empty right hand side",
			raw:  "status,==,",
			want: &Expression{Raw: "status,==,", Path: "status", Operator: OpEqual},
		},
		{
			name:    "four parts",
			raw:     "a,==,b,c",
			wantErr: ErrTooManyParts,
		},
		{
			name:    "binary operator in two part form",
			raw:     "a,==",
			wantErr: ErrInvalidUnaryOperator,
		},
		{
			name:    "unknown binary operator",
			raw:     "a,like,b",
			wantErr: ErrInvalidOperator,
		},
		{
			name:    "unary operator in three part form",
			raw:     "a,isnull,b",
			wantErr: ErrInvalidOperator,
		},
		{
			name:    "blank",
			raw:     "  ",
			wantErr: ErrEmptyExpression,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpression_Arity(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]int{"a": 1, "a,isnull": 2, "a,==,b": 3} {
		e, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, e.Arity(), raw)
	}
}

func TestCheckPresence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op      Operator
		value   string
		present bool
		want    bool
	}{
		{OpIsNull, "", false, true},
		{OpIsNull, "x", true, false},
		{OpIsNotNull, "", true, true},
		{OpIsNotNull, "", false, false},
		{OpIsBlank, "  ", true, true},
		{OpIsBlank, "", false, false},
		{OpIsBlank, "x", true, false},
		{OpIsNotBlank, "x", true, true},
		{OpIsNotBlank, " ", true, false},
		{OpIsNotBlank, "", false, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CheckPresence(tt.op, tt.value, tt.present), "%s %q present=%v", tt.op, tt.value, tt.present)
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		lhs  string
		op   Operator
		rhs  string
		want bool
	}{
		{"equal", "abc", OpEqual, "abc", true},
		{"not equal", "abc", OpNotEqual, "abd", true},
		{"lexicographic less", "10", OpLess, "9", true},
		{"greater", "b", OpGreater, "a", true},
		{"less or equal on equal", "a", OpLessEq, "a", true},
		{"greater or equal", "a", OpGreaterEq, "b", false},
		{"regex full match", "abc123", OpRegex, "[a-z]+[0-9]+", true},
		{"regex partial is not a match", "abc123x", OpRegex, "[a-z]+[0-9]+", false},
		{"regex alternation anchored", "ab", OpRegex, "a|ab", true},
		{"startswith case sensitive", "Hello", OpStartsWith, "he", false},
		{"startswith", "Hello", OpStartsWith, "He", true},
		{"endswith", "Hello", OpEndsWith, "llo", true},
		{"contains case sensitive", "Hello", OpContains, "ELL", false},
		{"contains", "Hello", OpContains, "ell", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.lhs, tt.op, tt.rhs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompare_InvalidRegex(t *testing.T) {
	t.Parallel()

	_, err := Compare("a", OpRegex, "(")
	require.Error(t, err)
}
