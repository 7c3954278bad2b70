package condition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	facts := map[string]any{
		"amount":         float64(250000),
		"requester_role": "SENIOR_ASSOCIATE",
		"client": map[string]any{
			"tier":    "enterprise",
			"dormant": false,
		},
		"jurisdictions": nil,
	}

	tests := []struct {
		name string
		p    *Predicate
		want bool
	}{
		{
			name: "nil predicate always applies",
			p:    nil,
			want: true,
		},
		{
			name: "eq on string field",
			p:    &Predicate{Op: OpEq, Field: "requester_role", Value: "SENIOR_ASSOCIATE"},
			want: true,
		},
		{
			name: "eq mismatch",
			p:    &Predicate{Op: OpEq, Field: "requester_role", Value: "PARTNER"},
			want: false,
		},
		{
			name: "eq on absent field is false",
			p:    &Predicate{Op: OpEq, Field: "missing", Value: "x"},
			want: false,
		},
		{
			name: "ne on absent field holds",
			p:    &Predicate{Op: OpNe, Field: "missing", Value: "x"},
			want: true,
		},
		{
			name: "numeric coercion int literal vs json float",
			p:    &Predicate{Op: OpEq, Field: "amount", Value: 250000},
			want: true,
		},
		{
			name: "gt",
			p:    &Predicate{Op: OpGt, Field: "amount", Value: 100000},
			want: true,
		},
		{
			name: "gte boundary",
			p:    &Predicate{Op: OpGte, Field: "amount", Value: 250000},
			want: true,
		},
		{
			name: "lt false",
			p:    &Predicate{Op: OpLt, Field: "amount", Value: 100000},
			want: false,
		},
		{
			name: "ordered comparison on absent field is false",
			p:    &Predicate{Op: OpGt, Field: "missing", Value: 1},
			want: false,
		},
		{
			name: "dotted path into nested context",
			p:    &Predicate{Op: OpEq, Field: "client.tier", Value: "enterprise"},
			want: true,
		},
		{
			name: "exists on nested path",
			p:    &Predicate{Op: OpExists, Field: "client.dormant"},
			want: true,
		},
		{
			name: "exists treats nil value as absent",
			p:    &Predicate{Op: OpExists, Field: "jurisdictions"},
			want: false,
		},
		{
			name: "in membership",
			p:    &Predicate{Op: OpIn, Field: "requester_role", Value: []any{"ASSOCIATE", "SENIOR_ASSOCIATE"}},
			want: true,
		},
		{
			name: "in miss",
			p:    &Predicate{Op: OpIn, Field: "requester_role", Value: []any{"PARTNER"}},
			want: false,
		},
		{
			name: "and short-circuits to false",
			p: &Predicate{Op: OpAnd, Args: []*Predicate{
				{Op: OpGt, Field: "amount", Value: 100000},
				{Op: OpEq, Field: "client.tier", Value: "smb"},
			}},
			want: false,
		},
		{
			name: "or picks second branch",
			p: &Predicate{Op: OpOr, Args: []*Predicate{
				{Op: OpEq, Field: "client.tier", Value: "smb"},
				{Op: OpGt, Field: "amount", Value: 100000},
			}},
			want: true,
		},
		{
			name: "not inverts",
			p: &Predicate{Op: OpNot, Args: []*Predicate{
				{Op: OpEq, Field: "client.tier", Value: "smb"},
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.p, facts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	facts := map[string]any{"amount": float64(10)}

	tests := []struct {
		name string
		p    *Predicate
	}{
		{"unknown operator", &Predicate{Op: "regex", Field: "amount", Value: "x"}},
		{"and without args", &Predicate{Op: OpAnd}},
		{"or without args", &Predicate{Op: OpOr}},
		{"not with two args", &Predicate{Op: OpNot, Args: []*Predicate{{Op: OpExists, Field: "a"}, {Op: OpExists, Field: "b"}}}},
		{"in without list", &Predicate{Op: OpIn, Field: "amount", Value: "not-a-list"}},
		{"ordering number against string", &Predicate{Op: OpGt, Field: "amount", Value: "ten"}},
		{"error propagates through combinators", &Predicate{Op: OpAnd, Args: []*Predicate{
			{Op: OpExists, Field: "amount"},
			{Op: "bogus"},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.p, facts)
			assert.Error(t, err)
			assert.False(t, got)
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	raw := []byte(`{
		"op": "and",
		"args": [
			{"op": "gt", "field": "amount", "value": 100000},
			{"op": "in", "field": "client.tier", "value": ["enterprise", "strategic"]}
		]
	}`)

	p, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, OpAnd, p.Op)
	require.Len(t, p.Args, 2)

	ok, err := Evaluate(p, map[string]any{
		"amount": float64(500000),
		"client": map[string]any{"tier": "strategic"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Predicates embedded in route JSON must survive re-marshalling.
	data, err := json.Marshal(p)
	require.NoError(t, err)
	p2, err := Parse(data)
	require.NoError(t, err)
	ok, err = Evaluate(p2, map[string]any{
		"amount": float64(500000),
		"client": map[string]any{"tier": "strategic"},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}
