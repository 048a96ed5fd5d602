package main

import (
	"testing"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileFilter(t *testing.T, expr string) *gojq.Code {
	t.Helper()
	query, err := gojq.Parse(expr)
	require.NoError(t, err)
	code, err := gojq.Compile(query)
	require.NoError(t, err)
	return code
}

func TestMatchesFilters(t *testing.T) {
	event := []byte(`{
		"program_id": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		"account_pubkey": "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		"slot": 205,
		"lamports": 2039280,
		"source": "websocket"
	}`)

	tests := []struct {
		name        string
		filters     []string
		expectMatch bool
	}{
		{
			name:        "no filters always matches",
			filters:     nil,
			expectMatch: true,
		},
		{
			name:        "lamports comparison true",
			filters:     []string{`.lamports > 1000000`},
			expectMatch: true,
		},
		{
			name:        "lamports comparison false",
			filters:     []string{`.lamports > 1000000000`},
			expectMatch: false,
		},
		{
			name:        "source equality",
			filters:     []string{`.source == "websocket"`},
			expectMatch: true,
		},
		{
			name:        "all filters must match",
			filters:     []string{`.source == "websocket"`, `.slot > 300`},
			expectMatch: false,
		},
		{
			name:        "multiple matching filters",
			filters:     []string{`.source == "websocket"`, `.slot > 200`},
			expectMatch: true,
		},
		{
			name:        "contains on program id",
			filters:     []string{`. | contains({program_id: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"})`},
			expectMatch: true,
		},
		{
			name:        "missing field is falsy",
			filters:     []string{`.memo`},
			expectMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters := make([]*gojq.Code, len(tt.filters))
			for i, expr := range tt.filters {
				filters[i] = compileFilter(t, expr)
			}

			assert.Equal(t, tt.expectMatch, matchesFilters(event, filters))
		})
	}
}

func TestMatchesFilters_InvalidJSON(t *testing.T) {
	filters := []*gojq.Code{compileFilter(t, `.slot > 0`)}
	assert.False(t, matchesFilters([]byte("not-json"), filters))
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		name string
		v    interface{}
		want bool
	}{
		{"nil is falsy", nil, false},
		{"false is falsy", false, false},
		{"true is truthy", true, true},
		{"zero is truthy", 0, true},
		{"empty string is truthy", "", true},
		{"object is truthy", map[string]interface{}{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTruthy(tt.v))
		})
	}
}
