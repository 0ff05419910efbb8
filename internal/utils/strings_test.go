package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "ACME",
			expected: []string{"ACME"},
		},
		{
			name:     "two values",
			input:    "ACME, BETA",
			expected: []string{"ACME", "BETA"},
		},
		{
			name:     "three values with varied spacing",
			input:    "EUR/USD,  GBP/USD , CHF/USD",
			expected: []string{"EUR/USD", "GBP/USD", "CHF/USD"},
		},
		{
			name:     "trailing comma",
			input:    "ACME,",
			expected: []string{"ACME"},
		},
		{
			name:     "leading comma",
			input:    ",BETA",
			expected: []string{"BETA"},
		},
		{
			name:     "only spaces",
			input:    "   ",
			expected: nil,
		},
		{
			name:     "comma only",
			input:    ",",
			expected: nil,
		},
		{
			name:     "multiple commas",
			input:    ",,ACME,,BETA,,",
			expected: []string{"ACME", "BETA"},
		},
		{
			name:     "value with internal spaces preserved",
			input:    "Acme Corp, Beta Fund",
			expected: []string{"Acme Corp", "Beta Fund"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseCSV(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseCSV_PreservesInput(t *testing.T) {
	input := "ACME, BETA"
	originalInput := input

	_ = ParseCSV(input)

	assert.Equal(t, originalInput, input, "input should not be modified")
}

func TestSortedUnique(t *testing.T) {
	in := []string{"GBP/USD", "EUR/USD", "GBP/USD"}
	assert.Equal(t, []string{"EUR/USD", "GBP/USD"}, SortedUnique(in))
	assert.Equal(t, []string{"GBP/USD", "EUR/USD", "GBP/USD"}, in)
	assert.Empty(t, SortedUnique(nil))
}
