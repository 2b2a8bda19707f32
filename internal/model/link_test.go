package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplacementPattern_Apply(t *testing.T) {
	tests := []struct {
		name    string
		pattern ReplacementPattern
		input   string
		want    string
	}{
		{
			name:    "strips a prefix",
			pattern: ReplacementPattern{Pattern: `^POS PURCHASE \d+ `, Replacement: ""},
			input:   "POS PURCHASE 4821 COFFEE SHOP",
			want:    "COFFEE SHOP",
		},
		{
			name:    "capture group reordering",
			pattern: ReplacementPattern{Pattern: `^(\w+) TRANSFER FROM (\w+)$`, Replacement: "$2 -> $1"},
			input:   "SAVINGS TRANSFER FROM CHECKING",
			want:    "CHECKING -> SAVINGS",
		},
		{
			name:    "no match passes through",
			pattern: ReplacementPattern{Pattern: `^ATM `, Replacement: ""},
			input:   "DIRECT DEPOSIT",
			want:    "DIRECT DEPOSIT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.pattern.Apply(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplacementPattern_Validate(t *testing.T) {
	assert.NoError(t, (&ReplacementPattern{Pattern: `^A`, Replacement: "B"}).Validate())
	assert.Error(t, (&ReplacementPattern{Pattern: ``}).Validate())
	assert.Error(t, (&ReplacementPattern{Pattern: `([`}).Validate())
}
