package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Upper case", input: "ANG MO KIO", expected: "Ang Mo Kio"},
		{name: "Slash separated", input: "KALLANG/WHAMPOA", expected: "Kallang/Whampoa"},
		{name: "Extra whitespace", input: "  CENTRAL   AREA ", expected: "Central Area"},
		{name: "Already normalized", input: "Woodlands", expected: "Woodlands"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeTown(tt.input))
		})
	}
}

func TestNormalizeFlatType(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "3 ROOM", expected: "3 Room"},
		{input: "EXECUTIVE", expected: "Executive"},
		{input: "MULTI GENERATION", expected: "Multi-Generation"},
		{input: "MULTI-GENERATION", expected: "Multi-Generation"},
		{input: "1 room", expected: "1 Room"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeFlatType(tt.input))
		})
	}
}

func TestFlatTypeRange(t *testing.T) {
	assert.Equal(t, []string{"1 Room", "2 Room"}, FlatTypeRange("1 Room", "2 Room"))
	assert.Equal(t, []string{"4 Room", "5 Room", "Executive"}, FlatTypeRange("4 ROOM", "EXECUTIVE"))
	assert.Equal(t, []string{"3 Room"}, FlatTypeRange("3 Room", "3 Room"))
	assert.Empty(t, FlatTypeRange("5 Room", "1 Room"))
	assert.Empty(t, FlatTypeRange("Penthouse", "1 Room"))
	assert.NotNil(t, FlatTypeRange("Penthouse", "1 Room"))
}
