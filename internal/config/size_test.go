package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := map[string]int64{
		"":        0,
		"0":       0,
		"2048":    2048,
		"100B":    100,
		"1KB":     1000,
		"1.5KB":   1500,
		"1KiB":    1024,
		"5 mb":    5_000_000,
		" 2 MiB ": 2_097_152,
		"50MiB":   52_428_800,
		"1GB":     1_000_000_000,
		"1gib":    1_073_741_824,
		"+3kib":   3072,
		"0.5MiB":  524_288,
	}

	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			got, err := ParseSize(input)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseSize_Invalid(t *testing.T) {
	tests := map[string]string{
		"abc":            "unknown unit",
		"MiB":            "missing number",
		"10XB":           "unknown unit",
		"1.2.3MB":        "invalid size",
		"-1":             "must be non-negative",
		"-5MB":           "must be non-negative",
		"-1GiB":          "must be non-negative",
		"99999999999GiB": "too large",
	}

	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSize(input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), want)
		})
	}
}
