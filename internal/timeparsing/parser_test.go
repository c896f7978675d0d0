package timeparsing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday, January 15, 2025, 10:00
var now = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func TestParseCompactDuration(t *testing.T) {
	tests := []struct {
		input string
		past  bool
		want  time.Time
	}{
		{"+6h", false, now.Add(6 * time.Hour)},
		{"6h", false, now.Add(6 * time.Hour)},
		{"6h", true, now.Add(-6 * time.Hour)},
		{"+6h", true, now.Add(6 * time.Hour)},
		{"-1d", false, now.AddDate(0, 0, -1)},
		{"2w", true, now.AddDate(0, 0, -14)},
		{"3m", true, now.AddDate(0, -3, 0)},
		{"1y", false, now.AddDate(1, 0, 0)},
	}
	for _, tt := range tests {
		got, err := ParseCompactDuration(tt.input, now, tt.past)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	for _, bad := range []string{"", "6", "h", "6x", "++6h", "6 h", "1.5d"} {
		_, err := ParseCompactDuration(bad, now, false)
		assert.Error(t, err, bad)
		assert.False(t, IsCompactDuration(bad), bad)
	}
}

func TestParseAbsolute(t *testing.T) {
	got, err := ParseAbsolute("2025-01-10", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseAbsolute("2025-01-10 08:30", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 10, 8, 30, 0, 0, time.UTC), got)

	got, err = ParseAbsolute("2025-01-10T08:30:00+02:00", time.UTC)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 1, 10, 6, 30, 0, 0, time.UTC)))

	_, err = ParseAbsolute("January 10", time.UTC)
	assert.Error(t, err)
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2d", now.AddDate(0, 0, -2)},
		{"-2d", now.AddDate(0, 0, -2)},
		{"36h", now.Add(-36 * time.Hour)},
		{"90m", now.AddDate(0, -90, 0)}, // compact: m is months
		{"1h30m", now.Add(-90 * time.Minute)},
		{"2025-01-01", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseSince(tt.input, now)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	got, err := ParseSince("2 days ago", now)
	require.NoError(t, err)
	assert.Equal(t, 13, got.Day())
	assert.Equal(t, time.January, got.Month())

	for _, bad := range []string{"", "  ", "+1d", "2030-01-01", "xyzzy"} {
		_, err := ParseSince(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	got, err := ParseNaturalLanguage("yesterday", now)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Day())

	_, err = ParseNaturalLanguage("xyzzy", now)
	assert.Error(t, err)
}
