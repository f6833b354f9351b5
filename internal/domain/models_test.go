package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetween(t *testing.T) {
	testCases := []struct {
		name string
		a, b string
		want int
	}{
		{"same day", "2024-03-01", "2024-03-01", 0},
		{"one day", "2024-03-01", "2024-03-02", 1},
		{"across month", "2024-02-28", "2024-03-02", 3}, // 2024 is a leap year
		{"negative", "2024-03-02", "2024-03-01", -1},
		{"hundred days", "2024-01-01", "2024-04-10", 100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DaysBetween(tc.a, tc.b)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDaysBetween_InvalidDate(t *testing.T) {
	_, err := DaysBetween("2024-13-40", "2024-01-01")
	assert.Error(t, err)
}

func TestNextDay(t *testing.T) {
	got, err := NextDay("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", got)

	got, err = NextDay("2024-12-31")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", got)
}

func TestValidDate(t *testing.T) {
	assert.True(t, ValidDate("2024-01-15"))
	assert.False(t, ValidDate("15/01/2024"))
	assert.False(t, ValidDate("2024-1-5"))
	assert.False(t, ValidDate(""))
}
