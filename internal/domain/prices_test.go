package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func bar(date string, o, h, l, c float64, v int64) PriceBar {
	return PriceBar{Symbol: "AAPL", Date: date, Open: o, High: h, Low: l, Close: c, AdjClose: c, Volume: v}
}

func TestFilterValidBars(t *testing.T) {
	testCases := []struct {
		name        string
		bars        []PriceBar
		wantKept    int
		wantDropped int
	}{
		{
			name:        "all valid ascending",
			bars:        []PriceBar{bar("2024-01-02", 10, 11, 9, 10.5, 100), bar("2024-01-03", 10.5, 12, 10, 11, 200)},
			wantKept:    2,
			wantDropped: 0,
		},
		{
			name:        "bad date dropped",
			bars:        []PriceBar{bar("2024-01-02", 10, 11, 9, 10.5, 100), bar("not-a-date", 10, 11, 9, 10, 100)},
			wantKept:    1,
			wantDropped: 1,
		},
		{
			name:        "negative volume dropped",
			bars:        []PriceBar{bar("2024-01-02", 10, 11, 9, 10.5, -5)},
			wantKept:    0,
			wantDropped: 1,
		},
		{
			name:        "low above close dropped",
			bars:        []PriceBar{bar("2024-01-02", 10, 11, 10.8, 10.5, 100)},
			wantKept:    0,
			wantDropped: 1,
		},
		{
			name:        "high below open dropped",
			bars:        []PriceBar{bar("2024-01-02", 12, 11, 9, 10.5, 100)},
			wantKept:    0,
			wantDropped: 1,
		},
		{
			name: "duplicate date dropped",
			bars: []PriceBar{
				bar("2024-01-02", 10, 11, 9, 10.5, 100),
				bar("2024-01-02", 10, 11, 9, 10.5, 100),
				bar("2024-01-03", 10.5, 12, 10, 11, 200),
			},
			wantKept:    2,
			wantDropped: 1,
		},
		{
			name: "out of order date dropped",
			bars: []PriceBar{
				bar("2024-01-03", 10, 11, 9, 10.5, 100),
				bar("2024-01-02", 10, 11, 9, 10.5, 100),
			},
			wantKept:    1,
			wantDropped: 1,
		},
		{
			name:        "empty input",
			bars:        nil,
			wantKept:    0,
			wantDropped: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clean, dropped := FilterValidBars(tc.bars)
			assert.Len(t, clean, tc.wantKept)
			assert.Equal(t, tc.wantDropped, dropped)
		})
	}
}
