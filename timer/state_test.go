package timer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatClock(t *testing.T) {
	req := require.New(t)
	req.Equal("00:00", FormatClock(0))
	req.Equal("00:09", FormatClock(9))
	req.Equal("01:05", FormatClock(65))
	req.Equal("120:00", FormatClock(7200))
	req.Equal("00:00", FormatClock(-3))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		total     int
		band      Band
	}{
		{"Full", 100, 100, BandNormal},
		{"Just above a quarter", 26, 100, BandNormal},
		{"A quarter", 25, 100, BandWarning},
		{"Just above a tenth", 11, 100, BandWarning},
		{"A tenth", 10, 100, BandCritical},
		{"Zero", 0, 60, BandCritical},
		{"Small total", 1, 3, BandNormal},
		{"One of five", 1, 5, BandWarning},
		{"Invalid total", 5, 0, BandNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.band, Classify(tt.remaining, tt.total))
		})
	}
}
