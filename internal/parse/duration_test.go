package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDuration(t *testing.T) {
	ref := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name      string
		raw       string
		expected  time.Duration
		expectErr bool
	}{
		{name: "Days and hours", raw: "1d3h", expected: 27 * time.Hour},
		{name: "Hours spelled hr", raw: "2hr30m", expected: 2*time.Hour + 30*time.Minute},
		{name: "Minutes only", raw: "90m", expected: 90 * time.Minute},
		{name: "Seconds only", raw: "45s", expected: 45 * time.Second},
		{name: "Every component", raw: "1d1h1m1s", expected: 25*time.Hour + time.Minute + time.Second},
		{name: "Spaces between components", raw: "1d 3h", expected: 27 * time.Hour},
		{name: "Empty is zero", raw: "", expected: 0},
		{name: "Wrong order", raw: "3h1d", expectErr: true},
		{name: "Garbage", raw: "soon", expectErr: true},
		{name: "Days overflow", raw: "200000d", expectErr: true},
		{name: "Sum overflow", raw: "106751d23h47m17s", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, end, err := ParseDuration(tc.raw, ref)
			if tc.expectErr {
				assert.ErrorIs(t, err, ErrParse)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, d)
			assert.Equal(t, ref.Add(tc.expected).Unix(), end)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1d 3h", FormatDuration(27*time.Hour))
	assert.Equal(t, "1h 30m", FormatDuration(90*time.Minute))
	assert.Equal(t, "0m", FormatDuration(0))
}
