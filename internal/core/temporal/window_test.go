package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestOverlapsBoundary(t *testing.T) {
	janToMar, _ := NewWindow(date(2024, 1, 1), date(2024, 3, 1))
	marToJun, _ := NewWindow(date(2024, 3, 1), date(2024, 6, 1))
	janToApr, _ := NewWindow(date(2024, 1, 1), date(2024, 4, 1))

	assert.False(t, Overlaps(janToMar, marToJun))
	assert.False(t, Overlaps(marToJun, janToMar))
	assert.True(t, Overlaps(janToApr, marToJun))
	assert.True(t, Overlaps(marToJun, janToApr))
}

func TestOverlapsOpenEnded(t *testing.T) {
	open, _ := NewWindow(date(2023, 1, 1), nil)
	later, _ := NewWindow(date(2024, 1, 1), date(2024, 2, 1))
	before, _ := NewWindow(date(2020, 1, 1), date(2022, 12, 31))

	assert.True(t, Overlaps(open, later))
	assert.False(t, Overlaps(open, before))
}

func TestNewWindowRequiresStart(t *testing.T) {
	_, ok := NewWindow(nil, date(2024, 1, 1))
	assert.False(t, ok)
}

func TestDetectShift(t *testing.T) {
	shift, ok := DetectShift(date(2022, 1, 1), date(2023, 12, 31), date(2024, 1, 1), nil)
	require.True(t, ok)
	assert.Equal(t, "Source A valid 2022-01-01 to 2023-12-31; Source B valid 2024-01-01–present", shift.Annotation)

	r := shift.SourceB.Range()
	assert.Equal(t, "2024-01-01", r.From)
	assert.Nil(t, r.To)

	_, ok = DetectShift(date(2022, 1, 1), nil, date(2024, 1, 1), nil)
	assert.False(t, ok)

	_, ok = DetectShift(nil, nil, date(2024, 1, 1), nil)
	assert.False(t, ok)
}

func TestDetectShiftUsesDayPrecision(t *testing.T) {
	endA := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	startB := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_, ok := DetectShift(date(2024, 1, 1), &endA, &startB, nil)
	assert.True(t, ok)
}
