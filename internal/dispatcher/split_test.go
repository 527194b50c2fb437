package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitWindow_EvenDivision(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)

	intervals := SplitWindow(start, end, 5)

	require.Len(t, intervals, 5)
	assert.Equal(t, start, intervals[0].Start)
	assert.Equal(t, end, intervals[len(intervals)-1].End)
	for _, iv := range intervals {
		assert.Equal(t, 2*time.Minute, iv.End.Sub(iv.Start))
	}
}

func TestSplitWindow_RemainderAbsorbedByLastInterval(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(100 * time.Second)

	intervals := SplitWindow(start, end, 3)

	require.Len(t, intervals, 3)
	assert.Equal(t, 33*time.Second, intervals[0].End.Sub(intervals[0].Start))
	assert.Equal(t, 33*time.Second, intervals[1].End.Sub(intervals[1].Start))
	assert.Equal(t, 34*time.Second, intervals[2].End.Sub(intervals[2].Start))
	assert.Equal(t, end, intervals[2].End)
}

func TestSplitWindow_ExactCoverageNoGapsOrOverlaps(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(7 * time.Second)

	intervals := SplitWindow(start, end, 4)

	for i := 1; i < len(intervals); i++ {
		assert.Equal(t, intervals[i-1].End, intervals[i].Start)
	}
	assert.Equal(t, start, intervals[0].Start)
	assert.Equal(t, end, intervals[len(intervals)-1].End)
}

func TestSplitWindow_NLessThanOneTreatedAsOne(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	intervals := SplitWindow(start, end, 0)

	require.Len(t, intervals, 1)
	assert.Equal(t, start, intervals[0].Start)
	assert.Equal(t, end, intervals[0].End)
}
