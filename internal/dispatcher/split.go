package dispatcher

import (
	"time"

	"github.com/mina-uptime/coordinator/internal/model"
)

// SplitWindow divides [start, end) into n equal-width sub-intervals at
// integer-second granularity; the last sub-interval absorbs any remainder
// so the union exactly covers [start, end) (spec.md §4.2 mini-batching
// rule). An n below 1 is treated as 1.
func SplitWindow(start, end time.Time, n int) []model.TimeInterval {
	if n < 1 {
		n = 1
	}

	totalSeconds := int64(end.Sub(start) / time.Second)
	step := time.Duration(totalSeconds/int64(n)) * time.Second

	intervals := make([]model.TimeInterval, 0, n)
	cursor := start
	for i := 0; i < n; i++ {
		next := cursor.Add(step)
		if i == n-1 {
			next = end
		}
		intervals = append(intervals, model.TimeInterval{Start: cursor, End: next})
		cursor = next
	}
	return intervals
}
