package submissionstore

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// shardWidthSeconds is the fixed partition width: 144 seconds, 600 shards
// per day (spec.md §4.3, GLOSSARY "Shard").
const shardWidthSeconds = 144

// ShardCalculator computes the Cassandra submissions table's shard
// partition predicate for a time range. Ported from
// original_source/uptime_service_validation/coordinator/aws_keyspaces_client.py's
// ShardCalculator, including the right-boundary edge case.
type ShardCalculator struct{}

// CalculateShard returns the 144-second shard index for a given
// hour/minute/second of day.
func (ShardCalculator) CalculateShard(hour, minute, second int) int {
	return (3600*hour + 60*minute + second) / shardWidthSeconds
}

// ShardsInRange returns the sorted, de-duplicated set of shard indices
// touched by any second in [start, end). If end falls exactly on a
// 144-second boundary, that shard is included too (spec.md §4.3 step 2
// edge case, §8 property 7).
func (c ShardCalculator) ShardsInRange(start, end time.Time) []int {
	seen := make(map[int]struct{})

	startOfDayStart := startOfDay(start)
	startOfDayEnd := startOfDay(end)

	secStart := int(start.Sub(startOfDayStart).Seconds())
	secEnd := int(end.Sub(startOfDayEnd).Seconds())

	// Walking every second in a potentially multi-day range would be
	// unbounded; instead compute shard coverage per distinct day.
	if start.Format("2006-01-02") == end.Format("2006-01-02") {
		addRangeShards(seen, c, secStart, secEnd)
	} else {
		// First day: from secStart to end of day (86400 seconds).
		addRangeShards(seen, c, secStart, 86400)
		// Full days in between cover every shard.
		days := daysBetween(start, end)
		if days > 1 {
			for s := 0; s < 86400; s += shardWidthSeconds {
				seen[c.CalculateShard(0, 0, s)] = struct{}{}
			}
		}
		// Last day: from midnight to secEnd.
		addRangeShards(seen, c, 0, secEnd)
	}

	endShard := c.CalculateShard(end.Hour(), end.Minute(), end.Second())
	if _, ok := seen[endShard]; !ok {
		totalSecondsEnd := end.Hour()*3600 + end.Minute()*60 + end.Second()
		if totalSecondsEnd%shardWidthSeconds == 0 {
			seen[endShard] = struct{}{}
		}
	}

	shards := make([]int, 0, len(seen))
	for s := range seen {
		shards = append(shards, s)
	}
	sort.Ints(shards)
	return shards
}

// ShardInCondition renders the CQL "shard in (...)" predicate for start..end.
func (c ShardCalculator) ShardInCondition(start, end time.Time) string {
	shards := c.ShardsInRange(start, end)
	strs := make([]string, len(shards))
	for i, s := range shards {
		strs[i] = fmt.Sprintf("%d", s)
	}
	return fmt.Sprintf("shard in (%s)", strings.Join(strs, ","))
}

func addRangeShards(seen map[int]struct{}, c ShardCalculator, fromSec, toSec int) {
	if fromSec >= toSec {
		return
	}
	for s := fromSec; s < toSec; s += shardWidthSeconds {
		seen[s/shardWidthSeconds] = struct{}{}
	}
	// Ensure the shard containing toSec-1 is captured even if the stride
	// above overshot the boundary (toSec not itself included, mirroring
	// the half-open [start, end) semantics of the source implementation).
	seen[(toSec-1)/shardWidthSeconds] = struct{}{}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func daysBetween(start, end time.Time) int {
	return int(startOfDay(end).Sub(startOfDay(start)).Hours() / 24)
}

// SubmittedAtDates returns the calendar dates (YYYY-MM-DD) spanned by
// [start, end], inclusive of both endpoints' dates.
func (ShardCalculator) SubmittedAtDates(start, end time.Time) []string {
	startDate := start.Format("2006-01-02")
	endDate := end.Format("2006-01-02")
	if startDate == endDate {
		return []string{startDate}
	}
	var dates []string
	d := startOfDay(start)
	last := startOfDay(end)
	for !d.After(last) {
		dates = append(dates, d.Format("2006-01-02"))
		d = d.AddDate(0, 0, 1)
	}
	return dates
}
