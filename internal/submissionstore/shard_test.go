package submissionstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShardsInRange_BoundaryEdge(t *testing.T) {
	// S5: window [00:02:24, 00:04:48) -- exactly 144s at start, 288s at end.
	start := time.Date(2024, 1, 1, 0, 2, 24, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 4, 48, 0, time.UTC)

	shards := ShardCalculator{}.ShardsInRange(start, end)
	assert.Equal(t, []int{1, 2}, shards)
}

func TestShardsInRange_SingleShard(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 2, 23, 0, time.UTC)

	shards := ShardCalculator{}.ShardsInRange(start, end)
	assert.Equal(t, []int{0}, shards)
}

func TestShardsInRange_EndOnBoundaryIncludesEndShard(t *testing.T) {
	// end exactly at the start of shard 1 and the range is open at end: the
	// last covered second is 143, still shard 0, but 144%144==0, so the
	// boundary rule also includes shard 1 per spec.md §4.3 step 2.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 2, 24, 0, time.UTC) // 144s
	shards := ShardCalculator{}.ShardsInRange(start, end)
	assert.Equal(t, []int{0, 1}, shards)
}

func TestShardsInRange_MultiDay(t *testing.T) {
	start := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC)

	shards := ShardCalculator{}.ShardsInRange(start, end)
	assert.NotEmpty(t, shards)
	assert.Contains(t, shards, 599) // last shard of day 1 (86400/144 - 1)
	assert.Contains(t, shards, 0)   // first shard of day 2
}

func TestSubmittedAtDates(t *testing.T) {
	c := ShardCalculator{}
	single := c.SubmittedAtDates(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC),
	)
	assert.Equal(t, []string{"2024-01-01"}, single)

	multi := c.SubmittedAtDates(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, multi)
}

func TestCalculateShard(t *testing.T) {
	c := ShardCalculator{}
	assert.Equal(t, 0, c.CalculateShard(0, 0, 0))
	assert.Equal(t, 599, c.CalculateShard(23, 59, 59))
}
