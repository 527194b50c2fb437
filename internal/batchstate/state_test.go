package batchstate

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mina-uptime/coordinator/internal/clock"
)

type fakeTimings struct {
	prevEnd      time.Time
	curEnd       time.Time
	lastBotLogID int64
	err          error
}

func (f fakeTimings) GetBatchTimings(ctx context.Context, interval time.Duration) (time.Time, time.Time, int64, error) {
	return f.prevEnd, f.curEnd, f.lastBotLogID, f.err
}

func newTestState(clk clock.Clock) *State {
	return New(10*time.Minute, 3, clk, zerolog.Nop())
}

func TestInitialize_SeedsBatchFromTimings(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	s := newTestState(clk)

	timings := fakeTimings{
		prevEnd:      now.Add(-10 * time.Minute),
		curEnd:       now,
		lastBotLogID: 42,
	}

	require.NoError(t, s.Initialize(context.Background(), timings))
	assert.Equal(t, PhaseWaiting, s.Phase)
	assert.Equal(t, int64(42), s.Batch.BotLogID)
	assert.Equal(t, timings.prevEnd, s.Batch.Start)
	assert.Equal(t, timings.curEnd, s.Batch.End)
	assert.Equal(t, 3, s.RetrialsLeft)
}

func TestWaitUntilBatchEnds_NoSleepWhenAlreadyElapsed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	s := newTestState(clk)
	s.Batch = Batch{Start: now.Add(-20 * time.Minute), End: now.Add(-10 * time.Minute), BotLogID: 1}

	require.NoError(t, s.WaitUntilBatchEnds(context.Background()))
	assert.Equal(t, PhaseWorking, s.Phase)
}

func TestWaitUntilBatchEnds_RespectsContextCancellation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	s := newTestState(clk)
	s.Batch = Batch{Start: now, End: now.Add(time.Hour), BotLogID: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WaitUntilBatchEnds(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdvanceToNextBatch_SlidesWindowAndResetsRetries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	s := newTestState(clk)
	s.Phase = PhaseWorking
	s.Batch = Batch{Start: now.Add(-10 * time.Minute), End: now, BotLogID: 1}
	s.RetrialsLeft = 0
	s.LoopCount = 5

	require.NoError(t, s.AdvanceToNextBatch(2))

	assert.Equal(t, PhaseCommitted, s.Phase)
	assert.Equal(t, now, s.Batch.Start)
	assert.Equal(t, now.Add(10*time.Minute), s.Batch.End)
	assert.Equal(t, int64(2), s.Batch.BotLogID)
	assert.Equal(t, 3, s.RetrialsLeft)
	assert.Equal(t, 6, s.LoopCount)
}

func TestAdvanceToNextBatch_RejectsWrongPhase(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	s := newTestState(clk)
	s.Phase = PhaseCommitted

	err := s.AdvanceToNextBatch(2)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRetryBatch_DecrementsUntilStopped(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	s := newTestState(clk)
	s.Phase = PhaseWorking
	s.RetrialsLeft = 1

	require.NoError(t, s.RetryBatch())
	assert.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, 0, s.RetrialsLeft)
	assert.False(t, s.Stop)

	s.Phase = PhaseWorking
	require.NoError(t, s.RetryBatch())
	assert.Equal(t, PhaseStopped, s.Phase)
	assert.True(t, s.Stop)
}

func TestRetryBatch_SameWindowNotAdvanced(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	s := newTestState(clk)
	s.Phase = PhaseWorking
	s.Batch = Batch{Start: now.Add(-10 * time.Minute), End: now, BotLogID: 7}
	s.RetrialsLeft = 2

	require.NoError(t, s.RetryBatch())
	assert.Equal(t, int64(7), s.Batch.BotLogID)
	assert.Equal(t, now.Add(-10*time.Minute), s.Batch.Start)
}

func TestRetryBatch_RejectsWrongPhase(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	s := newTestState(clk)
	s.Phase = PhaseCommitted

	err := s.RetryBatch()
	assert.ErrorIs(t, err, ErrIllegalTransition)
}
