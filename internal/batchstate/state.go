// Package batchstate owns the coordinator's batch-window state machine
// (spec.md §4.1): the current batch, its retry budget, and the transitions
// between INIT/WAITING/WORKING/COMMITTED/FAILED/STOPPED. Modeled as an
// explicit enum per SPEC_FULL.md's resolution of the open "implicit flags
// vs explicit FSM" design note, grounded on the loop shape of
// original_source/.../coordinator.py's do_process.
package batchstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mina-uptime/coordinator/internal/clock"
)

// ErrIllegalTransition is returned by RetryBatch/AdvanceToNextBatch when the
// state machine isn't in the phase that transition is valid from -- a
// programming error in the caller, not a retryable condition.
var ErrIllegalTransition = errors.New("batchstate: illegal phase transition")

// Phase is one node of the state machine (spec.md §4.1).
type Phase int

const (
	PhaseInit Phase = iota
	PhaseWaiting
	PhaseWorking
	PhaseCommitted
	PhaseFailed
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseWaiting:
		return "waiting"
	case PhaseWorking:
		return "working"
	case PhaseCommitted:
		return "committed"
	case PhaseFailed:
		return "failed"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// safetyMargin is the settle time added to wait_until_batch_ends' sleep so
// the upstream submission-capture pipeline finishes writing before the
// coordinator reads the window (spec.md §4.1).
const safetyMargin = 2 * time.Minute

// Batch is the window currently being processed.
type Batch struct {
	Start    time.Time
	End      time.Time
	BotLogID int64
}

// Timings is the interface State needs from ResultDB to initialize: the
// most recent bot_log row's window end and id.
type Timings interface {
	GetBatchTimings(ctx context.Context, interval time.Duration) (prevEnd, curEnd time.Time, lastBotLogID int64, err error)
}

// State is the coordinator's batch-window state machine (spec.md §4.1).
// Not safe for concurrent use -- the coordinator loop is single-threaded
// per batch (spec.md §5).
type State struct {
	Phase Phase

	Batch            Batch
	CurrentTimestamp time.Time
	RetrialsLeft     int
	LoopCount        int
	Stop             bool

	interval   time.Duration
	retryCount int
	clock      clock.Clock
	logger     zerolog.Logger
}

// New constructs a State in PhaseInit.
func New(interval time.Duration, retryCount int, clk clock.Clock, logger zerolog.Logger) *State {
	return &State{
		Phase:      PhaseInit,
		interval:   interval,
		retryCount: retryCount,
		clock:      clk,
		logger:     logger.With().Str("component", "batchstate").Logger(),
	}
}

// Initialize reads the latest bot_log row via timings to determine the
// next batch window [prev_end, prev_end+interval) and seeds bot_log_id
// with the previous batch's id, for parent-map lookup (spec.md §4.1
// initialize).
func (s *State) Initialize(ctx context.Context, timings Timings) error {
	prevEnd, curEnd, lastBotLogID, err := timings.GetBatchTimings(ctx, s.interval)
	if err != nil {
		return fmt.Errorf("initialize batch state: %w", err)
	}

	s.Batch = Batch{Start: prevEnd, End: curEnd, BotLogID: lastBotLogID}
	s.CurrentTimestamp = s.clock.Now()
	s.RetrialsLeft = s.retryCount
	s.LoopCount = 0
	s.Phase = PhaseWaiting
	return nil
}

// WaitUntilBatchEnds sleeps until the batch window has closed plus the
// safety margin, then refreshes CurrentTimestamp (spec.md §4.1
// wait_until_batch_ends). Never sleeps a negative duration. Honors ctx
// cancellation so shutdown isn't blocked behind a long sleep.
func (s *State) WaitUntilBatchEnds(ctx context.Context) error {
	now := s.clock.Now()
	if s.Batch.End.After(now) {
		sleepFor := s.Batch.End.Sub(now) + safetyMargin
		s.logger.Debug().Dur("sleep_for", sleepFor).Msg("waiting for batch window to close")

		timer := time.NewTimer(sleepFor)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.CurrentTimestamp = s.clock.Now()
	s.Phase = PhaseWorking
	return nil
}

// AdvanceToNextBatch resets the retry budget, slides the window forward by
// interval, and increments the loop counter (spec.md §4.1
// advance_to_next_batch). Warns if the coordinator is falling behind real
// time (the just-completed batch's start is at or after CurrentTimestamp,
// i.e. not earlier than it). Only valid from PhaseWorking -- a
// batch must have been dispatched and processed before it can be
// committed; calling this from any other phase is a programming error.
func (s *State) AdvanceToNextBatch(newBotLogID int64) error {
	if s.Phase != PhaseWorking {
		return fmt.Errorf("%w: AdvanceToNextBatch from %s", ErrIllegalTransition, s.Phase)
	}

	if !s.Batch.Start.Before(s.CurrentTimestamp) {
		s.logger.Warn().
			Time("batch_start", s.Batch.Start).
			Time("current_timestamp", s.CurrentTimestamp).
			Msg("coordinator is falling behind real time")
	}

	s.RetrialsLeft = s.retryCount
	s.Batch = Batch{Start: s.Batch.End, End: s.Batch.End.Add(s.interval), BotLogID: newBotLogID}
	s.LoopCount++
	s.CurrentTimestamp = s.clock.Now()
	s.Phase = PhaseCommitted
	return nil
}

// RetryBatch re-executes the same batch window rather than advancing. If
// the retry budget is exhausted, Stop is set and Phase becomes
// PhaseStopped -- fatal (spec.md §4.1 retry_batch). Only valid from
// PhaseWorking: retrying a batch that was never dispatched (PhaseWaiting),
// already committed (PhaseCommitted), or already stopped is a programming
// error, not a valid path.
func (s *State) RetryBatch() error {
	if s.Phase != PhaseWorking {
		return fmt.Errorf("%w: RetryBatch from %s", ErrIllegalTransition, s.Phase)
	}

	s.Phase = PhaseFailed

	if s.RetrialsLeft > 0 {
		s.RetrialsLeft--
	} else {
		s.Stop = true
		s.Phase = PhaseStopped
	}

	s.LoopCount++
	s.CurrentTimestamp = s.clock.Now()
	return nil
}
