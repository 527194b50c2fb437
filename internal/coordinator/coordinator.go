// Package coordinator wires the batch lifecycle together: for each batch
// window it waits for the window to close, dispatches verifier workers,
// reads back submissions, runs ChainSelector, persists the result, updates
// the scoreboard, and advances (spec.md §2's "Coordinator loop", data flow
// diagram). Restructured from
// original_source/uptime_service_validation/coordinator/coordinator.py's
// main() into the teacher's injected-collaborators Syncer shape
// (internal/syncer/syncer.go): a struct built via New, a blocking Run(ctx),
// promauto metrics, and a Healthy() readiness flag.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/mina-uptime/coordinator/internal/appstatus"
	"github.com/mina-uptime/coordinator/internal/batchstate"
	"github.com/mina-uptime/coordinator/internal/chainselector"
	"github.com/mina-uptime/coordinator/internal/clock"
	"github.com/mina-uptime/coordinator/internal/dispatcher"
	"github.com/mina-uptime/coordinator/internal/model"
	"github.com/mina-uptime/coordinator/internal/resultdb"
	"github.com/mina-uptime/coordinator/internal/submissionstore"
)

var (
	batchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_batches_processed_total",
		Help: "Total number of batch windows successfully committed",
	})

	batchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_batch_retries_total",
		Help: "Total number of batch retries triggered by a failed batch",
	})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "coordinator_dispatch_duration_seconds",
		Help: "Wall-clock time spent waiting for worker dispatch to complete",
	})

	shortlistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_shortlist_size",
		Help: "Number of canonical state hashes selected in the most recent batch",
	})
)

// Config holds the coordinator's runtime parameters, all sourced from
// pkg/config (spec.md §4.1, §4.5, §4.6).
type Config struct {
	SurveyInterval                time.Duration
	MiniBatchNumber               int
	RetryCount                    int
	UptimeDaysForScore            int
	ChainSelectorPercentageThresh float64

	// MirrorSubmissions enables insert_submissions (spec.md §4.4): only
	// meaningful when Cassandra is the primary SubmissionStore, mirroring
	// each batch's submissions into Postgres.
	MirrorSubmissions bool

	// IgnoreApplicationStatus, ContactListURL: application-status
	// reconciliation runs once per batch iteration before dispatch
	// (spec.md §5) unless disabled.
	IgnoreApplicationStatus bool
	ContactListURL          string
}

// Coordinator is the top-level orchestrator described by spec.md's data
// flow: BatchState -> wait -> split window -> WorkerDispatcher ->
// SubmissionStore -> ChainSelector -> ResultDB writes -> scoreboard update
// -> BatchState.advance.
type Coordinator struct {
	state      *batchstate.State
	store      submissionstore.Store
	db         *resultdb.ResultDB
	dispatcher dispatcher.Dispatcher
	appstatus  *appstatus.Updater
	checkpoint *batchstate.CheckpointStore
	clock      clock.Clock
	cfg        Config
	logger     zerolog.Logger

	mu        sync.RWMutex
	isHealthy bool
}

// New builds a Coordinator from its collaborators. checkpoint may be nil --
// only the process-dispatcher (TEST_ENV=1) deployment mode wires a local
// BoltDB checkpoint store (SPEC_FULL.md's DOMAIN STACK note on
// internal/batchstate's bbolt usage); every other mode relies solely on
// Postgres's bot_logs table as the source of truth.
func New(
	store submissionstore.Store,
	db *resultdb.ResultDB,
	dispatch dispatcher.Dispatcher,
	checkpoint *batchstate.CheckpointStore,
	clk clock.Clock,
	cfg Config,
	logger zerolog.Logger,
) *Coordinator {
	logger = logger.With().Str("component", "coordinator").Logger()
	return &Coordinator{
		state:      batchstate.New(cfg.SurveyInterval, cfg.RetryCount, clk, logger),
		store:      store,
		db:         db,
		dispatcher: dispatch,
		appstatus:  appstatus.New(db, clk, logger),
		checkpoint: checkpoint,
		clock:      clk,
		cfg:        cfg,
		logger:     logger,
		isHealthy:  true,
	}
}

// Healthy reports whether the last batch iteration committed successfully.
func (c *Coordinator) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isHealthy
}

func (c *Coordinator) setHealthy(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isHealthy = healthy
}

// Run initializes batch state from ResultDB and loops until ctx is
// canceled or the state machine stops (retry budget exhausted).
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.state.Initialize(ctx, c.db); err != nil {
		return fmt.Errorf("initialize batch state: %w", err)
	}
	c.loadCheckpoint(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if c.state.Stop {
			return fmt.Errorf("coordinator stopped: retry budget exhausted for batch starting %s", c.state.Batch.Start)
		}

		if err := c.state.WaitUntilBatchEnds(ctx); err != nil {
			return fmt.Errorf("wait until batch ends: %w", err)
		}

		if err := c.processBatch(ctx); err != nil {
			c.logger.Error().Err(err).Msg("batch processing failed, retrying")
			c.setHealthy(false)
			batchRetries.Inc()
			if retryErr := c.state.RetryBatch(); retryErr != nil {
				return fmt.Errorf("retry batch: %w", retryErr)
			}
			c.saveCheckpoint(ctx)
			continue
		}

		c.setHealthy(true)
	}
}

// loadCheckpoint seeds LoopCount from the local BoltDB checkpoint when it
// still refers to the same batch Initialize just derived from Postgres
// truth; a stale or absent checkpoint is logged and otherwise ignored,
// since Postgres's bot_logs table -- not this local file -- is the
// authoritative record of where the coordinator left off.
func (c *Coordinator) loadCheckpoint(ctx context.Context) {
	if c.checkpoint == nil {
		return
	}

	cp, found, err := c.checkpoint.Load(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to load local checkpoint, continuing from Postgres truth")
		return
	}
	if !found {
		return
	}
	if cp.BotLogID != c.state.Batch.BotLogID {
		c.logger.Warn().
			Int64("checkpoint_bot_log_id", cp.BotLogID).
			Int64("postgres_bot_log_id", c.state.Batch.BotLogID).
			Msg("local checkpoint stale relative to Postgres truth, ignoring")
		return
	}

	c.state.LoopCount = cp.LoopCount
	c.logger.Info().Int("loop_count", cp.LoopCount).Msg("resumed loop count from local checkpoint")
}

// saveCheckpoint persists the current batch position, best-effort: a
// checkpoint write failure never fails the batch that was just
// committed/retried, matching the scoreboard update's failure handling.
func (c *Coordinator) saveCheckpoint(ctx context.Context) {
	if c.checkpoint == nil {
		return
	}

	cp := batchstate.Checkpoint{
		BatchEndEpoch: float64(c.state.Batch.End.Unix()),
		BotLogID:      c.state.Batch.BotLogID,
		LoopCount:     c.state.LoopCount,
	}
	if err := c.checkpoint.Save(ctx, cp); err != nil {
		c.logger.Warn().Err(err).Msg("failed to save local checkpoint")
	}
}

// processBatch runs one iteration of the data flow described by spec.md §2:
// reconcile application status, dispatch, read submissions, mirror them,
// select the canonical chain, persist, update the scoreboard, advance.
// Application-status reconciliation runs here, before dispatch, rather
// than on an independent timer, matching spec.md §5's "only two
// suspension points" invariant (wait_until_batch_ends and worker dispatch
// join) and its explicit note that this reconciliation runs once per
// coordinator iteration.
func (c *Coordinator) processBatch(ctx context.Context) error {
	batch := c.state.Batch

	if !c.cfg.IgnoreApplicationStatus {
		if err := c.appstatus.Reconcile(ctx, c.cfg.ContactListURL); err != nil {
			c.logger.Warn().Err(err).Msg("application status reconciliation failed")
		}
	}

	intervals := dispatcher.SplitWindow(batch.Start, batch.End, c.cfg.MiniBatchNumber)

	stop := clock.Scoped(c.clock)
	if err := c.dispatcher.Dispatch(ctx, intervals); err != nil {
		return fmt.Errorf("dispatch workers: %w", err)
	}
	dispatchElapsed := stop()
	dispatchDuration.Observe(dispatchElapsed.Seconds())

	submissions, err := c.store.GetSubmissions(ctx, batch.Start, batch.End, true, false)
	if err != nil {
		return fmt.Errorf("get submissions: %w", err)
	}

	if c.cfg.MirrorSubmissions {
		if err := c.db.InsertSubmissions(ctx, submissions); err != nil {
			// Mirroring runs in its own transaction and never undoes the
			// batch persistence below (spec.md §4.4 transaction discipline).
			c.logger.Error().Err(err).Msg("submission mirroring failed")
		}
	}

	rows := toSubmissionRows(submissions)

	prevRelations, prevSelected, err := c.db.GetPreviousStatehash(ctx, batch.BotLogID)
	if err != nil {
		return fmt.Errorf("get previous statehash: %w", err)
	}

	result := chainselector.Select(rows, prevSelected, prevRelations, c.cfg.ChainSelectorPercentageThresh)
	shortlistSize.Set(float64(len(result.Shortlist)))

	var newBotLogID int64
	err = c.db.WithinBatch(ctx, func(tx pgx.Tx) error {
		newBotLogID, err = c.persistBatch(ctx, tx, batch, submissions, result, dispatchElapsed)
		return err
	})
	if err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}

	if err := c.db.UpdateScoreboard(ctx, batch.End, c.cfg.UptimeDaysForScore); err != nil {
		// Scoreboard update runs in its own transaction; its failure does
		// not undo the batch persistence just committed (spec.md §4.4).
		c.logger.Error().Err(err).Msg("scoreboard update failed")
	}

	if err := c.state.AdvanceToNextBatch(newBotLogID); err != nil {
		return fmt.Errorf("advance to next batch: %w", err)
	}
	c.saveCheckpoint(ctx)
	batchesProcessed.Inc()
	return nil
}

// persistBatch groups the per-batch mutations required by spec.md §3
// invariant 5: new state hashes, new nodes, the bot_log anchor row,
// statehash results, and point records, all within tx. processingTime is the
// batch's dispatch wall time, stored as bot_logs.processing_time in seconds.
func (c *Coordinator) persistBatch(ctx context.Context, tx pgx.Tx, batch batchstate.Batch, submissions []model.Submission, result chainselector.Result, processingTime time.Duration) (int64, error) {
	existingHashes, err := c.db.GetStatehashSet(ctx)
	if err != nil {
		return 0, fmt.Errorf("get statehash set: %w", err)
	}
	existingNodes, err := c.db.GetExistingNodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("get existing nodes: %w", err)
	}

	newHashes := newHashes(submissions, existingHashes)
	if err := c.db.CreateStatehash(ctx, tx, newHashes); err != nil {
		return 0, err
	}

	newNodes := newNodes(submissions, existingNodes)
	now := c.clock.Now()
	if err := c.db.CreateNodeRecord(ctx, tx, newNodes, now); err != nil {
		return 0, err
	}

	botLog := model.BotLog{
		ProcessingTime:  processingTime.Seconds(),
		FilesProcessed:  len(submissions),
		FileTimestamps:  now,
		BatchStartEpoch: float64(batch.Start.Unix()),
		BatchEndEpoch:   float64(batch.End.Unix()),
	}
	botLogID, err := c.db.CreateBotLog(ctx, tx, botLog)
	if err != nil {
		return 0, err
	}

	if err := c.db.InsertStatehashResults(ctx, tx, botLogID, result.Shortlist); err != nil {
		return 0, err
	}
	if err := c.db.CreatePointRecord(ctx, tx, botLogID, result.PointRecords, now); err != nil {
		return 0, err
	}

	return botLogID, nil
}

func toSubmissionRows(submissions []model.Submission) []chainselector.SubmissionRow {
	rows := make([]chainselector.SubmissionRow, 0, len(submissions))
	for _, s := range submissions {
		if !s.IsValid() {
			continue
		}
		rows = append(rows, chainselector.SubmissionRow{
			StateHash:       s.StateHash,
			ParentStateHash: s.Parent,
			Submitter:       s.Submitter,
			FileName:        s.BlockHash,
			Height:          s.Height,
			Slot:            s.Slot,
			FileTimestamp:   s.SubmittedAt,
		})
	}
	return rows
}

func newHashes(submissions []model.Submission, existing map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(h string) {
		if h == "" || existing[h] || seen[h] {
			return
		}
		seen[h] = true
		out = append(out, h)
	}
	for _, s := range submissions {
		add(s.StateHash)
		add(s.Parent)
	}
	return out
}

func newNodes(submissions []model.Submission, existing map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range submissions {
		if s.Submitter == "" || existing[s.Submitter] || seen[s.Submitter] {
			continue
		}
		seen[s.Submitter] = true
		out = append(out, s.Submitter)
	}
	return out
}
