// Package resultdb is the coordinator's Postgres persistence layer: state
// hashes, nodes, bot_logs, statehash results, point records, and the
// scoreboard (spec.md §4.4). Grounded on the teacher's pgx pool usage in
// cmd/indexer and cmd/consumer's storeEvent-family functions, generalized
// from one-event-per-call inserts into the coordinator's batch/transaction
// shape (spec.md §3 invariant 5, §4.4 "Transaction discipline").
package resultdb

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mina-uptime/coordinator/internal/chainselector"
	"github.com/mina-uptime/coordinator/internal/model"
)

//go:embed schema/create_tables.sql
var createTablesSQL string

//go:embed schema/scoreboard.sql
var scoreboardSQL string

// ResultDB wraps a pgx connection pool. Per-batch mutations are grouped into
// a single transaction by the caller (internal/coordinator) via WithinBatch;
// UpdateScoreboard and InsertSubmissions open and commit their own
// transactions independently (spec.md §4.4 transaction discipline).
type ResultDB struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The pool itself is constructed by the caller
// (cmd/coordinator/main.go), mirroring the teacher's pgxpool.New call site.
func New(pool *pgxpool.Pool) *ResultDB {
	return &ResultDB{pool: pool}
}

// Bootstrap runs create_tables.sql. Idempotent: every statement is
// CREATE ... IF NOT EXISTS.
func (r *ResultDB) Bootstrap(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

// CreateTablesSQL exposes the embedded schema so cmd/admin can run it
// against a freshly created database with a plain pgx.Conn, outside of
// Bootstrap's pgxpool.Pool requirement.
func CreateTablesSQL() (string, error) {
	return createTablesSQL, nil
}

// WithinBatch runs fn inside a single transaction and commits on success,
// rolling back on any error returned by fn (spec.md §3 invariant 5, §4.4:
// "On any exception the caller rolls back the current transaction").
func (r *ResultDB) WithinBatch(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch transaction: %w", err)
	}
	return nil
}

// GetBatchTimings returns (prev_end, cur_end, last_bot_log_id) per spec.md
// §4.4: the most recent bot_log row determines the next batch window. The
// table must never be empty in a running system -- the admin init-database
// task (cmd/admin) inserts the seed row with files_processed = -1.
func (r *ResultDB) GetBatchTimings(ctx context.Context, interval time.Duration) (prevEnd, curEnd time.Time, lastBotLogID int64, err error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, batch_end_epoch
		FROM bot_logs
		ORDER BY batch_end_epoch DESC
		LIMIT 1
	`)

	var batchEndEpoch float64
	if scanErr := row.Scan(&lastBotLogID, &batchEndEpoch); scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("bot_logs is empty: run the init-database admin task to seed it")
		}
		return time.Time{}, time.Time{}, 0, fmt.Errorf("get batch timings: %w", scanErr)
	}

	prevEnd = time.Unix(int64(batchEndEpoch), 0).UTC()
	curEnd = prevEnd.Add(interval)
	return prevEnd, curEnd, lastBotLogID, nil
}

// GetStatehashSet returns every state hash already on file, for
// insert-if-absent filtering (spec.md §4.4 get_statehash_df).
func (r *ResultDB) GetStatehashSet(ctx context.Context) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT state_hash FROM statehash`)
	if err != nil {
		return nil, fmt.Errorf("get statehash set: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan state_hash: %w", err)
		}
		set[h] = true
	}
	return set, rows.Err()
}

// GetExistingNodes returns every block producer key already on file, for
// insert-if-absent filtering (spec.md §4.4 get_existing_nodes).
func (r *ResultDB) GetExistingNodes(ctx context.Context) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT block_producer_key FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("get existing nodes: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan block_producer_key: %w", err)
		}
		set[key] = true
	}
	return set, rows.Err()
}

// GetPreviousStatehash returns the canonical fragment chosen for bot_log_id
// (spec.md §4.4 get_previous_statehash): the relations between its hashes
// and the set of selected hashes themselves, consumed by ChainSelector as
// prev_relations / prev_selected.
func (r *ResultDB) GetPreviousStatehash(ctx context.Context, botLogID int64) (relations []chainselector.Edge, selected []string, err error) {
	rows, err := r.pool.Query(ctx, `
		SELECT parent_state_hash, state_hash
		FROM statehash_results
		WHERE bot_log_id = $1
	`, botLogID)
	if err != nil {
		return nil, nil, fmt.Errorf("get previous statehash: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var parent, child string
		if err := rows.Scan(&parent, &child); err != nil {
			return nil, nil, fmt.Errorf("scan statehash_results row: %w", err)
		}
		relations = append(relations, chainselector.Edge{Parent: parent, Child: child})
		if !seen[child] {
			seen[child] = true
			selected = append(selected, child)
		}
	}
	return relations, selected, rows.Err()
}

// CreateStatehash inserts any state hashes not already on file. newHashes
// should already be filtered against GetStatehashSet by the caller, but the
// insert is idempotent (ON CONFLICT DO NOTHING) regardless.
func (r *ResultDB) CreateStatehash(ctx context.Context, tx pgx.Tx, newHashes []string) error {
	for _, h := range newHashes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO statehash (state_hash) VALUES ($1)
			ON CONFLICT (state_hash) DO NOTHING
		`, h); err != nil {
			return fmt.Errorf("create statehash %q: %w", h, err)
		}
	}
	return nil
}

// CreateNodeRecord inserts any block producer keys not already on file, at
// the initial score of 100 (spec.md §3 Node).
func (r *ResultDB) CreateNodeRecord(ctx context.Context, tx pgx.Tx, newKeys []string, now time.Time) error {
	for _, key := range newKeys {
		if _, err := tx.Exec(ctx, `
			INSERT INTO nodes (block_producer_key, score, updated_at) VALUES ($1, 100, $2)
			ON CONFLICT (block_producer_key) DO NOTHING
		`, key, now); err != nil {
			return fmt.Errorf("create node record %q: %w", key, err)
		}
	}
	return nil
}

// CreateBotLog inserts the per-batch anchor row and returns its new id
// (spec.md §4.4 create_bot_log, §3 BotLog).
func (r *ResultDB) CreateBotLog(ctx context.Context, tx pgx.Tx, log model.BotLog) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO bot_logs (processing_time, files_processed, file_timestamps, batch_start_epoch, batch_end_epoch)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, log.ProcessingTime, log.FilesProcessed, log.FileTimestamps, log.BatchStartEpoch, log.BatchEndEpoch).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create bot log: %w", err)
	}
	return id, nil
}

// InsertStatehashResults persists the canonical fragment chosen for
// botLogID (spec.md §4.4 insert_statehash_results, §3 invariant 4: every
// row references the bot_log produced for the same batch).
func (r *ResultDB) InsertStatehashResults(ctx context.Context, tx pgx.Tx, botLogID int64, edges []chainselector.Edge) error {
	for _, e := range edges {
		if _, err := tx.Exec(ctx, `
			INSERT INTO statehash_results (bot_log_id, state_hash, parent_state_hash)
			VALUES ($1, $2, $3)
		`, botLogID, e.Child, e.Parent); err != nil {
			return fmt.Errorf("insert statehash result %s->%s: %w", e.Parent, e.Child, err)
		}
	}
	return nil
}

// CreatePointRecord persists the per-submitter credits earned this batch
// (spec.md §4.4 create_point_record, §3 PointRecord).
func (r *ResultDB) CreatePointRecord(ctx context.Context, tx pgx.Tx, botLogID int64, records []chainselector.PointRecord, now time.Time) error {
	for _, pr := range records {
		if _, err := tx.Exec(ctx, `
			INSERT INTO point_record (
				file_name, file_timestamps, blockchain_epoch, block_producer_key,
				blockchain_height, amount, created_at, bot_log_id, state_hash
			) VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $8)
		`, pr.FileName, pr.FileTimestamp, pr.Epoch, pr.BlockProducerKey,
			pr.Height, now, botLogID, pr.StateHash); err != nil {
			return fmt.Errorf("create point record for %s: %w", pr.BlockProducerKey, err)
		}
	}
	return nil
}

// InsertSubmissions mirrors Cassandra-sourced submissions into Postgres
// (spec.md §4.4 insert_submissions), run in its own transaction so a
// mirroring failure never rolls back the batch's canonical-chain writes.
func (r *ResultDB) InsertSubmissions(ctx context.Context, submissions []model.Submission) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin submission mirror transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, s := range submissions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO submissions (
				submitted_at_date, submitted_at, submitter, created_at, block_hash,
				state_hash, parent, height, slot, remote_addr, peer_id,
				graphql_control_port, built_with_commit_sha, validation_error, verified
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (submitter, submitted_at, state_hash) DO NOTHING
		`, s.SubmittedAtDate, s.SubmittedAt, s.Submitter, s.CreatedAt, s.BlockHash,
			s.StateHash, s.Parent, s.Height, s.Slot, s.RemoteAddr, s.PeerID,
			s.GraphQLControlPort, s.BuiltWithCommitSHA, s.ValidationError, s.Verified); err != nil {
			return fmt.Errorf("mirror submission %s/%s: %w", s.Submitter, s.StateHash, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submission mirror transaction: %w", err)
	}
	return nil
}

// UpdateScoreboard recomputes every node's rolling score over
// [asOf-uptimeDays, asOf] (spec.md §4.4 update_scoreboard, §4.6), in its own
// transaction per the §4.4 transaction discipline.
func (r *ResultDB) UpdateScoreboard(ctx context.Context, asOf time.Time, uptimeDays int) error {
	if _, err := r.pool.Exec(ctx, scoreboardSQL, asOf, uptimeDays); err != nil {
		return fmt.Errorf("update scoreboard: %w", err)
	}
	return nil
}

// ApplicationStatusRow mirrors the application_status table.
type ApplicationStatusRow struct {
	BlockProducerKey string
	ApplicationName  string
	Active           bool
}

// GetApplicationStatus returns the current reconciled contact-list rows.
func (r *ResultDB) GetApplicationStatus(ctx context.Context) ([]ApplicationStatusRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT block_producer_key, application_name, active FROM application_status`)
	if err != nil {
		return nil, fmt.Errorf("get application status: %w", err)
	}
	defer rows.Close()

	var out []ApplicationStatusRow
	for rows.Next() {
		var row ApplicationStatusRow
		if err := rows.Scan(&row.BlockProducerKey, &row.ApplicationName, &row.Active); err != nil {
			return nil, fmt.Errorf("scan application_status row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpdateApplicationStatus upserts the reconciled contact-list rows (spec.md
// §4.4 update_application_status), in its own transaction: a reconciliation
// failure never rolls back the batch persistence committed in the same
// iteration (internal/coordinator.Coordinator.processBatch runs it before
// dispatch, once per batch, per spec.md §5).
func (r *ResultDB) UpdateApplicationStatus(ctx context.Context, rows []ApplicationStatusRow, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin application status transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, row := range rows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO application_status (block_producer_key, application_name, active, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (block_producer_key) DO UPDATE
				SET application_name = EXCLUDED.application_name,
					active = EXCLUDED.active,
					updated_at = EXCLUDED.updated_at
		`, row.BlockProducerKey, row.ApplicationName, row.Active, now); err != nil {
			return fmt.Errorf("upsert application status %q: %w", row.BlockProducerKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit application status transaction: %w", err)
	}
	return nil
}
