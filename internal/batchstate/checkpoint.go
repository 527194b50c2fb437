package batchstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const checkpointBucket = "batch_checkpoints"

// checkpointKey is the single bbolt key this coordinator instance writes
// under -- there is exactly one singleton batch loop per SPEC_FULL.md's
// DOMAIN STACK table (no multi-replica coordination, per spec.md's
// Non-goals).
const checkpointKey = "coordinator"

// Checkpoint is the local crash-recovery record for the process-dispatcher
// (dev/test, TEST_ENV=1) deployment mode: the batch position the
// coordinator last committed or retried. The batch window is always
// re-derived at startup from Postgres's bot_logs table
// (ResultDB.GetBatchTimings); a checkpoint whose BotLogID matches that row
// only restores LoopCount. This is a local convenience cache only, ported
// from the teacher's block-number
// BoltDB checkpoint (internal/db/checkpoint.go) and rewritten for batch
// windows instead of block numbers.
type Checkpoint struct {
	BatchEndEpoch float64   `json:"batch_end_epoch"`
	BotLogID      int64     `json:"bot_log_id"`
	LoopCount     int       `json:"loop_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CheckpointStore persists Checkpoint to a local BoltDB file.
type CheckpointStore struct {
	db *bbolt.DB
}

// NewCheckpointStore opens (creating if absent) the BoltDB file at dbPath.
func NewCheckpointStore(dbPath string) (*CheckpointStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(checkpointBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint bucket: %w", err)
	}

	return &CheckpointStore{db: db}, nil
}

// Save persists the checkpoint, stamping UpdatedAt.
func (c *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()

	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(checkpointBucket))
		if b == nil {
			return fmt.Errorf("checkpoint bucket not found")
		}

		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		return b.Put([]byte(checkpointKey), data)
	})
}

// Load returns the saved checkpoint, or (Checkpoint{}, false, nil) if none
// exists yet -- a fresh deployment has no local checkpoint, so its loop
// count starts from zero.
func (c *CheckpointStore) Load(ctx context.Context) (Checkpoint, bool, error) {
	var cp Checkpoint
	var found bool

	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(checkpointBucket))
		if b == nil {
			return fmt.Errorf("checkpoint bucket not found")
		}

		data := b.Get([]byte(checkpointKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, found, nil
}

// Close closes the underlying BoltDB file.
func (c *CheckpointStore) Close() error {
	return c.db.Close()
}
