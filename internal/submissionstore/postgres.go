package submissionstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mina-uptime/coordinator/internal/model"
)

// PostgresStore is the secondary SubmissionStore variant: a single SELECT
// against a submissions table bounded by submitted_at, used when
// SUBMISSION_STORAGE=postgres (spec.md §4.3).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetSubmissions implements Store.
func (p *PostgresStore) GetSubmissions(ctx context.Context, start, end time.Time, startInclusive, endInclusive bool) ([]model.Submission, error) {
	startOp := ">"
	if startInclusive {
		startOp = ">="
	}
	endOp := "<"
	if endInclusive {
		endOp = "<="
	}

	query := fmt.Sprintf(`SELECT submitted_at_date, submitted_at, submitter, created_at,
		block_hash, remote_addr, peer_id, graphql_control_port,
		built_with_commit_sha, state_hash, parent, height, slot,
		validation_error, verified
		FROM submissions WHERE submitted_at %s $1 AND submitted_at %s $2`, startOp, endOp)

	rows, err := p.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var submissions []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(
			&s.SubmittedAtDate, &s.SubmittedAt, &s.Submitter, &s.CreatedAt,
			&s.BlockHash, &s.RemoteAddr, &s.PeerID, &s.GraphQLControlPort,
			&s.BuiltWithCommitSHA, &s.StateHash, &s.Parent, &s.Height, &s.Slot,
			&s.ValidationError, &s.Verified,
		); err != nil {
			return nil, fmt.Errorf("scan submission row: %w", err)
		}
		submissions = append(submissions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission rows: %w", err)
	}
	return submissions, nil
}
