// Package submissionstore implements the pluggable SubmissionStore
// capability described in spec.md §4.3: a single GetSubmissions operation
// backed either by Cassandra (primary, AWS Keyspaces) or Postgres.
// Selection is by config enum at startup (spec.md §9 design note), never
// by runtime type introspection.
package submissionstore

import (
	"context"
	"time"

	"github.com/mina-uptime/coordinator/internal/model"
)

// Store reads validated submissions for a time window.
type Store interface {
	// GetSubmissions returns submissions in the window bounded by start and
	// end. Either both startInclusive/endInclusive bounds are honored as
	// given; callers must supply both start and end together.
	GetSubmissions(ctx context.Context, start, end time.Time, startInclusive, endInclusive bool) ([]model.Submission, error)
}
