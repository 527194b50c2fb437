// Package dispatcher fans out a batch window's mini-intervals to verifier
// worker tasks and blocks until all of them finish (spec.md §4.2). The
// coordinator treats dispatch as synchronous: submissions are only read
// from the SubmissionStore after Dispatch returns.
package dispatcher

import (
	"context"

	"github.com/mina-uptime/coordinator/internal/model"
)

// Dispatcher fans out intervals to verifier workers and blocks until every
// worker has finished. Individual worker failures are not surfaced as
// errors (spec.md §4.2: "missing data simply results in fewer
// submissions") -- a non-nil error here means the dispatch mechanism
// itself failed (e.g. the cluster API was unreachable), not that a worker
// exited non-zero.
type Dispatcher interface {
	Dispatch(ctx context.Context, intervals []model.TimeInterval) error
}
