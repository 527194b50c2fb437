package dispatcher

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mina-uptime/coordinator/internal/model"
)

// ProcessDispatcher spawns the verifier worker binary locally, once per
// mini-interval, for local/test deployments (TEST_ENV=1, spec.md §4.2
// "processes (test mode)"). Join-all pattern ported from the teacher's
// internal/syncer/syncer.go processBatch: a sync.WaitGroup plus a buffered
// error channel, generalized from block ranges to time intervals.
type ProcessDispatcher struct {
	binaryPath string
	logger     zerolog.Logger
}

// NewProcessDispatcher returns a dispatcher that runs binaryPath once per
// interval.
func NewProcessDispatcher(binaryPath string, logger zerolog.Logger) *ProcessDispatcher {
	return &ProcessDispatcher{
		binaryPath: binaryPath,
		logger:     logger.With().Str("component", "process_dispatcher").Logger(),
	}
}

// Dispatch spawns one worker process per interval and waits for all to
// exit. A worker's non-zero exit is logged and swallowed, not returned
// (spec.md §4.2: individual worker failures are not surfaced as errors).
func (d *ProcessDispatcher) Dispatch(ctx context.Context, intervals []model.TimeInterval) error {
	var wg sync.WaitGroup
	errChan := make(chan error, len(intervals))

	for _, interval := range intervals {
		wg.Add(1)
		go func(iv model.TimeInterval) {
			defer wg.Done()

			args := []string{
				"--start", iv.Start.Format(time.RFC3339),
				"--end", iv.End.Format(time.RFC3339),
			}
			cmd := exec.CommandContext(ctx, d.binaryPath, args...)

			if err := cmd.Run(); err != nil {
				if _, nonZeroExit := err.(*exec.ExitError); nonZeroExit {
					// Worker ran and failed validation; not a dispatch error.
					d.logger.Warn().
						Err(err).
						Time("interval_start", iv.Start).
						Time("interval_end", iv.End).
						Msg("worker process exited with error")
					errChan <- nil
					return
				}
				errChan <- fmt.Errorf("start worker process for [%s,%s): %w", iv.Start, iv.End, err)
				return
			}
			errChan <- nil
		}(interval)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		if err != nil {
			return fmt.Errorf("dispatch worker process: %w", err)
		}
	}
	return nil
}
