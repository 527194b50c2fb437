package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mina-uptime/coordinator/internal/clock"
	"github.com/mina-uptime/coordinator/internal/model"
)

// Notifier is the subset of internal/alerting's Notifier that AlarmDispatcher
// depends on.
type Notifier interface {
	Post(ctx context.Context, message string) error
}

// AlarmDispatcher wraps a Dispatcher with the wall-time alarm hooks of
// spec.md §4.2: if dispatch takes less than lowerLimit or more than
// upperLimit, post a best-effort alert.
type AlarmDispatcher struct {
	inner      Dispatcher
	notifier   Notifier
	clk        clock.Clock
	lowerLimit time.Duration
	upperLimit time.Duration
	logger     zerolog.Logger
}

// NewAlarmDispatcher wraps inner with alarm hooks bounded by
// [lowerLimit, upperLimit].
func NewAlarmDispatcher(inner Dispatcher, notifier Notifier, clk clock.Clock, lowerLimit, upperLimit time.Duration, logger zerolog.Logger) *AlarmDispatcher {
	return &AlarmDispatcher{
		inner:      inner,
		notifier:   notifier,
		clk:        clk,
		lowerLimit: lowerLimit,
		upperLimit: upperLimit,
		logger:     logger.With().Str("component", "alarm_dispatcher").Logger(),
	}
}

// Dispatch runs the wrapped Dispatcher and posts an alert if its wall time
// falls outside [lowerLimit, upperLimit]. Alert failures are logged and
// swallowed (spec.md §4.2: "best-effort; failures logged and swallowed").
func (d *AlarmDispatcher) Dispatch(ctx context.Context, intervals []model.TimeInterval) error {
	stop := clock.Scoped(d.clk)
	err := d.inner.Dispatch(ctx, intervals)
	elapsed := stop()

	if err != nil {
		return err
	}

	if elapsed < d.lowerLimit || elapsed > d.upperLimit {
		msg := fmt.Sprintf("dispatch took %s, outside configured bounds [%s, %s]", elapsed, d.lowerLimit, d.upperLimit)
		if notifyErr := d.notifier.Post(ctx, msg); notifyErr != nil {
			d.logger.Warn().Err(notifyErr).Msg("failed to post dispatch alarm")
		}
	}
	return nil
}
