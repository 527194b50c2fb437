package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mina-uptime/coordinator/internal/clock"
	"github.com/mina-uptime/coordinator/internal/model"
)

type fakeDispatcher struct {
	advanceBy time.Duration
	clk       *clock.Fake
	err       error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, intervals []model.TimeInterval) error {
	if f.clk != nil {
		f.clk.Advance(f.advanceBy)
	}
	return f.err
}

type fakeNotifier struct {
	posted []string
	err    error
}

func (f *fakeNotifier) Post(ctx context.Context, message string) error {
	f.posted = append(f.posted, message)
	return f.err
}

func TestAlarmDispatcher_AlertsWhenOverUpperLimit(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	inner := &fakeDispatcher{advanceBy: time.Minute, clk: clk}
	notifier := &fakeNotifier{}

	d := NewAlarmDispatcher(inner, notifier, clk, time.Second, 10*time.Second, zerolog.Nop())
	require.NoError(t, d.Dispatch(context.Background(), nil))

	assert.Len(t, notifier.posted, 1)
}

func TestAlarmDispatcher_NoAlertWithinBounds(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	inner := &fakeDispatcher{advanceBy: 5 * time.Second, clk: clk}
	notifier := &fakeNotifier{}

	d := NewAlarmDispatcher(inner, notifier, clk, time.Second, 10*time.Second, zerolog.Nop())
	require.NoError(t, d.Dispatch(context.Background(), nil))

	assert.Empty(t, notifier.posted)
}

func TestAlarmDispatcher_DispatchErrorSkipsAlarm(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	inner := &fakeDispatcher{err: errors.New("boom")}
	notifier := &fakeNotifier{}

	d := NewAlarmDispatcher(inner, notifier, clk, time.Second, 10*time.Second, zerolog.Nop())
	err := d.Dispatch(context.Background(), nil)

	assert.Error(t, err)
	assert.Empty(t, notifier.posted)
}

func TestAlarmDispatcher_NotifierFailureSwallowed(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	inner := &fakeDispatcher{advanceBy: time.Minute, clk: clk}
	notifier := &fakeNotifier{err: errors.New("webhook down")}

	d := NewAlarmDispatcher(inner, notifier, clk, time.Second, 10*time.Second, zerolog.Nop())
	assert.NoError(t, d.Dispatch(context.Background(), nil))
}
