package strategy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalrunner/signalrunner/internal/config"
	"github.com/signalrunner/signalrunner/internal/mock"
	"github.com/signalrunner/signalrunner/internal/models"
)

func TestSimulateBacktest_HitsTakeProfit(t *testing.T) {
	h := openPending(t, 101, 99)

	slice := mock.FlatSeries(minuteAt(4), models.Interval1m, 5, 100, 10)
	slice = append(slice, mock.LinearSeries(minuteAt(9), models.Interval1m, 10, 100.3, 103.3, 10)...)

	res, err := h.core.SimulateBacktest(slice)
	require.NoError(t, err)
	assert.Equal(t, models.ActionClosed, res.Action)
	assert.Equal(t, models.CloseTakeProfit, res.CloseReason)
	assert.True(t, res.CloseTimestamp.Equal(minuteAt(14)), "first rolling window at or above TP")
	assert.GreaterOrEqual(t, res.CurrentPrice, 101.0)
	require.NotNil(t, res.PnL)
	assert.Greater(t, res.PnL.PnlPercentage, 0.0)

	assert.Nil(t, h.core.PendingSignal())
	assert.Zero(t, h.gate.ActiveCount())
}

func TestSimulateBacktest_ExpiresAtLifetime(t *testing.T) {
	h := openPending(t, 102, 99)

	// 61 flat candles: the candle 60 minutes past activation expires the
	// signal before TP or SL can trigger.
	slice := mock.FlatSeries(minuteAt(4), models.Interval1m, 61, 100, 10)

	res, err := h.core.SimulateBacktest(slice)
	require.NoError(t, err)
	assert.Equal(t, models.CloseTimeExpired, res.CloseReason)
	assert.True(t, res.CloseTimestamp.Equal(minuteAt(64)))
	assert.InDelta(t, 100, res.CurrentPrice, 1e-9)
}

func TestSimulateBacktest_SliceShorterThanWindow(t *testing.T) {
	h := openPending(t, 102, 99)

	slice := mock.FlatSeries(minuteAt(4), models.Interval1m, 3, 100, 10)
	res, err := h.core.SimulateBacktest(slice)
	require.NoError(t, err)
	assert.Equal(t, models.CloseTimeExpired, res.CloseReason)
	assert.True(t, res.CloseTimestamp.Equal(minuteAt(6)))
	assert.InDelta(t, 100, res.CurrentPrice, 1e-9)
}

func TestSimulateBacktest_RequiresPending(t *testing.T) {
	h := newHarness(t, config.Default().Engine, nil)

	_, err := h.core.SimulateBacktest(mock.FlatSeries(minuteAt(0), models.Interval1m, 10, 100, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
}

func TestSimulateBacktest_EmptySlice(t *testing.T) {
	h := openPending(t, 102, 99)

	_, err := h.core.SimulateBacktest(nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvariant))
}
