package driver

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/models"
)

// stubSweep replays a fixed result sequence, honoring consumer cancellation.
type stubSweep struct {
	symbol  string
	results []models.TickResult
	forever bool
}

func (s stubSweep) Symbol() string { return s.symbol }

func (s stubSweep) Run(ctx context.Context) <-chan models.TickResult {
	out := make(chan models.TickResult)
	go func() {
		defer close(out)
		for {
			for _, r := range s.results {
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
			if !s.forever {
				return
			}
		}
	}()
	return out
}

func sweepClose(strategy string, pnl float64) models.TickResult {
	pendingAt := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return models.TickResult{
		Action:       models.ActionClosed,
		Symbol:       "BTCUSDT",
		StrategyName: strategy,
		Signal:       &models.Signal{ID: "s", PendingAt: pendingAt},
		CloseTimestamp: pendingAt.Add(time.Hour),
		CloseReason:    models.CloseTakeProfit,
		PnL:            &models.PnL{PnlPercentage: pnl},
	}
}

func newWalker(t *testing.T, metric string, entries []WalkerEntry) (*Walker, *bus.Bus) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	b := bus.New(logger)
	t.Cleanup(b.Close)
	return NewWalker(WalkerParams{
		Name:    "sweep-1",
		Metric:  metric,
		Entries: entries,
		Bus:     b,
		Logger:  logger,
	}), b
}

func TestWalker_RanksBySharpe(t *testing.T) {
	// A closes at +1 twice: zero dispersion, sharpe undefined.
	// B closes at +2 and 0: mean 1, stdev 1, sharpe 1.
	entries := []WalkerEntry{
		{StrategyName: "A", Backtest: stubSweep{symbol: "BTCUSDT", results: []models.TickResult{
			sweepClose("A", 1), sweepClose("A", 1),
		}}},
		{StrategyName: "B", Backtest: stubSweep{symbol: "BTCUSDT", results: []models.TickResult{
			sweepClose("B", 2), sweepClose("B", 0),
		}}},
	}
	w, b := newWalker(t, "sharpeRatio", entries)

	progressCh := make(chan bus.ProgressEvent, 4)
	b.ProgressWalker.Subscribe(func(e bus.ProgressEvent) { progressCh <- e })
	completeCh := make(chan bus.WalkerCompleteEvent, 1)
	b.WalkerComplete.Subscribe(func(e bus.WalkerCompleteEvent) { completeCh <- e })

	event, err := w.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "B", event.Best)
	require.NotNil(t, event.BestMetric)
	assert.InDelta(t, 1, *event.BestMetric, 1e-9)

	require.Len(t, event.Results, 2)
	assert.Equal(t, "B", event.Results[0].Strategy)
	assert.Equal(t, "A", event.Results[1].Strategy)
	assert.Nil(t, event.Results[1].Metric, "undefined metric ranks last")

	for _, want := range []int{1, 2} {
		select {
		case e := <-progressCh:
			assert.Equal(t, "sweep-1", e.Name)
			assert.Equal(t, want, e.Processed)
			assert.Equal(t, 2, e.Total)
		case <-time.After(5 * time.Second):
			t.Fatal("missing progress event")
		}
	}

	select {
	case e := <-completeCh:
		assert.Equal(t, *event, e)
	case <-time.After(5 * time.Second):
		t.Fatal("completion event not published")
	}
}

func TestWalker_AllMetricsUndefined(t *testing.T) {
	entries := []WalkerEntry{
		{StrategyName: "A", Backtest: stubSweep{symbol: "BTCUSDT"}},
	}
	w, _ := newWalker(t, "sharpeRatio", entries)

	event, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, event.Best, "no winner when no metric is defined")
	assert.Nil(t, event.BestMetric)
	require.Len(t, event.Results, 1)
}

func TestWalker_CancellationAbortsSweep(t *testing.T) {
	entries := []WalkerEntry{
		{StrategyName: "A", Backtest: stubSweep{
			symbol:  "BTCUSDT",
			results: []models.TickResult{sweepClose("A", 1)},
			forever: true,
		}},
		{StrategyName: "B", Backtest: stubSweep{symbol: "BTCUSDT"}},
	}
	w, _ := newWalker(t, "sharpeRatio", entries)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	event, err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, event)
}
