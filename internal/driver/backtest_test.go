package driver

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/config"
	"github.com/signalrunner/signalrunner/internal/mock"
	"github.com/signalrunner/signalrunner/internal/models"
	"github.com/signalrunner/signalrunner/internal/oracle"
	"github.com/signalrunner/signalrunner/internal/risk"
	"github.com/signalrunner/signalrunner/internal/store"
	"github.com/signalrunner/signalrunner/internal/strategy"
)

func baseTime() time.Time {
	return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
}

func minuteAt(m int) time.Time {
	return baseTime().Add(time.Duration(m) * time.Minute)
}

type fixture struct {
	provider *mock.Provider
	bus      *bus.Bus
	core     *strategy.Core
	oracle   *oracle.Oracle
	logger   *logrus.Logger
}

func newFixture(t *testing.T, generator strategy.GeneratorFunc) *fixture {
	return newFixtureWith(t, generator, store.NewNoop())
}

func newFixtureWith(t *testing.T, generator strategy.GeneratorFunc, st store.Interface) *fixture {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &fixture{
		provider: mock.NewProvider("mock"),
		bus:      bus.New(logger),
		logger:   logger,
	}
	t.Cleanup(f.bus.Close)

	engine := config.Default().Engine
	f.oracle = oracle.New(f.provider, oracle.Config{
		AvgPriceCandleCount: engine.AvgPriceCandleCount,
		RetryCount:          1,
		RetryDelay:          time.Millisecond,
	}, logger)

	f.core = strategy.New(strategy.Params{
		Symbol:    "BTCUSDT",
		Routing:   models.Routing{StrategyName: "momentum", ExchangeName: "mock", FrameName: "may"},
		Backtest:  true,
		Cadence:   models.Interval1m,
		Engine:    engine,
		Generator: generator,
		Oracle:    f.oracle,
		Gate:      risk.NewGate(risk.Profile{Name: "test"}, f.bus, logger),
		Store:     st,
		Bus:       f.bus,
		Logger:    logger,
	})
	return f
}

func (f *fixture) backtest(frame models.Frame) *Backtest {
	return NewBacktest(BacktestParams{
		Core:         f.core,
		Oracle:       f.oracle,
		Symbol:       "BTCUSDT",
		StrategyName: "momentum",
		Frame:        frame,
		Bus:          f.bus,
		Logger:       f.logger,
	})
}

func onceGenerator(p *strategy.Proposal) strategy.GeneratorFunc {
	done := false
	return func(context.Context, string, time.Time) (*strategy.Proposal, error) {
		if done {
			return nil, nil
		}
		done = true
		return p, nil
	}
}

func riseSeries() []models.Candle {
	candles := mock.FlatSeries(baseTime(), models.Interval1m, 5, 100, 10)
	candles = append(candles, mock.LinearSeries(minuteAt(5), models.Interval1m, 10, 100.3, 103.3, 10)...)
	candles = append(candles, mock.FlatSeries(minuteAt(15), models.Interval1m, 105, 103.3, 10)...)
	return candles
}

func TestBacktest_FastForwardsToClose(t *testing.T) {
	f := newFixture(t, onceGenerator(&strategy.Proposal{
		Direction:           models.DirectionLong,
		PriceTakeProfit:     101,
		PriceStopLoss:       99,
		MinuteEstimatedTime: 60,
	}))
	f.provider.SetSeries("BTCUSDT", models.Interval1m, riseSeries())

	doneCh := make(chan bus.DoneEvent, 1)
	f.bus.DoneBacktest.Subscribe(func(e bus.DoneEvent) { doneCh <- e })

	frame := models.Frame{Name: "may", Start: baseTime(), End: minuteAt(120), Interval: models.Interval1m}
	var yielded []models.TickResult
	for r := range f.backtest(frame).Run(context.Background()) {
		yielded = append(yielded, r)
	}

	require.Len(t, yielded, 1)
	assert.Equal(t, models.ActionClosed, yielded[0].Action)
	assert.Equal(t, models.CloseTakeProfit, yielded[0].CloseReason)
	assert.True(t, yielded[0].CloseTimestamp.After(baseTime()))
	require.NotNil(t, yielded[0].PnL)
	assert.Greater(t, yielded[0].PnL.PnlPercentage, 0.0)

	select {
	case e := <-doneCh:
		assert.Equal(t, "momentum", e.StrategyName)
	case <-time.After(5 * time.Second):
		t.Fatal("done event not published")
	}
}

func TestBacktest_YieldsCancelled(t *testing.T) {
	f := newFixture(t, onceGenerator(&strategy.Proposal{
		Direction:           models.DirectionLong,
		PriceOpen:           func() *float64 { v := 101.0; return &v }(),
		PriceTakeProfit:     103,
		PriceStopLoss:       99.5,
		MinuteEstimatedTime: 60,
	}))
	candles := mock.FlatSeries(baseTime(), models.Interval1m, 5, 100, 10)
	candles = append(candles, mock.LinearSeries(minuteAt(5), models.Interval1m, 10, 99.8, 97, 10)...)
	candles = append(candles, mock.FlatSeries(minuteAt(15), models.Interval1m, 50, 97, 10)...)
	f.provider.SetSeries("BTCUSDT", models.Interval1m, candles)

	frame := models.Frame{Name: "may", Start: baseTime(), End: minuteAt(60), Interval: models.Interval1m}
	var yielded []models.TickResult
	for r := range f.backtest(frame).Run(context.Background()) {
		yielded = append(yielded, r)
	}

	require.Len(t, yielded, 1)
	assert.Equal(t, models.ActionCancelled, yielded[0].Action)
	assert.Equal(t, models.CancelPriceReject, yielded[0].CancelReason)
}

func TestBacktest_ConsumerCancellation(t *testing.T) {
	f := newFixture(t, func(context.Context, string, time.Time) (*strategy.Proposal, error) {
		return nil, nil
	})
	f.provider.SetSeries("BTCUSDT", models.Interval1m,
		mock.FlatSeries(baseTime(), models.Interval1m, 100, 100, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frame := models.Frame{Name: "may", Start: baseTime(), End: minuteAt(60), Interval: models.Interval1m}
	ch := f.backtest(frame).Run(ctx)

	select {
	case _, open := <-ch:
		assert.False(t, open, "a cancelled run closes its channel without yielding")
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close")
	}
}

func TestSkipPast_KeepsTheCloseInstant(t *testing.T) {
	times := []time.Time{minuteAt(0), minuteAt(1), minuteAt(2), minuteAt(3)}

	assert.Equal(t, 2, skipPast(times, 0, minuteAt(2)),
		"only instants strictly before the close are skipped")
	assert.Equal(t, 2, skipPast(times, 0, minuteAt(1).Add(30*time.Second)))
	assert.Equal(t, len(times), skipPast(times, 0, minuteAt(10)))
	assert.Equal(t, 3, skipPast(times, 3, minuteAt(0)), "the index never moves backwards")
}

func TestBacktest_EmptyFutureWindowTerminates(t *testing.T) {
	// Only enough candles to open; the fast-forward request comes back
	// empty and the run terminates cleanly.
	f := newFixture(t, onceGenerator(&strategy.Proposal{
		Direction:           models.DirectionLong,
		PriceTakeProfit:     101,
		PriceStopLoss:       99,
		MinuteEstimatedTime: 60,
	}))
	series := mock.FlatSeries(baseTime().Add(-5*time.Minute), models.Interval1m, 5, 100, 10)
	f.provider.SetSeries("BTCUSDT", models.Interval1m, series)

	frame := models.Frame{Name: "may", Start: baseTime(), End: minuteAt(30), Interval: models.Interval1m}
	var yielded []models.TickResult
	for r := range f.backtest(frame).Run(context.Background()) {
		yielded = append(yielded, r)
	}
	assert.Empty(t, yielded)
}
