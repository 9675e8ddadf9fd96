// Package driver runs strategy cores against a clock: a frame replay for
// backtests, wall time for live trading, and a ranked multi-strategy sweep
// for walker comparisons.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/models"
	"github.com/signalrunner/signalrunner/internal/oracle"
	"github.com/signalrunner/signalrunner/internal/strategy"
)

// Backtest replays a frame's tick instants through a core and yields the
// terminal (closed and cancelled) results on a pull channel. Once a signal
// opens, the driver fast-forwards through its lifetime with a single
// simulation instead of ticking minute by minute.
type Backtest struct {
	core   *strategy.Core
	oracle *oracle.Oracle
	symbol string
	name   string
	frame  models.Frame
	bus    *bus.Bus
	logger *logrus.Entry
}

// BacktestParams wires a backtest driver.
type BacktestParams struct {
	Core         *strategy.Core
	Oracle       *oracle.Oracle
	Symbol       string
	StrategyName string
	Frame        models.Frame
	Bus          *bus.Bus
	Logger       *logrus.Logger
}

func NewBacktest(p BacktestParams) *Backtest {
	return &Backtest{
		core:   p.Core,
		oracle: p.Oracle,
		symbol: p.Symbol,
		name:   p.StrategyName,
		frame:  p.Frame,
		bus:    p.Bus,
		logger: p.Logger.WithFields(logrus.Fields{
			"driver": "backtest", "strategy": p.StrategyName, "symbol": p.Symbol,
		}),
	}
}

// Symbol returns the traded symbol.
func (d *Backtest) Symbol() string { return d.symbol }

// StrategyName returns the strategy under test.
func (d *Backtest) StrategyName() string { return d.name }

// Run starts the replay. The returned channel is unbuffered: the consumer
// pulls results at its own pace and may abandon the run by cancelling the
// context. The channel closes when the frame is exhausted or the run aborts.
func (d *Backtest) Run(ctx context.Context) <-chan models.TickResult {
	out := make(chan models.TickResult)

	go func() {
		defer close(out)
		defer d.bus.DoneBacktest.Publish(bus.DoneEvent{Symbol: d.symbol, StrategyName: d.name})

		times := d.frame.Timestamps()
		i := 0
		for i < len(times) {
			if ctx.Err() != nil {
				return
			}
			now := times[i]

			res, err := d.core.Tick(ctx, now)
			if err != nil {
				if errors.Is(err, strategy.ErrInvariant) {
					d.logger.WithError(err).Error("aborting run")
					return
				}
				// Transient failure for this instant only.
				i++
				continue
			}

			switch res.Action {
			case models.ActionOpened:
				closedRes, ok := d.fastForward(ctx, res.Signal, now)
				if !ok {
					return
				}
				i = skipPast(times, i, closedRes.CloseTimestamp)
				if !yield(ctx, out, closedRes) {
					return
				}

			case models.ActionClosed:
				i = skipPast(times, i, res.CloseTimestamp)
				if !yield(ctx, out, res) {
					return
				}

			case models.ActionCancelled:
				i++
				if !yield(ctx, out, res) {
					return
				}

			default:
				i++
			}
		}
	}()

	return out
}

// fastForward asks the oracle for the signal's lifetime of future 1-minute
// candles and simulates it to closure.
func (d *Backtest) fastForward(ctx context.Context, s *models.Signal, now time.Time) (models.TickResult, bool) {
	candles, err := d.oracle.CandlesAfter(ctx, d.symbol, models.Interval1m, s.MinuteEstimatedTime, now)
	if err != nil {
		d.bus.PublishError(d.symbol, d.name, err)
		return models.TickResult{}, false
	}
	if len(candles) == 0 {
		d.logger.Warn("no future candles, terminating run")
		return models.TickResult{}, false
	}

	res, err := d.core.SimulateBacktest(candles)
	if err != nil {
		d.bus.PublishError(d.symbol, d.name, err)
		return models.TickResult{}, false
	}
	return res, true
}

// skipPast advances the index past every instant strictly before ts. The
// instant at ts itself is ticked again, which is harmless: the session is
// idle by then.
func skipPast(times []time.Time, i int, ts time.Time) int {
	for i < len(times) && times[i].Before(ts) {
		i++
	}
	return i
}

func yield(ctx context.Context, out chan<- models.TickResult, r models.TickResult) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
