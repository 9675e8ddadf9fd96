package driver

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/models"
	"github.com/signalrunner/signalrunner/internal/stats"
)

// Sweep is the walker's view of a runnable backtest.
type Sweep interface {
	Symbol() string
	Run(ctx context.Context) <-chan models.TickResult
}

// WalkerEntry is one competitor in a walker sweep.
type WalkerEntry struct {
	StrategyName string
	Backtest     Sweep
}

// Walker runs each entry's backtest to exhaustion over the shared frame,
// ranks the strategies by the chosen statistic, and publishes the result.
// Strategies whose metric is undefined rank below every defined one.
type Walker struct {
	name    string
	metric  string
	entries []WalkerEntry
	bus     *bus.Bus
	logger  *logrus.Entry
}

// WalkerParams wires a walker driver.
type WalkerParams struct {
	Name    string
	Metric  string
	Entries []WalkerEntry
	Bus     *bus.Bus
	Logger  *logrus.Logger
}

func NewWalker(p WalkerParams) *Walker {
	return &Walker{
		name:    p.Name,
		metric:  p.Metric,
		entries: p.Entries,
		bus:     p.Bus,
		logger:  p.Logger.WithFields(logrus.Fields{"driver": "walker", "walker": p.Name}),
	}
}

// Run executes the sweep sequentially. Cancelling the context aborts the
// current backtest and the sweep; the partial result is discarded.
func (w *Walker) Run(ctx context.Context) (*bus.WalkerCompleteEvent, error) {
	results := make([]bus.WalkerResult, 0, len(w.entries))

	for i, entry := range w.entries {
		agg := stats.New()
		for res := range entry.Backtest.Run(ctx) {
			agg.Record(res)
		}
		if err := ctx.Err(); err != nil {
			w.logger.WithField("strategy", entry.StrategyName).Warn("sweep cancelled")
			return nil, err
		}

		report := agg.Report(entry.Backtest.Symbol(), entry.StrategyName)
		metric := report.Metric(w.metric)
		results = append(results, bus.WalkerResult{Strategy: entry.StrategyName, Metric: metric})

		fields := logrus.Fields{"strategy": entry.StrategyName, "closed": report.TotalClosed}
		if metric != nil {
			fields[w.metric] = *metric
		}
		w.logger.WithFields(fields).Info("strategy swept")

		w.bus.ProgressWalker.Publish(bus.ProgressEvent{
			Name:      w.name,
			Processed: i + 1,
			Total:     len(w.entries),
		})
		w.bus.DoneWalker.Publish(bus.DoneEvent{
			Symbol:       entry.Backtest.Symbol(),
			StrategyName: entry.StrategyName,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Metric, results[j].Metric
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})

	event := &bus.WalkerCompleteEvent{Walker: w.name, Results: results}
	if len(results) > 0 && results[0].Metric != nil {
		event.Best = results[0].Strategy
		event.BestMetric = results[0].Metric
	}
	w.bus.WalkerComplete.Publish(*event)
	return event, nil
}
