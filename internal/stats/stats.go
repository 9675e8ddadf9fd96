// Package stats accumulates closed-signal outcomes per (symbol, strategy)
// and derives the reporting statistics. Every ratio degrades to nil instead
// of NaN or infinity when its inputs cannot support it.
package stats

import (
	"math"
	"sync"
	"time"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/models"
)

// recentLimit bounds the kept event history.
const recentLimit = 250

// Key identifies one accumulation bucket.
type Key struct {
	Symbol       string
	StrategyName string
}

// Report is a snapshot of the derived statistics for one bucket. Pointer
// fields are nil when the statistic is undefined.
type Report struct {
	TotalClosed int
	WinCount    int
	LossCount   int

	WinRate               *float64
	TotalPnl              *float64
	AvgPnl                *float64
	StdDev                *float64
	SharpeRatio           *float64
	AnnualizedSharpeRatio *float64
	CertaintyRatio        *float64
	ExpectedYearlyReturns *float64
}

// Metric extracts a statistic by its configuration name, nil when unknown
// or undefined.
func (r Report) Metric(name string) *float64 {
	switch name {
	case "winRate":
		return r.WinRate
	case "totalPnl":
		return r.TotalPnl
	case "avgPnl":
		return r.AvgPnl
	case "stdDev":
		return r.StdDev
	case "sharpeRatio":
		return r.SharpeRatio
	case "annualizedSharpeRatio":
		return r.AnnualizedSharpeRatio
	case "certaintyRatio":
		return r.CertaintyRatio
	case "expectedYearlyReturns":
		return r.ExpectedYearlyReturns
	default:
		return nil
	}
}

type bucket struct {
	pnls      []float64
	durations []time.Duration
	winCount  int
	lossCount int
}

// Aggregator collects closed outcomes. It can be fed explicitly with Record
// (walker sweeps) or attached to a bus (live and backtest runs).
type Aggregator struct {
	mu      sync.Mutex
	buckets map[Key]*bucket
	recent  []models.TickResult
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{buckets: make(map[Key]*bucket)}
}

// AttachBus subscribes the aggregator to the union signal topic and returns
// the unsubscribe function.
func (a *Aggregator) AttachBus(b *bus.Bus) (unsubscribe func()) {
	return b.SignalAny.Subscribe(a.Record)
}

// Record folds one lifecycle event into the statistics and the bounded
// recent-event list.
func (a *Aggregator) Record(r models.TickResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.appendRecent(r)

	if r.Action != models.ActionClosed || r.PnL == nil || r.Signal == nil {
		return
	}

	key := Key{Symbol: r.Symbol, StrategyName: r.StrategyName}
	b, ok := a.buckets[key]
	if !ok {
		b = &bucket{}
		a.buckets[key] = b
	}
	b.pnls = append(b.pnls, r.PnL.PnlPercentage)
	b.durations = append(b.durations, r.CloseTimestamp.Sub(r.Signal.PendingAt))
	if r.PnL.PnlPercentage > 0 {
		b.winCount++
	} else {
		b.lossCount++
	}
}

// appendRecent keeps the most recent events, collapsing consecutive idle
// runs to their last entry.
func (a *Aggregator) appendRecent(r models.TickResult) {
	if r.Action == models.ActionIdle && len(a.recent) > 0 {
		if last := a.recent[len(a.recent)-1]; last.Action == models.ActionIdle &&
			last.Symbol == r.Symbol && last.StrategyName == r.StrategyName {
			a.recent[len(a.recent)-1] = r
			return
		}
	}
	a.recent = append(a.recent, r)
	if len(a.recent) > recentLimit {
		a.recent = a.recent[len(a.recent)-recentLimit:]
	}
}

// Recent returns a copy of the kept event history, oldest first.
func (a *Aggregator) Recent() []models.TickResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.TickResult, len(a.recent))
	copy(out, a.recent)
	return out
}

// Report derives the statistics snapshot for one bucket.
func (a *Aggregator) Report(symbol, strategyName string) Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[Key{Symbol: symbol, StrategyName: strategyName}]
	if !ok || len(b.pnls) == 0 {
		return Report{}
	}

	n := float64(len(b.pnls))
	report := Report{
		TotalClosed: len(b.pnls),
		WinCount:    b.winCount,
		LossCount:   b.lossCount,
	}

	total := 0.0
	for _, p := range b.pnls {
		total += p
	}
	avg := total / n

	variance := 0.0
	for _, p := range b.pnls {
		variance += (p - avg) * (p - avg)
	}
	stdDev := math.Sqrt(variance / n)

	report.WinRate = safe(float64(b.winCount) / n * 100)
	report.TotalPnl = safe(total)
	report.AvgPnl = safe(avg)
	report.StdDev = safe(stdDev)

	if stdDev > 0 {
		sharpe := avg / stdDev
		report.SharpeRatio = safe(sharpe)
		report.AnnualizedSharpeRatio = safe(sharpe * math.Sqrt(365))
	}

	if winSum, lossSum := b.sums(); b.winCount > 0 && b.lossCount > 0 {
		avgWin := winSum / float64(b.winCount)
		avgLoss := lossSum / float64(b.lossCount)
		if avgLoss != 0 {
			report.CertaintyRatio = safe(avgWin / math.Abs(avgLoss))
		}
	}

	var totalDuration time.Duration
	for _, d := range b.durations {
		totalDuration += d
	}
	avgDurationDays := totalDuration.Hours() / 24 / n
	if avgDurationDays > 0 {
		report.ExpectedYearlyReturns = safe(avg * 365 / avgDurationDays)
	}

	return report
}

func (b *bucket) sums() (winSum, lossSum float64) {
	for _, p := range b.pnls {
		if p > 0 {
			winSum += p
		} else {
			lossSum += p
		}
	}
	return winSum, lossSum
}

func safe(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
