// Package track hosts the per-signal observers that run on every pending
// tick: the partial-close band detector and the breakeven arm.
package track

import (
	"fmt"
	"sync"
	"time"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/models"
)

// DefaultBandStep is the spacing between partial milestone bands, in percent
// of the distance from entry to the original take-profit (profit side) or
// stop-loss (loss side).
const DefaultBandStep = 10.0

// revenuePercent is the signed move from entry in percent of entry, positive
// when favorable for the signal's direction.
func revenuePercent(s *models.Signal, price float64) float64 {
	return s.Direction.Multiplier() * (price - s.PriceOpen) / s.PriceOpen * 100
}

// bandProgress maps the current price onto the profit and loss band scales.
// Progress is measured against the original TP/SL levels so the scale stays
// fixed when trailing overrides move the effective levels.
func bandProgress(s *models.Signal, price float64) (profit, loss float64) {
	dir := s.Direction.Multiplier()
	move := dir * (price - s.PriceOpen)

	if tpSpan := dir * (s.PriceTakeProfit - s.PriceOpen); tpSpan > 0 && move > 0 {
		profit = move / tpSpan * 100
	}
	if slSpan := dir * (s.PriceOpen - s.PriceStopLoss); slSpan > 0 && move < 0 {
		loss = -move / slSpan * 100
	}
	return profit, loss
}

type bandState struct {
	profit map[float64]struct{}
	loss   map[float64]struct{}
}

// PartialTracker watches a pending signal's price and publishes a
// partial-profit or partial-loss event the first time each band threshold is
// strictly crossed. Executed partial closes are recorded on the signal
// itself so they persist and weight the final PnL.
type PartialTracker struct {
	bandStep float64
	bus      *bus.Bus

	mu    sync.Mutex
	state map[string]*bandState
}

// NewPartialTracker creates a tracker with the given band spacing; step <= 0
// falls back to DefaultBandStep.
func NewPartialTracker(bandStep float64, eventBus *bus.Bus) *PartialTracker {
	if bandStep <= 0 {
		bandStep = DefaultBandStep
	}
	return &PartialTracker{
		bandStep: bandStep,
		bus:      eventBus,
		state:    make(map[string]*bandState),
	}
}

func (t *PartialTracker) signalState(id string) *bandState {
	st, ok := t.state[id]
	if !ok {
		st = &bandState{profit: make(map[float64]struct{}), loss: make(map[float64]struct{})}
		t.state[id] = st
	}
	return st
}

// Observe evaluates the current price and emits one event per newly crossed
// band, lowest band first.
func (t *PartialTracker) Observe(s *models.Signal, price float64, backtest bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.signalState(s.ID)
	profit, loss := bandProgress(s, price)

	if profit > 0 {
		t.emitBands(st.profit, profit, s, models.PartialProfit, price, backtest)
	}
	if loss > 0 {
		t.emitBands(st.loss, loss, s, models.PartialLoss, price, backtest)
	}
}

func (t *PartialTracker) emitBands(seen map[float64]struct{}, progress float64, s *models.Signal, kind models.PartialType, price float64, backtest bool) {
	for band := t.bandStep; band < progress; band += t.bandStep {
		if _, ok := seen[band]; ok {
			continue
		}
		seen[band] = struct{}{}
		event := bus.PartialEvent{
			Signal:   s.Clone(),
			Type:     kind,
			Band:     band,
			Price:    price,
			Backtest: backtest,
		}
		if kind == models.PartialProfit {
			t.bus.PartialProfit.Publish(event)
		} else {
			t.bus.PartialLoss.Publish(event)
		}
	}
}

// Record appends an executed partial close to the signal's history. The
// cumulative closed percent is capped at 100: a request that would exceed the
// cap is truncated to the remaining portion, and a request with nothing left
// to close is an error.
func (t *PartialTracker) Record(s *models.Signal, kind models.PartialType, percent, price float64, now time.Time) error {
	if percent <= 0 {
		return fmt.Errorf("partial close percent must be positive, got %.4g", percent)
	}
	remaining := 100 - s.ClosedPercent()
	if remaining <= 0 {
		return fmt.Errorf("signal %s is already fully closed by partials", s.ID)
	}
	if percent > remaining {
		percent = remaining
	}
	s.Partials = append(s.Partials, models.PartialClose{
		Type:    kind,
		Percent: percent,
		Price:   price,
		At:      now,
	})
	return nil
}

// Forget drops all band state for a signal after it closes or cancels.
func (t *PartialTracker) Forget(signalID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, signalID)
}
