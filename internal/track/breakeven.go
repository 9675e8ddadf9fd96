package track

import (
	"sync"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/models"
)

// BreakevenTracker arms a breakeven stop once per signal: when the price has
// moved the full round-trip cost past entry, the stop-loss is pulled to the
// entry price so the position can no longer lose.
type BreakevenTracker struct {
	thresholdPercent float64
	bus              *bus.Bus

	mu    sync.Mutex
	armed map[string]struct{}
}

// NewBreakevenTracker creates a tracker. thresholdPercent is the favorable
// move, in percent, required before arming; callers derive it as
// 2 x (slippagePercent + feePercent).
func NewBreakevenTracker(thresholdPercent float64, eventBus *bus.Bus) *BreakevenTracker {
	return &BreakevenTracker{
		thresholdPercent: thresholdPercent,
		bus:              eventBus,
		armed:            make(map[string]struct{}),
	}
}

// Observe checks the arming condition and, on the first satisfying tick,
// sets the trailing stop to the entry price and publishes a breakeven event.
// Returns true only on the tick that armed.
func (t *BreakevenTracker) Observe(s *models.Signal, price float64, backtest bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.armed[s.ID]; ok {
		return false
	}
	if revenuePercent(s, price) < t.thresholdPercent {
		return false
	}

	t.armed[s.ID] = struct{}{}
	entry := s.PriceOpen
	s.TrailingStopLoss = &entry
	t.bus.Breakeven.Publish(bus.BreakevenEvent{
		Signal:   s.Clone(),
		Price:    price,
		Backtest: backtest,
	})
	return true
}

// Armed reports whether the signal's breakeven stop has been armed.
func (t *BreakevenTracker) Armed(signalID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.armed[signalID]
	return ok
}

// Forget drops the armed flag for a signal after it closes or cancels.
func (t *BreakevenTracker) Forget(signalID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.armed, signalID)
}
