package strategy

import (
	"fmt"

	"github.com/signalrunner/signalrunner/internal/models"
)

// SimulateBacktest fast-forwards the pending signal through a contiguous
// 1-minute candle slice covering its remaining lifetime: a rolling VWAP
// window replays the expiry/TP/SL checks and the first trigger closes the
// position. When nothing triggers by the end of the slice, the signal
// expires at the last window's VWAP.
//
// Band milestones and the breakeven arm are per-tick concerns and do not run
// on this path.
func (c *Core) SimulateBacktest(candles []models.Candle) (models.TickResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return models.TickResult{}, fmt.Errorf("simulate: no pending signal: %w", ErrInvariant)
	}
	if c.scheduled != nil {
		return models.TickResult{}, fmt.Errorf("simulate: signal %s is still scheduled: %w", c.scheduled.ID, ErrInvariant)
	}
	if len(candles) == 0 {
		return models.TickResult{}, fmt.Errorf("simulate: empty candle slice")
	}

	s := c.pending
	dir := s.Direction.Multiplier()
	window := c.engine.AvgPriceCandleCount

	var (
		vwap     float64
		haveVwap bool
	)
	for i, candle := range candles {
		start := i - window + 1
		if start < 0 {
			continue
		}
		vwap = models.VWAP(candles[start : i+1])
		haveVwap = true

		if candle.Timestamp.Sub(s.PendingAt) >= s.Lifetime() {
			return c.closePendingLocked(s, models.CloseTimeExpired, vwap, candle.Timestamp)
		}
		if dir*(vwap-s.EffectiveTakeProfit()) >= 0 {
			return c.closePendingLocked(s, models.CloseTakeProfit, vwap, candle.Timestamp)
		}
		if dir*(vwap-s.EffectiveStopLoss()) <= 0 {
			return c.closePendingLocked(s, models.CloseStopLoss, vwap, candle.Timestamp)
		}
	}

	if !haveVwap {
		// Slice shorter than the window: fall back to what we have.
		vwap = models.VWAP(candles)
	}
	return c.closePendingLocked(s, models.CloseTimeExpired, vwap, candles[len(candles)-1].Timestamp)
}
