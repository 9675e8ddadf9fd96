package strategy

import (
	"fmt"
	"time"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/models"
)

// Stop flags the session: no new proposals are solicited, but an existing
// pending or scheduled signal is still driven to natural closure.
func (c *Core) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

// Stopped reports whether Stop has been called.
func (c *Core) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Draining reports whether the session still carries a signal to drive to
// closure. Drivers use it to decide when a graceful stop is complete.
func (c *Core) Draining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil || c.scheduled != nil
}

// PendingSignal returns a snapshot of the open position, nil when none.
func (c *Core) PendingSignal() *models.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Clone()
}

// ScheduledSignal returns a snapshot of the awaiting limit entry, nil when
// none.
func (c *Core) ScheduledSignal() *models.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduled.Clone()
}

// Cancel cancels the scheduled signal with reason "user" and the given
// correlation id. It does not stop the strategy. Returns false when nothing
// was scheduled.
func (c *Core) Cancel(cancelID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduled == nil {
		return false, nil
	}
	_, err := c.cancelScheduledLocked(models.CancelUser, cancelID, c.lastPrice)
	return err == nil, err
}

// PartialProfit commits a partial close of the pending position taken in
// profit at the given price.
func (c *Core) PartialProfit(percent, currentPrice float64, now time.Time) error {
	return c.partialClose(models.PartialProfit, percent, currentPrice, now)
}

// PartialLoss commits a partial close taken in loss.
func (c *Core) PartialLoss(percent, currentPrice float64, now time.Time) error {
	return c.partialClose(models.PartialLoss, percent, currentPrice, now)
}

func (c *Core) partialClose(kind models.PartialType, percent, currentPrice float64, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return fmt.Errorf("partial close: no pending signal: %w", ErrInvariant)
	}
	if err := c.partials.Record(c.pending, kind, percent, currentPrice, now); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvariant)
	}
	c.persistPendingLocked(c.pending)

	executed := c.pending.Partials[len(c.pending.Partials)-1]
	event := bus.PartialEvent{
		Signal:   c.pending.Clone(),
		Type:     kind,
		Band:     executed.Percent,
		Price:    currentPrice,
		Backtest: c.backtest,
		Executed: true,
	}
	if kind == models.PartialProfit {
		c.bus.PartialProfit.Publish(event)
	} else {
		c.bus.PartialLoss.Publish(event)
	}
	return nil
}

// TrailingStop shifts the effective stop-loss by percentShift of its current
// level. Positive shifts tighten toward the price for the signal's
// direction. The first call locks the shift sign; a later flip is an
// invariant violation. The stop never crosses the entry price and, once the
// direction is locked, every update must keep moving that way.
func (c *Core) TrailingStop(percentShift, currentPrice float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return fmt.Errorf("trailing stop: no pending signal: %w", ErrInvariant)
	}
	s := c.pending
	dir := s.Direction.Multiplier()

	sign, err := shiftSign(percentShift)
	if err != nil {
		return fmt.Errorf("trailing stop: %w", err)
	}
	if c.trailStopSign != 0 && c.trailStopSign != sign {
		return fmt.Errorf("trailing stop: shift direction flip: %w", ErrInvariant)
	}

	candidate := s.EffectiveStopLoss() * (1 + dir*percentShift/100)
	if dir*(candidate-s.PriceOpen) > 0 {
		return fmt.Errorf("trailing stop %.8g would cross entry %.8g", candidate, s.PriceOpen)
	}
	if s.TrailingStopLoss != nil {
		// Each update must keep moving in the locked direction.
		if float64(sign)*dir*(candidate-*s.TrailingStopLoss) < 0 {
			return fmt.Errorf("trailing stop %.8g would reverse against %.8g", candidate, *s.TrailingStopLoss)
		}
	}

	c.trailStopSign = sign
	s.TrailingStopLoss = &candidate
	c.persistPendingLocked(s)
	return nil
}

// TrailingTake shifts the effective take-profit analogously. It additionally
// refuses a level the current price has already crossed, which would close
// the position on the next tick.
func (c *Core) TrailingTake(percentShift, currentPrice float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return fmt.Errorf("trailing take: no pending signal: %w", ErrInvariant)
	}
	s := c.pending
	dir := s.Direction.Multiplier()

	sign, err := shiftSign(percentShift)
	if err != nil {
		return fmt.Errorf("trailing take: %w", err)
	}
	if c.trailTakeSign != 0 && c.trailTakeSign != sign {
		return fmt.Errorf("trailing take: shift direction flip: %w", ErrInvariant)
	}

	candidate := s.EffectiveTakeProfit() * (1 + dir*percentShift/100)
	if dir*(currentPrice-candidate) >= 0 {
		return fmt.Errorf("trailing take %.8g already crossed by price %.8g", candidate, currentPrice)
	}
	if s.TrailingTakeProfit != nil {
		// Each update must keep moving in the locked direction.
		if float64(sign)*dir*(candidate-*s.TrailingTakeProfit) < 0 {
			return fmt.Errorf("trailing take %.8g would reverse against %.8g", candidate, *s.TrailingTakeProfit)
		}
	}

	c.trailTakeSign = sign
	s.TrailingTakeProfit = &candidate
	c.persistPendingLocked(s)
	return nil
}

func shiftSign(shift float64) (int, error) {
	switch {
	case shift > 0:
		return 1, nil
	case shift < 0:
		return -1, nil
	default:
		return 0, fmt.Errorf("zero percent shift")
	}
}

// Breakeven force-runs the breakeven arm at the given price and reports
// whether it armed on this call.
func (c *Core) Breakeven(currentPrice float64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return false, fmt.Errorf("breakeven: no pending signal: %w", ErrInvariant)
	}
	armed := c.breakevens.Observe(c.pending, currentPrice, c.backtest)
	if armed {
		c.persistPendingLocked(c.pending)
	}
	return armed, nil
}

// Rehydrate loads the persisted pending and scheduled slots into the
// session. Live drivers call it once before the first tick after a restart.
func (c *Core) Rehydrate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.storeKey()
	pending, err := c.store.ReadPending(key)
	if err != nil {
		return fmt.Errorf("rehydrating pending slot: %w", err)
	}
	scheduled, err := c.store.ReadScheduled(key)
	if err != nil {
		return fmt.Errorf("rehydrating scheduled slot: %w", err)
	}
	if pending != nil && scheduled != nil && pending.ID != scheduled.ID {
		return fmt.Errorf("store holds pending %s and scheduled %s for %s/%s: %w",
			pending.ID, scheduled.ID, key.StrategyName, key.Symbol, ErrInvariant)
	}

	c.pending = pending
	c.scheduled = scheduled
	if pending != nil {
		c.gate.AddSignal(c.symbol, c.routing.StrategyName)
		c.logger.WithField("signal", pending.ID).Info("rehydrated pending signal")
	}
	if scheduled != nil {
		c.logger.WithField("signal", scheduled.ID).Info("rehydrated scheduled signal")
	}
	return nil
}
