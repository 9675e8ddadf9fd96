// Package models provides data structures for signals, candles, frames and
// lifecycle events shared by every component of the engine.
package models

import (
	"fmt"
	"time"
)

// Direction is the side of a trade.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Valid reports whether the direction is one of the two known sides.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Multiplier returns +1 for long and -1 for short, used to fold the two
// directional comparisons into one formula.
func (d Direction) Multiplier() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// CloseReason explains why a pending signal was closed.
type CloseReason string

const (
	CloseTakeProfit  CloseReason = "take_profit"
	CloseStopLoss    CloseReason = "stop_loss"
	CloseTimeExpired CloseReason = "time_expired"
)

// CancelReason explains why a scheduled signal never activated.
type CancelReason string

const (
	CancelTimeout     CancelReason = "timeout"
	CancelPriceReject CancelReason = "price_reject"
	CancelUser        CancelReason = "user"
)

// PartialType discriminates partial closes taken in profit vs in loss.
type PartialType string

const (
	PartialProfit PartialType = "profit"
	PartialLoss   PartialType = "loss"
)

// PartialClose records one user-initiated partial close of a pending signal.
type PartialClose struct {
	Type    PartialType `json:"type"`
	Percent float64     `json:"percent"`
	Price   float64     `json:"price"`
	At      time.Time   `json:"at"`
}

// Signal is a proposed or active trade intention. PriceOpenRequested is set
// only for limit entries: such signals sit in the scheduled slot until the
// reference price crosses PriceOpen in the favorable sense.
type Signal struct {
	ID                  string        `json:"id"`
	Direction           Direction     `json:"direction"`
	PriceOpen           float64       `json:"price_open"`
	PriceTakeProfit     float64       `json:"price_take_profit"`
	PriceStopLoss       float64       `json:"price_stop_loss"`
	PriceOpenRequested  *float64      `json:"price_open_requested,omitempty"`
	TrailingStopLoss    *float64      `json:"trailing_stop_loss,omitempty"`
	TrailingTakeProfit  *float64      `json:"trailing_take_profit,omitempty"`
	MinuteEstimatedTime int           `json:"minute_estimated_time"`
	ScheduledAt         time.Time     `json:"scheduled_at"`
	PendingAt           time.Time     `json:"pending_at"`
	Symbol              string        `json:"symbol"`
	StrategyName        string        `json:"strategy_name"`
	ExchangeName        string        `json:"exchange_name"`
	FrameName           string        `json:"frame_name"`
	Note                string        `json:"note,omitempty"`
	Partials            []PartialClose `json:"partials,omitempty"`
}

// EffectiveStopLoss returns the trailing stop when armed, the original
// stop-loss otherwise.
func (s *Signal) EffectiveStopLoss() float64 {
	if s.TrailingStopLoss != nil {
		return *s.TrailingStopLoss
	}
	return s.PriceStopLoss
}

// EffectiveTakeProfit returns the trailing take-profit when set, the original
// take-profit otherwise.
func (s *Signal) EffectiveTakeProfit() float64 {
	if s.TrailingTakeProfit != nil {
		return *s.TrailingTakeProfit
	}
	return s.PriceTakeProfit
}

// ClosedPercent is the cumulative percentage of the position already taken
// off through partial closes.
func (s *Signal) ClosedPercent() float64 {
	total := 0.0
	for _, p := range s.Partials {
		total += p.Percent
	}
	return total
}

// Lifetime is the expected lifetime of the signal once pending.
func (s *Signal) Lifetime() time.Duration {
	return time.Duration(s.MinuteEstimatedTime) * time.Minute
}

// Clone returns a deep copy so callers can publish snapshots without racing
// subsequent mutations.
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	if s.PriceOpenRequested != nil {
		v := *s.PriceOpenRequested
		c.PriceOpenRequested = &v
	}
	if s.TrailingStopLoss != nil {
		v := *s.TrailingStopLoss
		c.TrailingStopLoss = &v
	}
	if s.TrailingTakeProfit != nil {
		v := *s.TrailingTakeProfit
		c.TrailingTakeProfit = &v
	}
	if s.Partials != nil {
		c.Partials = make([]PartialClose, len(s.Partials))
		copy(c.Partials, s.Partials)
	}
	return &c
}

func (s *Signal) String() string {
	return fmt.Sprintf("%s %s %s open=%.8g tp=%.8g sl=%.8g ttl=%dm",
		s.ID, s.Symbol, s.Direction, s.PriceOpen, s.PriceTakeProfit, s.PriceStopLoss, s.MinuteEstimatedTime)
}

// Routing identifies the owning strategy run. FrameName is empty in live mode.
type Routing struct {
	StrategyName string
	ExchangeName string
	FrameName    string
}
