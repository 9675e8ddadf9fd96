package models

import "time"

// TickAction is the discriminant of a TickResult.
type TickAction string

const (
	ActionIdle      TickAction = "idle"
	ActionScheduled TickAction = "scheduled"
	ActionOpened    TickAction = "opened"
	ActionActive    TickAction = "active"
	ActionClosed    TickAction = "closed"
	ActionCancelled TickAction = "cancelled"
)

// PnL is the fee- and slippage-adjusted outcome of a closed signal.
type PnL struct {
	PnlPercentage  float64 `json:"pnl_percentage"`
	EffectiveEntry float64 `json:"effective_entry"`
	EffectiveExit  float64 `json:"effective_exit"`
}

// TickResult is the tagged result of one strategy tick and doubles as the
// signal lifecycle event published on the bus. Fields beyond the common set
// are populated per Action: Signal on everything but idle, PercentTP/PercentSL
// on active, the Close* group on closed, the Cancel* group on cancelled.
type TickResult struct {
	Action       TickAction `json:"action"`
	Symbol       string     `json:"symbol"`
	StrategyName string     `json:"strategy_name"`
	ExchangeName string     `json:"exchange_name"`
	FrameName    string     `json:"frame_name"`
	CurrentPrice float64    `json:"current_price"`
	Backtest     bool       `json:"backtest"`

	Signal *Signal `json:"signal,omitempty"`

	PercentTP float64 `json:"percent_tp,omitempty"`
	PercentSL float64 `json:"percent_sl,omitempty"`

	CloseReason    CloseReason `json:"close_reason,omitempty"`
	CloseTimestamp time.Time   `json:"close_timestamp,omitzero"`
	PnL            *PnL        `json:"pnl,omitempty"`

	CancelReason CancelReason `json:"cancel_reason,omitempty"`
	CancelID     string       `json:"cancel_id,omitempty"`
}

// Terminal reports whether the result ends the signal's lifecycle.
func (r TickResult) Terminal() bool {
	return r.Action == ActionClosed || r.Action == ActionCancelled
}
