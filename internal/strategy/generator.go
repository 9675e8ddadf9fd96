// Package strategy implements the per-(strategy, symbol) signal lifecycle:
// proposal solicitation, validation, risk admission, scheduled activation,
// TP/SL/expiry monitoring, partial closes, trailing levels and the breakeven
// arm. One Core instance owns one session and is ticked sequentially by a
// driver.
package strategy

import (
	"context"
	"time"

	"github.com/signalrunner/signalrunner/internal/models"
)

// Proposal is what a signal generator returns. PriceOpen nil means an
// immediate market entry at the current reference price; non-nil means a
// limit entry that sits scheduled until the price is reached.
type Proposal struct {
	ID                  string
	Note                string
	Direction           models.Direction
	PriceOpen           *float64
	PriceTakeProfit     float64
	PriceStopLoss       float64
	MinuteEstimatedTime int
}

// GeneratorFunc is the user-supplied signal proposer. Returning (nil, nil)
// means no opportunity right now. It may be called concurrently for
// different (strategy, symbol) pairs but never re-entered for the same pair.
type GeneratorFunc func(ctx context.Context, symbol string, now time.Time) (*Proposal, error)
