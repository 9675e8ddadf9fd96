package strategy

import (
	"github.com/signalrunner/signalrunner/internal/config"
	"github.com/signalrunner/signalrunner/internal/models"
)

// legReturn is the fee- and slippage-adjusted percentage return of closing
// (part of) the position at exitPrice. Slippage worsens both fills; fees are
// charged once per side.
func legReturn(s *models.Signal, exitPrice float64, engine config.EngineConfig) float64 {
	slip := engine.SlippagePercent / 100
	effEntry, effExit := effectivePrices(s, exitPrice, slip)
	gross := s.Direction.Multiplier() * (effExit - effEntry) / effEntry * 100
	return gross - 2*engine.FeePercent
}

func effectivePrices(s *models.Signal, exitPrice, slip float64) (entry, exit float64) {
	if s.Direction == models.DirectionShort {
		// Entry sells below the print, exit buys above it.
		return s.PriceOpen * (1 - slip), exitPrice * (1 + slip)
	}
	return s.PriceOpen * (1 + slip), exitPrice * (1 - slip)
}

// closePnL computes the final outcome of a signal closed at closePrice,
// weighting each executed partial at its own price and the remaining portion
// at the close.
func closePnL(s *models.Signal, closePrice float64, engine config.EngineConfig) models.PnL {
	total := 0.0
	for _, p := range s.Partials {
		total += p.Percent / 100 * legReturn(s, p.Price, engine)
	}
	remaining := 100 - s.ClosedPercent()
	if remaining > 0 {
		total += remaining / 100 * legReturn(s, closePrice, engine)
	}

	slip := engine.SlippagePercent / 100
	effEntry, effExit := effectivePrices(s, closePrice, slip)
	return models.PnL{
		PnlPercentage:  total,
		EffectiveEntry: effEntry,
		EffectiveExit:  effExit,
	}
}

// progress returns percentTp and percentSl: how far the price has travelled
// from entry toward the effective TP, and toward the effective SL, each
// clamped to [0, 100] and zero when the move points the other way.
func progress(s *models.Signal, price float64) (percentTP, percentSL float64) {
	dir := s.Direction.Multiplier()
	move := dir * (price - s.PriceOpen)

	if tpSpan := dir * (s.EffectiveTakeProfit() - s.PriceOpen); tpSpan > 0 {
		percentTP = clampPercent(move / tpSpan * 100)
	}
	if slSpan := dir * (s.PriceOpen - s.EffectiveStopLoss()); slSpan > 0 {
		percentSL = clampPercent(-move / slSpan * 100)
	}
	return percentTP, percentSL
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
