package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/signalrunner/signalrunner/internal/config"
	"github.com/signalrunner/signalrunner/internal/models"
	"github.com/signalrunner/signalrunner/internal/oracle"
)

// Built-in generator tuning. Offsets are percent of the entry price.
const (
	momentumLookback   = 30
	momentumMarginPct  = 0.15
	momentumTPPct      = 1.2
	momentumSLPct      = 0.8
	momentumLifetime   = 120

	revertLookback   = 30
	revertStretchPct = 1.0
	revertTPPct      = 0.8
	revertSLPct      = 0.6
	revertLifetime   = 90
)

// GeneratorBuilder constructs a generator bound to a price oracle and the
// engine knobs.
type GeneratorBuilder func(orc *oracle.Oracle, engine config.EngineConfig) GeneratorFunc

var builders = map[string]GeneratorBuilder{
	"momentum":   newMomentumGenerator,
	"meanrevert": newMeanRevertGenerator,
}

// LookupGenerator resolves a built-in generator by its config name.
func LookupGenerator(name string) (GeneratorBuilder, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q, have %v", name, GeneratorNames())
	}
	return b, nil
}

// GeneratorNames lists the registered built-in generators, sorted.
func GeneratorNames() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newMomentumGenerator proposes a market long when the short-window VWAP
// runs ahead of the lookback VWAP by a margin, riding the move with a wide
// take-profit.
func newMomentumGenerator(orc *oracle.Oracle, engine config.EngineConfig) GeneratorFunc {
	return func(ctx context.Context, symbol string, now time.Time) (*Proposal, error) {
		fast, slow, err := windowPair(ctx, orc, symbol, now, momentumLookback)
		if err != nil || fast == 0 {
			return nil, err
		}
		if (fast-slow)/slow*100 < momentumMarginPct {
			return nil, nil
		}
		return &Proposal{
			Note:                "momentum breakout",
			Direction:           models.DirectionLong,
			PriceTakeProfit:     fast * (1 + momentumTPPct/100),
			PriceStopLoss:       fast * (1 - momentumSLPct/100),
			MinuteEstimatedTime: momentumLifetime,
		}, nil
	}
}

// newMeanRevertGenerator proposes a market short when price stretches too far
// above its lookback VWAP, betting on a pullback.
func newMeanRevertGenerator(orc *oracle.Oracle, engine config.EngineConfig) GeneratorFunc {
	return func(ctx context.Context, symbol string, now time.Time) (*Proposal, error) {
		fast, slow, err := windowPair(ctx, orc, symbol, now, revertLookback)
		if err != nil || fast == 0 {
			return nil, err
		}
		if (fast-slow)/slow*100 < revertStretchPct {
			return nil, nil
		}
		return &Proposal{
			Note:                "overextension pullback",
			Direction:           models.DirectionShort,
			PriceTakeProfit:     fast * (1 - revertTPPct/100),
			PriceStopLoss:       fast * (1 + revertSLPct/100),
			MinuteEstimatedTime: revertLifetime,
		}, nil
	}
}

// windowPair returns the VWAP of the oracle's short window and of the full
// lookback. A short candle history yields (0, 0, nil) so callers stay quiet
// until enough data accumulates.
func windowPair(ctx context.Context, orc *oracle.Oracle, symbol string, now time.Time, lookback int) (fast, slow float64, err error) {
	candles, err := orc.CandlesBefore(ctx, symbol, models.Interval1m, lookback, now)
	if err != nil {
		return 0, 0, err
	}
	if len(candles) < lookback {
		return 0, 0, nil
	}
	window := orc.Window()
	if window > len(candles) {
		window = len(candles)
	}
	return models.VWAP(candles[len(candles)-window:]), models.VWAP(candles), nil
}
