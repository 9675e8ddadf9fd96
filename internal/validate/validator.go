// Package validate checks proposed signals against structural, directional,
// distance and lifetime constraints before they reach the risk gate.
package validate

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalrunner/signalrunner/internal/models"
)

// Config bounds the economic shape of an acceptable signal. Distances are in
// percent units.
type Config struct {
	MinTPDistance            float64
	MaxSLDistance            float64
	MaxSignalLifetimeMinutes int
}

// Signal validates a fully-populated signal. Failures accumulate: the
// returned error joins every rule violation rather than stopping at the
// first.
func Signal(s *models.Signal, cfg Config) error {
	var errs []error

	if !s.Direction.Valid() {
		errs = append(errs, fmt.Errorf("direction %q is not long or short", s.Direction))
	}

	prices := map[string]float64{
		"priceOpen":       s.PriceOpen,
		"priceTakeProfit": s.PriceTakeProfit,
		"priceStopLoss":   s.PriceStopLoss,
	}
	finite := true
	for name, v := range prices {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			errs = append(errs, fmt.Errorf("%s %v is not a finite positive number", name, v))
			finite = false
		}
	}

	// Ordering and distance rules only make sense over finite prices.
	if finite && s.Direction.Valid() {
		switch s.Direction {
		case models.DirectionLong:
			if !(s.PriceTakeProfit > s.PriceOpen && s.PriceOpen > s.PriceStopLoss) {
				errs = append(errs, fmt.Errorf("long ordering violated: want tp %.8g > open %.8g > sl %.8g",
					s.PriceTakeProfit, s.PriceOpen, s.PriceStopLoss))
			}
		case models.DirectionShort:
			if !(s.PriceTakeProfit < s.PriceOpen && s.PriceOpen < s.PriceStopLoss) {
				errs = append(errs, fmt.Errorf("short ordering violated: want tp %.8g < open %.8g < sl %.8g",
					s.PriceTakeProfit, s.PriceOpen, s.PriceStopLoss))
			}
		}

		tpDistance := math.Abs(s.PriceTakeProfit-s.PriceOpen) / s.PriceOpen * 100
		if tpDistance < cfg.MinTPDistance {
			errs = append(errs, fmt.Errorf("take-profit distance %.4f%% below minimum %.4f%%", tpDistance, cfg.MinTPDistance))
		}
		slDistance := math.Abs(s.PriceStopLoss-s.PriceOpen) / s.PriceOpen * 100
		if slDistance > cfg.MaxSLDistance {
			errs = append(errs, fmt.Errorf("stop-loss distance %.4f%% above maximum %.4f%%", slDistance, cfg.MaxSLDistance))
		}
	}

	if s.MinuteEstimatedTime <= 0 {
		errs = append(errs, fmt.Errorf("minuteEstimatedTime %d must be positive", s.MinuteEstimatedTime))
	} else if s.MinuteEstimatedTime > cfg.MaxSignalLifetimeMinutes {
		errs = append(errs, fmt.Errorf("minuteEstimatedTime %d exceeds maximum %d", s.MinuteEstimatedTime, cfg.MaxSignalLifetimeMinutes))
	}

	if s.ScheduledAt.UnixMilli() <= 0 {
		errs = append(errs, fmt.Errorf("scheduledAt %v is not a positive wall time", s.ScheduledAt))
	}
	if s.PendingAt.UnixMilli() <= 0 {
		errs = append(errs, fmt.Errorf("pendingAt %v is not a positive wall time", s.PendingAt))
	}

	if len(errs) > 0 {
		return fmt.Errorf("signal %s rejected: %w", s.ID, errors.Join(errs...))
	}
	return nil
}
