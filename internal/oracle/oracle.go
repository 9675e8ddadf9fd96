// Package oracle derives the engine's canonical reference price. All
// entry/exit decisions run against a VWAP over recent 1-minute candles
// rather than a single trade print.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signalrunner/signalrunner/internal/exchange"
	"github.com/signalrunner/signalrunner/internal/models"
)

// Config tunes the oracle's window and fetch policy.
type Config struct {
	AvgPriceCandleCount int
	RetryCount          int
	RetryDelay          time.Duration
	// Live guards against look-ahead: future windows are refused when the
	// requested span extends past wall-clock now.
	Live bool
}

// Oracle answers past-only and future-only candle window queries relative to
// an explicit execution clock, and computes the VWAP reference price.
type Oracle struct {
	provider exchange.Provider
	cfg      Config
	logger   *logrus.Logger
}

// New creates an oracle over the given provider.
func New(provider exchange.Provider, cfg Config, logger *logrus.Logger) *Oracle {
	if cfg.AvgPriceCandleCount <= 0 {
		cfg.AvgPriceCandleCount = 5
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Oracle{provider: provider, cfg: cfg, logger: logger}
}

// Window returns the configured VWAP window size.
func (o *Oracle) Window() int { return o.cfg.AvgPriceCandleCount }

// CandlesBefore returns the count most recent candles whose timestamp is at
// or before now. Fewer candles than requested is logged but not an error.
func (o *Oracle) CandlesBefore(ctx context.Context, symbol string, interval models.Interval, count int, now time.Time) ([]models.Candle, error) {
	since := now.Add(-time.Duration(count) * interval.Duration())
	candles, err := o.fetch(ctx, symbol, interval, since, count+1)
	if err != nil {
		return nil, err
	}

	filtered := candles[:0]
	for _, c := range candles {
		if !c.Timestamp.After(now) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) > count {
		filtered = filtered[len(filtered)-count:]
	}
	if len(filtered) < count {
		o.logger.WithFields(logrus.Fields{
			"symbol": symbol, "interval": interval, "want": count, "got": len(filtered),
		}).Warn("short candle window")
	}
	return filtered, nil
}

// CandlesAfter returns up to count candles with timestamp at or after now.
// In live mode it refuses to fabricate future data: if the requested window
// extends past wall-clock now, the result is empty.
func (o *Oracle) CandlesAfter(ctx context.Context, symbol string, interval models.Interval, count int, now time.Time) ([]models.Candle, error) {
	if o.cfg.Live {
		windowEnd := now.Add(time.Duration(count) * interval.Duration())
		if windowEnd.After(time.Now()) {
			return nil, nil
		}
	}

	candles, err := o.fetch(ctx, symbol, interval, now, count)
	if err != nil {
		return nil, err
	}

	filtered := candles[:0]
	for _, c := range candles {
		if !c.Timestamp.Before(now) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) > count {
		filtered = filtered[:count]
	}
	return filtered, nil
}

// AveragePrice computes the VWAP over the last AvgPriceCandleCount 1-minute
// candles at the given execution clock.
func (o *Oracle) AveragePrice(ctx context.Context, symbol string, now time.Time) (float64, error) {
	candles, err := o.CandlesBefore(ctx, symbol, models.Interval1m, o.cfg.AvgPriceCandleCount, now)
	if err != nil {
		return 0, fmt.Errorf("average price %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("average price %s: %w", symbol, exchange.ErrNoCandles)
	}
	return models.VWAP(candles), nil
}

// fetch retries the provider a fixed number of times with a fixed delay and
// surfaces the final error.
func (o *Oracle) fetch(ctx context.Context, symbol string, interval models.Interval, since time.Time, limit int) ([]models.Candle, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.RetryCount; attempt++ {
		candles, err := o.provider.GetCandles(ctx, symbol, interval, since, limit)
		if err == nil {
			return candles, nil
		}
		lastErr = err
		o.logger.WithFields(logrus.Fields{
			"symbol": symbol, "interval": interval, "attempt": attempt,
		}).WithError(err).Warn("candle fetch failed")

		if attempt < o.cfg.RetryCount {
			select {
			case <-time.After(o.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("candle fetch canceled: %w", ctx.Err())
			}
		}
	}
	return nil, fmt.Errorf("candle fetch %s %s failed after %d attempts: %w", symbol, interval, o.cfg.RetryCount, lastErr)
}
