// Package mock provides a deterministic synthetic candle source used by
// tests and dry runs. Series can be scripted exactly or generated from a
// seeded random walk.
package mock

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/signalrunner/signalrunner/internal/exchange"
	"github.com/signalrunner/signalrunner/internal/models"
)

// Provider serves candles from in-memory series keyed by (symbol, interval).
type Provider struct {
	mu     sync.RWMutex
	name   string
	series map[seriesKey][]models.Candle
}

type seriesKey struct {
	symbol   string
	interval models.Interval
}

// Ensure Provider implements the exchange interface at compile time.
var _ exchange.Provider = (*Provider)(nil)

// NewProvider creates an empty synthetic provider.
func NewProvider(name string) *Provider {
	if name == "" {
		name = "mock"
	}
	return &Provider{name: name, series: make(map[seriesKey][]models.Candle)}
}

// Name returns the configured exchange name.
func (p *Provider) Name() string { return p.name }

// SetSeries installs an exact candle series for a symbol and interval,
// sorted by timestamp.
func (p *Provider) SetSeries(symbol string, interval models.Interval, candles []models.Candle) {
	sorted := make([]models.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	p.mu.Lock()
	defer p.mu.Unlock()
	p.series[seriesKey{symbol, interval}] = sorted
}

// GetCandles returns up to limit candles with timestamp >= since in
// ascending order.
func (p *Provider) GetCandles(_ context.Context, symbol string, interval models.Interval, since time.Time, limit int) ([]models.Candle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	candles, ok := p.series[seriesKey{symbol, interval}]
	if !ok {
		return nil, exchange.ErrNoCandles
	}

	start := sort.Search(len(candles), func(i int) bool {
		return !candles[i].Timestamp.Before(since)
	})

	out := make([]models.Candle, 0, limit)
	for i := start; i < len(candles) && len(out) < limit; i++ {
		out = append(out, candles[i])
	}
	return out, nil
}

// FormatPrice renders a price with default precision.
func (p *Provider) FormatPrice(_ string, price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}

// FormatQuantity renders a quantity with default precision.
func (p *Provider) FormatQuantity(_ string, qty float64) string {
	return strconv.FormatFloat(qty, 'f', 5, 64)
}

// FlatSeries builds count candles at a constant price, one per interval
// starting at start.
func FlatSeries(start time.Time, interval models.Interval, count int, price, volume float64) []models.Candle {
	out := make([]models.Candle, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, models.Candle{
			Timestamp: start.Add(time.Duration(i) * interval.Duration()),
			Open:      price, High: price, Low: price, Close: price,
			Volume: volume,
		})
	}
	return out
}

// LinearSeries builds count candles whose closes move linearly from first to
// last, one per interval starting at start. Open/high/low hug the close so a
// VWAP over the series tracks the line.
func LinearSeries(start time.Time, interval models.Interval, count int, first, last, volume float64) []models.Candle {
	out := make([]models.Candle, 0, count)
	step := 0.0
	if count > 1 {
		step = (last - first) / float64(count-1)
	}
	for i := 0; i < count; i++ {
		price := first + step*float64(i)
		out = append(out, models.Candle{
			Timestamp: start.Add(time.Duration(i) * interval.Duration()),
			Open:      price, High: price, Low: price, Close: price,
			Volume: volume,
		})
	}
	return out
}

// WalkSeries builds a seeded random-walk series for dry runs. The walk is
// deterministic for a given seed.
func WalkSeries(start time.Time, interval models.Interval, count int, initial, stepPct float64, seed int64) []models.Candle {
	rng := rand.New(rand.NewSource(seed)) // #nosec G404 -- deterministic synthetic data, not security sensitive
	out := make([]models.Candle, 0, count)
	price := initial
	for i := 0; i < count; i++ {
		move := price * stepPct / 100 * (rng.Float64()*2 - 1)
		open := price
		closing := price + move
		high := open
		low := open
		if closing > high {
			high = closing
		}
		if closing < low {
			low = closing
		}
		out = append(out, models.Candle{
			Timestamp: start.Add(time.Duration(i) * interval.Duration()),
			Open:      open, High: high, Low: low, Close: closing,
			Volume: 1 + rng.Float64()*10,
		})
		price = closing
	}
	return out
}
