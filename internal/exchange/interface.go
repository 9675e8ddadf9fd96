// Package exchange defines the candle data source consumed by the engine and
// ships a REST implementation plus a circuit-breaker wrapper.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/signalrunner/signalrunner/internal/models"
)

// ErrNoCandles is returned when the provider has no data for the requested
// window.
var ErrNoCandles = errors.New("exchange: no candles for requested window")

// Provider supplies OHLCV candles and exchange-specific formatting. Candles
// are returned in strictly ascending timestamp order, at most limit entries,
// all with timestamp >= since.
type Provider interface {
	Name() string
	GetCandles(ctx context.Context, symbol string, interval models.Interval, since time.Time, limit int) ([]models.Candle, error)
	FormatPrice(symbol string, price float64) string
	FormatQuantity(symbol string, qty float64) string
}
