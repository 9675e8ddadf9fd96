package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/signalrunner/signalrunner/internal/models"
)

func TestCircuitBreakerProvider_PassThrough(t *testing.T) {
	inner := &MockProvider{}
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	want := []models.Candle{{Timestamp: since, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}
	inner.On("GetCandles", mock.Anything, "BTCUSDT", models.Interval1m, since, 5).Return(want, nil)

	cb := NewCircuitBreakerProvider(inner, testLogger())

	got, err := cb.GetCandles(context.Background(), "BTCUSDT", models.Interval1m, since, 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	inner.AssertExpectations(t)
}

func TestCircuitBreakerProvider_TripsAfterFailures(t *testing.T) {
	inner := &MockProvider{}
	inner.On("GetCandles", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("boom"))

	cb := NewCircuitBreakerProviderWithSettings(inner, testLogger(), CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cb.GetCandles(ctx, "BTCUSDT", models.Interval1m, time.Now(), 1)
		require.Error(t, err)
	}

	// Circuit is now open; the provider must not be called again.
	_, err := cb.GetCandles(ctx, "BTCUSDT", models.Interval1m, time.Now(), 1)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	inner.AssertNumberOfCalls(t, "GetCandles", 3)
}

func TestCircuitBreakerProvider_FormattingBypassesBreaker(t *testing.T) {
	inner := &MockProvider{}
	inner.On("FormatPrice", "BTCUSDT", 1.5).Return("1.50")
	inner.On("Name").Return("binance")

	cb := NewCircuitBreakerProvider(inner, testLogger())
	assert.Equal(t, "1.50", cb.FormatPrice("BTCUSDT", 1.5))
	assert.Equal(t, "binance", cb.Name())
}
