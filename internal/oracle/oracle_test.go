package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/signalrunner/signalrunner/internal/exchange"
	mockprovider "github.com/signalrunner/signalrunner/internal/mock"
	"github.com/signalrunner/signalrunner/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestCandlesBefore_NoFuturePeek(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	provider := mockprovider.NewProvider("mock")
	provider.SetSeries("BTCUSDT", models.Interval1m, mockprovider.FlatSeries(start, models.Interval1m, 60, 100, 1))

	o := New(provider, Config{AvgPriceCandleCount: 5, RetryCount: 1}, testLogger())

	now := start.Add(10 * time.Minute)
	candles, err := o.CandlesBefore(context.Background(), "BTCUSDT", models.Interval1m, 5, now)
	require.NoError(t, err)
	require.Len(t, candles, 5)
	for _, c := range candles {
		assert.False(t, c.Timestamp.After(now), "candle %s peeks past %s", c.Timestamp, now)
	}
}

func TestCandlesAfter_WindowStartsAtClock(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	provider := mockprovider.NewProvider("mock")
	provider.SetSeries("BTCUSDT", models.Interval1m, mockprovider.FlatSeries(start, models.Interval1m, 60, 100, 1))

	o := New(provider, Config{AvgPriceCandleCount: 5, RetryCount: 1}, testLogger())

	now := start.Add(20 * time.Minute)
	candles, err := o.CandlesAfter(context.Background(), "BTCUSDT", models.Interval1m, 10, now)
	require.NoError(t, err)
	require.Len(t, candles, 10)
	assert.Equal(t, now, candles[0].Timestamp)
	for _, c := range candles {
		assert.False(t, c.Timestamp.Before(now))
	}
}

func TestCandlesAfter_LiveRefusesFutureWindow(t *testing.T) {
	provider := &exchange.MockProvider{}
	o := New(provider, Config{AvgPriceCandleCount: 5, RetryCount: 1, Live: true}, testLogger())

	// A 60-minute window starting now necessarily extends past wall-clock now.
	candles, err := o.CandlesAfter(context.Background(), "BTCUSDT", models.Interval1m, 60, time.Now())
	require.NoError(t, err)
	assert.Empty(t, candles)
	provider.AssertNotCalled(t, "GetCandles")
}

func TestAveragePrice_VWAP(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	series := []models.Candle{
		{Timestamp: start, High: 102, Low: 98, Close: 100, Volume: 10},                   // typical 100
		{Timestamp: start.Add(time.Minute), High: 112, Low: 108, Close: 110, Volume: 30}, // typical 110
	}
	provider := mockprovider.NewProvider("mock")
	provider.SetSeries("BTCUSDT", models.Interval1m, series)

	o := New(provider, Config{AvgPriceCandleCount: 2, RetryCount: 1}, testLogger())

	avg, err := o.AveragePrice(context.Background(), "BTCUSDT", start.Add(time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 107.5, avg, 1e-9)
}

func TestAveragePrice_NoData(t *testing.T) {
	provider := mockprovider.NewProvider("mock")
	o := New(provider, Config{AvgPriceCandleCount: 5, RetryCount: 1, RetryDelay: time.Millisecond}, testLogger())

	_, err := o.AveragePrice(context.Background(), "BTCUSDT", time.Now())
	assert.ErrorIs(t, err, exchange.ErrNoCandles)
}

func TestFetch_RetriesThenSurfacesError(t *testing.T) {
	provider := &exchange.MockProvider{}
	provider.On("GetCandles", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset"))

	o := New(provider, Config{AvgPriceCandleCount: 5, RetryCount: 3, RetryDelay: time.Millisecond}, testLogger())

	_, err := o.CandlesBefore(context.Background(), "BTCUSDT", models.Interval1m, 5, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	provider.AssertNumberOfCalls(t, "GetCandles", 3)
}

func TestFetch_RecoversOnRetry(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	want := mockprovider.FlatSeries(start, models.Interval1m, 5, 100, 1)

	provider := &exchange.MockProvider{}
	provider.On("GetCandles", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("timeout")).Once()
	provider.On("GetCandles", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(want, nil)

	o := New(provider, Config{AvgPriceCandleCount: 5, RetryCount: 3, RetryDelay: time.Millisecond}, testLogger())

	candles, err := o.CandlesBefore(context.Background(), "BTCUSDT", models.Interval1m, 5, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, candles, 5)
}
