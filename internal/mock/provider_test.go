package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalrunner/signalrunner/internal/exchange"
	"github.com/signalrunner/signalrunner/internal/models"
)

func TestGetCandles_WindowAndLimit(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p := NewProvider("mock")
	p.SetSeries("BTCUSDT", models.Interval1m, FlatSeries(start, models.Interval1m, 10, 100, 1))

	got, err := p.GetCandles(context.Background(), "BTCUSDT", models.Interval1m, start.Add(3*time.Minute), 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, start.Add(3*time.Minute), got[0].Timestamp)
	assert.Equal(t, start.Add(6*time.Minute), got[3].Timestamp)
}

func TestGetCandles_UnknownSymbol(t *testing.T) {
	p := NewProvider("mock")
	_, err := p.GetCandles(context.Background(), "NOPE", models.Interval1m, time.Now(), 1)
	assert.ErrorIs(t, err, exchange.ErrNoCandles)
}

func TestLinearSeries(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s := LinearSeries(start, models.Interval1m, 5, 100, 102, 1)
	require.Len(t, s, 5)
	assert.InDelta(t, 100, s[0].Close, 1e-9)
	assert.InDelta(t, 101, s[2].Close, 1e-9)
	assert.InDelta(t, 102, s[4].Close, 1e-9)
	for _, c := range s {
		require.NoError(t, c.Validate())
	}
}

func TestWalkSeries_Deterministic(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := WalkSeries(start, models.Interval1m, 50, 100, 0.5, 42)
	b := WalkSeries(start, models.Interval1m, 50, 100, 0.5, 42)
	assert.Equal(t, a, b)
	for _, c := range a {
		require.NoError(t, c.Validate())
	}
}
