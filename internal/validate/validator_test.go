package validate

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalrunner/signalrunner/internal/models"
)

func defaultConfig() Config {
	return Config{MinTPDistance: 0.3, MaxSLDistance: 20, MaxSignalLifetimeMinutes: 1440}
}

func validLong() *models.Signal {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &models.Signal{
		ID:                  "test",
		Direction:           models.DirectionLong,
		PriceOpen:           100,
		PriceTakeProfit:     101,
		PriceStopLoss:       99,
		MinuteEstimatedTime: 60,
		ScheduledAt:         now,
		PendingAt:           now,
		Symbol:              "BTCUSDT",
	}
}

func TestSignal_Valid(t *testing.T) {
	require.NoError(t, Signal(validLong(), defaultConfig()))

	short := validLong()
	short.Direction = models.DirectionShort
	short.PriceTakeProfit = 99
	short.PriceStopLoss = 101
	require.NoError(t, Signal(short, defaultConfig()))
}

func TestSignal_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.Signal)
		message string
	}{
		{"bad direction", func(s *models.Signal) { s.Direction = "sideways" }, "not long or short"},
		{"nan price", func(s *models.Signal) { s.PriceOpen = math.NaN() }, "finite positive"},
		{"negative price", func(s *models.Signal) { s.PriceStopLoss = -1 }, "finite positive"},
		{"long ordering", func(s *models.Signal) { s.PriceTakeProfit = 98 }, "ordering violated"},
		{"short ordering", func(s *models.Signal) {
			s.Direction = models.DirectionShort
		}, "ordering violated"},
		{"tp too close", func(s *models.Signal) { s.PriceTakeProfit = 100.1 }, "below minimum"},
		{"sl too far", func(s *models.Signal) { s.PriceStopLoss = 70 }, "above maximum"},
		{"zero lifetime", func(s *models.Signal) { s.MinuteEstimatedTime = 0 }, "must be positive"},
		{"eternal lifetime", func(s *models.Signal) { s.MinuteEstimatedTime = 2000 }, "exceeds maximum"},
		{"zero scheduledAt", func(s *models.Signal) { s.ScheduledAt = time.Time{} }, "scheduledAt"},
		{"zero pendingAt", func(s *models.Signal) { s.PendingAt = time.Time{} }, "pendingAt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validLong()
			tt.mutate(s)
			err := Signal(s, defaultConfig())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestSignal_FailuresAccumulate(t *testing.T) {
	s := validLong()
	s.Direction = "sideways"
	s.MinuteEstimatedTime = 0
	s.PendingAt = time.Time{}

	err := Signal(s, defaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not long or short")
	assert.Contains(t, err.Error(), "must be positive")
	assert.Contains(t, err.Error(), "pendingAt")
}

func TestSignal_TPDistanceBoundary(t *testing.T) {
	// Exactly at the minimum distance passes.
	s := validLong()
	s.PriceTakeProfit = 100.3
	assert.NoError(t, Signal(s, defaultConfig()))
}
