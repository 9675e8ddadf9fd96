package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/signalrunner/signalrunner/internal/models"
)

// MockProvider is a testify mock implementation of Provider for unit tests.
type MockProvider struct {
	mock.Mock
}

// Ensure MockProvider implements Provider at compile time.
var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockProvider) GetCandles(ctx context.Context, symbol string, interval models.Interval, since time.Time, limit int) ([]models.Candle, error) {
	args := m.Called(ctx, symbol, interval, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Candle), args.Error(1)
}

func (m *MockProvider) FormatPrice(symbol string, price float64) string {
	args := m.Called(symbol, price)
	if args.String(0) == "" {
		return strconv.FormatFloat(price, 'f', -1, 64)
	}
	return args.String(0)
}

func (m *MockProvider) FormatQuantity(symbol string, qty float64) string {
	args := m.Called(symbol, qty)
	if args.String(0) == "" {
		return strconv.FormatFloat(qty, 'f', -1, 64)
	}
	return args.String(0)
}
