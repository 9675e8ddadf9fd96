package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalEffectiveOverrides(t *testing.T) {
	s := &Signal{PriceTakeProfit: 110, PriceStopLoss: 90}
	assert.Equal(t, 110.0, s.EffectiveTakeProfit())
	assert.Equal(t, 90.0, s.EffectiveStopLoss())

	tp, sl := 108.0, 95.0
	s.TrailingTakeProfit = &tp
	s.TrailingStopLoss = &sl
	assert.Equal(t, 108.0, s.EffectiveTakeProfit())
	assert.Equal(t, 95.0, s.EffectiveStopLoss())

	// Originals preserved for reporting.
	assert.Equal(t, 110.0, s.PriceTakeProfit)
	assert.Equal(t, 90.0, s.PriceStopLoss)
}

func TestSignalClosedPercent(t *testing.T) {
	s := &Signal{Partials: []PartialClose{
		{Type: PartialProfit, Percent: 30, Price: 102},
		{Type: PartialLoss, Percent: 20, Price: 99},
	}}
	assert.InDelta(t, 50, s.ClosedPercent(), 1e-9)
}

func TestSignalClone(t *testing.T) {
	sl := 100.0
	s := &Signal{
		ID:               "abc",
		TrailingStopLoss: &sl,
		Partials:         []PartialClose{{Type: PartialProfit, Percent: 10, Price: 101, At: time.Now()}},
	}
	c := s.Clone()
	require.NotSame(t, s, c)

	*c.TrailingStopLoss = 105
	c.Partials[0].Percent = 99
	assert.Equal(t, 100.0, *s.TrailingStopLoss)
	assert.Equal(t, 10.0, s.Partials[0].Percent)
}

func TestDirection(t *testing.T) {
	assert.True(t, DirectionLong.Valid())
	assert.True(t, DirectionShort.Valid())
	assert.False(t, Direction("sideways").Valid())
	assert.Equal(t, 1.0, DirectionLong.Multiplier())
	assert.Equal(t, -1.0, DirectionShort.Multiplier())
}
