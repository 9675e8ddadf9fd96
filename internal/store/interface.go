// Package store persists the at-most-one pending and one scheduled signal
// per (strategy, symbol) so a crashed live process can recover its open
// state. Backtests use the no-op implementation and never touch disk.
package store

import (
	"github.com/signalrunner/signalrunner/internal/models"
)

// Key identifies one (strategy, symbol) snapshot.
type Key struct {
	StrategyName string
	Symbol       string
}

// Slot names the two snapshot slots per key.
type Slot string

const (
	SlotPending   Slot = "pending"
	SlotScheduled Slot = "scheduled"
)

// Interface is the durable snapshot contract. Reads return (nil, nil) when
// the slot is empty. Writes with a nil signal clear the slot. Every write is
// atomic: a crash leaves either the old or the new state, never a torn
// record.
type Interface interface {
	ReadPending(key Key) (*models.Signal, error)
	ReadScheduled(key Key) (*models.Signal, error)
	WritePending(key Key, signal *models.Signal) error
	WriteScheduled(key Key, signal *models.Signal) error
	Clear(key Key) error
}
