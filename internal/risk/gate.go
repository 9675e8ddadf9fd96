// Package risk admits or rejects proposed signals against a named profile of
// user-written validations over the set of currently-open positions.
package risk

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/models"
)

// Key identifies one open position slot.
type Key struct {
	StrategyName string
	Symbol       string
}

// CheckContext is the consistent snapshot a validation predicate sees.
type CheckContext struct {
	Proposal            *models.Signal
	ActivePositionCount int
	ActivePositions     []Key
}

// Validation is one ordered predicate in a risk profile. Check returns a
// non-nil error to reject; the error message becomes the rejection note.
type Validation struct {
	Note  string
	Check func(CheckContext) error
}

// Profile is a named, immutable collection of validations plus an optional
// concurrent-position limit (0 means unlimited).
type Profile struct {
	Name                   string
	Validations            []Validation
	MaxConcurrentPositions int
}

// MaxConcurrentValidation builds the standard concurrency-cap predicate.
func MaxConcurrentValidation(limit int) Validation {
	return Validation{
		Note: fmt.Sprintf("no more than %d concurrent positions", limit),
		Check: func(ctx CheckContext) error {
			if ctx.ActivePositionCount >= limit {
				return fmt.Errorf("active positions %d at limit %d", ctx.ActivePositionCount, limit)
			}
			return nil
		},
	}
}

// Gate tracks open positions for one risk profile in one mode and runs the
// profile's validations over proposals. A single mutex serializes
// add/remove/check.
type Gate struct {
	mu        sync.Mutex
	profile   Profile
	positions map[Key]struct{}
	bus       *bus.Bus
	logger    *logrus.Logger
}

// NewGate creates a gate for the profile. The MaxConcurrentPositions limit,
// when set, is prepended as a built-in validation.
func NewGate(profile Profile, eventBus *bus.Bus, logger *logrus.Logger) *Gate {
	if profile.MaxConcurrentPositions > 0 {
		validations := []Validation{MaxConcurrentValidation(profile.MaxConcurrentPositions)}
		profile.Validations = append(validations, profile.Validations...)
	}
	return &Gate{
		profile:   profile,
		positions: make(map[Key]struct{}),
		bus:       eventBus,
		logger:    logger,
	}
}

// CheckSignal runs the profile's validations in order against the proposal.
// The first failure rejects the proposal and publishes a risk-reject event;
// allowing has no side effects.
func (g *Gate) CheckSignal(proposal *models.Signal) bool {
	g.mu.Lock()
	ctx := CheckContext{
		Proposal:            proposal,
		ActivePositionCount: len(g.positions),
		ActivePositions:     g.snapshotLocked(),
	}
	g.mu.Unlock()

	for _, v := range g.profile.Validations {
		if err := v.Check(ctx); err != nil {
			note := v.Note
			if note == "" {
				note = err.Error()
			}
			g.logger.WithFields(logrus.Fields{
				"profile":  g.profile.Name,
				"strategy": proposal.StrategyName,
				"symbol":   proposal.Symbol,
				"note":     note,
			}).Info("risk gate rejected signal")
			g.bus.RiskReject.Publish(bus.RiskRejectEvent{
				Signal:          proposal.Clone(),
				ActivePositions: ctx.ActivePositionCount,
				Note:            fmt.Sprintf("%s: %v", note, err),
			})
			return false
		}
	}
	return true
}

// AddSignal records an admission.
func (g *Gate) AddSignal(symbol, strategyName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[Key{StrategyName: strategyName, Symbol: symbol}] = struct{}{}
}

// RemoveSignal records a closure.
func (g *Gate) RemoveSignal(symbol, strategyName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.positions, Key{StrategyName: strategyName, Symbol: symbol})
}

// ActiveCount returns the number of open positions.
func (g *Gate) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.positions)
}

// ActivePositions returns a sorted snapshot of the open-position keys.
func (g *Gate) ActivePositions() []Key {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Gate) snapshotLocked() []Key {
	keys := make([]Key, 0, len(g.positions))
	for k := range g.positions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].StrategyName != keys[j].StrategyName {
			return keys[i].StrategyName < keys[j].StrategyName
		}
		return keys[i].Symbol < keys[j].Symbol
	})
	return keys
}
