package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/config"
	"github.com/signalrunner/signalrunner/internal/models"
	"github.com/signalrunner/signalrunner/internal/oracle"
	"github.com/signalrunner/signalrunner/internal/risk"
	"github.com/signalrunner/signalrunner/internal/store"
	"github.com/signalrunner/signalrunner/internal/track"
	"github.com/signalrunner/signalrunner/internal/validate"
)

// ErrInvariant marks logic violations that must abort the current
// (strategy, symbol) loop: trailing direction flips, partials past 100%,
// simulation without a pending signal. Drivers terminate the pair on it;
// everything else is recoverable.
var ErrInvariant = errors.New("invariant violation")

// Params wires a Core to its collaborators.
type Params struct {
	Symbol    string
	Routing   models.Routing
	Backtest  bool
	Cadence   models.Interval
	Engine    config.EngineConfig
	Generator GeneratorFunc
	Oracle    *oracle.Oracle
	Gate      *risk.Gate
	Store     store.Interface
	Bus       *bus.Bus
	Logger    *logrus.Logger
}

// Core is the per-(strategy, symbol) state machine. All public methods are
// safe for concurrent use; a single mutex keeps the session consistent, and
// drivers never tick the same pair concurrently.
type Core struct {
	symbol    string
	routing   models.Routing
	backtest  bool
	cadence   models.Interval
	engine    config.EngineConfig
	generator GeneratorFunc
	oracle    *oracle.Oracle
	gate      *risk.Gate
	store     store.Interface
	bus       *bus.Bus
	logger    *logrus.Entry

	partials   *track.PartialTracker
	breakevens *track.BreakevenTracker

	mu             sync.Mutex
	stopped        bool
	lastProposalAt time.Time
	// lastPrice is the most recent successfully fetched reference price,
	// stamped onto cancellations that happen without a fetch of their own.
	lastPrice float64
	pending   *models.Signal
	scheduled *models.Signal
	// Direction locks for the trailing levels, +1/-1 once set by the first
	// shift for the current signal.
	trailStopSign int
	trailTakeSign int
}

// New creates a session core. The partial and breakeven trackers are owned
// internally; their events surface on the bus.
func New(p Params) *Core {
	return &Core{
		symbol:    p.Symbol,
		routing:   p.Routing,
		backtest:  p.Backtest,
		cadence:   p.Cadence,
		engine:    p.Engine,
		generator: p.Generator,
		oracle:    p.Oracle,
		gate:      p.Gate,
		store:     p.Store,
		bus:       p.Bus,
		logger: p.Logger.WithFields(logrus.Fields{
			"strategy": p.Routing.StrategyName,
			"symbol":   p.Symbol,
		}),
		partials:   track.NewPartialTracker(track.DefaultBandStep, p.Bus),
		breakevens: track.NewBreakevenTracker(p.Engine.BreakevenThreshold(), p.Bus),
	}
}

func (c *Core) storeKey() store.Key {
	return store.Key{StrategyName: c.routing.StrategyName, Symbol: c.symbol}
}

func (c *Core) result(action models.TickAction, price float64, s *models.Signal) models.TickResult {
	return models.TickResult{
		Action:       action,
		Symbol:       c.symbol,
		StrategyName: c.routing.StrategyName,
		ExchangeName: c.routing.ExchangeName,
		FrameName:    c.routing.FrameName,
		CurrentPrice: price,
		Backtest:     c.backtest,
		Signal:       s.Clone(),
	}
}

func (c *Core) publish(r models.TickResult) models.TickResult {
	c.bus.PublishSignal(r)
	return r
}

// Tick advances the session one step at the given execution clock and
// returns what happened. Errors wrapping ErrInvariant are fatal for this
// pair; other errors are transient and already published to the error topic.
func (c *Core) Tick(ctx context.Context, now time.Time) (models.TickResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped && c.pending == nil && c.scheduled == nil {
		return c.publish(c.result(models.ActionIdle, 0, nil)), nil
	}

	if c.scheduled != nil {
		return c.tickScheduled(ctx, now)
	}
	if c.pending != nil {
		return c.tickPending(ctx, now, 0, false)
	}
	if c.stopped {
		return c.publish(c.result(models.ActionIdle, 0, nil)), nil
	}
	return c.tickIdle(ctx, now)
}

// tickScheduled drives a signal waiting for its limit entry.
func (c *Core) tickScheduled(ctx context.Context, now time.Time) (models.TickResult, error) {
	s := c.scheduled

	if now.Sub(s.ScheduledAt) >= c.engine.ScheduleAwait() {
		return c.cancelScheduledLocked(models.CancelTimeout, "", c.lastPrice)
	}

	avg, err := c.oracle.AveragePrice(ctx, c.symbol, now)
	if err != nil {
		c.bus.PublishError(c.symbol, c.routing.StrategyName, err)
		return c.result(models.ActionIdle, 0, nil), err
	}
	c.lastPrice = avg

	dir := s.Direction.Multiplier()
	if dir*(avg-s.PriceStopLoss) <= 0 {
		return c.cancelScheduledLocked(models.CancelPriceReject, "", avg)
	}

	if dir*(avg-s.PriceOpen) >= 0 {
		// Admission is re-counted at activation: positions opened since the
		// signal was scheduled may have filled the profile. A refusal defers
		// activation, leaving the signal scheduled until a slot frees, the
		// price rejects, or the await times out.
		if !c.gate.CheckSignal(s) {
			c.logger.WithField("signal", s.ID).Info("activation deferred by risk gate")
			return c.publish(c.result(models.ActionScheduled, avg, s)), nil
		}
		s.PendingAt = now
		if err := c.store.WritePending(c.storeKey(), s); err != nil {
			s.PendingAt = s.ScheduledAt
			c.bus.PublishError(c.symbol, c.routing.StrategyName, fmt.Errorf("persisting activation: %w", err))
			return c.result(models.ActionIdle, avg, nil), err
		}
		if err := c.store.WriteScheduled(c.storeKey(), nil); err != nil {
			c.bus.PublishError(c.symbol, c.routing.StrategyName, fmt.Errorf("clearing scheduled slot: %w", err))
		}
		c.pending = s
		c.scheduled = nil
		c.gate.AddSignal(c.symbol, c.routing.StrategyName)
		c.logger.WithField("signal", s.ID).Info("scheduled signal activated")

		opened := c.publish(c.result(models.ActionOpened, avg, s))
		// The freshly opened position is checked against TP/SL/expiry on the
		// same tick; if nothing triggers, the opened result stands.
		res, err := c.tickPending(ctx, now, avg, true)
		if err != nil {
			return res, err
		}
		if res.Terminal() {
			return res, nil
		}
		return opened, nil
	}

	return c.publish(c.result(models.ActionScheduled, avg, s)), nil
}

func (c *Core) cancelScheduledLocked(reason models.CancelReason, cancelID string, price float64) (models.TickResult, error) {
	s := c.scheduled
	if err := c.store.WriteScheduled(c.storeKey(), nil); err != nil {
		c.bus.PublishError(c.symbol, c.routing.StrategyName, fmt.Errorf("clearing scheduled slot: %w", err))
		return c.result(models.ActionIdle, price, nil), err
	}
	c.scheduled = nil
	c.logger.WithFields(logrus.Fields{"signal": s.ID, "reason": reason}).Info("scheduled signal cancelled")

	r := c.result(models.ActionCancelled, price, s)
	r.CancelReason = reason
	r.CancelID = cancelID
	return c.publish(r), nil
}

// tickPending monitors an open position. avg may be pre-fetched by the
// caller (haveAvg), saving a duplicate oracle query on the activation tick.
func (c *Core) tickPending(ctx context.Context, now time.Time, avg float64, haveAvg bool) (models.TickResult, error) {
	s := c.pending

	if !haveAvg {
		var err error
		avg, err = c.oracle.AveragePrice(ctx, c.symbol, now)
		if err != nil {
			c.bus.PublishError(c.symbol, c.routing.StrategyName, err)
			return c.result(models.ActionIdle, 0, nil), err
		}
		c.lastPrice = avg
	}

	dir := s.Direction.Multiplier()
	var reason models.CloseReason
	switch {
	case now.Sub(s.PendingAt) >= s.Lifetime():
		reason = models.CloseTimeExpired
	case dir*(avg-s.EffectiveTakeProfit()) >= 0:
		reason = models.CloseTakeProfit
	case dir*(avg-s.EffectiveStopLoss()) <= 0:
		reason = models.CloseStopLoss
	}
	if reason != "" {
		return c.closePendingLocked(s, reason, avg, now)
	}

	c.partials.Observe(s, avg, c.backtest)
	if c.breakevens.Observe(s, avg, c.backtest) {
		c.persistPendingLocked(s)
	}

	r := c.result(models.ActionActive, avg, s)
	r.PercentTP, r.PercentSL = progress(s, avg)
	return c.publish(r), nil
}

func (c *Core) closePendingLocked(s *models.Signal, reason models.CloseReason, closePrice float64, closedAt time.Time) (models.TickResult, error) {
	pnl := closePnL(s, closePrice, c.engine)

	if err := c.store.WritePending(c.storeKey(), nil); err != nil {
		c.bus.PublishError(c.symbol, c.routing.StrategyName, fmt.Errorf("clearing pending slot: %w", err))
		return c.result(models.ActionIdle, closePrice, nil), err
	}
	c.partials.Forget(s.ID)
	c.breakevens.Forget(s.ID)
	c.gate.RemoveSignal(c.symbol, c.routing.StrategyName)
	c.pending = nil
	c.trailStopSign = 0
	c.trailTakeSign = 0

	c.logger.WithFields(logrus.Fields{
		"signal": s.ID, "reason": reason, "pnl": pnl.PnlPercentage,
	}).Info("signal closed")

	r := c.result(models.ActionClosed, closePrice, s)
	r.CloseReason = reason
	r.CloseTimestamp = closedAt
	r.PnL = &pnl
	return c.publish(r), nil
}

// persistPendingLocked saves the pending signal, logging persistence
// failures without failing the tick.
func (c *Core) persistPendingLocked(s *models.Signal) {
	if err := c.store.WritePending(c.storeKey(), s); err != nil {
		c.bus.PublishError(c.symbol, c.routing.StrategyName, fmt.Errorf("persisting pending signal: %w", err))
	}
}

// tickIdle solicits a proposal from the generator, throttled to the
// configured cadence, and admits it through validation and the risk gate.
func (c *Core) tickIdle(ctx context.Context, now time.Time) (models.TickResult, error) {
	if !c.lastProposalAt.IsZero() && now.Sub(c.lastProposalAt) < c.cadence.Duration() {
		return c.publish(c.result(models.ActionIdle, 0, nil)), nil
	}

	proposal, err := c.invokeGenerator(ctx, now)
	if err != nil {
		c.lastProposalAt = now
		c.bus.PublishError(c.symbol, c.routing.StrategyName, fmt.Errorf("signal generator: %w", err))
		return c.publish(c.result(models.ActionIdle, 0, nil)), nil
	}
	if proposal == nil {
		c.lastProposalAt = now
		return c.publish(c.result(models.ActionIdle, 0, nil)), nil
	}

	avg, err := c.oracle.AveragePrice(ctx, c.symbol, now)
	if err != nil {
		c.bus.PublishError(c.symbol, c.routing.StrategyName, err)
		return c.result(models.ActionIdle, 0, nil), err
	}
	c.lastPrice = avg

	s := c.buildSignal(proposal, avg, now)

	if err := validate.Signal(s, validate.Config{
		MinTPDistance:            c.engine.MinTPDistance,
		MaxSLDistance:            c.engine.MaxSLDistance,
		MaxSignalLifetimeMinutes: c.engine.MaxSignalLifetimeMinutes,
	}); err != nil {
		c.lastProposalAt = now
		c.bus.PublishError(c.symbol, c.routing.StrategyName, fmt.Errorf("proposal rejected: %w", err))
		return c.publish(c.result(models.ActionIdle, avg, nil)), nil
	}

	if !c.gate.CheckSignal(s) {
		c.lastProposalAt = now
		return c.publish(c.result(models.ActionIdle, avg, nil)), nil
	}

	c.lastProposalAt = now

	if s.PriceOpenRequested != nil {
		if err := c.store.WriteScheduled(c.storeKey(), s); err != nil {
			c.bus.PublishError(c.symbol, c.routing.StrategyName, fmt.Errorf("persisting scheduled signal: %w", err))
			return c.result(models.ActionIdle, avg, nil), err
		}
		c.scheduled = s
		c.logger.WithField("signal", s.ID).Info("signal scheduled")
		return c.publish(c.result(models.ActionScheduled, avg, s)), nil
	}

	if err := c.store.WritePending(c.storeKey(), s); err != nil {
		c.bus.PublishError(c.symbol, c.routing.StrategyName, fmt.Errorf("persisting pending signal: %w", err))
		return c.result(models.ActionIdle, avg, nil), err
	}
	c.pending = s
	c.gate.AddSignal(c.symbol, c.routing.StrategyName)
	c.logger.WithField("signal", s.ID).Info("signal opened")
	return c.publish(c.result(models.ActionOpened, avg, s)), nil
}

func (c *Core) buildSignal(p *Proposal, avg float64, now time.Time) *models.Signal {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	s := &models.Signal{
		ID:                  id,
		Direction:           p.Direction,
		PriceTakeProfit:     p.PriceTakeProfit,
		PriceStopLoss:       p.PriceStopLoss,
		MinuteEstimatedTime: p.MinuteEstimatedTime,
		ScheduledAt:         now,
		PendingAt:           now,
		Symbol:              c.symbol,
		StrategyName:        c.routing.StrategyName,
		ExchangeName:        c.routing.ExchangeName,
		FrameName:           c.routing.FrameName,
		Note:                p.Note,
	}
	if p.PriceOpen != nil {
		requested := *p.PriceOpen
		s.PriceOpen = requested
		s.PriceOpenRequested = &requested
	} else {
		s.PriceOpen = avg
	}
	return s
}

// invokeGenerator calls the user callback on its own goroutine under the
// configured deadline, converting panics into errors.
func (c *Core) invokeGenerator(ctx context.Context, now time.Time) (*Proposal, error) {
	genCtx, cancel := context.WithTimeout(ctx, c.engine.MaxSignalGeneration())
	defer cancel()

	type outcome struct {
		proposal *Proposal
		err      error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("generator panicked: %v", r)}
			}
		}()
		p, err := c.generator(genCtx, c.symbol, now)
		ch <- outcome{proposal: p, err: err}
	}()

	select {
	case out := <-ch:
		return out.proposal, out.err
	case <-genCtx.Done():
		return nil, fmt.Errorf("generator timed out after %s", c.engine.MaxSignalGeneration())
	}
}
