package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/models"
	"github.com/signalrunner/signalrunner/internal/strategy"
)

// defaultTickTTL is the pause between live ticks.
const defaultTickTTL = time.Second

// Live drives a core against the wall clock until stopped. A graceful stop
// lets an open or scheduled signal run to its natural closure; a hard stop
// exits at the next loop iteration.
type Live struct {
	core    *strategy.Core
	symbol  string
	name    string
	tickTTL time.Duration
	bus     *bus.Bus
	logger  *logrus.Entry

	hardOnce sync.Once
	hard     chan struct{}
}

// LiveParams wires a live driver. TickTTL defaults to one second.
type LiveParams struct {
	Core         *strategy.Core
	Symbol       string
	StrategyName string
	TickTTL      time.Duration
	Bus          *bus.Bus
	Logger       *logrus.Logger
}

func NewLive(p LiveParams) *Live {
	if p.TickTTL <= 0 {
		p.TickTTL = defaultTickTTL
	}
	return &Live{
		core:    p.Core,
		symbol:  p.Symbol,
		name:    p.StrategyName,
		tickTTL: p.TickTTL,
		bus:     p.Bus,
		logger: p.Logger.WithFields(logrus.Fields{
			"driver": "live", "strategy": p.StrategyName, "symbol": p.Symbol,
		}),
		hard: make(chan struct{}),
	}
}

// Stop requests shutdown. Graceful keeps ticking until any open signal
// closes; hard exits immediately.
func (d *Live) Stop(graceful bool) {
	if graceful {
		d.core.Stop()
		return
	}
	d.hardOnce.Do(func() { close(d.hard) })
}

// Run rehydrates persisted state and loops until stopped or the context is
// cancelled. It returns nil on a clean stop and the offending error when the
// pair's loop aborts on an invariant violation.
func (d *Live) Run(ctx context.Context) error {
	defer d.bus.DoneLive.Publish(bus.DoneEvent{Symbol: d.symbol, StrategyName: d.name})

	if err := d.core.Rehydrate(); err != nil {
		d.logger.WithError(err).Error("rehydration failed")
		return err
	}

	var lastPing time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.hard:
			d.logger.Info("hard stop")
			return nil
		default:
		}

		now := time.Now()
		res, err := d.core.Tick(ctx, now)
		if err != nil && errors.Is(err, strategy.ErrInvariant) {
			d.logger.WithError(err).Error("aborting live loop")
			return err
		}

		lastPing = d.ping(now, lastPing)

		if d.core.Stopped() && (res.Action == models.ActionClosed || !d.core.Draining()) {
			d.logger.Info("graceful stop complete")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-d.hard:
			d.logger.Info("hard stop")
			return nil
		case <-time.After(d.tickTTL):
		}
	}
}

// ping emits the once-per-minute heartbeat while a signal is open.
func (d *Live) ping(now, lastPing time.Time) time.Time {
	pending := d.core.PendingSignal()
	if pending == nil {
		return lastPing
	}
	if now.Truncate(time.Minute).Equal(lastPing) {
		return lastPing
	}
	d.bus.Ping.Publish(bus.PingEvent{
		Symbol:       d.symbol,
		StrategyName: d.name,
		SignalID:     pending.ID,
		At:           now,
	})
	return now.Truncate(time.Minute)
}
