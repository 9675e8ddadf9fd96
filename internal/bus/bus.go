// Package bus provides the typed pub/sub channels that carry lifecycle,
// progress, risk and error events between the engine and its consumers.
//
// Delivery contract: each subscriber observes its channel in strict publish
// order and its callback invocations are serialized. Buffers are bounded, so
// a lagging subscriber back-pressures publishers instead of dropping events.
// A panicking callback is swallowed after being reported on the error topic.
package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signalrunner/signalrunner/internal/models"
)

// subscriberBuffer bounds the per-subscriber queue before publishers block.
const subscriberBuffer = 64

// DoneEvent marks the end of a driver run.
type DoneEvent struct {
	Symbol       string
	StrategyName string
}

// BreakevenEvent is emitted once per signal when the breakeven stop arms.
type BreakevenEvent struct {
	Signal   *models.Signal
	Price    float64
	Backtest bool
}

// PartialEvent is emitted when a profit or loss percentage band is crossed,
// and again with Executed set when a partial close is actually committed. For
// milestone events Band is the crossed band level; for commits it is the
// executed percent of the position.
type PartialEvent struct {
	Signal   *models.Signal
	Type     models.PartialType
	Band     float64
	Price    float64
	Backtest bool
	Executed bool
}

// RiskRejectEvent is published when the risk gate refuses a proposal.
type RiskRejectEvent struct {
	Signal          *models.Signal
	ActivePositions int
	Note            string
}

// ErrorEvent carries recoverable failures out of the tick pipeline.
type ErrorEvent struct {
	Symbol       string
	StrategyName string
	Message      string
	Err          error
}

// PingEvent is emitted once per wall-clock minute per active signal.
type PingEvent struct {
	Symbol       string
	StrategyName string
	SignalID     string
	At           time.Time
}

// ProgressEvent reports sweep progress for walker and optimizer runs.
type ProgressEvent struct {
	Name      string
	Processed int
	Total     int
}

// WalkerResult is one strategy's outcome in a walker sweep. Metric is nil
// when the ranking statistic was unavailable.
type WalkerResult struct {
	Strategy string
	Metric   *float64
}

// WalkerCompleteEvent carries the final ranking of a walker sweep, sorted
// descending by metric.
type WalkerCompleteEvent struct {
	Walker     string
	Best       string
	BestMetric *float64
	Results    []WalkerResult
}

// Topic is a typed pub/sub channel with serialized per-subscriber delivery.
type Topic[T any] struct {
	mu      sync.Mutex
	subs    []*subscriber[T]
	closed  bool
	wg      sync.WaitGroup
	onPanic func(recovered any)
}

type subscriber[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

func newTopic[T any](onPanic func(any)) *Topic[T] {
	return &Topic[T]{onPanic: onPanic}
}

// Subscribe registers a callback and returns an unsubscribe function. The
// callback runs on a dedicated goroutine; invocations are serialized and
// ordered.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	sub := &subscriber[T]{
		ch:   make(chan T, subscriberBuffer),
		done: make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return func() {}
	}
	t.subs = append(t.subs, sub)
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		for {
			select {
			case v := <-sub.ch:
				t.invoke(fn, v)
			case <-sub.done:
				// Drain what was already queued, then exit.
				for {
					select {
					case v := <-sub.ch:
						t.invoke(fn, v)
					default:
						return
					}
				}
			}
		}
	}()

	return func() {
		sub.once.Do(func() {
			close(sub.done)
			t.remove(sub)
		})
	}
}

func (t *Topic[T]) invoke(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil && t.onPanic != nil {
			t.onPanic(r)
		}
	}()
	fn(v)
}

func (t *Topic[T]) remove(sub *subscriber[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s == sub {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every subscriber in order, blocking while any
// subscriber's buffer is full.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	subs := make([]*subscriber[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- v:
		case <-sub.done:
		}
	}
}

// Close stops the topic and waits for subscriber callbacks to drain.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
	t.wg.Wait()
}

// Bus bundles every engine topic.
type Bus struct {
	logger *logrus.Logger

	SignalBacktest *Topic[models.TickResult]
	SignalLive     *Topic[models.TickResult]
	SignalAny      *Topic[models.TickResult]

	DoneBacktest *Topic[DoneEvent]
	DoneLive     *Topic[DoneEvent]
	DoneWalker   *Topic[DoneEvent]

	ProgressOptimizer *Topic[ProgressEvent]
	ProgressWalker    *Topic[ProgressEvent]
	WalkerComplete    *Topic[WalkerCompleteEvent]

	Breakeven     *Topic[BreakevenEvent]
	PartialProfit *Topic[PartialEvent]
	PartialLoss   *Topic[PartialEvent]
	RiskReject    *Topic[RiskRejectEvent]
	Errors        *Topic[ErrorEvent]
	Ping          *Topic[PingEvent]
}

// New creates a bus with all topics wired. Callback panics on any topic are
// republished to Errors; panics inside Errors callbacks are only logged.
func New(logger *logrus.Logger) *Bus {
	b := &Bus{logger: logger}

	b.Errors = newTopic[ErrorEvent](func(r any) {
		logger.Errorf("error subscriber panicked: %v", r)
	})

	onPanic := func(r any) {
		b.Errors.Publish(ErrorEvent{
			Message: fmt.Sprintf("event subscriber panicked: %v", r),
			Err:     fmt.Errorf("subscriber panic: %v", r),
		})
	}

	b.SignalBacktest = newTopic[models.TickResult](onPanic)
	b.SignalLive = newTopic[models.TickResult](onPanic)
	b.SignalAny = newTopic[models.TickResult](onPanic)
	b.DoneBacktest = newTopic[DoneEvent](onPanic)
	b.DoneLive = newTopic[DoneEvent](onPanic)
	b.DoneWalker = newTopic[DoneEvent](onPanic)
	b.ProgressOptimizer = newTopic[ProgressEvent](onPanic)
	b.ProgressWalker = newTopic[ProgressEvent](onPanic)
	b.WalkerComplete = newTopic[WalkerCompleteEvent](onPanic)
	b.Breakeven = newTopic[BreakevenEvent](onPanic)
	b.PartialProfit = newTopic[PartialEvent](onPanic)
	b.PartialLoss = newTopic[PartialEvent](onPanic)
	b.RiskReject = newTopic[RiskRejectEvent](onPanic)
	b.Ping = newTopic[PingEvent](onPanic)

	return b
}

// PublishSignal routes a lifecycle event to its mode topic and the union
// topic.
func (b *Bus) PublishSignal(result models.TickResult) {
	if result.Backtest {
		b.SignalBacktest.Publish(result)
	} else {
		b.SignalLive.Publish(result)
	}
	b.SignalAny.Publish(result)
}

// PublishError logs and publishes a recoverable failure.
func (b *Bus) PublishError(symbol, strategyName string, err error) {
	b.logger.WithFields(logrus.Fields{"symbol": symbol, "strategy": strategyName}).
		WithError(err).Error("engine error")
	b.Errors.Publish(ErrorEvent{
		Symbol:       symbol,
		StrategyName: strategyName,
		Message:      err.Error(),
		Err:          err,
	})
}

// Close shuts every topic down and waits for callbacks to drain.
func (b *Bus) Close() {
	topics := []interface{ Close() }{
		b.SignalBacktest, b.SignalLive, b.SignalAny,
		b.DoneBacktest, b.DoneLive, b.DoneWalker,
		b.ProgressOptimizer, b.ProgressWalker, b.WalkerComplete,
		b.Breakeven, b.PartialProfit, b.PartialLoss,
		b.RiskReject, b.Ping,
	}
	for _, t := range topics {
		t.Close()
	}
	b.Errors.Close()
}
