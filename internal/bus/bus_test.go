package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalrunner/signalrunner/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestTopic_FIFOPerSubscriber(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	b.SignalAny.Subscribe(func(r models.TickResult) {
		mu.Lock()
		got = append(got, string(r.Action))
		if len(got) == 100 {
			close(done)
		}
		mu.Unlock()
	})

	actions := []models.TickAction{models.ActionScheduled, models.ActionOpened, models.ActionActive, models.ActionClosed}
	for i := 0; i < 100; i++ {
		b.SignalAny.Publish(models.TickResult{Action: actions[i%len(actions)]})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, action := range got {
		assert.Equal(t, string(actions[i%len(actions)]), action, "delivery order broken at %d", i)
	}
}

func TestTopic_SerializedCallbacks(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	var inFlight, maxInFlight int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(20)

	b.Ping.Subscribe(func(PingEvent) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		wg.Done()
	})

	for i := 0; i < 20; i++ {
		b.Ping.Publish(PingEvent{})
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "callbacks for one subscriber must never overlap")
}

func TestPublishSignal_RoutesByMode(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	counts := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(4)

	count := func(name string) func(models.TickResult) {
		return func(models.TickResult) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			wg.Done()
		}
	}
	b.SignalBacktest.Subscribe(count("backtest"))
	b.SignalLive.Subscribe(count("live"))
	b.SignalAny.Subscribe(count("any"))

	b.PublishSignal(models.TickResult{Action: models.ActionOpened, Backtest: true})
	b.PublishSignal(models.TickResult{Action: models.ActionOpened, Backtest: false})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts["backtest"])
	assert.Equal(t, 1, counts["live"])
	assert.Equal(t, 2, counts["any"])
}

func TestTopic_PanicIsSwallowedAndReported(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	errs := make(chan ErrorEvent, 1)
	b.Errors.Subscribe(func(e ErrorEvent) { errs <- e })

	delivered := make(chan struct{})
	b.Breakeven.Subscribe(func(BreakevenEvent) { panic("handler blew up") })
	b.Breakeven.Subscribe(func(BreakevenEvent) { close(delivered) })

	b.Breakeven.Publish(BreakevenEvent{Price: 100})

	select {
	case e := <-errs:
		assert.Contains(t, e.Message, "panicked")
	case <-time.After(5 * time.Second):
		t.Fatal("panic was not reported on the error topic")
	}
	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("second subscriber did not receive the event")
	}
}

func TestTopic_Unsubscribe(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	var calls int
	var mu sync.Mutex
	first := make(chan struct{})

	unsub := b.Ping.Subscribe(func(PingEvent) {
		mu.Lock()
		calls++
		if calls == 1 {
			close(first)
		}
		mu.Unlock()
	})

	b.Ping.Publish(PingEvent{})
	<-first
	unsub()
	b.Ping.Publish(PingEvent{})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestBus_ProgressTopicsAreIndependent(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	optimizer := make(chan ProgressEvent, 1)
	b.ProgressOptimizer.Subscribe(func(e ProgressEvent) { optimizer <- e })
	walker := make(chan ProgressEvent, 1)
	b.ProgressWalker.Subscribe(func(e ProgressEvent) { walker <- e })

	b.ProgressOptimizer.Publish(ProgressEvent{Name: "opt-1", Processed: 3, Total: 10})

	select {
	case e := <-optimizer:
		assert.Equal(t, "opt-1", e.Name)
		assert.Equal(t, 3, e.Processed)
	case <-time.After(5 * time.Second):
		t.Fatal("optimizer progress not delivered")
	}
	select {
	case <-walker:
		t.Fatal("walker topic must not see optimizer progress")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	b := New(testLogger())
	b.Close()
	b.Close()
	// Publishing after close must not panic.
	b.PublishSignal(models.TickResult{Action: models.ActionIdle})
}
