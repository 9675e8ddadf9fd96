// Command runner boots the signal engine from a YAML config and drives it in
// live, backtest or walker mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/signalrunner/signalrunner/internal/bus"
	"github.com/signalrunner/signalrunner/internal/config"
	"github.com/signalrunner/signalrunner/internal/driver"
	"github.com/signalrunner/signalrunner/internal/exchange"
	"github.com/signalrunner/signalrunner/internal/mock"
	"github.com/signalrunner/signalrunner/internal/models"
	"github.com/signalrunner/signalrunner/internal/oracle"
	"github.com/signalrunner/signalrunner/internal/risk"
	"github.com/signalrunner/signalrunner/internal/stats"
	"github.com/signalrunner/signalrunner/internal/store"
	"github.com/signalrunner/signalrunner/internal/strategy"
)

// mockSeedLookback pads the synthetic series so the first frame instants
// already have a full VWAP history behind them.
const mockSeedLookback = 60

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	mode := flag.String("mode", "", "override the configured mode: live, backtest or walker")
	flag.Parse()

	if err := run(*configPath, *mode); err != nil {
		logrus.WithError(err).Fatal("runner failed")
	}
}

func run(configPath, modeOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if modeOverride != "" {
		cfg.Environment.Mode = modeOverride
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := logrus.New()
	if cfg.Environment.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
		if err != nil {
			return fmt.Errorf("parsing log level: %w", err)
		}
		logger.SetLevel(level)
	}
	logger.WithFields(logrus.Fields{
		"mode":     cfg.Environment.Mode,
		"exchange": cfg.Exchange.Name,
	}).Info("starting runner")

	b := bus.New(logger)
	defer b.Close()

	agg := stats.New()
	unsubscribe := agg.AttachBus(b)
	defer unsubscribe()

	provider := buildProvider(cfg, logger)
	st, err := buildStore(cfg)
	if err != nil {
		return err
	}

	pairs, orc, err := buildCores(cfg, provider, st, b, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch cfg.Environment.Mode {
	case "live":
		err = runLive(ctx, cfg, pairs, b, logger)
	case "backtest":
		err = runBacktest(ctx, cfg, pairs, orc, b, logger)
	case "walker":
		err = runWalker(ctx, cfg, pairs, orc, b, logger)
	default:
		err = fmt.Errorf("unknown mode %q", cfg.Environment.Mode)
	}
	if err != nil {
		return err
	}

	logReports(agg, pairs, logger)
	return nil
}

// buildProvider returns the candle source: the synthetic provider for the
// mock exchange, a breaker-wrapped REST client otherwise.
func buildProvider(cfg *config.Config, logger *logrus.Logger) exchange.Provider {
	if cfg.Exchange.Name == "mock" {
		p := mock.NewProvider(cfg.Exchange.Name)
		seedMockSeries(p, cfg)
		return p
	}

	precision := make(map[string]exchange.Precision, len(cfg.Exchange.Symbols))
	for symbol, sp := range cfg.Exchange.Symbols {
		precision[symbol] = exchange.Precision{
			PriceDecimals:    sp.PriceDecimals,
			QuantityDecimals: sp.QuantityDecimals,
		}
	}
	client := exchange.NewClient(exchange.ClientConfig{
		Name:      cfg.Exchange.Name,
		BaseURL:   cfg.Exchange.BaseURL,
		Timeout:   time.Duration(cfg.Exchange.TimeoutMs) * time.Millisecond,
		Precision: precision,
	}, logger)
	return exchange.NewCircuitBreakerProvider(client, logger)
}

// seedMockSeries installs a deterministic random walk covering the frame (or
// the trailing day in live mode) for every configured symbol.
func seedMockSeries(p *mock.Provider, cfg *config.Config) {
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now()
	if cfg.Frame != nil {
		start, end = cfg.Frame.Start, cfg.Frame.End
	}
	start = start.Add(-mockSeedLookback * time.Minute)
	count := int(end.Sub(start)/time.Minute) + 1

	seeded := make(map[string]bool)
	for _, s := range cfg.Strategies {
		if seeded[s.Symbol] {
			continue
		}
		seeded[s.Symbol] = true
		p.SetSeries(s.Symbol, models.Interval1m,
			mock.WalkSeries(start, models.Interval1m, count, 100, 0.2, 42))
	}
}

func buildStore(cfg *config.Config) (store.Interface, error) {
	if cfg.Environment.Mode != "live" {
		return store.NewNoop(), nil
	}
	return store.NewDisk(cfg.Storage.Path)
}

// riskProfiles are the built-in named profiles strategies can bind to.
func riskProfiles() map[string]risk.Profile {
	return map[string]risk.Profile{
		"default":    {Name: "default", MaxConcurrentPositions: 1},
		"aggressive": {Name: "aggressive", MaxConcurrentPositions: 3},
	}
}

// pair binds a strategy config to its constructed core.
type pair struct {
	cfg  config.StrategyConfig
	core *strategy.Core
}

func buildCores(cfg *config.Config, provider exchange.Provider, st store.Interface, b *bus.Bus, logger *logrus.Logger) ([]pair, *oracle.Oracle, error) {
	live := cfg.Environment.Mode == "live"
	orc := oracle.New(provider, oracle.Config{
		AvgPriceCandleCount: cfg.Engine.AvgPriceCandleCount,
		RetryCount:          cfg.Engine.CandleRetryCount,
		RetryDelay:          cfg.Engine.CandleRetryDelay(),
		Live:                live,
	}, logger)

	frameName := ""
	if cfg.Frame != nil {
		frameName = cfg.Frame.Name
	}

	profiles := riskProfiles()
	gates := make(map[string]*risk.Gate)

	pairs := make([]pair, 0, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		builder, err := strategy.LookupGenerator(s.Name)
		if err != nil {
			return nil, nil, err
		}

		profileName := s.RiskProfile
		if profileName == "" {
			profileName = "default"
		}
		gate, ok := gates[profileName]
		if !ok {
			profile, found := profiles[profileName]
			if !found {
				return nil, nil, fmt.Errorf("strategy %s: unknown risk profile %q", s.Name, profileName)
			}
			gate = risk.NewGate(profile, b, logger)
			gates[profileName] = gate
		}

		cadence, err := models.ParseInterval(s.Interval)
		if err != nil {
			return nil, nil, err
		}

		core := strategy.New(strategy.Params{
			Symbol: s.Symbol,
			Routing: models.Routing{
				StrategyName: s.Name,
				ExchangeName: cfg.Exchange.Name,
				FrameName:    frameName,
			},
			Backtest:  !live,
			Cadence:   cadence,
			Engine:    cfg.Engine,
			Generator: builder(orc, cfg.Engine),
			Oracle:    orc,
			Gate:      gate,
			Store:     st,
			Bus:       b,
			Logger:    logger,
		})
		pairs = append(pairs, pair{cfg: s, core: core})
	}
	return pairs, orc, nil
}

// runLive fans one live driver out per strategy pair. The first SIGINT or
// SIGTERM requests a graceful drain; a second one forces the exit.
func runLive(ctx context.Context, cfg *config.Config, pairs []pair, b *bus.Bus, logger *logrus.Logger) error {
	drivers := make([]*driver.Live, 0, len(pairs))
	for _, p := range pairs {
		drivers = append(drivers, driver.NewLive(driver.LiveParams{
			Core:         p.core,
			Symbol:       p.cfg.Symbol,
			StrategyName: p.cfg.Name,
			Bus:          b,
			Logger:       logger,
		}))
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, ctx := errgroup.WithContext(ctx)
	for _, d := range drivers {
		d := d
		g.Go(func() error { return d.Run(ctx) })
	}
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			logger.Info("shutdown requested, draining open signals; interrupt again to force")
			for _, d := range drivers {
				d.Stop(true)
			}
		}
		select {
		case <-ctx.Done():
		case <-sigCh:
			logger.Warn("forced shutdown")
			for _, d := range drivers {
				d.Stop(false)
			}
		}
		return nil
	})
	return g.Wait()
}

// runBacktest replays the configured frame through every pair concurrently,
// logging each terminal outcome as it is pulled off the driver.
func runBacktest(ctx context.Context, cfg *config.Config, pairs []pair, orc *oracle.Oracle, b *bus.Bus, logger *logrus.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range pairs {
		bt := newBacktestDriver(cfg, p, orc, b, logger)
		g.Go(func() error {
			for res := range bt.Run(ctx) {
				fields := logrus.Fields{
					"strategy": res.StrategyName,
					"symbol":   res.Symbol,
					"action":   res.Action,
				}
				if res.PnL != nil {
					fields["pnl"] = fmt.Sprintf("%.3f%%", res.PnL.PnlPercentage)
				}
				logger.WithFields(fields).Info("signal finished")
			}
			return nil
		})
	}
	return g.Wait()
}

// runWalker sweeps the named strategies over the shared frame and reports the
// winner by the configured metric.
func runWalker(ctx context.Context, cfg *config.Config, pairs []pair, orc *oracle.Oracle, b *bus.Bus, logger *logrus.Logger) error {
	wanted := make(map[string]bool, len(cfg.Walker.Strategies))
	for _, name := range cfg.Walker.Strategies {
		wanted[name] = true
	}

	entries := make([]driver.WalkerEntry, 0, len(pairs))
	for _, p := range pairs {
		if !wanted[p.cfg.Name] {
			continue
		}
		entries = append(entries, driver.WalkerEntry{
			StrategyName: p.cfg.Name,
			Backtest:     newBacktestDriver(cfg, p, orc, b, logger),
		})
	}
	if len(entries) == 0 {
		return fmt.Errorf("walker %q matches no configured strategies", cfg.Walker.Name)
	}

	w := driver.NewWalker(driver.WalkerParams{
		Name:    cfg.Walker.Name,
		Metric:  cfg.Walker.Metric,
		Entries: entries,
		Bus:     b,
		Logger:  logger,
	})
	event, err := w.Run(ctx)
	if err != nil {
		return err
	}
	if event.Best == "" {
		logger.Warn("walker finished without a ranked winner")
		return nil
	}
	logger.WithFields(logrus.Fields{
		"walker": event.Walker,
		"best":   event.Best,
		"metric": fmt.Sprintf("%s=%.4f", cfg.Walker.Metric, *event.BestMetric),
	}).Info("walker finished")
	return nil
}

func newBacktestDriver(cfg *config.Config, p pair, orc *oracle.Oracle, b *bus.Bus, logger *logrus.Logger) *driver.Backtest {
	return driver.NewBacktest(driver.BacktestParams{
		Core:         p.core,
		Oracle:       orc,
		Symbol:       p.cfg.Symbol,
		StrategyName: p.cfg.Name,
		Frame:        *cfg.Frame,
		Bus:          b,
		Logger:       logger,
	})
}

// logReports prints the per-pair aggregate statistics collected off the bus.
func logReports(agg *stats.Aggregator, pairs []pair, logger *logrus.Logger) {
	for _, p := range pairs {
		r := agg.Report(p.cfg.Symbol, p.cfg.Name)
		fields := logrus.Fields{
			"strategy": p.cfg.Name,
			"symbol":   p.cfg.Symbol,
			"closed":   r.TotalClosed,
			"wins":     r.WinCount,
			"losses":   r.LossCount,
		}
		for _, name := range []string{"winRate", "totalPnl", "avgPnl", "sharpeRatio", "expectedYearlyReturns"} {
			if v := r.Metric(name); v != nil {
				fields[name] = fmt.Sprintf("%.4f", *v)
			}
		}
		logger.WithFields(fields).Info("session report")
	}
}
