package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"farm-exporter/internal/config"
	"farm-exporter/internal/metrics"
	"farm-exporter/internal/registry"
	"farm-exporter/internal/server"
	"farm-exporter/internal/source"
	"farm-exporter/internal/watchdog"
	"farm-exporter/internal/worker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// enabledSource pairs an adapter with its poll interval.
type enabledSource struct {
	adapter  source.Adapter
	interval time.Duration
}

// newSources builds every enabled adapter. only, when non-empty, restricts
// the set to the named sources.
func (a *App) newSources(only []string) ([]enabledSource, error) {
	want := func(name string) bool { return len(only) == 0 || slices.Contains(only, name) }
	srcCfg := a.Config.Sources
	var enabled []enabledSource

	if n := srcCfg.ChiaNode; n.Enabled && want("chia_node") {
		node, err := source.NewChiaNode(source.ChiaNodeOptions{
			Host:          n.Host,
			SSLDir:        n.SSLDir,
			FullNodePort:  n.FullNodePort,
			WalletPort:    n.WalletPort,
			HarvesterPort: n.HarvesterPort,
			WalletID:      n.WalletID,
			Timeout:       n.RequestTimeout,
			AddressFilter: n.AddressFilter,
			FeeTolerance:  n.Tolerance(),
			PageSize:      n.HistoryPageSize,
			Limit:         n.HistoryLimit,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, enabledSource{adapter: node, interval: n.Interval})
	}

	if p := srcCfg.OpenChia; p.Enabled && want("openchia") {
		enabled = append(enabled, enabledSource{
			adapter: source.NewOpenChia(source.OpenChiaOptions{
				BaseURL:    p.BaseURL,
				LauncherID: p.LauncherID,
				Currency:   p.Currency,
				Timeout:    p.RequestTimeout,
				UserAgent:  p.UserAgent,
				PageSize:   p.HistoryPageSize,
				Limit:      p.HistoryLimit,
			}, a.Logger),
			interval: p.Interval,
		})
	}

	if p := srcCfg.TruePool; p.Enabled && want("truepool") {
		enabled = append(enabled, enabledSource{
			adapter: source.NewTruePool(source.TruePoolOptions{
				BaseURL:    p.BaseURL,
				LauncherID: p.LauncherID,
				Timeout:    p.RequestTimeout,
				UserAgent:  p.UserAgent,
				PageSize:   p.HistoryPageSize,
				Limit:      p.HistoryLimit,
			}, a.Logger),
			interval: p.Interval,
		})
	}

	if len(enabled) == 0 {
		return nil, fmt.Errorf("%w: no enabled source matches %v", config.ErrInvalid, only)
	}
	return enabled, nil
}

// checkVersions enforces the minimum chia node version. An unreachable node
// is left to the worker's retry loop.
func (a *App) checkVersions(ctx context.Context, enabled []enabledSource) error {
	for _, es := range enabled {
		node, ok := es.adapter.(*source.ChiaNode)
		if !ok {
			continue
		}
		minVersion := a.Config.Sources.ChiaNode.MinVersion
		have, err := node.Version(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Str("min_version", minVersion).Msg("could not read chia node version; continuing")
			continue
		}
		if err := source.CheckMinVersion(have, minVersion); err != nil {
			return err
		}
		a.Logger.Info().Str("version", have).Msg("chia node version accepted")
	}
	return nil
}

// Run executes the long-running exporter until a signal or a watchdog breach.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	enabled, err := a.newSources(nil)
	if err != nil {
		return err
	}
	if err := a.checkVersions(ctx, enabled); err != nil {
		return err
	}

	mode, err := watchdog.ParseMode(a.Config.Watchdog.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	reg := registry.New()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		reg,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	selfMetrics := metrics.New(promReg)

	names := make([]string, 0, len(enabled))
	for _, es := range enabled {
		names = append(names, es.adapter.Name())
	}
	counters := watchdog.NewCounters(names...)

	workers := make([]*worker.Worker, 0, len(enabled))
	runners := make([]watchdog.Runner, 0, len(enabled))
	for _, es := range enabled {
		w := worker.New(es.adapter, es.interval, reg, counters, selfMetrics, a.Logger)
		workers = append(workers, w)
		runners = append(runners, w)
	}

	srv := server.New(server.Options{
		ListenAddr:      a.Config.Server.ListenAddr,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		IdleTimeout:     a.Config.Server.IdleTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
	}, promReg, statusOf(workers, counters, reg), a.Logger)

	supervisor := watchdog.NewSupervisor(watchdog.Options{
		Mode:            mode,
		CheckInterval:   a.Config.Watchdog.CheckInterval,
		ErrorThreshold:  a.Config.Watchdog.ErrorThreshold,
		StartupDelay:    a.Config.Watchdog.StartupDelay,
		ShutdownTimeout: a.Config.Watchdog.ShutdownTimeout,
	}, counters, a.Logger)

	supCtx, stopSupervisor := context.WithCancel(ctx)
	defer stopSupervisor()
	srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServer()

	srvErr := make(chan error, 1)
	go func() {
		err := srv.Run(srvCtx)
		if err != nil {
			a.Logger.Error().Err(err).Msg("http server failed")
			stopSupervisor()
		}
		srvErr <- err
	}()

	a.Logger.Info().Strs("sources", names).Str("watchdog_mode", string(mode)).Msg("starting exporter")
	outcome, runErr := supervisor.Run(supCtx, runners)
	stopServer()
	serveErr := <-srvErr

	a.Logger.Info().Str("outcome", outcome.String()).Msg("exporter stopped")
	if outcome == watchdog.OutcomeThresholdExceeded {
		return runErr
	}
	return errors.Join(serveErr, runErr)
}

func statusOf(workers []*worker.Worker, counters *watchdog.Counters, reg *registry.Registry) server.StatusFunc {
	return func() []server.SourceStatus {
		out := make([]server.SourceStatus, 0, len(workers))
		for _, w := range workers {
			_, published := reg.Published(w.Name())
			out = append(out, server.SourceStatus{
				Source:       w.Name(),
				State:        w.State().String(),
				ErrorSeconds: counters.Get(w.Name()).Seconds(),
				Published:    published,
			})
		}
		return out
	}
}
