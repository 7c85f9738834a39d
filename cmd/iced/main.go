// iced is the goice transport/demux daemon -- it harvests host candidates,
// binds the UDP and TCP acceptors, and exposes a Prometheus metrics
// endpoint for the running transport core.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/netice/goice/internal/config"
	"github.com/netice/goice/internal/ice"
	icemetrics "github.com/netice/goice/internal/metrics"
	"github.com/netice/goice/internal/transport"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// metricsPollInterval is how often the classify/dispatch counters and
// per-socket queue depths are copied into the Prometheus collector.
const metricsPollInterval = 5 * time.Second

// defaultComponent is the ICE component this daemon harvests candidates
// for at startup. A full ICE agent would request components dynamically;
// this daemon demonstrates the transport core with a single fixed
// component, the way a protocol daemon without its own control plane
// still exercises its data plane.
const defaultComponent ice.ComponentRef = 1

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("iced starting",
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("min_port", int(cfg.Gather.MinPort)),
		slog.Int("max_port", int(cfg.Gather.MaxPort)),
	)

	reg := prometheus.NewRegistry()
	collector := icemetrics.NewCollector(reg)

	if err := transport.InitFilters(mustFilter(cfg, logger)); err != nil {
		logger.Error("failed to initialize address/interface filters",
			slog.String("error", err.Error()),
		)
		return 1
	}

	if err := runDaemon(cfg, collector, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("iced exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("iced stopped")
	return 0
}

func runDaemon(
	cfg *config.Config,
	collector *icemetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	dispatcher := transport.NewEventDispatcher(logger)

	udpAcc := transport.InitUDPAcceptor(transport.AcceptorConfig{
		IOThreads:           cfg.IO.Threads,
		StaleSweepInterval:  cfg.IO.StaleSweepInterval,
		StaleTimeout:        cfg.IO.StaleTimeout,
		Dispatcher:          dispatcher,
		QueueDepth:          cfg.IO.QueueDepth,
		Logger:              logger.With(slog.String("acceptor", "udp")),
		SockOpts:            cfg.IO.ToSockOpts(),
		CloseOnDeactivation: cfg.IO.CloseOnDeactivation,
	})
	tcpAcc := transport.InitTCPAcceptor(transport.AcceptorConfig{
		IOThreads:           cfg.IO.Threads,
		StaleSweepInterval:  cfg.IO.StaleSweepInterval,
		StaleTimeout:        cfg.IO.StaleTimeout,
		Dispatcher:          dispatcher,
		QueueDepth:          cfg.IO.QueueDepth,
		Logger:              logger.With(slog.String("acceptor", "tcp")),
		SockOpts:            cfg.IO.ToSockOpts(),
		CloseOnDeactivation: cfg.IO.CloseOnDeactivation,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return udpAcc.Run(gctx) })
	g.Go(func() error { return tcpAcc.Run(gctx) })

	comp, err := harvestStartupCandidates(gctx, cfg, dispatcher, udpAcc, tcpAcc, logger, collector)
	if err != nil {
		return fmt.Errorf("harvest startup candidates: %w", err)
	}
	defer comp.Close()

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gctx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return pollMetrics(gctx, collector, udpAcc, tcpAcc)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gctx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return gracefulShutdown(gctx, udpAcc, tcpAcc, metricsSrv, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// harvestStartupCandidates gathers the fixed default component's host
// candidates on both transports, then hands each bound UDP socket to the
// UDP acceptor so the acceptor's worker pool drives its read loop (a TCP
// listener's own accept loop registers each accepted connection) -- the
// registration step Harvest itself deliberately leaves to its caller
// (spec §4.6 notes the acceptor, not the harvester, owns the socket
// registry).
func harvestStartupCandidates(
	ctx context.Context,
	cfg *config.Config,
	dispatcher *transport.EventDispatcher,
	udpAcc, tcpAcc *transport.Acceptor,
	logger *slog.Logger,
	collector *icemetrics.Collector,
) (*ice.Component, error) {
	comp := &ice.Component{Ref: defaultComponent}

	for _, tr := range []transport.Transport{transport.UDP, transport.TCP} {
		acc := udpAcc
		if tr == transport.TCP {
			acc = tcpAcc
		}

		stats := &ice.HarvestStatistics{}
		err := ice.Harvest(ctx, comp, ice.HarvestOptions{
			Component:     defaultComponent,
			PreferredPort: cfg.Gather.MinPort,
			MinPort:       cfg.Gather.MinPort,
			MaxPort:       cfg.Gather.MaxPort,
			Transport:     tr,
			BindRetries:   cfg.Gather.BindRetries,
			Dispatcher:    dispatcher,
			QueueDepth:    cfg.IO.QueueDepth,
			SockOpts:      cfg.IO.ToSockOpts(),
			Logger:        logger.With(slog.String("transport", tr.String())),
		}, stats)
		for range stats.BindFailures {
			collector.IncGatherBindFailures()
		}
		if err != nil {
			if errors.Is(err, transport.ErrNoBoundCandidate) {
				logger.Warn("no candidates bound for transport",
					slog.String("transport", tr.String()),
					slog.Any("error", err),
				)
				continue
			}
			return comp, fmt.Errorf("harvest %s: %w", tr, err)
		}

		for _, cand := range comp.Candidates() {
			if cand.Transport != tr {
				continue
			}
			local := cand.Socket.LocalAddr()
			if _, already := acc.Lookup(local); already {
				continue
			}
			registerHarvestedSocket(ctx, acc, cand.Socket)
		}

		for range stats.CandidateCount {
			collector.IncGatherCandidates()
		}
		logger.Info("harvest complete",
			slog.String("transport", tr.String()),
			slog.Int("candidates", stats.CandidateCount),
			slog.Int("bind_attempts", stats.BindAttempts),
		)
	}

	return comp, nil
}

// registerHarvestedSocket is only needed for UDP: the listening socket
// ListenTCP returns is never registered, and its accept loop registers
// each accepted connection with the TCP acceptor itself.
func registerHarvestedSocket(ctx context.Context, acc *transport.Acceptor, w *transport.SocketWrapper) {
	if w.Transport() != transport.UDP {
		return
	}
	acc.AdoptSocket(ctx, w)
}

// -------------------------------------------------------------------------
// Metrics polling -- copies the transport package's internal atomic
// counters into the Prometheus collector (A2). The counters live
// process-wide in the transport package, so a light poller is the
// simplest bridge rather than threading a collector reference through
// every call site.
// -------------------------------------------------------------------------

func pollMetrics(ctx context.Context, collector *icemetrics.Collector, accs ...*transport.Acceptor) error {
	ticker := time.NewTicker(metricsPollInterval)
	defer ticker.Stop()

	lastClassify := map[string]uint64{}
	lastDispatch := map[string]uint64{}
	lastDropped := map[string]uint64{}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			addDeltas(collector.ClassifyTotal, lastClassify, transport.ClassifyCounts())
			addDeltas(collector.DispatchTotal, lastDispatch, transport.DispatchCounts())

			for _, acc := range accs {
				sessions := 0
				var trName string
				for _, sock := range acc.Sockets() {
					trName = sock.Transport().String()
					local := sock.LocalAddr().String()
					collector.SetQueueDepth(local, sock.Queue().Len())
					if dropped := sock.Queue().Dropped(); dropped > lastDropped[local] {
						collector.QueueDropped.WithLabelValues(local).Add(float64(dropped - lastDropped[local]))
						lastDropped[local] = dropped
					}
					if sock.HasActiveSession() {
						sessions++
					}
				}
				if trName != "" {
					collector.SetSessions(trName, sessions)
				}
			}
		}
	}
}

// addDeltas adds the growth since the last poll to vec for each label in
// current -- the transport package's counters are cumulative snapshots, so
// each tick must add a delta rather than overwrite (CounterVec has no Set).
func addDeltas(vec *prometheus.CounterVec, last map[string]uint64, current map[string]uint64) {
	for label, count := range current {
		delta := count - last[label]
		if delta > 0 {
			vec.WithLabelValues(label).Add(float64(delta))
		}
		last[label] = count
	}
}

// -------------------------------------------------------------------------
// SIGHUP reload -- log level only. Address/interface filters are a
// process-wide singleton guarded by sync.Once (see internal/transport's
// design note); re-validating them against a changed config would require
// tearing down every bound socket, so a filter change requires a restart.
// This mirrors the teacher's reload narrowly (log level, not a full
// re-bind) rather than papering over the mismatch.
// -------------------------------------------------------------------------

func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload configuration, keeping current settings",
					slog.String("error", err.Error()),
				)
				continue
			}

			oldLevel := logLevel.Level()
			newLevel := config.ParseLogLevel(newCfg.Log.Level)
			logLevel.Set(newLevel)

			logger.Info("configuration reloaded",
				slog.String("old_log_level", oldLevel.String()),
				slog.String("new_log_level", newLevel.String()),
			)
		}
	}
}

// -------------------------------------------------------------------------
// Graceful shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, udpAcc, tcpAcc *transport.Acceptor, metricsSrv *http.Server, logger *slog.Logger) error {
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown metrics server: %w", err))
	}
	if err := udpAcc.Close(); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("close udp acceptor: %w", err))
	}
	if err := tcpAcc.Close(); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("close tcp acceptor: %w", err))
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Setup helpers
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func mustFilter(cfg *config.Config, logger *slog.Logger) transport.FilterConfig {
	fc, err := cfg.Filter.ToTransportFilter()
	if err != nil {
		logger.Error("invalid filter configuration", slog.String("error", err.Error()))
		return transport.FilterConfig{}
	}
	return fc
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}
