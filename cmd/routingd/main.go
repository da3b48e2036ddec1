// routingd -- SOME/IP routing-host daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/someip-go/routingd/internal/config"
	"github.com/someip-go/routingd/internal/ipc"
	"github.com/someip-go/routingd/internal/metrics"
	"github.com/someip-go/routingd/internal/netio"
	"github.com/someip-go/routingd/internal/policy"
	"github.com/someip-go/routingd/internal/routing"
	"github.com/someip-go/routingd/internal/someip"
	appversion "github.com/someip-go/routingd/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics HTTP server
// to drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (JSON)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("routingd starting",
		slog.String("version", appversion.Version),
		slog.String("instance", cfg.Instance),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("security_mode", cfg.Security.Mode),
	)

	// 4. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 5. Create the access-control engine and the routing hub.
	engine := policy.NewEngine(logger, policy.ParseMode(cfg.Security.Mode))
	engine.SetRules(cfg.Security.BuildRules())

	hub := routing.NewHub(logger, cfg.ServiceDiscovery.CyclicOfferDelay,
		routing.WithAccessControl(engine),
		routing.WithHubMetrics(collector),
		routing.WithRequestTimeout(cfg.ServiceDiscovery.RequestResponseMaxTimeout),
	)

	// 6. Run servers.
	if err := runServers(cfg, hub, engine, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("routingd exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("routingd stopped")
	return 0
}

// runServers sets up and runs the local-IPC server, the SOME/IP UDP
// listeners, and the metrics HTTP server using an errgroup with a
// signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	hub *routing.Hub,
	engine *policy.Engine,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// Local-IPC server: guests connect over a Unix-domain stream socket.
	ipcSrv, ipcLn, err := newIPCServer(cfg, hub, logger)
	if err != nil {
		return fmt.Errorf("create ipc server: %w", err)
	}
	defer closeListener(ipcLn, logger)

	g.Go(func() error {
		return ipcSrv.Serve(gCtx, ipcLn)
	})

	// SOME/IP UDP listeners for configured services.
	listeners, err := createListeners(cfg, logger)
	if err != nil {
		return fmt.Errorf("create someip listeners: %w", err)
	}
	defer closeListeners(listeners, logger)

	if len(listeners) > 0 {
		recv := netio.NewReceiver(hub, logger)
		g.Go(func() error {
			return recv.Run(gCtx, listeners...)
		})
	}

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	startDaemonGoroutines(gCtx, g, configPath, logLevel, engine, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startDaemonGoroutines registers the systemd watchdog and SIGHUP reload
// goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	engine *policy.Engine,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, engine, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Local-IPC Server
// -------------------------------------------------------------------------

// newIPCServer builds the local-IPC server and binds its Unix-domain
// socket listener (spec.md §6.3).
func newIPCServer(cfg *config.Config, hub *routing.Hub, logger *slog.Logger) (*ipc.Server, net.Listener, error) {
	path := cfg.IPC.SocketPath(cfg.Instance)
	_ = os.Remove(path)

	ln, err := netio.NewUDSListener(path)
	if err != nil {
		return nil, nil, fmt.Errorf("listen unix %s: %w", path, err)
	}

	srv := ipc.NewServer(hub, logger,
		ipc.WithWatchdog(cfg.IPC.WatchdogInterval, cfg.IPC.WatchdogTimeout),
		ipc.WithMaxPayloadSize(cfg.IPC.MaxPayload),
	)
	srv.NameHint = applicationNameHint(cfg.Applications)

	logger.Info("local-ipc listener started", slog.String("path", path))

	return srv, ln, nil
}

// applicationNameHint builds the ASSIGN_CLIENT name-to-client_t
// lookup from the configuration's declared applications.
func applicationNameHint(apps []config.ApplicationConfig) func(string) someip.ClientID {
	hints := make(map[string]someip.ClientID, len(apps))
	for _, app := range apps {
		if app.ClientID != 0 {
			hints[app.Name] = someip.ClientID(app.ClientID)
		}
	}
	return func(name string) someip.ClientID {
		if id, ok := hints[name]; ok {
			return id
		}
		return someip.IllegalClient
	}
}

func closeListener(ln net.Listener, logger *slog.Logger) {
	if err := ln.Close(); err != nil {
		logger.Warn("failed to close ipc listener", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// SOME/IP Listeners
// -------------------------------------------------------------------------

// createListeners binds one UDP listener per unique (address, port)
// configured across the service list.
func createListeners(cfg *config.Config, logger *slog.Logger) ([]*netio.Listener, error) {
	type listenerKey struct {
		addr string
		port uint16
	}

	seen := make(map[listenerKey]struct{})
	var listeners []*netio.Listener

	for _, sc := range cfg.Services {
		if sc.Protocol == "tcp" {
			continue
		}

		key := listenerKey{addr: sc.Address, port: sc.Port}
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}

		localAddr, err := cfg.Unicast.Addr()
		if err != nil {
			return nil, fmt.Errorf("parse unicast address: %w", err)
		}
		if sc.Address != "" {
			parsed, err := netip.ParseAddr(sc.Address)
			if err != nil {
				closeListeners(listeners, logger)
				return nil, fmt.Errorf("parse service address %q: %w", sc.Address, err)
			}
			localAddr = parsed
		}

		lnCfg := netio.ListenerConfig{
			Addr: localAddr,
			Port: sc.Port,
		}
		if sc.Multicast != "" {
			multicast, err := netip.ParseAddr(sc.Multicast)
			if err != nil {
				closeListeners(listeners, logger)
				return nil, fmt.Errorf("parse multicast address %q: %w", sc.Multicast, err)
			}
			lnCfg.Multicast = multicast
		}

		ln, err := netio.NewListener(lnCfg)
		if err != nil {
			closeListeners(listeners, logger)
			return nil, fmt.Errorf("create listener on %s:%d: %w", localAddr, sc.Port, err)
		}

		logger.Info("someip listener started",
			slog.String("addr", localAddr.String()),
			slog.Uint64("port", uint64(sc.Port)),
		)

		listeners = append(listeners, ln)
	}

	return listeners, nil
}

func closeListeners(listeners []*netio.Listener, logger *slog.Logger) {
	for _, ln := range listeners {
		if err := ln.Close(); err != nil {
			logger.Warn("failed to close someip listener", slog.String("error", err.Error()))
		}
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval, or exits immediately if the watchdog is not
// configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + policy rules
// -------------------------------------------------------------------------

func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	engine *policy.Engine,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, engine, logger)
		}
	}
}

// reloadConfig loads a fresh configuration from path, updates the
// dynamic log level, and swaps in the new policy rule set and mode.
// Errors during reload are logged but do not stop the daemon -- the
// previous configuration remains in effect.
func reloadConfig(
	configPath string,
	logLevel *slog.LevelVar,
	engine *policy.Engine,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	engine.SetMode(policy.ParseMode(newCfg.Security.Mode))
	engine.SetRules(newCfg.Security.BuildRules())

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
		slog.String("security_mode", newCfg.Security.Mode),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown signals systemd and shuts down the metrics HTTP
// server. The local-IPC server and SOME/IP listeners are closed by their
// own deferred cleanups once Serve/Run return; only the HTTP server
// needs an explicit drain deadline.
func gracefulShutdown(ctx context.Context, logger *slog.Logger, metricsSrv *http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

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

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
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

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
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
