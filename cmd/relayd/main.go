// relayd is the LAN file/clipboard relay daemon: it advertises itself over
// mDNS, maintains a persistent session with every peer it discovers, and
// exposes a local HTTP/WebSocket API for UIs on the same machine.
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/relaymesh/internal/api"
	"github.com/relaymesh/relaymesh/internal/config"
	"github.com/relaymesh/relaymesh/internal/discovery"
	"github.com/relaymesh/relaymesh/internal/engine"
	"github.com/relaymesh/relaymesh/internal/identity"
	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/relay"
	"github.com/relaymesh/relaymesh/internal/session"
	"github.com/relaymesh/relaymesh/internal/store"
	"github.com/relaymesh/relaymesh/internal/transfer"
	"github.com/relaymesh/relaymesh/internal/wire"
)

// shutdownTimeout bounds how long the HTTP servers get to drain active
// connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// drainTimeout is the time given to in-flight sessions to flush a final
// frame before their connections are closed.
const drainTimeout = 2 * time.Second

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

	dataDir, err := resolveDataDir(cfg.Data.Dir)
	if err != nil {
		logger.Error("failed to resolve data directory", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("relayd starting",
		slog.String("api_addr", cfg.API.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("data_dir", dataDir),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	ident, err := identity.Open(logger, dataDir)
	if err != nil {
		logger.Error("failed to open identity store", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, logger, dataDir)
	if err != nil {
		logger.Error("failed to open data store", slog.String("error", err.Error()))
		return 1
	}
	defer st.Close()

	if err := runServers(ctx, cfg, logger, ident, st, collector, reg); err != nil {
		logger.Error("relayd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("relayd stopped")
	return 0
}

// lateBoundSink breaks the construction cycle between transfer.Engine
// (which needs an EventSink at NewEngine time) and relay.Hub (which
// implements EventSink but needs the already-constructed Engine): it is
// handed to NewEngine first and pointed at the Hub once the Hub exists.
type lateBoundSink struct {
	hub *relay.Hub
}

func (s *lateBoundSink) TransferReceived(t store.Transfer) {
	if s.hub == nil {
		return
	}
	s.hub.TransferReceived(t)
}

// lateBoundSender breaks the same construction cycle as lateBoundSink,
// for the Sender transfer.NewEngine needs: chunked transfers must route
// through the Hub (so a target_route can resolve to either a local
// client or a remote peer), but the Hub itself is constructed from the
// already-built Engine.
type lateBoundSender struct {
	hub *relay.Hub
}

func (s *lateBoundSender) Send(destination string, v any) error {
	if s.hub == nil {
		return fmt.Errorf("relay hub not yet initialized")
	}
	return s.hub.Send(destination, v)
}

// lateBoundFrameHandler breaks the same kind of cycle for
// session.Manager: WithFrameHandler only accepts a handler at
// construction time, but the engine.Coordinator that handles frames
// needs the already-constructed Manager to dial peers and send acks.
type lateBoundFrameHandler struct {
	coordinator *engine.Coordinator
}

func (h *lateBoundFrameHandler) HandleFrame(peerID string, msg wire.Message) {
	if h.coordinator == nil {
		return
	}
	h.coordinator.HandleFrame(peerID, msg)
}

// runServers wires the daemon's components together and runs the
// listener, API, metrics, and background goroutines under an errgroup
// bound to a signal-aware context.
func runServers(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	ident *identity.Store,
	st *store.Store,
	collector *metrics.Collector,
	reg *prometheus.Registry,
) error {
	handlerSeam := &lateBoundFrameHandler{}
	sess := session.NewManager(logger, ident.NodeID(), ident.DeviceName(), session.WithFrameHandler(handlerSeam))

	sink := &lateBoundSink{}
	senderSeam := &lateBoundSender{}
	xferEngine := transfer.NewEngine(logger, st, senderSeam, sink)
	hub := relay.NewHub(logger, ident.NodeID(), st, xferEngine, sess)
	sink.hub = hub
	senderSeam.hub = hub

	coordinator := engine.New(logger, st, sess, xferEngine, hub, collector)
	handlerSeam.coordinator = coordinator

	apiSrv := api.New(logger, st, xferEngine, hub, ident, sess)
	httpSrv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g, gCtx := errgroup.WithContext(ctx)
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("local API listening", slog.String("addr", cfg.API.Addr))
		return listenAndServe(gCtx, &lc, httpSrv, cfg.API.Addr)
	})

	if !cfg.Metrics.Disabled() {
		g.Go(func() error {
			logger.Info("metrics server listening",
				slog.String("addr", cfg.Metrics.Addr),
				slog.String("path", cfg.Metrics.Path),
			)
			return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
		})
	}

	peerLn, err := lc.Listen(gCtx, "tcp", fmt.Sprintf(":%d", ident.Port()))
	if err != nil {
		return fmt.Errorf("listen for peer sessions on port %d: %w", ident.Port(), err)
	}
	g.Go(func() error {
		return runPeerListener(gCtx, peerLn, sess, logger)
	})

	g.Go(func() error {
		xferEngine.RunReaper(gCtx)
		return nil
	})

	g.Go(func() error {
		coordinator.RunSessionEvents(gCtx)
		return nil
	})

	if !cfg.Discovery.Disabled {
		disc := discovery.New(logger, cfg.Discovery.Scheme, ident.NodeID(), ident.DeviceName(), ident.Port())
		if err := disc.Start(gCtx, coordinator.DiscoveryCallbacks(gCtx)); err != nil {
			return fmt.Errorf("start LAN discovery: %w", err)
		}
		defer disc.Stop()
	}

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, sess, peerLn, logger, httpSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// runPeerListener accepts inbound peer session connections until ctx is
// cancelled, handing each one to the session manager.
func runPeerListener(ctx context.Context, ln net.Listener, sess *session.Manager, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Timeout() {
				logger.Warn("peer listener accept failed", slog.Any("error", err))
				continue
			}
			return fmt.Errorf("accept peer connection: %w", err)
		}

		go sess.Accept(ctx, conn)
	}
}

// -------------------------------------------------------------------------
// Systemd Integration
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

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
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
// Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(
	ctx context.Context,
	sess *session.Manager,
	peerLn net.Listener,
	logger *slog.Logger,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	sess.DrainAllSessions(drainTimeout)
	peerLn.Close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}

	if err := sess.Close(); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("close session manager: %w", err))
	}

	return shutdownErr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
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
	if cfg.Disabled() {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

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

// resolveDataDir returns dir unchanged if set, otherwise a per-user
// default under the OS config directory.
func resolveDataDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "relaymesh"), nil
}
