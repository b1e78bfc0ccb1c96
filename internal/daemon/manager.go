// Package daemon wires capture, routing, the physics engine and its clock
// together with the control socket and telemetry.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scrollglide/internal/capture"
	"scrollglide/internal/ipc"
	"scrollglide/internal/physics"
	"scrollglide/internal/router"
	"scrollglide/internal/settings"
	"scrollglide/internal/telemetry"
)

// Options configures a Manager.
type Options struct {
	Config     settings.Config
	ConfigPath string // re-read by Reload; empty disables reload
	Backend    string // reported in status

	// Sink receives engine output (the virtual pointer). Nil discards.
	Sink physics.Sink

	// NewSource builds the capture backend around the manager's handler.
	NewSource func(capture.Handler) (capture.Source, error)

	// Focus, when set, runs alongside the daemon.
	Focus *capture.FocusTracker

	Logger *slog.Logger
}

// Manager owns the scroll pipeline and implements ipc.Controller.
//
// Start installs capture when it is not running and resumes it otherwise.
// Stop pauses capture, disables the engine and drops the current gesture;
// capture stays installed so the next Start is cheap. A backend that lost its
// devices reports Running() == false and is installed again by Start.
type Manager struct {
	logger     *slog.Logger
	configPath string
	backend    string

	engine    *physics.Engine
	router    *router.Router
	clock     *physics.Clock
	source    capture.Source
	focus     *capture.FocusTracker
	hub       *telemetry.Hub
	publisher *telemetry.Publisher

	mu      sync.Mutex
	cfg     settings.Config
	enabled bool
}

// New builds a stopped manager. Call Run to serve it.
func New(opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.NewSource == nil {
		return nil, errors.New("daemon: no capture source")
	}

	cfg := opts.Config
	m := &Manager{
		logger:     logger,
		configPath: opts.ConfigPath,
		backend:    opts.Backend,
		focus:      opts.Focus,
		cfg:        cfg,
	}

	sink := opts.Sink
	if cfg.Telemetry.Enabled {
		m.hub = telemetry.NewHub(logger.With("component", "telemetry"), telemetry.HubConfig{})
		m.publisher = telemetry.NewPublisher(m.hub, cfg.Telemetry.BroadcastHz, logger)
		sink = physics.Tee(sink, m.publisher)
	}

	// Everything starts disabled; Start enables it.
	engCfg := cfg.ToEngineConfig()
	engCfg.Enabled = false
	m.engine = physics.New(engCfg, sink, logger.With("component", "engine"))
	m.engine.SetEnabled(false)

	m.router = router.New(m.engine, cfg.ToPolicy().WithEnabled(false), logger.With("component", "router"))
	if m.publisher != nil {
		m.router.OnActivity = m.publisher.Activity
	}

	clock, err := physics.NewClock(m.engine, cfg.Clock.UpdateHz, logger.With("component", "clock"))
	if err != nil {
		return nil, err
	}
	m.clock = clock

	src, err := opts.NewSource(m.Handle)
	if err != nil {
		return nil, fmt.Errorf("create capture source: %w", err)
	}
	m.source = src

	return m, nil
}

// Handle routes one captured event. It is the capture.Handler of the source.
func (m *Manager) Handle(ev router.Event) router.Decision {
	return m.router.Route(ev, time.Now())
}

// Engine exposes the engine for inspection.
func (m *Manager) Engine() *physics.Engine { return m.engine }

// Start installs capture if needed, resumes it and enables the engine.
// An install failure leaves the manager stopped; calling Start again retries.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.source.Running() {
		if err := m.source.Start(ctx); err != nil {
			m.logger.Error("capture install failed", "backend", m.backend, "error", err)
			m.setEnabledLocked(false)
			m.publishLocked()
			return fmt.Errorf("start capture: %w", err)
		}
		m.logger.Info("capture installed", "backend", m.backend)
	}
	m.source.Resume()
	m.setEnabledLocked(true)
	m.logger.Info("smooth scrolling started")
	m.publishLocked()
	return nil
}

// Stop pauses capture and disables the engine.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.source.Pause()
	m.setEnabledLocked(false)
	m.logger.Info("smooth scrolling stopped")
	m.publishLocked()
	return nil
}

// Toggle stops a running manager and starts a stopped one.
func (m *Manager) Toggle(ctx context.Context) error {
	if m.running() {
		return m.Stop()
	}
	return m.Start(ctx)
}

func (m *Manager) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source.Running() && m.enabled && !m.source.Paused()
}

// Pause lets every event through untouched without disabling the engine.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source.Pause()
	m.logger.Info("capture paused")
	m.publishLocked()
}

// Resume undoes Pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source.Resume()
	m.logger.Info("capture resumed")
	m.publishLocked()
}

// Reload re-reads the configuration file and swaps in the engine settings
// and routing policy. Capture, clock and socket settings apply on restart.
func (m *Manager) Reload() error {
	if m.configPath == "" {
		return errors.New("no config file to reload")
	}
	cfg, err := settings.LoadConfigFile(m.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg
	engCfg := cfg.ToEngineConfig()
	engCfg.Enabled = m.enabled
	m.engine.SetConfig(engCfg)
	m.router.SetPolicy(cfg.ToPolicy().WithEnabled(m.enabled))

	m.logger.Info("configuration reloaded", "path", m.configPath)
	m.publishLocked()
	return nil
}

// Status reports the current daemon state.
func (m *Manager) Status() ipc.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() ipc.Status {
	return ipc.Status{
		Enabled:   m.enabled,
		Paused:    m.source.Paused(),
		Installed: m.source.Running(),
		Active:    m.engine.Active(),
		Backend:   m.backend,
		Config:    m.configPath,
		Stats:     m.router.Stats(),
	}
}

func (m *Manager) setEnabledLocked(enabled bool) {
	m.enabled = enabled
	m.router.SetEnabled(enabled)
	m.engine.SetEnabled(enabled)
}

func (m *Manager) publishLocked() {
	if m.publisher != nil {
		m.publisher.Status(toTelemetry(m.statusLocked()))
	}
}

func (m *Manager) telemetryStatus() telemetry.StatusData {
	return toTelemetry(m.Status())
}

func toTelemetry(s ipc.Status) telemetry.StatusData {
	return telemetry.StatusData{
		Enabled:   s.Enabled,
		Paused:    s.Paused,
		Installed: s.Installed,
		Active:    s.Active,
		Stats:     s.Stats,
	}
}

// Run starts the pipeline and serves until ctx is canceled or a component
// fails. engine.enabled decides whether it starts running or waits for
// `start`. A capture install failure is logged and the daemon keeps running
// so `start` over IPC can retry.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.clock.Run(ctx) })

	m.mu.Lock()
	socket := m.cfg.IPC.SocketPath
	tele := m.cfg.Telemetry
	autoStart := m.cfg.Engine.Enabled
	m.mu.Unlock()

	if socket != "" {
		g.Go(func() error { return ipc.Serve(ctx, settings.ExpandPath(socket), m, m.logger) })
	}
	if m.focus != nil {
		g.Go(func() error { return m.focus.Run(ctx) })
	}
	if m.hub != nil {
		g.Go(func() error {
			m.hub.Run(ctx)
			return nil
		})
		g.Go(func() error {
			m.publisher.Run(ctx)
			return nil
		})

		mux := http.NewServeMux()
		telemetry.NewServer(m.hub, m.telemetryStatus, m.logger).Register(mux, telemetry.DefaultPath)
		addr := net.JoinHostPort(tele.Bind, strconv.Itoa(tele.Port))
		g.Go(func() error { return telemetry.Serve(ctx, addr, mux, m.logger) })
	}

	if !autoStart {
		m.logger.Info("starting stopped; use `start` to enable")
	} else if err := m.Start(ctx); err != nil {
		m.logger.Warn("daemon running without capture; use `start` to retry", "error", err)
	}

	<-ctx.Done()
	m.shutdown()
	return g.Wait()
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setEnabledLocked(false)
	if m.source.Running() {
		if err := m.source.Stop(); err != nil && !errors.Is(err, capture.ErrNotStarted) {
			m.logger.Warn("capture stop failed", "error", err)
		}
	}
	m.logger.Info("daemon stopped")
}
