// Package runtime provides the Broker struct and lifecycle management for
// the matchmaker federation broker.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tjfontaine/mme-broker/internal/audit"
	"github.com/tjfontaine/mme-broker/internal/auth"
	"github.com/tjfontaine/mme-broker/internal/controlplane"
	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
	"github.com/tjfontaine/mme-broker/internal/exchange"
	"github.com/tjfontaine/mme-broker/internal/federation"
	"github.com/tjfontaine/mme-broker/internal/frontdoor/mme"
	"github.com/tjfontaine/mme-broker/internal/metrics"
	"github.com/tjfontaine/mme-broker/internal/normalize"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
	"github.com/tjfontaine/mme-broker/internal/registry"
	"github.com/tjfontaine/mme-broker/internal/server"
	"github.com/tjfontaine/mme-broker/internal/telemetry"
)

// Broker is the main entry point for running the federation broker.
// It manages configuration, storage, the peer registry and the HTTP server.
// Broker can be embedded in larger applications or run standalone.
type Broker struct {
	// Dependencies (injected via options)
	config     ports.ConfigProvider
	storage    ports.StorageProvider
	events     ports.EventPublisher
	schema     ports.Schema
	httpClient *http.Client
	overrides  []func(*config.Config)

	// Built by Start
	cfg      *config.Config
	registry *registry.Registry
	auth     *auth.Authenticator
	recorder *audit.Recorder
	orch     *exchange.Orchestrator
	server   *server.Server
	metrics  *metrics.Collector
	tracing  telemetry.Shutdown
	logger   *slog.Logger
	serveErr chan error

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a new Broker with the given options. Storage and events not
// chosen by an option are built from the loaded configuration in Start.
func New(opts ...Option) (*Broker, error) {
	b := &Broker{
		logger:   slog.Default(),
		serveErr: make(chan error, 1),
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if b.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfig)")
	}
	return b, nil
}

// Start loads configuration, wires the exchange pipeline and starts the
// HTTP server in the background.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ctx, b.cancel = context.WithCancel(ctx)

	cfg, err := b.config.Load(b.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	b.applyOverrides(cfg)
	b.cfg = cfg

	if err := b.build(cfg); err != nil {
		return err
	}

	go func() {
		if err := b.server.Start(); err != nil {
			b.logger.Error("server error", slog.String("error", err.Error()))
			b.serveErr <- err
		}
	}()

	go b.watchConfig()

	b.logger.Info("broker started",
		slog.String("addr", b.server.Addr),
		slog.String("node_id", cfg.Federation.NodeID),
		slog.Int("outbound_peers", len(b.registry.List(domain.DirectionOutbound))),
		slog.Bool("require_auth", cfg.Federation.RequireAuth))

	return nil
}

// build wires every component from cfg.
func (b *Broker) build(cfg *config.Config) error {
	var err error

	if b.storage == nil {
		if b.storage, err = OpenStorage(cfg.Storage); err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
	}
	if b.events == nil {
		if b.events, err = OpenEvents(cfg.Events, b.logger); err != nil {
			return fmt.Errorf("open events: %w", err)
		}
	}
	if b.schema == nil {
		if b.schema, err = LoadSchema(cfg.Schema); err != nil {
			return fmt.Errorf("load schema: %w", err)
		}
	}

	b.tracing = telemetry.Noop
	if cfg.Tracing.Enabled {
		if b.tracing, err = telemetry.InitTracer(telemetry.ServiceName, b.logger); err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
	}

	b.metrics = metrics.NewCollector()

	b.registry, err = registry.New(b.ctx, cfg, registry.WithStore(b.storage), registry.WithLogger(b.logger))
	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}

	client := federation.NewClient(
		federation.WithHTTPClient(b.httpClient),
		federation.WithFederationConfig(cfg.Federation),
		federation.WithMetrics(b.metrics),
		federation.WithLogger(b.logger),
	)
	dispatcher := federation.NewDispatcher(client, cfg.Federation.Workers, b.logger)

	recorderOpts := []audit.Option{
		audit.WithMetrics(b.metrics),
		audit.WithLogger(b.logger),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
		audit.WithRecentDefault(cfg.Audit.RecentDefault),
	}
	if b.events != nil {
		recorderOpts = append(recorderOpts, audit.WithPublisher(b.events))
	}
	b.recorder = audit.NewRecorder(b.storage, recorderOpts...)

	b.auth = auth.NewAuthenticator(b.registry, cfg.Federation.RequireAuth)
	b.orch = exchange.New(
		b.auth,
		normalize.New(b.schema, b.logger),
		b.registry,
		dispatcher,
		b.recorder,
		exchange.WithFederationConfig(cfg.Federation),
		exchange.WithMetrics(b.metrics),
		exchange.WithLogger(b.logger),
	)

	b.server = server.New(cfg.Server, server.WithLogger(b.logger), server.WithMetrics(b.metrics))
	r := b.server.Router

	mme.NewHandler(b.orch, b.recorder, b.auth,
		mme.WithFederationConfig(cfg.Federation),
		mme.WithLogger(b.logger),
	).Routes(r)

	controlplane.NewServer(b.registry, b.recorder,
		controlplane.WithNodeID(cfg.Federation.NodeID),
		controlplane.WithLogger(b.logger),
	).Routes(r)

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, b.metrics.Handler())
	}
	return nil
}

func (b *Broker) applyOverrides(cfg *config.Config) {
	for _, fn := range b.overrides {
		fn(cfg)
	}
}

// Handler returns the broker's HTTP handler. It is nil before Start.
func (b *Broker) Handler() http.Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.server == nil {
		return nil
	}
	return b.server.Router
}

// Registry returns the live peer registry. It is nil before Start.
func (b *Broker) Registry() *registry.Registry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.registry
}

// Errors reports a listener failure after Start returned.
func (b *Broker) Errors() <-chan error {
	return b.serveErr
}

// Reload rebuilds the peer registry from cfg and the peer store, and applies
// the timeout policy and require_auth to running exchanges. Other changed
// keys are logged and take effect on the next start.
func (b *Broker) Reload(ctx context.Context, cfg *config.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.registry == nil {
		return errors.New("broker not started")
	}
	b.applyOverrides(cfg)
	if err := b.registry.Reload(ctx, cfg); err != nil {
		return fmt.Errorf("reload peers: %w", err)
	}
	b.auth.SetRequireAuth(cfg.Federation.RequireAuth)
	b.orch.SetFederationConfig(cfg.Federation)

	if pending := RestartRequired(b.cfg, cfg); len(pending) > 0 {
		b.logger.Warn("config keys changed that need a restart", slog.Any("keys", pending))
	}
	b.cfg = cfg
	b.logger.Info("reload complete",
		slog.Int("peers", len(cfg.Peers)),
		slog.Bool("require_auth", cfg.Federation.RequireAuth),
		slog.Duration("default_timeout", cfg.Federation.DefaultTimeout),
		slog.Duration("max_timeout", cfg.Federation.MaxTimeout))
	return nil
}

// Shutdown gracefully stops the broker.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Info("shutting down broker")

	if b.cancel != nil {
		b.cancel()
	}

	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil {
			b.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			return err
		}
	}

	if b.storage != nil {
		if err := b.storage.Close(); err != nil {
			b.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if b.events != nil {
		if err := b.events.Close(); err != nil {
			b.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}

	if b.config != nil {
		if err := b.config.Close(); err != nil {
			b.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	if b.tracing != nil {
		if err := b.tracing(ctx); err != nil {
			b.logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}

	b.logger.Info("broker shutdown complete")
	return nil
}

// watchConfig watches for config changes and reloads the peer registry.
func (b *Broker) watchConfig() {
	onChange := func(newCfg *config.Config) {
		b.logger.Info("config changed, reloading")
		if err := b.Reload(b.ctx, newCfg); err != nil {
			b.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := b.config.Watch(b.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			b.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}
