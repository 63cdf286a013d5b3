package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/firefly-engineering/sandboxd/internal/audit"
	"github.com/firefly-engineering/sandboxd/internal/cache"
	"github.com/firefly-engineering/sandboxd/internal/config"
	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/reaper"
	"github.com/firefly-engineering/sandboxd/internal/reconcile"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
	"github.com/firefly-engineering/sandboxd/internal/sandbox"
	"github.com/firefly-engineering/sandboxd/internal/session"
	"github.com/firefly-engineering/sandboxd/internal/store"
	"github.com/firefly-engineering/sandboxd/internal/workspace"
)

// sessionJanitorInterval is how often in-memory sessions are swept.
const sessionJanitorInterval = time.Minute

// App holds the application dependencies
type App struct {
	Config *config.Config

	// Store is the sandbox record store
	Store *store.Store

	// Runtime is the container runtime, wrapped with the audit log when one
	// is configured
	Runtime runtime.Runtime

	// Audit is nil when audit.dir is empty
	Audit *audit.Logger

	Cache      cache.Cache
	Sessions   session.Store
	Workspaces *workspace.Dirs

	Validator   *reconcile.Validator
	Teardown    *sandbox.Teardown
	Provisioner *sandbox.Provisioner
	Collector   *sandbox.Collector
	Binder      *session.Binder
	Reaper      *reaper.Reaper

	closers []func(context.Context) error
}

// Option is a function that configures the App
type Option func(*App)

// WithRuntime sets a custom runtime
func WithRuntime(r runtime.Runtime) Option {
	return func(a *App) {
		a.Runtime = r
	}
}

// WithStore sets a custom record store. The caller keeps ownership of it.
func WithStore(s *store.Store) Option {
	return func(a *App) {
		a.Store = s
	}
}

// WithSessions sets a custom session store
func WithSessions(s session.Store) Option {
	return func(a *App) {
		a.Sessions = s
	}
}

// WithCache sets a custom sandbox cache
func WithCache(c cache.Cache) Option {
	return func(a *App) {
		a.Cache = c
	}
}

// New builds the App from cfg. Dependencies not provided through options
// are created from the configuration. Close releases them.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &App{Config: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.init(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	if cfg.Audit.Dir != "" {
		a.Audit = audit.NewLogger(cfg.Audit.Dir)
	}

	if a.Store == nil {
		s, cleanup, err := store.Open(ctx, store.Config{
			Driver:       cfg.Store.Driver,
			DSN:          cfg.Store.DSN,
			MaxOpenConns: cfg.Store.MaxOpenConns,
			MaxIdleConns: cfg.Store.MaxIdleConns,
		}, store.WithLogger(logging.Logger))
		if err != nil {
			return err
		}
		a.Store = s
		a.closers = append(a.closers, cleanup)
	}

	if a.Runtime == nil {
		rt, err := runtime.New(&runtime.Config{
			Type:            runtime.RuntimeType(cfg.Runtime.Type),
			ContainerPrefix: cfg.Runtime.ContainerPrefix,
			Image:           cfg.Runtime.Image,
			Command:         cfg.Runtime.Command,
			BootTimeout:     cfg.Runtime.BootTimeout.Duration,
			StopTimeout:     cfg.Runtime.StopTimeout.Duration,
			CPUs:            cfg.Runtime.CPUs,
			MemoryMB:        cfg.Runtime.MemoryMB,
			ExtraArgs:       cfg.Runtime.ExtraArgs,
		})
		if err != nil {
			return err
		}
		a.Runtime = runtime.NewAudited(rt, a.Audit)
	}

	if err := a.initRedis(); err != nil {
		return err
	}
	if a.Cache == nil {
		a.Cache = cache.NewMemory()
	}
	if a.Sessions == nil {
		mem := session.NewMemoryStore(cfg.Session.TTL.Duration)
		mem.Start(sessionJanitorInterval)
		a.Sessions = mem
		a.closers = append(a.closers, func(context.Context) error { return mem.Close() })
	}

	if cfg.Sandbox.WorkspacesDir != "" {
		a.Workspaces = workspace.New(cfg.Sandbox.WorkspacesDir, nil)
	}

	a.Validator = reconcile.New(a.Store, a.Runtime,
		reconcile.WithProvisionGrace(cfg.Sandbox.ProvisionGrace.Duration),
		reconcile.WithLogger(logging.Logger),
	)

	sandboxOpts := []sandbox.Option{
		sandbox.WithCache(a.Cache),
		sandbox.WithSessionInvalidator(sandbox.InvalidatorFunc(a.Sessions.Delete)),
		sandbox.WithAuditLog(a.Audit),
		sandbox.WithVisitorTTL(cfg.Sandbox.VisitorTTL.Duration),
		sandbox.WithLogger(logging.Logger),
	}
	if a.Workspaces != nil {
		sandboxOpts = append(sandboxOpts, sandbox.WithWorkspaces(a.Workspaces))
	}
	a.Teardown = sandbox.NewTeardown(a.Store, a.Runtime, sandboxOpts...)
	a.Provisioner = sandbox.NewProvisioner(a.Store, a.Runtime, a.Validator, a.Teardown, sandboxOpts...)
	a.Collector = sandbox.NewCollector(a.Store, a.Runtime, a.Validator, a.Teardown, sandboxOpts...)
	a.Binder = session.NewBinder(a.Store, a.Provisioner, a.Teardown, a.Sessions,
		session.WithLogger(logging.Logger))

	reaperOpts := []reaper.Option{
		reaper.WithAuditLogger(a.Audit),
		reaper.WithLogger(logging.Logger),
	}
	if cfg.Reaper.ReclaimOrphans {
		reaperOpts = append(reaperOpts, reaper.WithOrphanReclaim(a.Collector))
	}
	a.Reaper = reaper.New(cfg.Reaper.Interval.Duration, a.Store, a.Validator, a.Teardown, reaperOpts...)

	return nil
}

// initRedis backs the cache and the session store with Redis when a URL is
// configured.
func (a *App) initRedis() error {
	cfg := a.Config.Redis
	if cfg.URL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return errors.ConfigError("invalid redis.url", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })

	if a.Cache == nil {
		a.Cache = cache.NewRedis(client, cfg.KeyPrefix)
	}
	if a.Sessions == nil {
		a.Sessions = session.NewRedisStore(client, cfg.KeyPrefix, a.Config.Session.TTL.Duration)
	}
	logging.Debug("using redis for sessions and cache", "addr", opts.Addr)
	return nil
}

// Close waits for background teardowns and releases every resource New
// opened, in reverse order.
func (a *App) Close(ctx context.Context) error {
	if a.Teardown != nil {
		a.Teardown.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}

// Default is the application instance used by commands. It is built on
// first use.
var Default *App

// SetDefault sets the default application instance (used for testing)
func SetDefault(app *App) {
	Default = app
}

// ResetDefault clears the default application instance
func ResetDefault() {
	Default = nil
}
