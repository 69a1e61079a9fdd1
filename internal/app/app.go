// Package app wires the OpenUsage components together.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/openusage/internal/batch"
	"github.com/ayusman/openusage/internal/cliproxy"
	"github.com/ayusman/openusage/internal/credential"
	"github.com/ayusman/openusage/internal/plugin"
	"github.com/ayusman/openusage/internal/runtime"
	"github.com/ayusman/openusage/internal/store"
)

// Config holds configuration options for the application.
type Config struct {
	PluginDir  string
	AppDataDir string
	AppVersion string
	// Store persists settings; nil keeps everything in memory.
	Store *store.Store
	// CLIProxy is used when the store holds no remote config.
	CLIProxy        cliproxy.Config
	HTTPTimeout     time.Duration
	RefreshInterval time.Duration
	// Keychain and HTTPClient override the plugin capabilities.
	Keychain   runtime.Keychain
	HTTPClient *http.Client
	// CLIProxyHTTPClient overrides the remote store client.
	CLIProxyHTTPClient *http.Client
	Logger             *slog.Logger
}

// App owns the plugin host, the credential overlay builder and the batch
// orchestrator.
type App struct {
	config       Config
	logger       *slog.Logger
	pluginMgr    *plugin.Manager
	executor     *runtime.Executor
	cache        *credential.Cache
	builder      *credential.Builder
	remote       *cliproxy.Client
	orchestrator *batch.Orchestrator
	events       *batch.FanOut
	completions  *completionWatcher
	mu           sync.Mutex
	stopCh       chan struct{}
	loopDone     chan struct{}
}

// New creates a new App instance with the given configuration.
func New(config Config) *App {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	execOpts := []runtime.ExecutorOption{}
	if config.HTTPTimeout > 0 {
		execOpts = append(execOpts, runtime.WithHTTPTimeout(int(config.HTTPTimeout/time.Millisecond)))
	}
	if config.Keychain != nil {
		execOpts = append(execOpts, runtime.WithKeychain(config.Keychain))
	}
	if config.HTTPClient != nil {
		execOpts = append(execOpts, runtime.WithHTTPClient(config.HTTPClient))
	}

	a := &App{
		config:      config,
		logger:      logger,
		pluginMgr:   plugin.NewManager(config.PluginDir, logger),
		executor:    runtime.NewExecutor(logger, execOpts...),
		cache:       credential.NewCache(),
		remote:      cliproxy.NewClient(config.CLIProxyHTTPClient, logger),
		events:      &batch.FanOut{},
		completions: newCompletionWatcher(),
	}
	a.builder = credential.NewBuilder(a.cache, a.remote, config.AppDataDir, logger)
	a.events.Add(batch.EmitterFunc(a.logEvent))
	a.events.Add(a.completions)

	a.orchestrator = batch.NewOrchestrator(batch.Deps{
		Plugins:    a.pluginMgr,
		Prober:     a.executor,
		Overlays:   a.builder,
		Config:     a.RemoteConfig(),
		Catalog:    a.remote,
		Emitter:    a.events,
		AppDataDir: config.AppDataDir,
		AppVersion: config.AppVersion,
	}, logger)

	return a
}

// DiscoverPlugins scans the plugin directory and loads available plugins.
func (a *App) DiscoverPlugins() error {
	return a.pluginMgr.Discover()
}

// Subscribe registers an emitter for batch events.
func (a *App) Subscribe(e batch.Emitter) {
	a.events.Add(e)
}

// Probe starts a batch.
func (a *App) Probe(ctx context.Context, req batch.Request) batch.Started {
	return a.orchestrator.Start(ctx, req)
}

// Refresh probes every plugin with the saved account selections.
func (a *App) Refresh(ctx context.Context) batch.Started {
	return a.orchestrator.Start(ctx, a.refreshRequest())
}

func (a *App) refreshRequest() batch.Request {
	req := batch.Request{}
	if a.config.Store != nil {
		selections, err := a.config.Store.AccountSelections()
		if err != nil {
			a.logger.Warn("failed to load account selections, using local credentials", "error", err)
		} else {
			req.AccountSelections = selections
		}
	}
	return req
}

// Wait blocks until every dispatched probe has finished.
func (a *App) Wait() {
	a.orchestrator.Wait()
}

// RemoteConfig returns the remote store config source: the saved config
// when there is one, otherwise the bootstrap config.
func (a *App) RemoteConfig() batch.RemoteConfigSource {
	return remoteConfig{store: a.config.Store, fallback: a.config.CLIProxy.Normalized()}
}

// PluginManager returns the plugin manager.
func (a *App) PluginManager() *plugin.Manager {
	return a.pluginMgr
}

// Executor returns the sandboxed script host.
func (a *App) Executor() *runtime.Executor {
	return a.executor
}

// Orchestrator returns the batch orchestrator.
func (a *App) Orchestrator() *batch.Orchestrator {
	return a.orchestrator
}

// CLIProxy returns the remote store client.
func (a *App) CLIProxy() *cliproxy.Client {
	return a.remote
}

// CredentialCache returns the process-wide credential cache.
func (a *App) CredentialCache() *credential.Cache {
	return a.cache
}

func (a *App) logEvent(event string, payload any) {
	switch p := payload.(type) {
	case batch.Started:
		a.logger.Debug("batch event", "event", event, "batch", p.BatchID, "plugins", len(p.PluginIDs))
	case batch.Result:
		a.logger.Debug("batch event", "event", event, "batch", p.BatchID, "plugin", p.Output.ProviderID)
	case batch.Complete:
		a.logger.Debug("batch event", "event", event, "batch", p.BatchID)
	}
}

type remoteConfig struct {
	store    *store.Store
	fallback cliproxy.Config
}

func (r remoteConfig) CLIProxyConfig() (cliproxy.Config, bool, error) {
	if r.store != nil {
		cfg, ok, err := r.store.CLIProxyConfig()
		if err != nil || ok {
			return cfg, ok, err
		}
	}
	if r.fallback.BaseURL == "" && r.fallback.APIKey == "" {
		return cliproxy.Config{}, false, nil
	}
	return r.fallback, true, nil
}
