package batch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ayusman/openusage/internal/cliproxy"
	"github.com/ayusman/openusage/internal/credential"
	"github.com/ayusman/openusage/internal/plugin"
	"github.com/ayusman/openusage/internal/runtime"
)

// Messages shown for plugins whose account overlay could not be prepared.
const (
	MsgRemoteNotConfigured = "CLIProxyAPI is not configured. Select Local account or configure CLIProxyAPI."
	MsgRemoteConfigFailed  = "Failed to read CLIProxyAPI config. Select Local account or reconfigure CLIProxyAPI."
	MsgCatalogFailed       = "Failed to load CLIProxy account list. Check CLIProxyAPI connection."
	MsgAccountFailed       = "Failed to load selected CLIProxy account. Verify selection and credentials."
)

// PluginSource lists the loaded plugins.
type PluginSource interface {
	List() []*plugin.Plugin
}

// Prober runs one probe.
type Prober interface {
	Run(ctx context.Context, p *plugin.Plugin, opts runtime.Options) *runtime.PluginOutput
}

// OverlayResolver prepares credential overlays and writes them back.
type OverlayResolver interface {
	Resolve(ctx context.Context, pluginID, selection string, cfg cliproxy.Config, catalog []cliproxy.AuthFile) (*credential.Prepared, error)
	PersistBack(p *credential.Prepared)
}

// RemoteConfigSource returns the remote store config; ok is false when none
// has been saved.
type RemoteConfigSource interface {
	CLIProxyConfig() (cfg cliproxy.Config, ok bool, err error)
}

// Catalog lists the accounts of the remote store.
type Catalog interface {
	ListAuthFiles(ctx context.Context, cfg cliproxy.Config) ([]cliproxy.AuthFile, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Plugins    PluginSource
	Prober     Prober
	Overlays   OverlayResolver
	Config     RemoteConfigSource
	Catalog    Catalog
	Emitter    Emitter
	AppDataDir string
	AppVersion string
}

// Request describes a batch to start. A nil PluginIDs selects every plugin.
// AccountSelections maps plugin ids to remote account selections.
type Request struct {
	BatchID           string            `json:"batchId,omitempty"`
	PluginIDs         []string          `json:"pluginIds,omitempty"`
	AccountSelections map[string]string `json:"accountSelections,omitempty"`
}

// Orchestrator starts probe batches.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Emitter == nil {
		deps.Emitter = EmitterFunc(func(string, any) {})
	}
	return &Orchestrator{deps: deps, logger: logger.With("component", "batch")}
}

// Start resolves the plugin list, prepares account overlays and dispatches
// one goroutine per plugin. It returns without waiting for the probes; the
// emitter receives one result per finished probe and exactly one completion.
func (o *Orchestrator) Start(ctx context.Context, req Request) Started {
	batchID := strings.TrimSpace(req.BatchID)
	if batchID == "" {
		batchID = uuid.New().String()
	}

	plugins := o.selectPlugins(req.PluginIDs)
	ids := make([]string, 0, len(plugins))
	for _, p := range plugins {
		ids = append(ids, p.Manifest.ID)
	}
	started := Started{BatchID: batchID, PluginIDs: ids}

	o.logger.Info("probe batch starting", "batch", batchID, "plugins", ids)
	o.emit(EventBatchStarted, started)

	if len(plugins) == 0 {
		o.emit(EventBatchComplete, Complete{BatchID: batchID})
		return started
	}

	prepared, overlayErrors := o.prepareOverlays(ctx, plugins, req.AccountSelections)

	// Dispatched probes are never cancelled by the caller.
	workerCtx := context.WithoutCancel(ctx)

	var remaining atomic.Int64
	remaining.Store(int64(len(plugins)))
	for _, p := range plugins {
		o.wg.Add(1)
		go o.run(workerCtx, batchID, p, prepared[p.Manifest.ID], overlayErrors[p.Manifest.ID], &remaining)
	}

	return started
}

// Wait blocks until every dispatched probe has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// selectPlugins keeps requested ids in order, dropping duplicates and
// unknown ids.
func (o *Orchestrator) selectPlugins(requested []string) []*plugin.Plugin {
	all := o.deps.Plugins.List()
	if requested == nil {
		return all
	}

	byID := make(map[string]*plugin.Plugin, len(all))
	for _, p := range all {
		byID[p.Manifest.ID] = p
	}

	seen := make(map[string]bool, len(requested))
	selected := make([]*plugin.Plugin, 0, len(requested))
	for _, id := range requested {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := byID[id]; ok {
			selected = append(selected, p)
		}
	}
	return selected
}

// prepareOverlays resolves every non-blank account selection. Failures are
// returned as per-plugin messages and never abort the batch.
func (o *Orchestrator) prepareOverlays(ctx context.Context, plugins []*plugin.Plugin, selections map[string]string) (map[string]*credential.Prepared, map[string]string) {
	prepared := make(map[string]*credential.Prepared)
	failures := make(map[string]string)

	wanted := make([]string, 0, len(plugins))
	for _, p := range plugins {
		if strings.TrimSpace(selections[p.Manifest.ID]) != "" {
			wanted = append(wanted, p.Manifest.ID)
		}
	}
	if len(wanted) == 0 {
		return prepared, failures
	}

	failAll := func(msg string) {
		for _, id := range wanted {
			failures[id] = msg
		}
	}

	if o.deps.Config == nil || o.deps.Catalog == nil || o.deps.Overlays == nil {
		failAll(MsgRemoteNotConfigured)
		return prepared, failures
	}

	cfg, ok, err := o.deps.Config.CLIProxyConfig()
	if err != nil {
		o.logger.Warn("CLIProxyAPI config read failed", "error", err)
		failAll(MsgRemoteConfigFailed)
		return prepared, failures
	}
	if !ok || !cfg.Configured() {
		failAll(MsgRemoteNotConfigured)
		return prepared, failures
	}

	catalog, err := o.deps.Catalog.ListAuthFiles(ctx, cfg)
	if err != nil {
		o.logger.Warn("CLIProxyAPI auth-files fetch failed", "error", err)
		failAll(MsgCatalogFailed)
		return prepared, failures
	}

	for _, id := range wanted {
		p, err := o.deps.Overlays.Resolve(ctx, id, selections[id], cfg, catalog)
		if err != nil || p == nil {
			o.logger.Warn("credential overlay unavailable", "plugin", id, "error", err)
			failures[id] = MsgAccountFailed
			continue
		}
		prepared[id] = p
	}
	return prepared, failures
}

func (o *Orchestrator) run(ctx context.Context, batchID string, p *plugin.Plugin, prepared *credential.Prepared, overlayErr string, remaining *atomic.Int64) {
	defer o.wg.Done()
	defer func() {
		if remaining.Add(-1) == 0 {
			o.logger.Info("probe batch complete", "batch", batchID)
			o.emit(EventBatchComplete, Complete{BatchID: batchID})
		}
	}()

	output, ok := o.execute(ctx, p, prepared, overlayErr)

	if prepared != nil {
		o.persistBack(p.Manifest.ID, prepared)
	}
	if !ok {
		return
	}

	if output.HasError() {
		o.logger.Warn("probe completed with error", "plugin", p.Manifest.ID)
	} else {
		o.logger.Info("probe completed", "plugin", p.Manifest.ID, "lines", len(output.Lines))
	}
	o.emit(EventResult, Result{BatchID: batchID, Output: output})
}

// emit delivers an event; a panicking subscriber is logged and never
// unwinds into a worker.
func (o *Orchestrator) emit(event string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("event subscriber panicked", "event", event, "panic", r)
		}
	}()
	o.deps.Emitter.Emit(event, payload)
}

// execute produces the plugin's output, or ok=false if the execution faulted.
func (o *Orchestrator) execute(ctx context.Context, p *plugin.Plugin, prepared *credential.Prepared, overlayErr string) (output *runtime.PluginOutput, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("probe panicked", "plugin", p.Manifest.ID, "panic", r)
			output, ok = nil, false
		}
	}()

	if overlayErr != "" {
		return runtime.ErrorOutput(p, overlayErr), true
	}

	opts := runtime.Options{AppDataDir: o.deps.AppDataDir, AppVersion: o.deps.AppVersion}
	if prepared != nil {
		opts.Overlay = prepared.Overlay
	}
	output = o.deps.Prober.Run(ctx, p, opts)
	if output == nil {
		return runtime.ErrorOutput(p, "runtime error"), true
	}
	return output, true
}

func (o *Orchestrator) persistBack(pluginID string, prepared *credential.Prepared) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("overlay write-back panicked", "plugin", pluginID, "panic", r)
		}
	}()
	o.deps.Overlays.PersistBack(prepared)
}
