package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/ayusman/openusage/internal/plugin"
)

const (
	// PluginGlobal is the global a plugin script must define.
	PluginGlobal = "__openusage_plugin"

	// GenericFailure is reported when a probe fails without a usable message.
	GenericFailure = "The plugin failed, try again or contact plugin author."

	maxPromiseDrainRounds = 64
	defaultHTTPTimeout    = 10 * time.Second
)

// Options scopes a single probe.
type Options struct {
	AppDataDir string
	AppVersion string
	// Overlay substitutes credential files for this probe. Nil disables it.
	Overlay *Overlay
}

// Executor runs plugin probes in a fresh sandbox per call.
type Executor struct {
	client      *http.Client
	keychain    Keychain
	httpTimeout time.Duration
	logger      *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient sets the client behind the http capability.
func WithHTTPClient(client *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = client }
}

// WithKeychain sets the keychain behind the keychain capability.
func WithKeychain(k Keychain) ExecutorOption {
	return func(e *Executor) { e.keychain = k }
}

// WithHTTPTimeout sets the default per-request timeout of the http capability.
func WithHTTPTimeout(timeoutMs int) ExecutorOption {
	return func(e *Executor) {
		if timeoutMs > 0 {
			e.httpTimeout = time.Duration(timeoutMs) * time.Millisecond
		}
	}
}

// NewExecutor creates a new Executor.
func NewExecutor(logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		client:      http.DefaultClient,
		keychain:    SystemKeychain{},
		httpTimeout: defaultHTTPTimeout,
		logger:      logger.With("component", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run probes p and always returns a renderable output. Every failure,
// including a Go panic inside the sandbox, becomes a single error badge.
func (e *Executor) Run(ctx context.Context, p *plugin.Plugin, opts Options) (out *PluginOutput) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("probe panicked", "plugin", p.Manifest.ID, "panic", r)
			out = ErrorOutput(p, "runtime error")
		}
	}()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	h := &host{
		ctx:         ctx,
		vm:          vm,
		pluginID:    p.Manifest.ID,
		appDataDir:  opts.AppDataDir,
		appVersion:  opts.AppVersion,
		overlay:     opts.Overlay,
		client:      e.client,
		keychain:    e.keychain,
		httpTimeout: e.httpTimeout,
		logger:      e.logger,
	}
	if err := h.install(); err != nil {
		e.logger.Warn("host api injection failed", "plugin", p.Manifest.ID, "error", err)
		return ErrorOutput(p, "host api injection failed")
	}

	if _, err := vm.RunScript(p.Manifest.Entry, p.EntryScript); err != nil {
		e.logger.Warn("script eval failed", "plugin", p.Manifest.ID, "error", err)
		return ErrorOutput(p, "script eval failed")
	}

	pluginObj, ok := vm.Get(PluginGlobal).(*goja.Object)
	if !ok {
		return ErrorOutput(p, "missing __openusage_plugin")
	}
	probe, ok := goja.AssertFunction(pluginObj.Get("probe"))
	if !ok {
		return ErrorOutput(p, "missing probe()")
	}

	value, err := probe(pluginObj, vm.Get(ContextGlobal))
	if err != nil {
		return ErrorOutput(p, thrownMessage(err))
	}

	if promise, ok := value.Export().(*goja.Promise); ok {
		value, err = e.settle(vm, promise)
		if err != nil {
			return ErrorOutput(p, err.Error())
		}
	}

	result, ok := value.(*goja.Object)
	if !ok {
		return ErrorOutput(p, "probe() returned non-object")
	}
	exported, ok := result.Export().(map[string]any)
	if !ok {
		return ErrorOutput(p, "probe() returned non-object")
	}

	plan, lines := ParseOutput(exported, e.logger.With("plugin", p.Manifest.ID))
	return &PluginOutput{
		ProviderID:  p.Manifest.ID,
		DisplayName: p.Manifest.Name,
		Plan:        plan,
		Lines:       lines,
		IconURL:     p.IconDataURL,
	}
}

// settle pumps the job queue until promise leaves the pending state or the
// drain budget is exhausted. The returned error text is user facing.
func (e *Executor) settle(vm *goja.Runtime, promise *goja.Promise) (goja.Value, error) {
	for round := 0; promise.State() == goja.PromiseStatePending && round < maxPromiseDrainRounds; round++ {
		// Running any script flushes queued promise jobs.
		if _, err := vm.RunString("void 0"); err != nil {
			return nil, errors.New(thrownMessage(err))
		}
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		result := promise.Result()
		if _, ok := result.(*goja.Object); !ok {
			return nil, errors.New("probe() returned non-object")
		}
		return result, nil
	case goja.PromiseStateRejected:
		return nil, errors.New(thrownValueMessage(promise.Result()))
	default:
		return nil, errors.New("probe() returned unresolved promise")
	}
}

// thrownMessage extracts the user-facing message of a probe failure.
func thrownMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return thrownValueMessage(ex.Value())
	}
	return GenericFailure
}

// thrownValueMessage returns a thrown string verbatim (trimmed); any other
// thrown value maps to GenericFailure.
func thrownValueMessage(v goja.Value) string {
	if v == nil {
		return GenericFailure
	}
	if s, ok := v.Export().(string); ok {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			return trimmed
		}
	}
	return GenericFailure
}
