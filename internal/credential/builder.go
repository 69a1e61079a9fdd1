package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ayusman/openusage/internal/cliproxy"
	"github.com/ayusman/openusage/internal/runtime"
)

var (
	// ErrAccountNotFound is returned when no catalog entry matches the selection.
	ErrAccountNotFound = errors.New("selected account not found")
	// ErrAccountUnavailable is returned for disabled or unavailable entries.
	ErrAccountUnavailable = errors.New("selected account is disabled or unavailable")
	// ErrProviderMismatch is returned when the entry belongs to another provider.
	ErrProviderMismatch = errors.New("selected account provider does not match plugin")
)

// Downloader fetches raw credential payloads from the remote store.
type Downloader interface {
	DownloadByName(ctx context.Context, cfg cliproxy.Config, name string) ([]byte, error)
}

// Prepared is an overlay built for one probe.
type Prepared struct {
	PluginID string
	CacheKey string
	Paths    []string
	Overlay  *runtime.Overlay
}

// Builder resolves account selections into credential overlays.
type Builder struct {
	cache      *Cache
	remote     Downloader
	appDataDir string
	homeDir    string
	getenv     func(string) string
	now        func() time.Time
	logger     *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithHomeDir overrides the directory "~" expands to.
func WithHomeDir(dir string) BuilderOption {
	return func(b *Builder) { b.homeDir = dir }
}

// WithGetenv overrides environment lookups.
func WithGetenv(getenv func(string) string) BuilderOption {
	return func(b *Builder) { b.getenv = getenv }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder over cache and remote.
func NewBuilder(cache *Cache, remote Downloader, appDataDir string, logger *slog.Logger, opts ...BuilderOption) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	home, _ := os.UserHomeDir()
	b := &Builder{
		cache:      cache,
		remote:     remote,
		appDataDir: appDataDir,
		homeDir:    home,
		getenv:     os.Getenv,
		now:        time.Now,
		logger:     logger.With("component", "credential_builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TargetPaths returns the absolute credential paths pluginID reads.
func (b *Builder) TargetPaths(pluginID string) []string {
	return targetPaths(pluginID, b.homeDir, b.appDataDir, b.getenv)
}

// Resolve builds the overlay for pluginID's selected account. It returns
// (nil, nil) for a blank selection.
func (b *Builder) Resolve(ctx context.Context, pluginID, selection string, cfg cliproxy.Config, catalog []cliproxy.AuthFile) (*Prepared, error) {
	if !SupportsOverlay(pluginID) {
		return nil, ErrOverlayUnsupported
	}
	selected := strings.TrimSpace(selection)
	if selected == "" {
		return nil, nil
	}

	key := CacheKey(pluginID, selected, cfg)
	payload, ok := b.cache.Get(key)
	if ok && !IsFresh(pluginID, payload, b.now()) {
		b.logger.Info("cached overlay expired, refreshing", "plugin", pluginID, "selection", selected)
		ok = false
	}
	if !ok {
		var err error
		payload, err = b.fetch(ctx, pluginID, selected, cfg, catalog)
		if err != nil {
			return nil, err
		}
		b.cache.Set(key, payload)
	}

	paths := b.TargetPaths(pluginID)
	files := make(map[string]string, len(paths))
	for _, path := range paths {
		files[path] = payload
	}

	return &Prepared{
		PluginID: pluginID,
		CacheKey: key,
		Paths:    paths,
		Overlay:  runtime.NewOverlay(files),
	}, nil
}

func (b *Builder) fetch(ctx context.Context, pluginID, selected string, cfg cliproxy.Config, catalog []cliproxy.AuthFile) (string, error) {
	var entry *cliproxy.AuthFile
	for i := range catalog {
		if catalog[i].Matches(selected) {
			entry = &catalog[i]
			break
		}
	}
	if entry == nil {
		return "", fmt.Errorf("%w: %s", ErrAccountNotFound, selected)
	}
	if entry.Disabled || entry.Unavailable {
		b.logger.Warn("auth file not usable", "plugin", pluginID, "name", entry.Name)
		return "", fmt.Errorf("%w: %s", ErrAccountUnavailable, entry.Name)
	}
	if !ProviderMatches(pluginID, entry.ProviderName()) {
		b.logger.Warn("auth file provider mismatch", "plugin", pluginID, "provider", entry.ProviderName())
		return "", fmt.Errorf("%w: %s", ErrProviderMismatch, entry.ProviderName())
	}

	raw, err := b.remote.DownloadByName(ctx, cfg, entry.Name)
	if err != nil {
		b.logger.Warn("auth file download failed", "plugin", pluginID, "name", entry.Name, "error", err)
		return "", fmt.Errorf("download %s: %w", entry.Name, err)
	}

	transformed, err := Transform(pluginID, raw, b.now())
	if err != nil {
		b.logger.Warn("auth file transform failed", "plugin", pluginID, "name", entry.Name, "error", err)
		return "", fmt.Errorf("transform %s: %w", entry.Name, err)
	}
	return transformed, nil
}

// PersistBack copies the overlay content of the first target path back into
// the cache, keeping tokens the plugin refreshed during its probe.
func (b *Builder) PersistBack(p *Prepared) {
	if p == nil || p.Overlay == nil {
		return
	}
	for _, path := range p.Paths {
		if content, ok := p.Overlay.Get(path); ok {
			b.cache.Set(p.CacheKey, content)
			return
		}
	}
}
