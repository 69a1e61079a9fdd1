package plugin

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ManifestFile is the name of the manifest expected in every plugin directory.
const ManifestFile = "plugin.json"

// ErrPluginNotFound is returned when a requested plugin cannot be found.
var ErrPluginNotFound = errors.New("plugin not found")

var validate = validator.New()

// Manager manages plugin discovery and access.
type Manager struct {
	pluginDir string
	plugins   map[string]*Plugin
	ordered   []*Plugin
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewManager creates a new plugin Manager with the given plugin directory.
func NewManager(pluginDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pluginDir: pluginDir,
		plugins:   make(map[string]*Plugin),
		logger:    logger.With("component", "plugin_manager"),
	}
}

// Discover scans the plugin directory and loads every valid plugin.
// Invalid plugins are logged and skipped; they never fail the whole scan.
func (m *Manager) Discover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.plugins = make(map[string]*Plugin)
	m.ordered = nil

	info, err := os.Stat(m.pluginDir)
	if os.IsNotExist(err) {
		m.logger.Info("plugin directory does not exist, skipping scan", "dir", m.pluginDir)
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	entries, err := os.ReadDir(m.pluginDir)
	if err != nil {
		return fmt.Errorf("failed to read plugin directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginPath := filepath.Join(m.pluginDir, entry.Name())
		if _, err := os.Stat(filepath.Join(pluginPath, ManifestFile)); os.IsNotExist(err) {
			continue
		}

		p, err := LoadPlugin(pluginPath, m.logger)
		if err != nil {
			m.logger.Warn("skipping plugin", "dir", pluginPath, "error", err)
			continue
		}

		if existing, ok := m.plugins[p.Manifest.ID]; ok {
			m.logger.Warn("duplicate plugin id, skipping",
				"id", p.Manifest.ID,
				"kept", existing.Dir,
				"skipped", pluginPath,
			)
			continue
		}

		m.plugins[p.Manifest.ID] = p
		m.ordered = append(m.ordered, p)
		m.logger.Info("loaded plugin", "id", p.Manifest.ID, "version", p.Manifest.Version)
	}

	sort.Slice(m.ordered, func(i, j int) bool {
		return m.ordered[i].Manifest.ID < m.ordered[j].Manifest.ID
	})

	return nil
}

// Get returns a plugin by id.
// Returns ErrPluginNotFound if the plugin does not exist.
func (m *Manager) Get(id string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plugins[id]
	if !ok {
		return nil, ErrPluginNotFound
	}
	return p, nil
}

// List returns all loaded plugins sorted by id.
func (m *Manager) List() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*Plugin(nil), m.ordered...)
}

// Metas returns the presentation view of every loaded plugin.
func (m *Manager) Metas() []Meta {
	plugins := m.List()
	metas := make([]Meta, 0, len(plugins))
	for _, p := range plugins {
		metas = append(metas, p.Meta())
	}
	return metas
}

// PluginDir returns the plugin directory path.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}

// LoadPlugin reads, validates and loads a single plugin directory.
func LoadPlugin(pluginDir string, logger *slog.Logger) (*Plugin, error) {
	if logger == nil {
		logger = slog.Default()
	}

	manifestData, err := os.ReadFile(filepath.Join(pluginDir, ManifestFile))
	if err != nil {
		return nil, &ManifestError{Dir: pluginDir, Reason: "read manifest", Err: err}
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, &ManifestError{Dir: pluginDir, Reason: "parse manifest", Err: err}
	}
	manifest.Links = SanitizeLinks(manifest.ID, manifest.Links, logger)

	for _, line := range manifest.Lines {
		if line.PrimaryOrder != nil && line.Type != "progress" {
			logger.Warn("primaryOrder on non-progress line will be ignored",
				"plugin", manifest.ID,
				"label", line.Label,
				"type", line.Type,
			)
		}
	}

	if strings.TrimSpace(manifest.Entry) == "" {
		return nil, &ManifestError{Dir: pluginDir, Reason: "plugin entry field cannot be empty"}
	}
	if filepath.IsAbs(manifest.Entry) {
		return nil, &ManifestError{Dir: pluginDir, Reason: "plugin entry must be a relative path"}
	}
	if err := validate.Struct(manifest); err != nil {
		return nil, &ManifestError{Dir: pluginDir, Reason: "invalid manifest", Err: err}
	}

	entryPath, err := resolveEntry(pluginDir, manifest.Entry)
	if err != nil {
		return nil, err
	}

	entryScript, err := os.ReadFile(entryPath)
	if err != nil {
		return nil, &ManifestError{Dir: pluginDir, Reason: "read entry", Err: err}
	}

	iconBytes, err := os.ReadFile(filepath.Join(pluginDir, manifest.Icon))
	if err != nil {
		return nil, &ManifestError{Dir: pluginDir, Reason: "read icon", Err: err}
	}

	return &Plugin{
		Manifest:    manifest,
		Dir:         pluginDir,
		EntryScript: string(entryScript),
		IconDataURL: "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(iconBytes),
	}, nil
}

// resolveEntry canonicalizes the entry path and ensures it is a regular file
// located strictly inside the canonical plugin directory.
func resolveEntry(pluginDir, entry string) (string, error) {
	canonicalDir, err := canonicalize(pluginDir)
	if err != nil {
		return "", &ManifestError{Dir: pluginDir, Reason: "resolve plugin directory", Err: err}
	}
	canonicalEntry, err := canonicalize(filepath.Join(pluginDir, entry))
	if err != nil {
		return "", &ManifestError{Dir: pluginDir, Reason: "resolve entry", Err: err}
	}

	rel, err := filepath.Rel(canonicalDir, canonicalEntry)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ManifestError{Dir: pluginDir, Reason: "plugin entry must remain within plugin directory"}
	}

	info, err := os.Stat(canonicalEntry)
	if err != nil {
		return "", &ManifestError{Dir: pluginDir, Reason: "stat entry", Err: err}
	}
	if !info.Mode().IsRegular() {
		return "", &ManifestError{Dir: pluginDir, Reason: "plugin entry must be a file"}
	}

	return canonicalEntry, nil
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// SanitizeLinks trims links and drops any with an empty label or url, or a
// non-http(s) url. Only the offending link is dropped.
func SanitizeLinks(pluginID string, links []Link, logger *slog.Logger) []Link {
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]Link, 0, len(links))
	for _, link := range links {
		label := strings.TrimSpace(link.Label)
		url := strings.TrimSpace(link.URL)

		if label == "" || url == "" {
			logger.Warn("plugin link has empty label or url, skipping", "plugin", pluginID)
			continue
		}
		if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
			logger.Warn("plugin link has non-http(s) url, skipping",
				"plugin", pluginID,
				"label", label,
				"url", url,
			)
			continue
		}

		out = append(out, Link{Label: label, URL: url})
	}
	return out
}
