package credential

import (
	"path/filepath"
	"strings"
)

// Plugin ids that take part in credential overlays.
const (
	PluginCodex       = "codex"
	PluginClaude      = "claude"
	PluginKimi        = "kimi"
	PluginAntigravity = "antigravity"
	PluginGemini      = "gemini"
)

// SupportsOverlay reports whether pluginID takes part in credential overlays.
func SupportsOverlay(pluginID string) bool {
	switch pluginID {
	case PluginCodex, PluginClaude, PluginKimi, PluginAntigravity, PluginGemini:
		return true
	default:
		return false
	}
}

// NormalizeProvider folds vendor aliases onto plugin provider keys.
func NormalizeProvider(provider string) string {
	normalized := strings.ToLower(strings.TrimSpace(provider))
	switch normalized {
	case "anthropic":
		return PluginClaude
	case "google", "google-ai", "gemini-cli":
		return PluginGemini
	default:
		return normalized
	}
}

// ProviderMatches reports whether a catalog provider tag belongs to pluginID.
func ProviderMatches(pluginID, provider string) bool {
	return SupportsOverlay(pluginID) && NormalizeProvider(provider) == pluginID
}

// targetPaths lists where pluginID reads its credentials from. Paths are
// absolute and cleaned; "~" is expanded against homeDir.
func targetPaths(pluginID, homeDir, appDataDir string, getenv func(string) string) []string {
	home := func(rel string) string { return filepath.Join(homeDir, rel) }

	var paths []string
	switch pluginID {
	case PluginCodex:
		if codexHome := strings.TrimRight(strings.TrimSpace(getenv("CODEX_HOME")), "/"); codexHome != "" {
			paths = []string{expandHome(codexHome, homeDir) + "/auth.json"}
		} else {
			paths = []string{home(".config/codex/auth.json"), home(".codex/auth.json")}
		}
	case PluginClaude:
		paths = []string{home(".claude/.credentials.json")}
	case PluginKimi:
		paths = []string{home(".kimi/credentials/kimi-code.json")}
	case PluginAntigravity:
		paths = []string{filepath.Join(appDataDir, "plugins_data", "antigravity", "auth.json")}
	case PluginGemini:
		paths = []string{home(".gemini/oauth_creds.json")}
	}

	for i, p := range paths {
		paths[i] = filepath.Clean(p)
	}
	return paths
}

func expandHome(path, homeDir string) string {
	if path == "~" {
		return homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
