package credential

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/openusage/internal/cliproxy"
)

type fakeRemote struct {
	mu        sync.Mutex
	payloads  map[string]string
	err       error
	downloads []string
}

func (f *fakeRemote) DownloadByName(_ context.Context, _ cliproxy.Config, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.downloads = append(f.downloads, name)
	if f.err != nil {
		return nil, f.err
	}
	payload, ok := f.payloads[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(payload), nil
}

func (f *fakeRemote) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.downloads)
}

var testConfig = cliproxy.Config{BaseURL: "https://proxy.example.com", APIKey: "key-1"}

func newTestBuilder(t *testing.T, remote Downloader, now time.Time, env map[string]string) (*Builder, *Cache, string) {
	t.Helper()
	home := t.TempDir()
	cache := NewCache()
	b := NewBuilder(cache, remote, filepath.Join(home, "appdata"), nil,
		WithHomeDir(home),
		WithGetenv(func(key string) string { return env[key] }),
		WithClock(func() time.Time { return now }),
	)
	return b, cache, home
}

func catalog() []cliproxy.AuthFile {
	return []cliproxy.AuthFile{
		{ID: "c1", Name: "claude-work.json", Provider: "Anthropic", AuthIndex: "7"},
		{ID: "c2", Name: "claude-off.json", Provider: "claude", Disabled: true},
		{ID: "c3", Name: "claude-gone.json", Provider: "claude", Unavailable: true},
		{ID: "x1", Name: "codex-me.json", Provider: "codex"},
		{ID: "g1", Name: "gemini.json", Type: "gemini-cli"},
		{ID: "a1", Name: "antigravity.json", Provider: "antigravity"},
	}
}

const claudeRaw = `{"access_token":"at","refresh_token":"rt"}`

func TestBuilder_ResolveAndCache(t *testing.T) {
	remote := &fakeRemote{payloads: map[string]string{"claude-work.json": claudeRaw}}
	b, cache, home := newTestBuilder(t, remote, fixedNow, nil)

	for _, selection := range []string{"c1", " claude-work.json ", "7"} {
		prepared, err := b.Resolve(context.Background(), PluginClaude, selection, testConfig, catalog())
		require.NoError(t, err, selection)
		require.NotNil(t, prepared)

		credPath := filepath.Join(home, ".claude", ".credentials.json")
		assert.Equal(t, []string{credPath}, prepared.Paths)
		content, ok := prepared.Overlay.Get(credPath)
		require.True(t, ok)
		assert.Contains(t, content, `"claudeAiOauth"`)
	}

	// Three distinct selections, each downloaded once and cached.
	assert.Equal(t, 3, remote.count())
	assert.Equal(t, 3, cache.Len())

	_, err := b.Resolve(context.Background(), PluginClaude, "c1", testConfig, catalog())
	require.NoError(t, err)
	assert.Equal(t, 3, remote.count(), "cache hit must not download")
}

func TestBuilder_ConfigChangeInvalidatesKeys(t *testing.T) {
	remote := &fakeRemote{payloads: map[string]string{"claude-work.json": claudeRaw}}
	b, _, _ := newTestBuilder(t, remote, fixedNow, nil)

	first, err := b.Resolve(context.Background(), PluginClaude, "c1", testConfig, catalog())
	require.NoError(t, err)

	rotated := testConfig
	rotated.APIKey = "key-2"
	second, err := b.Resolve(context.Background(), PluginClaude, "c1", rotated, catalog())
	require.NoError(t, err)

	assert.NotEqual(t, first.CacheKey, second.CacheKey)
	assert.NotContains(t, second.CacheKey, "key-2")
	assert.Equal(t, 2, remote.count())
}

func TestBuilder_ResolveErrors(t *testing.T) {
	remote := &fakeRemote{payloads: map[string]string{
		"claude-work.json": claudeRaw,
		"codex-me.json":    `{"access_token":"at"}`,
	}}
	b, cache, _ := newTestBuilder(t, remote, fixedNow, nil)

	tests := []struct {
		name      string
		plugin    string
		selection string
		want      error
	}{
		{"unsupported plugin", "copilot", "c1", ErrOverlayUnsupported},
		{"unknown selection", PluginClaude, "nope", ErrAccountNotFound},
		{"disabled", PluginClaude, "c2", ErrAccountUnavailable},
		{"unavailable", PluginClaude, "claude-gone.json", ErrAccountUnavailable},
		{"provider mismatch", PluginClaude, "x1", ErrProviderMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prepared, err := b.Resolve(context.Background(), tt.plugin, tt.selection, testConfig, catalog())
			assert.Nil(t, prepared)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	prepared, err := b.Resolve(context.Background(), PluginCodex, "x1", testConfig, catalog())
	assert.Nil(t, prepared)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing refresh_token")
	assert.Equal(t, 0, cache.Len(), "failed resolutions must not populate the cache")
}

func TestBuilder_DownloadFailure(t *testing.T) {
	remote := &fakeRemote{err: errors.New("connection refused")}
	b, _, _ := newTestBuilder(t, remote, fixedNow, nil)

	_, err := b.Resolve(context.Background(), PluginClaude, "c1", testConfig, catalog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBuilder_BlankSelection(t *testing.T) {
	b, _, _ := newTestBuilder(t, &fakeRemote{}, fixedNow, nil)

	prepared, err := b.Resolve(context.Background(), PluginClaude, "   ", testConfig, catalog())
	assert.NoError(t, err)
	assert.Nil(t, prepared)
}

func TestBuilder_StaleCacheRefetched(t *testing.T) {
	remote := &fakeRemote{payloads: map[string]string{"antigravity.json": `{"access_token":"fresh"}`}}
	b, cache, _ := newTestBuilder(t, remote, fixedNow, nil)

	key := CacheKey(PluginAntigravity, "a1", testConfig)
	cache.Set(key, fmt.Sprintf(`{"accessToken":"stale","expiresAtMs":%d}`, fixedNow.UnixMilli()-1))

	prepared, err := b.Resolve(context.Background(), PluginAntigravity, "a1", testConfig, catalog())
	require.NoError(t, err)
	assert.Equal(t, 1, remote.count())

	content, _ := prepared.Overlay.Get(prepared.Paths[0])
	assert.Contains(t, content, `"fresh"`)
}

func TestBuilder_FreshCacheReused(t *testing.T) {
	remote := &fakeRemote{}
	b, cache, _ := newTestBuilder(t, remote, fixedNow, nil)

	key := CacheKey(PluginAntigravity, "a1", testConfig)
	cached := fmt.Sprintf(`{"accessToken":"cached","expiresAtMs":%d}`, fixedNow.Add(5*time.Minute).UnixMilli())
	cache.Set(key, cached)

	prepared, err := b.Resolve(context.Background(), PluginAntigravity, "a1", testConfig, catalog())
	require.NoError(t, err)
	assert.Equal(t, 0, remote.count())
	content, _ := prepared.Overlay.Get(prepared.Paths[0])
	assert.Equal(t, cached, content)
}

func TestBuilder_MalformedCacheAcceptedForNonExpiringPlugins(t *testing.T) {
	remote := &fakeRemote{}
	b, cache, _ := newTestBuilder(t, remote, fixedNow, nil)

	for _, plugin := range []string{PluginKimi, PluginCodex} {
		cache.Set(CacheKey(plugin, "sel", testConfig), "{bad json")
		prepared, err := b.Resolve(context.Background(), plugin, "sel", testConfig, nil)
		require.NoError(t, err, plugin)
		content, _ := prepared.Overlay.Get(prepared.Paths[0])
		assert.Equal(t, "{bad json", content)
	}
	assert.Equal(t, 0, remote.count())
}

func TestBuilder_PersistBack(t *testing.T) {
	remote := &fakeRemote{payloads: map[string]string{"claude-work.json": claudeRaw}}
	b, cache, _ := newTestBuilder(t, remote, fixedNow, nil)

	prepared, err := b.Resolve(context.Background(), PluginClaude, "c1", testConfig, catalog())
	require.NoError(t, err)

	refreshed := `{"claudeAiOauth":{"accessToken":"new","refreshToken":"rt2","expiresAt":1}}`
	prepared.Overlay.Set(prepared.Paths[0], refreshed)
	b.PersistBack(prepared)

	got, ok := cache.Get(prepared.CacheKey)
	require.True(t, ok)
	assert.Equal(t, refreshed, got)

	b.PersistBack(nil)
}

func TestBuilder_TargetPaths(t *testing.T) {
	b, _, home := newTestBuilder(t, &fakeRemote{}, fixedNow, nil)

	assert.Equal(t, []string{
		filepath.Join(home, ".config", "codex", "auth.json"),
		filepath.Join(home, ".codex", "auth.json"),
	}, b.TargetPaths(PluginCodex))
	assert.Equal(t, []string{filepath.Join(home, ".kimi", "credentials", "kimi-code.json")}, b.TargetPaths(PluginKimi))
	assert.Equal(t, []string{filepath.Join(home, ".gemini", "oauth_creds.json")}, b.TargetPaths(PluginGemini))
	assert.Equal(t, []string{filepath.Join(home, "appdata", "plugins_data", "antigravity", "auth.json")}, b.TargetPaths(PluginAntigravity))
	assert.Empty(t, b.TargetPaths("copilot"))

	withEnv, _, _ := newTestBuilder(t, &fakeRemote{}, fixedNow, map[string]string{"CODEX_HOME": " /opt/codex/ "})
	assert.Equal(t, []string{"/opt/codex/auth.json"}, withEnv.TargetPaths(PluginCodex))

	blankEnv, _, blankHome := newTestBuilder(t, &fakeRemote{}, fixedNow, map[string]string{"CODEX_HOME": "   "})
	assert.Equal(t, filepath.Join(blankHome, ".config", "codex", "auth.json"), blankEnv.TargetPaths(PluginCodex)[0])
}

func TestBuilder_CodexOverlayCoversAllPaths(t *testing.T) {
	remote := &fakeRemote{payloads: map[string]string{"codex-me.json": `{"access_token":"at","refresh_token":"rt"}`}}
	b, _, _ := newTestBuilder(t, remote, fixedNow, nil)

	prepared, err := b.Resolve(context.Background(), PluginCodex, "x1", testConfig, catalog())
	require.NoError(t, err)
	require.Len(t, prepared.Paths, 2)

	snapshot := prepared.Overlay.Snapshot()
	assert.Len(t, snapshot, 2)
	assert.Equal(t, snapshot[prepared.Paths[0]], snapshot[prepared.Paths[1]])
}

func TestCacheKey_Fingerprint(t *testing.T) {
	key := CacheKey("claude", "sel", cliproxy.Config{BaseURL: "https://p.example.com/", APIKey: "secret"})
	assert.Regexp(t, `^claude::sel::https://p\.example\.com::[0-9a-f]{16}$`, key)
	assert.NotContains(t, key, "secret")
}
