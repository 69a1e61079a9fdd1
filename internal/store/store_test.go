package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/openusage/internal/cliproxy"
)

// newTestStore creates a new Store backed by a database in a temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "openusage.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("expected path %q, got %q", dbPath, s.Path())
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"settings", "account_selections"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist after migrations: %v", table, err)
		}
	}
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Settings().Set("theme", "dark"); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	got, err := s.Settings().Get("theme")
	if err != nil || got != "dark" {
		t.Errorf("expected dark after reopen, got %q (%v)", got, err)
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}

	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestSettingsRepository(t *testing.T) {
	repo := newTestStore(t).Settings()

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := repo.Set("k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.Set("k", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _ := repo.Get("k"); got != "v2" {
		t.Errorf("expected v2, got %q", got)
	}

	if err := repo.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.Delete("k"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func TestStore_CLIProxyConfig(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.CLIProxyConfig()
	if err != nil || ok {
		t.Fatalf("expected no config, got ok=%v err=%v", ok, err)
	}

	if err := s.SetCLIProxyConfig(cliproxy.Config{BaseURL: " https://proxy.example.com/ ", APIKey: " key "}); err != nil {
		t.Fatalf("set config: %v", err)
	}

	cfg, ok, err := s.CLIProxyConfig()
	if err != nil || !ok {
		t.Fatalf("expected config, got ok=%v err=%v", ok, err)
	}
	if cfg.BaseURL != "https://proxy.example.com" || cfg.APIKey != "key" {
		t.Errorf("config not normalized: %+v", cfg)
	}
	if !cfg.Configured() {
		t.Error("config should be configured")
	}

	if err := s.ClearCLIProxyConfig(); err != nil {
		t.Fatalf("clear config: %v", err)
	}
	if _, ok, _ := s.CLIProxyConfig(); ok {
		t.Error("config should be gone after clear")
	}
}

func TestStore_CLIProxyConfig_Partial(t *testing.T) {
	s := newTestStore(t)

	if err := s.Settings().Set(KeyCLIProxyBaseURL, "https://proxy.example.com"); err != nil {
		t.Fatalf("set: %v", err)
	}

	cfg, ok, err := s.CLIProxyConfig()
	if err != nil || !ok {
		t.Fatalf("partial config should be reported, got ok=%v err=%v", ok, err)
	}
	if cfg.Configured() {
		t.Error("config without key must not count as configured")
	}
}

func TestStore_AccountSelections(t *testing.T) {
	s := newTestStore(t)

	selections, err := s.AccountSelections()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(selections) != 0 {
		t.Errorf("expected no selections, got %v", selections)
	}

	if err := s.SetAccountSelection("claude", " acct-1 "); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetAccountSelection("codex", "acct-2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetAccountSelection("codex", "acct-3"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	selections, _ = s.AccountSelections()
	if selections["claude"] != "acct-1" || selections["codex"] != "acct-3" {
		t.Errorf("unexpected selections: %v", selections)
	}

	if err := s.SetAccountSelection("claude", "  "); err != nil {
		t.Fatalf("clear: %v", err)
	}
	selections, _ = s.AccountSelections()
	if _, ok := selections["claude"]; ok {
		t.Error("blank selection should remove the entry")
	}
	if len(selections) != 1 {
		t.Errorf("expected one selection, got %v", selections)
	}
}
