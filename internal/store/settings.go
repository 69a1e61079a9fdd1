package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ayusman/openusage/internal/cliproxy"
)

// ErrNotFound is returned when a requested setting does not exist.
var ErrNotFound = errors.New("not found")

// Setting keys.
const (
	KeyCLIProxyBaseURL = "cliproxy.base_url"
	KeyCLIProxyAPIKey  = "cliproxy.api_key"
)

// SettingsRepository provides access to key-value settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value stored under key.
// Returns ErrNotFound if the key has never been set.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (r *SettingsRepository) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}

// CLIProxyConfig returns the saved remote store config. ok is false when
// neither value has been saved.
func (s *Store) CLIProxyConfig() (cliproxy.Config, bool, error) {
	settings := s.Settings()

	baseURL, err := settings.Get(KeyCLIProxyBaseURL)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return cliproxy.Config{}, false, err
	}
	apiKey, err := settings.Get(KeyCLIProxyAPIKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return cliproxy.Config{}, false, err
	}

	cfg := cliproxy.Config{BaseURL: baseURL, APIKey: apiKey}.Normalized()
	if cfg.BaseURL == "" && cfg.APIKey == "" {
		return cliproxy.Config{}, false, nil
	}
	return cfg, true, nil
}

// SetCLIProxyConfig saves the normalized remote store config atomically.
func (s *Store) SetCLIProxyConfig(cfg cliproxy.Config) error {
	cfg = cfg.Normalized()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for key, value := range map[string]string{
		KeyCLIProxyBaseURL: cfg.BaseURL,
		KeyCLIProxyAPIKey:  cfg.APIKey,
	} {
		if _, err := tx.Exec(
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ClearCLIProxyConfig removes the saved remote store config.
func (s *Store) ClearCLIProxyConfig() error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key IN (?, ?)`, KeyCLIProxyBaseURL, KeyCLIProxyAPIKey)
	return err
}

// AccountSelections returns the saved remote account selection per plugin id.
func (s *Store) AccountSelections() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT plugin_id, selection FROM account_selections ORDER BY plugin_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	selections := make(map[string]string)
	for rows.Next() {
		var pluginID, selection string
		if err := rows.Scan(&pluginID, &selection); err != nil {
			return nil, err
		}
		selections[pluginID] = selection
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return selections, nil
}

// SetAccountSelection saves the remote account for a plugin. A blank
// selection removes it, returning the plugin to local credentials.
func (s *Store) SetAccountSelection(pluginID, selection string) error {
	selection = strings.TrimSpace(selection)
	if selection == "" {
		_, err := s.db.Exec(`DELETE FROM account_selections WHERE plugin_id = ?`, pluginID)
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO account_selections (plugin_id, selection, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(plugin_id) DO UPDATE SET selection = excluded.selection, updated_at = excluded.updated_at`,
		pluginID, selection, time.Now(),
	)
	return err
}
