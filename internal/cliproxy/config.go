// Package cliproxy talks to a CLIProxyAPI management endpoint, the remote
// credential store that backs per-plugin account selections.
package cliproxy

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Config locates and authenticates against a CLIProxyAPI instance.
type Config struct {
	BaseURL string `json:"baseUrl" yaml:"base_url" validate:"omitempty,url"`
	APIKey  string `json:"apiKey" yaml:"api_key"`
}

// Normalized returns c with whitespace and trailing slashes trimmed.
func (c Config) Normalized() Config {
	return Config{
		BaseURL: strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"),
		APIKey:  strings.TrimSpace(c.APIKey),
	}
}

// Configured reports whether both a base URL and a key are present.
func (c Config) Configured() bool {
	n := c.Normalized()
	return n.BaseURL != "" && n.APIKey != ""
}

// Status is the key-free view of a Config.
type Status struct {
	Configured   bool   `json:"configured"`
	BaseURL      string `json:"baseUrl,omitempty"`
	APIKeyMasked string `json:"apiKeyMasked,omitempty"`
}

// Status returns the masked view of c.
func (c Config) Status() Status {
	n := c.Normalized()
	return Status{
		Configured:   c.Configured(),
		BaseURL:      n.BaseURL,
		APIKeyMasked: MaskKey(n.APIKey),
	}
}

// MaskKey keeps the last four characters of key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}

// AuthFile is one account entry of the remote catalog.
type AuthFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Provider    string    `json:"provider"`
	Type        string    `json:"type,omitempty"`
	Email       string    `json:"email,omitempty"`
	Disabled    bool      `json:"disabled"`
	Unavailable bool      `json:"unavailable"`
	AuthIndex   AuthIndex `json:"auth_index,omitempty"`
}

// ProviderName returns the provider tag, falling back to the file type.
func (f AuthFile) ProviderName() string {
	if strings.TrimSpace(f.Provider) != "" {
		return f.Provider
	}
	return f.Type
}

// Matches reports whether selection refers to f by id, name or auth index.
func (f AuthFile) Matches(selection string) bool {
	return f.ID == selection || f.Name == selection || (f.AuthIndex != "" && string(f.AuthIndex) == selection)
}

// AuthIndex is an index the server may encode as a string or a number.
type AuthIndex string

// UnmarshalJSON accepts a JSON string, number or null.
func (a *AuthIndex) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = AuthIndex(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*a = AuthIndex(strconv.FormatInt(i, 10))
		return nil
	}
	*a = AuthIndex(n.String())
	return nil
}
