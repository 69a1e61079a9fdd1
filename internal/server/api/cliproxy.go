package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ayusman/openusage/internal/cliproxy"
)

// SettingsStore persists the remote store config and account selections.
type SettingsStore interface {
	CLIProxyConfig() (cliproxy.Config, bool, error)
	SetCLIProxyConfig(cfg cliproxy.Config) error
	ClearCLIProxyConfig() error
	AccountSelections() (map[string]string, error)
	SetAccountSelection(pluginID, selection string) error
}

// Catalog lists the accounts of the remote store.
type Catalog interface {
	ListAuthFiles(ctx context.Context, cfg cliproxy.Config) ([]cliproxy.AuthFile, error)
}

// CLIProxyHandler manages the remote credential store settings.
type CLIProxyHandler struct {
	settings SettingsStore
	catalog  Catalog
	validate *validator.Validate
	logger   *slog.Logger
}

// NewCLIProxyHandler creates a new CLIProxyHandler.
func NewCLIProxyHandler(settings SettingsStore, catalog Catalog, logger *slog.Logger) *CLIProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIProxyHandler{
		settings: settings,
		catalog:  catalog,
		validate: validator.New(),
		logger:   logger,
	}
}

// GetConfig handles GET /api/cliproxy/config. The key is never returned.
func (h *CLIProxyHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, _, err := h.settings.CLIProxyConfig()
	if err != nil {
		h.logger.Error("failed to read CLIProxyAPI config", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read CLIProxyAPI config")
		return
	}
	writeJSON(w, http.StatusOK, cfg.Status())
}

// PutConfig handles PUT /api/cliproxy/config.
func (h *CLIProxyHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := decodeJSON[cliproxy.Config](w, r)
	if !ok {
		return
	}

	cfg = cfg.Normalized()
	if !cfg.Configured() {
		writeError(w, http.StatusBadRequest, "baseUrl and apiKey are required")
		return
	}
	if err := h.validate.Struct(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "baseUrl must be a valid URL")
		return
	}

	if err := h.settings.SetCLIProxyConfig(cfg); err != nil {
		h.logger.Error("failed to save CLIProxyAPI config", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save CLIProxyAPI config")
		return
	}
	writeJSON(w, http.StatusOK, cfg.Status())
}

// DeleteConfig handles DELETE /api/cliproxy/config.
func (h *CLIProxyHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.ClearCLIProxyConfig(); err != nil {
		h.logger.Error("failed to clear CLIProxyAPI config", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear CLIProxyAPI config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listAuthFilesResponse struct {
	Files []cliproxy.AuthFile `json:"files"`
}

// ListAuthFiles handles GET /api/cliproxy/auth-files.
func (h *CLIProxyHandler) ListAuthFiles(w http.ResponseWriter, r *http.Request) {
	cfg, ok, err := h.settings.CLIProxyConfig()
	if err != nil {
		h.logger.Error("failed to read CLIProxyAPI config", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read CLIProxyAPI config")
		return
	}
	if !ok || !cfg.Configured() {
		writeError(w, http.StatusConflict, "CLIProxyAPI is not configured")
		return
	}

	files, err := h.catalog.ListAuthFiles(r.Context(), cfg)
	if err != nil {
		h.logger.Warn("failed to list CLIProxyAPI auth files", "error", err)
		var statusErr *cliproxy.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusUnauthorized {
			writeError(w, http.StatusBadGateway, "CLIProxyAPI rejected the API key")
			return
		}
		writeError(w, http.StatusBadGateway, "Failed to load CLIProxy account list")
		return
	}
	if files == nil {
		files = []cliproxy.AuthFile{}
	}
	writeJSON(w, http.StatusOK, listAuthFilesResponse{Files: files})
}

type selectionsResponse struct {
	Selections map[string]string `json:"selections"`
}

// ListSelections handles GET /api/accounts.
func (h *CLIProxyHandler) ListSelections(w http.ResponseWriter, r *http.Request) {
	selections, err := h.settings.AccountSelections()
	if err != nil {
		h.logger.Error("failed to read account selections", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read account selections")
		return
	}
	writeJSON(w, http.StatusOK, selectionsResponse{Selections: selections})
}

type setSelectionRequest struct {
	Selection string `json:"selection"`
}

// SetSelection handles PUT /api/accounts/{pluginID}. A blank selection
// returns the plugin to local credentials.
func (h *CLIProxyHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	pluginID := strings.TrimSpace(chi.URLParam(r, "pluginID"))
	if pluginID == "" {
		writeError(w, http.StatusBadRequest, "plugin id is required")
		return
	}

	req, ok := decodeJSON[setSelectionRequest](w, r)
	if !ok {
		return
	}

	if err := h.settings.SetAccountSelection(pluginID, req.Selection); err != nil {
		h.logger.Error("failed to save account selection", "plugin", pluginID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save account selection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
