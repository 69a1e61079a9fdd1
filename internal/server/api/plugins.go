package api

import (
	"net/http"

	"github.com/ayusman/openusage/internal/plugin"
)

// PluginLister lists the presentation view of loaded plugins.
type PluginLister interface {
	Metas() []plugin.Meta
}

// PluginHandler serves plugin metadata.
type PluginHandler struct {
	plugins PluginLister
}

// NewPluginHandler creates a new PluginHandler.
func NewPluginHandler(plugins PluginLister) *PluginHandler {
	return &PluginHandler{plugins: plugins}
}

type listPluginsResponse struct {
	Plugins []plugin.Meta `json:"plugins"`
}

// List handles GET /api/plugins.
func (h *PluginHandler) List(w http.ResponseWriter, r *http.Request) {
	metas := h.plugins.Metas()
	if metas == nil {
		metas = []plugin.Meta{}
	}
	writeJSON(w, http.StatusOK, listPluginsResponse{Plugins: metas})
}
