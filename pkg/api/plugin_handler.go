package api

import (
	"net/http"

	"github.com/mimir-aip/prognosis-go/pkg/plugins"
)

// PluginHandler handles plugin-related HTTP requests
type PluginHandler struct {
	reg *plugins.Registry
}

// NewPluginHandler creates a new plugin handler
func NewPluginHandler(reg *plugins.Registry) *PluginHandler {
	return &PluginHandler{
		reg: reg,
	}
}

// HandlePlugins lists registered plugins, optionally filtered by type and subtype
func (h *PluginHandler) HandlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	subtype := r.URL.Query().Get("subtype")
	infos := make([]plugins.Info, 0)
	for _, info := range h.reg.Describe(r.URL.Query().Get("type")) {
		if subtype == "" || info.Subtype == subtype {
			infos = append(infos, info)
		}
	}
	writeJSON(w, http.StatusOK, infos)
}
