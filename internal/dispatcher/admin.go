package dispatcher

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/zommehq/buntime/internal/config"
	"github.com/zommehq/buntime/internal/logger"
	"github.com/zommehq/buntime/internal/plugin"
	"github.com/zommehq/buntime/internal/workerpool"
)

// Installer is the narrow surface the admin handler needs from the
// directory-backed install registry (internal/registry), kept as an
// interface here to avoid a dependency cycle: internal/registry never
// needs to import internal/dispatcher.
type Installer interface {
	InstallApp(name string, archive multipartFile) error
	RemoveApp(name, version string) error
	InstallPlugin(name string, archive multipartFile) error
	RemovePlugin(name, version string) error
}

// multipartFile is the subset of multipart.File the installer needs.
// It is an alias of io.Reader, so *registry.Registry's io.Reader-based
// methods satisfy Installer, and this package need not import
// mime/multipart.
type multipartFile = io.Reader

// AdminHandler serves the admin endpoints from spec.md §6: plugin
// listing, config read/patch, app/plugin install/remove, and pool
// metrics. Mounted under "/_/admin" by the Dispatcher.
type AdminHandler struct {
	plugins   *plugin.Registry
	pool      *workerpool.Pool
	installer Installer
}

// NewAdminHandler constructs the admin sub-router. installer may be
// nil if install/remove endpoints should return 501 (e.g. a read-only
// deployment).
func NewAdminHandler(plugins *plugin.Registry, pool *workerpool.Pool, installer Installer) *AdminHandler {
	return &AdminHandler{plugins: plugins, pool: pool, installer: installer}
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/_/admin")

	switch {
	case path == "/plugins" && r.Method == http.MethodGet:
		h.listPlugins(w, r)
	case path == "/config" && r.Method == http.MethodGet:
		h.getConfig(w, r)
	case path == "/config" && r.Method == http.MethodPatch:
		h.patchConfig(w, r)
	case path == "/metrics" && r.Method == http.MethodGet:
		h.getMetrics(w, r)
	case strings.HasPrefix(path, "/apps") && r.Method == http.MethodPost:
		h.installApp(w, r)
	case strings.HasPrefix(path, "/apps/") && r.Method == http.MethodDelete:
		h.removeApp(w, r, strings.TrimPrefix(path, "/apps/"))
	case strings.HasPrefix(path, "/plugins") && r.Method == http.MethodPost:
		h.installPlugin(w, r)
	case strings.HasPrefix(path, "/plugins/") && r.Method == http.MethodDelete:
		h.removePlugin(w, r, strings.TrimPrefix(path, "/plugins/"))
	default:
		http.NotFound(w, r)
	}
}

type pluginSummary struct {
	Name         string   `json:"name"`
	Priority     int      `json:"priority"`
	Base         string   `json:"base,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

func (h *AdminHandler) listPlugins(w http.ResponseWriter, r *http.Request) {
	ordered := h.plugins.Ordered()
	summaries := make([]pluginSummary, 0, len(ordered))
	for _, p := range ordered {
		summaries = append(summaries, pluginSummary{
			Name:         p.Name,
			Priority:     p.Priority,
			Base:         p.Base,
			Dependencies: p.Dependencies,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *AdminHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key query parameter", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": config.Get(key)})
}

func (h *AdminHandler) patchConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	for key, value := range patch {
		config.Set(key, value)
	}
	logger.Infow("config patched via admin endpoint", logger.FieldCount, len(patch))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) getMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Metrics())
}

func (h *AdminHandler) installApp(w http.ResponseWriter, r *http.Request) {
	if h.installer == nil {
		http.Error(w, "install not supported", http.StatusNotImplemented)
		return
	}
	file, _, err := r.FormFile("archive")
	if err != nil {
		http.Error(w, "missing archive field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if err := h.installer.InstallApp(name, file); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *AdminHandler) removeApp(w http.ResponseWriter, r *http.Request, rest string) {
	if h.installer == nil {
		http.Error(w, "remove not supported", http.StatusNotImplemented)
		return
	}
	name, version, ok := splitNameVersion(rest)
	if !ok {
		http.Error(w, "expected /apps/<name>/<version>", http.StatusBadRequest)
		return
	}
	if err := h.installer.RemoveApp(name, version); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) installPlugin(w http.ResponseWriter, r *http.Request) {
	if h.installer == nil {
		http.Error(w, "install not supported", http.StatusNotImplemented)
		return
	}
	file, _, err := r.FormFile("archive")
	if err != nil {
		http.Error(w, "missing archive field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if err := h.installer.InstallPlugin(name, file); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *AdminHandler) removePlugin(w http.ResponseWriter, r *http.Request, rest string) {
	if h.installer == nil {
		http.Error(w, "remove not supported", http.StatusNotImplemented)
		return
	}
	name, version, ok := splitNameVersion(rest)
	if !ok {
		http.Error(w, "expected /plugins/<name>/<version>", http.StatusBadRequest)
		return
	}
	if err := h.installer.RemovePlugin(name, version); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func splitNameVersion(rest string) (name, version string, ok bool) {
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
