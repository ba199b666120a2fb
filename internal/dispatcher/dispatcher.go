// Package dispatcher implements buntime's HTTP front door (spec.md
// §4.4): routing precedence (plugin routes before admin routes before
// app dispatch), the plugin onRequest/onResponse hook chain, and the
// acquire → proxy → release cycle against the worker pool.
//
// Grounded on server/routing.go's route-registration order and CORS
// middleware shape, and server/lifecycle.go's start/stop sequencing,
// generalized from QNTX's hand-registered `/api/<domain>/*` mux
// entries to buntime's two-tier precedence (plugin base path, then
// app-name-from-URL dispatch via the resolver).
package dispatcher

import (
	"net/http"
	"strings"

	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/logger"
	"github.com/zommehq/buntime/internal/plugin"
	"github.com/zommehq/buntime/internal/resolver"
	"github.com/zommehq/buntime/internal/workerpool"
)

// Dispatcher is buntime's single HTTP entry point.
type Dispatcher struct {
	plugins    *plugin.Registry
	pool       *workerpool.Pool
	workerDirs []string
	admin      http.Handler
	corsOrigin string
}

// New constructs a Dispatcher. admin is the handler mounted under the
// admin prefix (see NewAdminHandler); workerDirs is the PATH-style
// search list the resolver walks.
func New(plugins *plugin.Registry, pool *workerpool.Pool, workerDirs []string, admin http.Handler, corsOrigin string) *Dispatcher {
	return &Dispatcher{plugins: plugins, pool: pool, workerDirs: workerDirs, admin: admin, corsOrigin: corsOrigin}
}

// ServeHTTP implements the routing precedence from spec.md §4.4:
// plugin routes → admin routes → app dispatch. CORS preflight requests
// and the health probes are answered before any of these.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.withCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if ok := d.serveHealth(w, r); ok {
		return
	}

	if p, ok := d.plugins.MatchBase(r.URL.Path); ok && p.Routes != nil {
		p.Routes.ServeHTTP(w, r)
		return
	}

	if d.admin != nil && strings.HasPrefix(r.URL.Path, "/_/admin") {
		d.admin.ServeHTTP(w, r)
		return
	}

	d.dispatchToApp(w, r)
}

func (d *Dispatcher) withCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if d.corsOrigin == "*" || d.corsOrigin == origin {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	}
}

// dispatchToApp runs the plugin onRequest chain, resolves and acquires
// a worker, proxies the request, then runs the onResponse chain
// (spec.md §4.4, §5's ordering guarantees (c)).
func (d *Dispatcher) dispatchToApp(w http.ResponseWriter, r *http.Request) {
	for _, p := range d.plugins.Ordered() {
		if p.OnRequest == nil {
			continue
		}
		resp, err := p.OnRequest(r)
		if err != nil {
			writeError(w, errors.WithKind(errors.Wrapf(err, "plugin %s rejected request", p.Name), errors.KindPluginRejected))
			return
		}
		if resp != nil {
			writeHookResponse(w, resp)
			d.runOnResponseChain(r, &plugin.HookResponseInfo{Status: resp.Status, Headers: resp.Headers})
			return
		}
	}

	if isWebSocketUpgrade(r) {
		d.serveWebSocket(w, r)
		return
	}

	res, err := resolver.Resolve(r.URL.Path, d.workerDirs)
	if err != nil {
		writeError(w, err)
		return
	}

	lease, err := d.pool.Acquire(r.Context(), res.Name, res.Version.String())
	if err != nil {
		writeError(w, err)
		return
	}

	rec := newStatusRecorder(w)
	handleErr := lease.Instance.Handle(r.Context(), rec, r)

	outcome := workerpool.OutcomeOK
	if handleErr != nil {
		// A timed-out or crashed worker may be mid-write to its control
		// channel; never hand it to another request (spec.md §5).
		outcome = workerpool.OutcomeKill
	}
	lease.Release(outcome)

	if handleErr != nil && !rec.wroteHeader {
		writeError(w, handleErr)
		return
	}

	d.runOnResponseChain(r, &plugin.HookResponseInfo{Status: rec.status, Headers: w.Header()})
}

// runOnResponseChain runs every plugin's OnResponse hook serially in
// reverse priority order, per spec.md §5's ordering guarantee (c).
// Hooks observe the final response; errors are logged, not surfaced to
// the client, since the response has already been written.
func (d *Dispatcher) runOnResponseChain(r *http.Request, info *plugin.HookResponseInfo) {
	for _, p := range d.plugins.Reversed() {
		if p.OnResponse == nil {
			continue
		}
		if err := p.OnResponse(r, info); err != nil {
			logger.Warnw("plugin onResponse hook failed", logger.FieldPlugin, p.Name, logger.FieldError, err)
		}
	}
}

func writeHookResponse(w http.ResponseWriter, resp *plugin.HookResponse) {
	for key, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// writeError maps a Kind-tagged error to the HTTP status spec.md §7
// assigns it and writes a minimal JSON-free plaintext body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := errors.GetKind(err); ok {
		status = statusForKind(kind)
	}
	http.Error(w, err.Error(), status)
}

func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindAppNotFound:
		return http.StatusNotFound
	case errors.KindAppUnavailable:
		return http.StatusBadGateway
	case errors.KindPoolExhausted:
		return http.StatusServiceUnavailable
	case errors.KindWorkerCrash:
		return http.StatusBadGateway
	case errors.KindWorkerTimeout:
		return http.StatusGatewayTimeout
	case errors.KindPluginRejected:
		return http.StatusForbidden
	case errors.KindInvalidManifest, errors.KindInvalidConfig:
		return http.StatusBadRequest
	case errors.KindPoolShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// statusRecorder wraps a ResponseWriter to track whether headers were
// already written, so a mid-stream worker failure can be distinguished
// from one that never got a response out (spec.md §5's cancellation
// rule: "if no bytes have been sent yet" vs. "otherwise truncate").
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
