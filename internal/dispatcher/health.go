package dispatcher

import (
	"net/http"
)

// serveHealth handles the three probe endpoints from spec.md §6:
// `/_/health` (always 200 once the process is serving), `/_/live`
// (always 200 when the process runs), and `/_/ready` (200 iff at
// least one worker can be acquired on demand). Returns true if it
// handled the request.
func (d *Dispatcher) serveHealth(w http.ResponseWriter, r *http.Request) bool {
	switch r.URL.Path {
	case "/_/health", "/_/live":
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return true
	case "/_/ready":
		d.serveReady(w, r)
		return true
	default:
		return false
	}
}

// serveReady reports 200 only if the pool has spare admission capacity
// or at least one idle worker somewhere — a cheap, non-mutating
// approximation of "a worker can be acquired on demand" that never
// actually spawns one just to answer a probe.
func (d *Dispatcher) serveReady(w http.ResponseWriter, r *http.Request) {
	m := d.pool.Metrics()
	if m.Draining {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	if m.Live < m.MaxSize || len(m.Lanes) > 0 {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
