package dispatcher

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/zommehq/buntime/internal/logger"
	"github.com/zommehq/buntime/internal/resolver"
	"github.com/zommehq/buntime/internal/workerpool"
)

// upgrader is shared across every app's WebSocket upgrade. It accepts
// every origin instead of gorilla's default same-origin check, since
// buntime apps are typically served behind a reverse proxy on a
// different origin; the dispatcher's CORS handling only sets response
// headers and does not refuse upgrades.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// isWebSocketUpgrade reports whether r requests a protocol upgrade to
// websocket, per the standard Connection/Upgrade header pair.
func isWebSocketUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// serveWebSocket upgrades the client connection, acquires a worker for
// the resolved app, and bridges the connection through it until either
// side closes (spec.md §4.4, §2's data-flow note on upgrades).
func (d *Dispatcher) serveWebSocket(w http.ResponseWriter, r *http.Request) {
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

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lease.Release(workerpool.OutcomeOK)
		logger.Warnw("websocket upgrade failed", logger.FieldApp, res.Name, logger.FieldError, err)
		return
	}
	defer conn.Close()

	err = lease.Instance.Bridge(r.Context(), conn)
	outcome := workerpool.OutcomeOK
	if err != nil {
		outcome = workerpool.OutcomeKill
	}
	lease.Release(outcome)
}
