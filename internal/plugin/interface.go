// Package plugin implements buntime's in-process plugin registry
// (spec.md §4.5). A plugin is a static descriptor plus a set of
// lifecycle hooks; unlike teranos-QNTX's DomainPlugin (a process
// speaking gRPC), a buntime Plugin is a Go value registered directly
// into the binary at startup — there is no child process or wire
// transport to supervise here, only priority ordering, hook
// invocation, and named-service lookup.
package plugin

import (
	"context"
	"net/http"
)

// Plugin is the descriptor every registered plugin must provide
// (spec.md §3's "Plugin" data model entry).
type Plugin struct {
	// Name uniquely identifies the plugin within the registry.
	Name string
	// Priority orders initialization and hook execution; lower runs
	// earlier. onShutdown runs in the reverse order.
	Priority int
	// Dependencies lists plugin names that must already be registered
	// before this one loads.
	Dependencies []string
	// Base is the URL path prefix this plugin owns, e.g. "/admin". A
	// plugin with no Base registers hooks and services only.
	Base string
	// Routes mounts the plugin's own handler under Base, if any.
	Routes http.Handler

	// OnInit runs once, synchronously, in priority order, before the
	// listener is bound. A returned error aborts startup.
	OnInit func(ctx context.Context, reg *ServiceRegistry) error
	// OnServerStart runs once, in priority order, after the listener
	// is bound and before it starts accepting connections.
	OnServerStart func(addr string) error
	// OnRequest runs serially in priority order before the dispatcher
	// acquires a worker. Returning a non-nil response short-circuits
	// the request; the app is never reached.
	OnRequest func(r *http.Request) (*HookResponse, error)
	// OnResponse runs serially in reverse priority order after the
	// full upstream response is available.
	OnResponse func(r *http.Request, resp *HookResponseInfo) error
	// OnShutdown runs in reverse priority order with a bounded
	// deadline; failures are logged and never block other plugins.
	OnShutdown func(ctx context.Context) error

	// Services are named capabilities this plugin exposes to
	// later-loaded plugins via ServiceRegistry.Lookup.
	Services map[string]interface{}
	// Menus is an opaque UI-menu descriptor, passed through unmodified
	// for whatever admin frontend consumes it. Out of scope for the
	// dispatch core beyond storage and retrieval.
	Menus interface{}
	// WebSocketHandler claims the upgrade handler for this plugin's
	// base path. At most one plugin in the registry may set this.
	WebSocketHandler http.Handler
	// Fragment is a server-side HTML fragment descriptor, stored but
	// never interpreted by the core (spec.md §3: "out of scope for
	// the core").
	Fragment interface{}
}

// HookResponse is what an OnRequest hook returns to short-circuit a
// request without reaching the app.
type HookResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// HookResponseInfo is what an OnResponse hook observes after the
// worker's response is fully available. The response has already been
// written to the client by then, so changes to Headers or Status do
// not reach the client.
type HookResponseInfo struct {
	Status  int
	Headers http.Header
}
