// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/transport"
)

// Call carries one authorized request into a handler.
type Call struct {
	// Session identifies the caller: the proven peer identity plus
	// the attribute snapshot taken at handshake time.
	Session transport.Session

	// Method is the routed method identifier.
	Method ref.Method

	// Payload is the request body, opaque to the dispatcher.
	Payload []byte
}

// Handler processes one request. The returned bytes become the Ok
// response payload. A returned error becomes a HandlerError response
// whose message crosses the wire, so handlers must not put internal
// detail in error text.
type Handler func(ctx context.Context, call *Call) ([]byte, error)

// route pairs a handler with the resource labels declared at
// registration.
type route struct {
	handler Handler
	labels  map[string]string
}

// Router maps method identifiers to handlers. All routes are
// registered before the dispatcher starts serving and never change
// afterwards, so lookups take no lock.
type Router struct {
	routes map[ref.Method]route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[ref.Method]route)}
}

// Handle registers a handler for method. Panics on a duplicate method
// or a nil handler.
func (r *Router) Handle(method ref.Method, handler Handler) {
	r.HandleWithLabels(method, nil, handler)
}

// HandleWithLabels registers a handler together with resource labels
// for policy rules to match, e.g. {"action": "read"}. The dispatcher
// merges these into the resource attributes of every request for this
// method. The "method" attribute is always the routed identifier and
// overrides any label of the same name.
func (r *Router) HandleWithLabels(method ref.Method, labels map[string]string, handler Handler) {
	if method.IsZero() {
		panic("node.Router: method is empty")
	}
	if handler == nil {
		panic(fmt.Sprintf("node.Router: nil handler for method %q", method))
	}
	if _, exists := r.routes[method]; exists {
		panic(fmt.Sprintf("node.Router: duplicate handler for method %q", method))
	}
	copied := make(map[string]string, len(labels))
	for key, value := range labels {
		copied[key] = value
	}
	r.routes[method] = route{handler: handler, labels: copied}
}

// lookup resolves a method to its route.
func (r *Router) lookup(method ref.Method) (route, bool) {
	rt, ok := r.routes[method]
	return rt, ok
}

// Methods returns the registered method identifiers, sorted.
func (r *Router) Methods() []ref.Method {
	methods := make([]ref.Method, 0, len(r.routes))
	for method := range r.routes {
		methods = append(methods, method)
	}
	slices.SortFunc(methods, func(a, b ref.Method) int {
		return strings.Compare(a.String(), b.String())
	})
	return methods
}
