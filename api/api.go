// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/syncfleet/syncfleet/api/conflicts"
	"github.com/syncfleet/syncfleet/api/events"
	"github.com/syncfleet/syncfleet/api/files"
	"github.com/syncfleet/syncfleet/api/nodes"
	"github.com/syncfleet/syncfleet/api/subscriptions"
	"github.com/syncfleet/syncfleet/api/system"
	"github.com/syncfleet/syncfleet/coord"
	"github.com/syncfleet/syncfleet/metrics"
)

type Options struct {
	AllowedOrigins string
	EnableMetrics  bool
}

// New return api router
func New(c *coord.Coordinator, opts Options) (http.HandlerFunc, func()) {
	origins := strings.Split(strings.TrimSpace(opts.AllowedOrigins), ",")
	for i, o := range origins {
		origins[i] = strings.ToLower(strings.TrimSpace(o))
	}

	router := mux.NewRouter()

	nodes.New(c).
		Mount(router, "/nodes")
	files.New(c).
		Mount(router, "/files")
	events.New(c).
		Mount(router, "/events")
	conflicts.New(c).
		Mount(router, "/conflicts")
	system.New(c).
		Mount(router, "/system")
	subs := subscriptions.New(c, origins)
	subs.Mount(router, "/subscriptions")

	if opts.EnableMetrics {
		router.Path("/metrics").Handler(metrics.HTTPHandler())
	}

	handler := handlers.CompressHandler(router)
	handler = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"content-type"}),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
	)(handler)
	return handler.ServeHTTP, subs.Close
}
