// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package system exposes aggregate statistics and topology over http.
package system

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/syncfleet/syncfleet/api/restutil"
	"github.com/syncfleet/syncfleet/coord"
)

type System struct {
	coord *coord.Coordinator
}

func New(c *coord.Coordinator) *System {
	return &System{coord: c}
}

func (s *System) handleMetrics(w http.ResponseWriter, req *http.Request) error {
	stats, err := s.coord.Statistics(req.Context())
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, stats)
}

func (s *System) handleDeltaMetrics(w http.ResponseWriter, req *http.Request) error {
	return restutil.WriteJSON(w, s.coord.DeltaMetrics())
}

func (s *System) handleHealth(w http.ResponseWriter, req *http.Request) error {
	status := s.coord.Health(req.Context())
	if !status.Healthy {
		w.Header().Set("Content-Type", restutil.JSONContentType)
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	return restutil.WriteJSON(w, status)
}

func (s *System) handleTopology(w http.ResponseWriter, req *http.Request) error {
	topology, err := s.coord.Topology(req.Context())
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, topology)
}

func (s *System) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/metrics").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(s.handleMetrics))
	sub.Path("/delta-metrics").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(s.handleDeltaMetrics))
	sub.Path("/topology").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(s.handleTopology))
	sub.Path("/health").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(s.handleHealth))
}
