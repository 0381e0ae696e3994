// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package events exposes the durable event log over http.
package events

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/api/restutil"
	"github.com/syncfleet/syncfleet/coord"
)

const maxLimit = 1000

type Events struct {
	coord *coord.Coordinator
}

func New(c *coord.Coordinator) *Events {
	return &Events{coord: c}
}

func parseLimit(req *http.Request) (int, error) {
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return 0, errors.New("limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func (e *Events) handleGetEvents(w http.ResponseWriter, req *http.Request) error {
	limit, err := parseLimit(req)
	if err != nil {
		return restutil.BadRequest(err)
	}
	events, err := e.coord.Events(req.Context(), limit)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, events)
}

func (e *Events) handleGetCausal(w http.ResponseWriter, req *http.Request) error {
	limit, err := parseLimit(req)
	if err != nil {
		return restutil.BadRequest(err)
	}
	events, err := e.coord.CausalEvents(req.Context(), limit)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, events)
}

func (e *Events) handleGetUnprocessed(w http.ResponseWriter, req *http.Request) error {
	events, err := e.coord.UnprocessedEvents(req.Context())
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, events)
}

func (e *Events) handleAck(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		EventIDs []string `json:"event_ids"`
	}
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if err := e.coord.MarkEventsProcessed(req.Context(), body.EventIDs); err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, restutil.M{"acknowledged": len(body.EventIDs)})
}

func (e *Events) handlePurge(w http.ResponseWriter, req *http.Request) error {
	olderThan := time.Now().Add(-24 * time.Hour)
	if raw := req.URL.Query().Get("older_than_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 0 {
			return restutil.BadRequest(errors.New("older_than_hours must be a non-negative integer"))
		}
		olderThan = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	purged, err := e.coord.PurgeProcessedEvents(req.Context(), olderThan)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, restutil.M{"purged": purged})
}

func (e *Events) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(e.handleGetEvents))
	sub.Path("/causal").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(e.handleGetCausal))
	sub.Path("/unprocessed").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(e.handleGetUnprocessed))
	sub.Path("/ack").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(e.handleAck))
	sub.Path("/purge").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(e.handlePurge))
}
