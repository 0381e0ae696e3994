// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package conflicts exposes conflict listing and resolution over http.
package conflicts

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/api/restutil"
	"github.com/syncfleet/syncfleet/coord"
)

type Conflicts struct {
	coord *coord.Coordinator
}

func New(c *coord.Coordinator) *Conflicts {
	return &Conflicts{coord: c}
}

func (c *Conflicts) handleGetConflicts(w http.ResponseWriter, req *http.Request) error {
	unresolvedOnly := req.URL.Query().Get("unresolved") == "true"
	conflicts, err := c.coord.Conflicts(req.Context(), unresolvedOnly)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, conflicts)
}

func (c *Conflicts) handleResolve(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Strategy  string `json:"strategy"`
		VersionID string `json:"version_id"`
	}
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	resolved, err := c.coord.ResolveConflict(req.Context(), mux.Vars(req)["id"], body.Strategy, body.VersionID)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, resolved)
}

func (c *Conflicts) handleDetect(w http.ResponseWriter, req *http.Request) error {
	fileID := mux.Vars(req)["file_id"]
	if _, err := c.coord.File(req.Context(), fileID); err != nil {
		return restutil.CoordError(err)
	}
	if err := c.coord.DetectConflicts(req.Context(), fileID); err != nil {
		return restutil.CoordError(err)
	}
	conflicts, err := c.coord.Conflicts(req.Context(), true)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, conflicts)
}

func (c *Conflicts) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(c.handleGetConflicts))
	sub.Path("/detect/{file_id}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(c.handleDetect))
	sub.Path("/{id}/resolve").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(c.handleResolve))
}
