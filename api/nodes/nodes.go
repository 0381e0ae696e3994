// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package nodes exposes the node registry over http.
package nodes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/api/restutil"
	"github.com/syncfleet/syncfleet/coord"
	"github.com/syncfleet/syncfleet/model"
)

type Nodes struct {
	coord *coord.Coordinator
}

func New(c *coord.Coordinator) *Nodes {
	return &Nodes{coord: c}
}

func (n *Nodes) handleRegisterNode(w http.ResponseWriter, req *http.Request) error {
	var reg coord.RegisterRequest
	if err := restutil.ParseJSON(req.Body, &reg); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	node, err := n.coord.RegisterNode(req.Context(), &reg)
	if err != nil {
		return restutil.CoordError(err)
	}
	w.WriteHeader(http.StatusCreated)
	return restutil.WriteJSON(w, restutil.M{
		"status":       "success",
		"message":      "node " + node.NodeID + " registered",
		"vector_clock": node.VectorClock,
		"node":         node,
	})
}

func (n *Nodes) handleGetNodes(w http.ResponseWriter, req *http.Request) error {
	nodes, err := n.coord.Nodes(req.Context())
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, nodes)
}

func (n *Nodes) handleGetNode(w http.ResponseWriter, req *http.Request) error {
	id := mux.Vars(req)["id"]
	node, err := n.coord.Node(req.Context(), id)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, node)
}

func (n *Nodes) handleHeartbeat(w http.ResponseWriter, req *http.Request) error {
	id := mux.Vars(req)["id"]
	if err := n.coord.Heartbeat(req.Context(), id); err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, restutil.M{"node_id": id, "status": model.NodeOnline})
}

func (n *Nodes) handleSetStatus(w http.ResponseWriter, req *http.Request) error {
	id := mux.Vars(req)["id"]
	var body struct {
		Status string `json:"status"`
	}
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	status, ok := model.ParseNodeStatus(body.Status)
	if !ok {
		return restutil.BadRequest(errors.Errorf("unknown status %q", body.Status))
	}
	if err := n.coord.SetNodeStatus(req.Context(), id, status); err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, restutil.M{"node_id": id, "status": status})
}

func (n *Nodes) handleNodeFiles(w http.ResponseWriter, req *http.Request) error {
	files, err := n.coord.NodeFiles(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, files)
}

func (n *Nodes) handleRemoveNode(w http.ResponseWriter, req *http.Request) error {
	id := mux.Vars(req)["id"]
	if err := n.coord.RemoveNode(req.Context(), id); err != nil {
		return restutil.CoordError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (n *Nodes) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(n.handleRegisterNode))
	sub.Path("").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(n.handleGetNodes))
	sub.Path("/{id}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(n.handleGetNode))
	sub.Path("/{id}").Methods(http.MethodDelete).HandlerFunc(restutil.WrapHandlerFunc(n.handleRemoveNode))
	sub.Path("/{id}/files").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(n.handleNodeFiles))
	sub.Path("/{id}/heartbeat").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(n.handleHeartbeat))
	sub.Path("/{id}/status").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(n.handleSetStatus))
}
