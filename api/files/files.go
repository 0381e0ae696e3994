// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package files exposes uploads, downloads, version chains and delta
// sync over http.
package files

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/api/restutil"
	"github.com/syncfleet/syncfleet/coord"
	"github.com/syncfleet/syncfleet/model"
)

type Files struct {
	coord *coord.Coordinator
}

func New(c *coord.Coordinator) *Files {
	return &Files{coord: c}
}

func (f *Files) handleUpload(w http.ResponseWriter, req *http.Request) error {
	var upload coord.UploadRequest
	if err := restutil.ParseJSON(req.Body, &upload); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	res, err := f.coord.Upload(req.Context(), &upload)
	if err != nil {
		return restutil.CoordError(err)
	}
	w.WriteHeader(http.StatusCreated)
	return restutil.WriteJSON(w, restutil.M{
		"status":        "success",
		"version_id":    res.VersionID,
		"sync_latency":  res.SyncLatency,
		"delta_metrics": res.Metrics,
		"vector_clock":  res.VectorClock,
		"file":          res.File,
	})
}

func (f *Files) handleGetFiles(w http.ResponseWriter, req *http.Request) error {
	includeDeleted := req.URL.Query().Get("include_deleted") == "true"
	files, err := f.coord.Files(req.Context(), includeDeleted)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, files)
}

func (f *Files) handleGetFile(w http.ResponseWriter, req *http.Request) error {
	file, err := f.coord.File(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, file)
}

func (f *Files) handleDownload(w http.ResponseWriter, req *http.Request) error {
	file, content, err := f.coord.Download(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, restutil.M{
		"file":    file,
		"content": model.Bytes(content),
	})
}

func (f *Files) handleGetVersions(w http.ResponseWriter, req *http.Request) error {
	versions, err := f.coord.Versions(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, versions)
}

func (f *Files) handleDownloadVersion(w http.ResponseWriter, req *http.Request) error {
	vars := mux.Vars(req)
	version, content, err := f.coord.DownloadVersion(req.Context(), vars["id"], vars["vid"])
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, restutil.M{
		"version": version,
		"content": model.Bytes(content),
	})
}

func (f *Files) handleChunks(w http.ResponseWriter, req *http.Request) error {
	sig, err := f.coord.Chunks(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, sig)
}

func (f *Files) handleDelta(w http.ResponseWriter, req *http.Request) error {
	var body coord.DeltaSyncRequest
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	body.FileID = mux.Vars(req)["id"]
	res, err := f.coord.DeltaSync(req.Context(), &body)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, restutil.M{
		"success":      true,
		"delta":        res.Delta,
		"metrics":      res.Metrics,
		"vector_clock": res.VectorClock,
	})
}

func (f *Files) handleRestore(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		VersionID string `json:"version_id"`
		NodeID    string `json:"node_id"`
		Undelete  bool   `json:"undelete"`
	}
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if body.VersionID == "" || body.NodeID == "" {
		return restutil.BadRequest(errors.New("version_id and node_id required"))
	}
	file, err := f.coord.Restore(req.Context(), mux.Vars(req)["id"], body.VersionID, body.NodeID, body.Undelete)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, file)
}

func (f *Files) handleDelete(w http.ResponseWriter, req *http.Request) error {
	nodeID := req.URL.Query().Get("node_id")
	if nodeID == "" {
		return restutil.BadRequest(errors.New("node_id required"))
	}
	if err := f.coord.Delete(req.Context(), mux.Vars(req)["id"], nodeID); err != nil {
		return restutil.CoordError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (f *Files) handleCleanup(w http.ResponseWriter, req *http.Request) error {
	keep := 5
	if raw := req.URL.Query().Get("keep"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return restutil.BadRequest(errors.New("keep must be a positive integer"))
		}
		keep = parsed
	}
	removed, err := f.coord.CleanupVersions(req.Context(), mux.Vars(req)["id"], keep)
	if err != nil {
		return restutil.CoordError(err)
	}
	return restutil.WriteJSON(w, restutil.M{"removed": removed})
}

func (f *Files) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/upload").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(f.handleUpload))
	sub.Path("").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(f.handleGetFiles))
	sub.Path("/{id}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(f.handleGetFile))
	sub.Path("/{id}").Methods(http.MethodDelete).HandlerFunc(restutil.WrapHandlerFunc(f.handleDelete))
	sub.Path("/{id}/content").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(f.handleDownload))
	sub.Path("/{id}/chunks").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(f.handleChunks))
	sub.Path("/{id}/history").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(f.handleGetVersions))
	sub.Path("/{id}/versions").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(f.handleGetVersions))
	sub.Path("/{id}/versions/{vid}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(f.handleDownloadVersion))
	sub.Path("/{id}/delta").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(f.handleDelta))
	sub.Path("/{id}/restore").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(f.handleRestore))
	sub.Path("/{id}/cleanup").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(f.handleCleanup))
}
