// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncfleet/syncfleet/api"
	"github.com/syncfleet/syncfleet/blobdb"
	"github.com/syncfleet/syncfleet/bus"
	"github.com/syncfleet/syncfleet/coord"
	"github.com/syncfleet/syncfleet/health"
	"github.com/syncfleet/syncfleet/model"
	"github.com/syncfleet/syncfleet/syncdb"
	"github.com/syncfleet/syncfleet/versiondb"
)

type testServer struct {
	*httptest.Server
	coord *coord.Coordinator
}

func newTestServer(t *testing.T) *testServer {
	db, err := syncdb.NewMem()
	assert.Nil(t, err)
	t.Cleanup(db.Close)

	bdb, err := blobdb.NewMem()
	assert.Nil(t, err)
	t.Cleanup(func() { bdb.Close() })

	c, err := coord.New(db, versiondb.NewStore(bdb), bus.New(db), coord.Options{ChunkSize: 4})
	assert.Nil(t, err)

	handler, closer := api.New(c, api.Options{AllowedOrigins: "*"})
	t.Cleanup(closer)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, coord: c}
}

func (s *testServer) postJSON(t *testing.T, path string, body interface{}) (*http.Response, []byte) {
	raw, err := json.Marshal(body)
	assert.Nil(t, err)
	res, err := http.Post(s.URL+path, "application/json", bytes.NewReader(raw))
	assert.Nil(t, err)
	return res, readBody(t, res)
}

func (s *testServer) get(t *testing.T, path string) (*http.Response, []byte) {
	res, err := http.Get(s.URL + path)
	assert.Nil(t, err)
	return res, readBody(t, res)
}

func readBody(t *testing.T, res *http.Response) []byte {
	defer res.Body.Close()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(res.Body)
	assert.Nil(t, err)
	return buf.Bytes()
}

func (s *testServer) registerNode(t *testing.T, id string) {
	res, body := s.postJSON(t, "/nodes", map[string]interface{}{
		"node_id": id,
		"name":    id,
	})
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	var out struct {
		Status      string          `json:"status"`
		Message     string          `json:"message"`
		VectorClock json.RawMessage `json:"vector_clock"`
	}
	assert.Nil(t, json.Unmarshal(body, &out))
	assert.Equal(t, "success", out.Status)
	assert.NotEmpty(t, out.Message)
	assert.NotEmpty(t, out.VectorClock)
}

func uploadPayload(nodeID, path, content string) map[string]interface{} {
	return map[string]interface{}{
		"file_metadata": map[string]interface{}{
			"path":       path,
			"size":       len(content),
			"owner_node": nodeID,
		},
		"chunks": []map[string]interface{}{{
			"index":  0,
			"offset": 0,
			"size":   len(content),
			"data":   model.Bytes(content),
		}},
		"use_delta_sync": true,
	}
}

func (s *testServer) uploadFile(t *testing.T, nodeID, path, content string) *model.FileMetadata {
	res, body := s.postJSON(t, "/files/upload", uploadPayload(nodeID, path, content))
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	var out struct {
		Status    string              `json:"status"`
		VersionID string              `json:"version_id"`
		File      *model.FileMetadata `json:"file"`
	}
	assert.Nil(t, json.Unmarshal(body, &out))
	assert.Equal(t, "success", out.Status)
	assert.NotEmpty(t, out.VersionID)
	return out.File
}

func TestNodeEndpoints(t *testing.T) {
	s := newTestServer(t)

	s.registerNode(t, "n1")

	res, body := s.get(t, "/nodes")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var nodes []*model.Node
	assert.Nil(t, json.Unmarshal(body, &nodes))
	assert.Equal(t, 1, len(nodes))
	assert.Equal(t, model.NodeOnline, nodes[0].Status)

	res, _ = s.get(t, "/nodes/n1")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = s.get(t, "/nodes/ghost")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	// invalid registration
	res, _ = s.postJSON(t, "/nodes", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	// status flip
	res, _ = s.postJSON(t, "/nodes/n1/status", map[string]interface{}{"status": "offline"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = s.postJSON(t, "/nodes/n1/status", map[string]interface{}{"status": "sleeping"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	// heartbeat revives
	res, _ = s.postJSON(t, "/nodes/n1/heartbeat", map[string]interface{}{})
	assert.Equal(t, http.StatusOK, res.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, s.URL+"/nodes/n1", nil)
	assert.Nil(t, err)
	res, err = http.DefaultClient.Do(req)
	assert.Nil(t, err)
	readBody(t, res)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestFileLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")

	file := s.uploadFile(t, "n1", "/n1/doc.txt", "hello world")
	assert.Equal(t, "doc.txt", file.Name)

	// modify and verify delta stats on the wire
	res, body := s.postJSON(t, "/files/upload", uploadPayload("n1", "/n1/doc.txt", "hello wOrld"))
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	var out struct {
		Status      string              `json:"status"`
		Metrics     *model.DeltaMetrics `json:"delta_metrics"`
		SyncLatency float64             `json:"sync_latency"`
	}
	assert.Nil(t, json.Unmarshal(body, &out))
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, int64(7), out.Metrics.BandwidthSaved)

	res, body = s.get(t, "/files/"+file.FileID+"/content")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var download struct {
		Content model.Bytes `json:"content"`
	}
	assert.Nil(t, json.Unmarshal(body, &download))
	assert.Equal(t, model.Bytes("hello wOrld"), download.Content)

	res, body = s.get(t, "/files/"+file.FileID+"/versions")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var versions []model.FileVersion
	assert.Nil(t, json.Unmarshal(body, &versions))
	assert.Equal(t, 2, len(versions))

	// delete then restore through the api
	req, err := http.NewRequest(http.MethodDelete, s.URL+"/files/"+file.FileID+"?node_id=n1", nil)
	assert.Nil(t, err)
	res, err = http.DefaultClient.Do(req)
	assert.Nil(t, err)
	readBody(t, res)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, _ = s.get(t, "/files/"+file.FileID+"/content")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = s.postJSON(t, "/files/"+file.FileID+"/restore", map[string]interface{}{
		"version_id": versions[0].VersionID,
		"node_id":    "n1",
		"undelete":   true,
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, body = s.get(t, "/files/"+file.FileID+"/content")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Nil(t, json.Unmarshal(body, &download))
	assert.Equal(t, model.Bytes("hello world"), download.Content)
}

func TestNodeFilesEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")
	s.uploadFile(t, "n1", "/n1/a.txt", "aaa")
	s.uploadFile(t, "n1", "/n1/b.txt", "bbb")

	res, body := s.get(t, "/nodes/n1/files")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var files []*model.FileMetadata
	assert.Nil(t, json.Unmarshal(body, &files))
	assert.Equal(t, 2, len(files))

	res, _ = s.get(t, "/nodes/ghost/files")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestChunksEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")
	file := s.uploadFile(t, "n1", "/n1/doc.txt", "hello world")

	res, body := s.get(t, "/files/"+file.FileID+"/chunks")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var sig []model.FileChunk
	assert.Nil(t, json.Unmarshal(body, &sig))
	// 11 bytes at chunk size 4
	assert.Equal(t, 3, len(sig))
	assert.Equal(t, int64(8), sig[2].Offset)

	res, _ = s.get(t, "/files/ghost/chunks")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")
	file := s.uploadFile(t, "n1", "/n1/doc.txt", "one")
	s.uploadFile(t, "n1", "/n1/doc.txt", "two")

	res, body := s.get(t, "/files/"+file.FileID+"/history")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var versions []model.FileVersion
	assert.Nil(t, json.Unmarshal(body, &versions))
	assert.Equal(t, 2, len(versions))
}

func TestDetectConflictsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")
	s.registerNode(t, "n2")
	s.uploadFile(t, "n1", "/shared/doc.txt", "base")
	file := s.uploadFile(t, "n2", "/shared/doc.txt", "other")

	res, body := s.get(t, "/conflicts/detect/"+file.FileID)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var conflicts []*model.Conflict
	assert.Nil(t, json.Unmarshal(body, &conflicts))
	assert.Equal(t, 1, len(conflicts))

	res, _ = s.get(t, "/conflicts/detect/ghost")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDeltaEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")
	file := s.uploadFile(t, "n1", "/n1/doc.txt", "hello world")

	stale := "hello wOrld"
	deltaPayload := map[string]interface{}{
		"current_version": 1,
		"current_chunks": []map[string]interface{}{{
			"index":  0,
			"offset": 0,
			"size":   len(stale),
			"data":   model.Bytes(stale),
		}},
		"vector_clock": map[string]interface{}{
			"clocks": map[string]int64{"n1": 1},
		},
	}
	res, body := s.postJSON(t, "/files/"+file.FileID+"/delta", deltaPayload)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		Success bool `json:"success"`
		Delta   struct {
			ChunksToAdd     []model.FileChunk `json:"chunks_to_add"`
			ChunksUnchanged []interface{}     `json:"chunks_unchanged"`
		} `json:"delta"`
		Metrics     *model.DeltaMetrics `json:"metrics"`
		VectorClock json.RawMessage     `json:"vector_clock"`
	}
	assert.Nil(t, json.Unmarshal(body, &out))
	assert.True(t, out.Success)
	assert.Equal(t, 1, len(out.Delta.ChunksToAdd))
	assert.Equal(t, 2, len(out.Delta.ChunksUnchanged))
	assert.NotNil(t, out.Metrics)
	assert.NotEmpty(t, out.VectorClock)

	res, _ = s.postJSON(t, "/files/ghost/delta", deltaPayload)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestUploadValidationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")

	// chunk bytes disagree with the declared size
	payload := uploadPayload("n1", "/n1/doc.txt", "hello")
	payload["chunks"].([]map[string]interface{})[0]["size"] = 99
	res, body := s.postJSON(t, "/files/upload", payload)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	var out struct {
		Status  string `json:"status"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	assert.Nil(t, json.Unmarshal(body, &out))
	assert.Equal(t, "error", out.Status)
	assert.Equal(t, "bad_request", out.Kind)
	assert.NotEmpty(t, out.Message)
}

func TestReplicationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")
	s.registerNode(t, "n2")

	// replication started by the upload must survive the request
	// context ending with the response
	file := s.uploadFile(t, "n1", "/n1/shared.txt", "shared data")
	s.coord.WaitReplication()

	res, body := s.get(t, "/files/"+model.ReplicaFileID(file.FileID, "n2"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var replica model.FileMetadata
	assert.Nil(t, json.Unmarshal(body, &replica))
	assert.Equal(t, "n2", replica.OwnerNode)
}

func TestEventEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")
	s.uploadFile(t, "n1", "/n1/a.txt", "aaa")
	s.uploadFile(t, "n1", "/n1/b.txt", "bbb")

	res, body := s.get(t, "/events?limit=2")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var events []*model.Event
	assert.Nil(t, json.Unmarshal(body, &events))
	assert.Equal(t, 2, len(events))

	res, _ = s.get(t, "/events?limit=-1")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = s.get(t, "/events/causal?limit=100")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Nil(t, json.Unmarshal(body, &events))
	// registration precedes uploads causally
	assert.Equal(t, model.NodeRegistered, events[0].Kind)

	res, body = s.get(t, "/events/unprocessed")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Nil(t, json.Unmarshal(body, &events))
	assert.True(t, len(events) >= 3)

	ids := []string{events[0].EventID}
	res, _ = s.postJSON(t, "/events/ack", map[string]interface{}{"event_ids": ids})
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, body = s.postJSON(t, "/events/purge?older_than_hours=0", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var purged struct {
		Purged int `json:"purged"`
	}
	assert.Nil(t, json.Unmarshal(body, &purged))
	assert.Equal(t, 1, purged.Purged)
}

func TestConflictEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")
	s.registerNode(t, "n2")

	s.uploadFile(t, "n1", "/shared/doc.txt", "base")
	s.uploadFile(t, "n2", "/shared/doc.txt", "other")

	res, body := s.get(t, "/conflicts?unresolved=true")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var conflicts []*model.Conflict
	assert.Nil(t, json.Unmarshal(body, &conflicts))
	assert.Equal(t, 1, len(conflicts))

	res, body = s.postJSON(t, fmt.Sprintf("/conflicts/%s/resolve", conflicts[0].ConflictID),
		map[string]interface{}{"strategy": "latest_wins"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var resolved model.Conflict
	assert.Nil(t, json.Unmarshal(body, &resolved))
	assert.True(t, resolved.IsResolved)

	// double resolution conflicts
	res, _ = s.postJSON(t, fmt.Sprintf("/conflicts/%s/resolve", conflicts[0].ConflictID),
		map[string]interface{}{"strategy": "latest_wins"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestSystemEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.registerNode(t, "n1")
	s.uploadFile(t, "n1", "/n1/doc.txt", "data")
	s.coord.WaitReplication()

	res, body := s.get(t, "/system/metrics")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var stats syncdb.Statistics
	assert.Nil(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.TotalNodes)
	assert.Equal(t, 1, stats.TotalFiles)

	res, body = s.get(t, "/system/topology")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var topology []map[string]interface{}
	assert.Nil(t, json.Unmarshal(body, &topology))
	assert.Equal(t, 1, len(topology))

	res, body = s.get(t, "/system/delta-metrics")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var report coord.DeltaReport
	assert.Nil(t, json.Unmarshal(body, &report))
	assert.Equal(t, int64(1), report.TotalSyncs)

	res, body = s.get(t, "/system/health")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var status health.Status
	assert.Nil(t, json.Unmarshal(body, &status))
	assert.True(t, status.Healthy)
	assert.NotEmpty(t, status.EventIngestion.LastEventID)
}
