// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/syncfleet/syncfleet/api/restutil"
	"github.com/syncfleet/syncfleet/coord"
	"github.com/syncfleet/syncfleet/model"
)

// nodeInbound are the verbs a connected node may send.
type nodeInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// handleNode serves a sync client's persistent connection. The node
// receives every event it did not originate; silence beyond the read
// deadline marks it offline.
func (s *Subscriptions) handleNode(w http.ResponseWriter, req *http.Request) error {
	nodeID := mux.Vars(req)["id"]
	if _, err := s.coord.Node(req.Context(), nodeID); err != nil {
		return restutil.CoordError(err)
	}

	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return restutil.BadRequest(err)
	}

	subID := "node-" + nodeID
	sub := s.coord.Bus().Subscribe(subID, nil, nodeID)

	if err := s.coord.Heartbeat(req.Context(), nodeID); err != nil {
		log.Warn("heartbeat on connect failed", "node", nodeID, "err", err)
	}

	s.wg.Go(func() {
		defer conn.Close()
		defer s.coord.Bus().Unsubscribe(subID)
		// losing the connection means the node is unreachable
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.coord.SetNodeStatus(ctx, nodeID, model.NodeOffline); err != nil {
				log.Debug("offline transition failed", "node", nodeID, "err", err)
			}
		}()

		readErr := make(chan error, 1)
		go func() {
			for {
				conn.SetReadDeadline(time.Now().Add(readDeadline))
				var msg nodeInbound
				if err := conn.ReadJSON(&msg); err != nil {
					readErr <- err
					return
				}
				if err := s.handleNodeVerb(nodeID, &msg); err != nil {
					log.Debug("node message rejected", "node", nodeID, "type", msg.Type, "err", err)
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case ev := <-sub.C():
				if ev == nil {
					return
				}
				raw, err := s.frame(ev)
				if err != nil {
					log.Warn("event frame failed", "err", err)
					continue
				}
				if err := writeRaw(conn, raw); err != nil {
					return
				}
			case <-readErr:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-s.done:
				return
			}
		}
	})
	return nil
}

func (s *Subscriptions) handleNodeVerb(nodeID string, msg *nodeInbound) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Type {
	case "heartbeat":
		return s.coord.Heartbeat(ctx, nodeID)
	case "file_change":
		var upload coord.UploadRequest
		if err := json.Unmarshal(msg.Data, &upload); err != nil {
			return err
		}
		// the connection, not the payload, says who uploads
		upload.Metadata.OwnerNode = nodeID
		_, err := s.coord.Upload(ctx, &upload)
		return err
	default:
		return nil
	}
}
