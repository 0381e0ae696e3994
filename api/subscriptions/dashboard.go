// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"

	"github.com/syncfleet/syncfleet/api/restutil"
)

// handleDashboard serves a monitoring client: an initial snapshot,
// then the live event stream, plus request/response verbs.
func (s *Subscriptions) handleDashboard(w http.ResponseWriter, req *http.Request) error {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return restutil.BadRequest(err)
	}

	subID := "dashboard-" + uuid.New()
	sub := s.coord.Bus().Subscribe(subID, nil, "")

	s.wg.Go(func() {
		defer conn.Close()
		defer s.coord.Bus().Unsubscribe(subID)

		// the request context ends when the handler returns; the
		// connection needs its own
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := s.sendInitialData(ctx, conn); err != nil {
			log.Debug("dashboard initial data failed", "err", err)
			return
		}

		requests := make(chan string, 8)
		readErr := make(chan error, 1)
		go func() {
			defer close(requests)
			for {
				conn.SetReadDeadline(time.Now().Add(readDeadline))
				var msg Message
				if err := conn.ReadJSON(&msg); err != nil {
					readErr <- err
					return
				}
				select {
				case requests <- msg.Type:
				default:
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
			case verb, ok := <-requests:
				if !ok {
					return
				}
				if err := s.handleDashboardVerb(ctx, conn, verb); err != nil {
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

func (s *Subscriptions) sendInitialData(ctx context.Context, conn *websocket.Conn) error {
	nodes, err := s.coord.Nodes(ctx)
	if err != nil {
		return err
	}
	files, err := s.coord.Files(ctx, false)
	if err != nil {
		return err
	}
	events, err := s.coord.Events(ctx, 50)
	if err != nil {
		return err
	}
	stats, err := s.coord.Statistics(ctx)
	if err != nil {
		return err
	}
	return writeMessage(conn, "initial_data", restutil.M{
		"nodes":      nodes,
		"files":      files,
		"events":     events,
		"statistics": stats,
	})
}

func (s *Subscriptions) handleDashboardVerb(ctx context.Context, conn *websocket.Conn, verb string) error {
	switch verb {
	case "request_metrics":
		stats, err := s.coord.Statistics(ctx)
		if err != nil {
			return err
		}
		return writeMessage(conn, "metrics_update", restutil.M{
			"statistics": stats,
			"delta":      s.coord.DeltaMetrics(),
		})
	case "request_nodes":
		nodes, err := s.coord.Nodes(ctx)
		if err != nil {
			return err
		}
		return writeMessage(conn, "nodes_update", nodes)
	default:
		return writeMessage(conn, "error", restutil.M{
			"message": "unknown request type",
			"request": json.RawMessage(`"` + verb + `"`),
		})
	}
}
