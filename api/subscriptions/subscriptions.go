// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package subscriptions pushes live events to dashboards and nodes
// over websocket.
package subscriptions

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"
	"github.com/inconshreveable/log15"

	"github.com/syncfleet/syncfleet/api/restutil"
	"github.com/syncfleet/syncfleet/co"
	"github.com/syncfleet/syncfleet/coord"
	"github.com/syncfleet/syncfleet/model"
)

var log = log15.New("pkg", "subscriptions")

const (
	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second
	// a peer missing two ping windows is considered gone
	readDeadline = 2 * pingPeriod
)

// Message is the envelope every websocket frame carries.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Subscriptions struct {
	coord    *coord.Coordinator
	upgrader websocket.Upgrader
	// event id -> marshaled frame, shared across connections
	frames *lru.Cache
	done   chan struct{}
	wg     co.Goes
}

func New(c *coord.Coordinator, allowedOrigins []string) *Subscriptions {
	frames, _ := lru.New(1024)
	return &Subscriptions{
		coord: c,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(req *http.Request) bool {
				origin := req.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
		frames: frames,
		done:   make(chan struct{}),
	}
}

// Close detaches all connections and waits for their pumps.
func (s *Subscriptions) Close() {
	close(s.done)
	s.wg.Wait()
}

// frame marshals an event envelope once per event id.
func (s *Subscriptions) frame(ev *model.Event) ([]byte, error) {
	if cached, ok := s.frames.Get(ev.EventID); ok {
		return cached.([]byte), nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(&Message{Type: "event", Data: data})
	if err != nil {
		return nil, err
	}
	s.frames.Add(ev.EventID, raw)
	return raw, nil
}

func marshalMessage(msgType string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{Type: msgType, Data: data})
}

func writeRaw(conn *websocket.Conn, raw []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func writeMessage(conn *websocket.Conn, msgType string, v interface{}) error {
	raw, err := marshalMessage(msgType, v)
	if err != nil {
		return err
	}
	return writeRaw(conn, raw)
}

func (s *Subscriptions) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/dashboard").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(s.handleDashboard))
	sub.Path("/node/{id}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(s.handleNode))
}
