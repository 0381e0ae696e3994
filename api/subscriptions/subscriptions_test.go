// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package subscriptions_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/syncfleet/syncfleet/api/subscriptions"
	"github.com/syncfleet/syncfleet/blobdb"
	"github.com/syncfleet/syncfleet/bus"
	"github.com/syncfleet/syncfleet/coord"
	"github.com/syncfleet/syncfleet/model"
	"github.com/syncfleet/syncfleet/syncdb"
	"github.com/syncfleet/syncfleet/versiondb"
)

type fixture struct {
	coord *coord.Coordinator
	subs  *subscriptions.Subscriptions
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	db, err := syncdb.NewMem()
	assert.Nil(t, err)
	t.Cleanup(db.Close)

	bdb, err := blobdb.NewMem()
	assert.Nil(t, err)
	t.Cleanup(func() { bdb.Close() })

	c, err := coord.New(db, versiondb.NewStore(bdb), bus.New(db), coord.Options{})
	assert.Nil(t, err)

	subs := subscriptions.New(c, []string{"*"})
	t.Cleanup(subs.Close)

	router := mux.NewRouter()
	subs.Mount(router, "/subscriptions")
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &fixture{coord: c, subs: subs, srv: srv}
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	url := strings.Replace(f.srv.URL, "http", "ws", 1) + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Nil(t, err)
	t.Cleanup(func() { conn.Close() })
	// give the handler a moment to attach its bus subscription
	time.Sleep(50 * time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *subscriptions.Message {
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg subscriptions.Message
	assert.Nil(t, conn.ReadJSON(&msg))
	return &msg
}

func registerNode(t *testing.T, c *coord.Coordinator, id string) {
	_, err := c.RegisterNode(context.Background(), &coord.RegisterRequest{
		NodeID: id,
		Name:   id,
	})
	assert.Nil(t, err)
}

func TestDashboardStream(t *testing.T) {
	f := newFixture(t)
	registerNode(t, f.coord, "n1")

	conn := f.dial(t, "/subscriptions/dashboard")

	msg := readMessage(t, conn)
	assert.Equal(t, "initial_data", msg.Type)
	var snapshot struct {
		Nodes []*model.Node `json:"nodes"`
	}
	assert.Nil(t, json.Unmarshal(msg.Data, &snapshot))
	assert.Equal(t, 1, len(snapshot.Nodes))

	// an upload after connect arrives as a live event
	_, err := f.coord.Upload(context.Background(), coord.SingleChunk("n1", "/n1/doc.txt", []byte("hello")))
	assert.Nil(t, err)

	msg = readMessage(t, conn)
	assert.Equal(t, "event", msg.Type)
	var ev model.Event
	assert.Nil(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, model.FileCreated, ev.Kind)
	assert.Equal(t, "n1", ev.NodeID)
}

func TestDashboardVerbs(t *testing.T) {
	f := newFixture(t)
	registerNode(t, f.coord, "n1")

	conn := f.dial(t, "/subscriptions/dashboard")
	readMessage(t, conn) // initial_data

	assert.Nil(t, conn.WriteJSON(&subscriptions.Message{Type: "request_nodes"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "nodes_update", msg.Type)

	assert.Nil(t, conn.WriteJSON(&subscriptions.Message{Type: "request_metrics"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "metrics_update", msg.Type)

	assert.Nil(t, conn.WriteJSON(&subscriptions.Message{Type: "bogus"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
}

func TestNodeStreamSuppressesOwnEvents(t *testing.T) {
	f := newFixture(t)
	registerNode(t, f.coord, "n1")
	registerNode(t, f.coord, "n2")

	conn := f.dial(t, "/subscriptions/node/n1")

	// n1's own change must not echo back; n2's must arrive
	_, err := f.coord.Upload(context.Background(), coord.SingleChunk("n1", "/n1/mine.txt", []byte("mine")))
	assert.Nil(t, err)
	_, err = f.coord.Upload(context.Background(), coord.SingleChunk("n2", "/n2/theirs.txt", []byte("theirs")))
	assert.Nil(t, err)
	f.coord.WaitReplication()

	msg := readMessage(t, conn)
	assert.Equal(t, "event", msg.Type)
	var ev model.Event
	assert.Nil(t, json.Unmarshal(msg.Data, &ev))
	assert.NotEqual(t, "n1", ev.NodeID)
}

func TestNodeStreamUnknownNode(t *testing.T) {
	f := newFixture(t)

	url := strings.Replace(f.srv.URL, "http", "ws", 1) + "/subscriptions/node/ghost"
	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NotNil(t, err)
	assert.Equal(t, 404, res.StatusCode)
}

func TestNodeVerbHeartbeat(t *testing.T) {
	f := newFixture(t)
	registerNode(t, f.coord, "n1")
	assert.Nil(t, f.coord.SetNodeStatus(context.Background(), "n1", model.NodeOffline))

	conn := f.dial(t, "/subscriptions/node/n1")
	assert.Nil(t, conn.WriteJSON(&subscriptions.Message{Type: "heartbeat"}))

	// connecting itself heartbeats, so the node comes back online
	assert.Eventually(t, func() bool {
		n, err := f.coord.Node(context.Background(), "n1")
		return err == nil && n.Status == model.NodeOnline
	}, 2*time.Second, 10*time.Millisecond)
}
