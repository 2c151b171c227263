package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/discoursegraphs/canvas-backend/internal/document"
	"github.com/discoursegraphs/canvas-backend/internal/room"
	"github.com/discoursegraphs/canvas-backend/internal/schema"
)

const integrationReadWait = 3 * time.Second

// Two clients share a room: the second declares a custom shape kind, which
// widens the room schema and rebuilds the live state; after the first
// client reconnects, its edits reach the second client.
func TestTwoClientsShareRoomAcrossSchemaWidening(t *testing.T) {
	handler, registry := mustHandler(t)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clientA := mustDial(t, srv.URL, "/connect/r1?sessionId=a1")
	mustReadFrame(t, clientA) // init

	clientB := mustDial(t, srv.URL, "/connect/r1?sessionId=b1&shapeType=discourse-node")
	mustReadFrame(t, clientB) // init

	// The widening rebuild drops client A; it reconnects like the sync
	// library would.
	waitForClose(t, clientA)
	clientA = mustDial(t, srv.URL, "/connect/r1?sessionId=a1")
	mustReadFrame(t, clientA)

	expected := schema.Config{ShapeKinds: []string{"discourse-node"}, BindingKinds: []string{}}
	if got := registry.Get("r1").SchemaConfig(); !schema.Equal(got, expected) {
		t.Fatalf("expected room schema config %v, got %v", expected, got)
	}

	if err := clientA.WriteJSON(room.Message{Type: room.MessageTypePush, Changes: &document.Changeset{
		Put: []document.Record{{
			ID:       "node-1",
			Category: document.CategoryShape,
			Kind:     "discourse-node",
			Data:     json.RawMessage(`{"label":"claim"}`),
		}},
	}}); err != nil {
		t.Fatalf("push from client A failed: %v", err)
	}

	patch := mustReadFrame(t, clientB)
	if patch.Type != room.MessageTypePatch {
		t.Fatalf("expected patch at client B, got %q", patch.Type)
	}
	if len(patch.Changes.Put) != 1 || patch.Changes.Put[0].ID != "node-1" {
		t.Fatalf("unexpected patch contents: %#v", patch.Changes)
	}
}

func mustDial(t *testing.T, serverURL, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + path
	header := http.Header{}
	header.Set("Origin", "https://discoursegraphs.com")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", path, err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func mustReadFrame(t *testing.T, conn *websocket.Conn) room.Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(integrationReadWait)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var message room.Message
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return message
}

func waitForClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(integrationReadWait)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	for {
		var message room.Message
		if err := conn.ReadJSON(&message); err != nil {
			return
		}
	}
}
