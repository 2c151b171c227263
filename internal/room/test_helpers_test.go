package room

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testReadWait = 3 * time.Second

// mustSocketPair upgrades a loopback connection and returns both ends: the
// server side to hand to a room, the client side for the test to drive.
func mustSocketPair(t *testing.T) (serverConn, clientConn *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial test socket: %v", err)
	}
	t.Cleanup(func() {
		_ = clientConn.Close()
	})

	select {
	case serverConn = <-accepted:
	case <-time.After(testReadWait):
		t.Fatalf("timed out waiting for server side of socket pair")
	}
	return serverConn, clientConn
}

func mustReadMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(testReadWait)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var message Message
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return message
}

func mustWriteMessage(t *testing.T, conn *websocket.Conn, message Message) {
	t.Helper()
	if err := conn.WriteJSON(message); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}
}
