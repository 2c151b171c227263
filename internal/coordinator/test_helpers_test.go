package coordinator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/discoursegraphs/canvas-backend/internal/room"
	"github.com/discoursegraphs/canvas-backend/internal/store"
)

const (
	testReadWait     = 3 * time.Second
	testSaveInterval = 50 * time.Millisecond
)

func mustGateway(t *testing.T) *store.Gateway {
	t.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.AutoMigrate(&store.SnapshotRecord{}, &store.MetaRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	gateway, err := store.NewGateway(store.GatewayConfig{Database: database})
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	return gateway
}

// mustSession upgrades a loopback connection and wraps its server side in a
// room session; the client side is returned for the test to drive.
func mustSession(t *testing.T, sessionID string) (*room.Session, *websocket.Conn) {
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
	case serverConn := <-accepted:
		return room.NewSession(sessionID, serverConn), clientConn
	case <-time.After(testReadWait):
		t.Fatalf("timed out waiting for server side of socket pair")
		return nil, nil
	}
}

func mustReadMessage(t *testing.T, conn *websocket.Conn) room.Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(testReadWait)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var message room.Message
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return message
}
