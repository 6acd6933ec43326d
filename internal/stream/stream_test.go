package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/page-forge/internal/convert"
)

func dialProgress(t *testing.T, hub *convert.Hub, documentID string) (*websocket.Conn, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	handler := NewHandler(hub, nil, nil)
	router.GET("/api/convert/:documentId/progress", handler.Progress())

	server := httptest.NewServer(router)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/convert/" + documentID + "/progress"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("websocket dial failed: %v", err)
	}
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) convert.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev convert.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return ev
}

func TestProgressStreamDeliversEvents(t *testing.T) {
	hub := convert.NewHub(time.Minute, 2*time.Minute, nil)
	conn, cleanup := dialProgress(t, hub, "doc-1")
	defer cleanup()

	if ev := readEvent(t, conn); ev.Type != convert.EventConnected || ev.DocumentID != "doc-1" {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	progress := 30
	hub.Publish("doc-1", convert.Event{
		Type:     convert.EventProgress,
		Progress: &progress,
		Status:   convert.StatusProcessing,
	})

	ev := readEvent(t, conn)
	if ev.Type != convert.EventProgress || ev.Progress == nil || *ev.Progress != 30 {
		t.Fatalf("unexpected progress event: %+v", ev)
	}
}

func TestProgressStreamAcceptsPong(t *testing.T) {
	hub := convert.NewHub(time.Minute, 2*time.Minute, nil)
	conn, cleanup := dialProgress(t, hub, "doc-1")
	defer cleanup()

	readEvent(t, conn) // connected

	if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
		t.Fatalf("failed to write pong: %v", err)
	}

	// pong の後もストリームは生きている
	hub.Publish("doc-1", convert.Event{Type: convert.EventComplete, Result: &convert.CompleteInfo{Success: true}})
	if ev := readEvent(t, conn); ev.Type != convert.EventComplete {
		t.Fatalf("unexpected event after pong: %+v", ev)
	}
}
