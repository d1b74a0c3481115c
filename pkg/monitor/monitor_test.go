package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castflow/rtmpub/pkg/logger"
)

func TestHubBroadcastsStatusToConnectedViewer(t *testing.T) {
	hub := NewHub(logger.NewDefaultLogger(logger.ErrorLevel, "text"))
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial monitor websocket: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register the client.
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(Status{
		Timestamp:      time.Now(),
		Event:          EventState,
		State:          "streaming",
		BytesSentTotal: 1024,
		AckWindowOut:   2500000,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast message: %v", err)
	}

	var got Status
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("failed to unmarshal status: %v", err)
	}
	if got.Event != EventState || got.State != "streaming" || got.BytesSentTotal != 1024 {
		t.Errorf("unexpected status: %+v", got)
	}
}

func TestHubBroadcastWithNoClientsIsNoop(t *testing.T) {
	hub := NewHub(logger.NewDefaultLogger(logger.ErrorLevel, "text"))
	hub.Broadcast(Status{Event: EventError, Error: "boom"})
}
