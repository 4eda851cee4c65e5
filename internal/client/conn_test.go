package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatpulse/internal/core"
)

// echoRelay upgrades, records the first inbound frame and answers pong.
func echoRelay(t *testing.T, received chan<- map[string]any) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer ws.Close()
		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var env map[string]any
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Error(err)
				return
			}
			received <- env
			if err := ws.WriteJSON(map[string]string{"type": core.EvPong}); err != nil {
				return
			}
		}
	}
}

func TestConnRoundTrip(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(echoRelay(t, received))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	events := make(chan string, 1)
	conn, err := Dial(context.Background(), url, func(event string, _ json.RawMessage) {
		events <- event
	})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Setup("alice"))

	select {
	case env := <-received:
		assert.Equal(t, core.EvSetup, env["type"])
		assert.Equal(t, "alice", env["userId"])
	case <-time.After(2 * time.Second):
		t.Fatal("relay never saw the setup frame")
	}

	select {
	case event := <-events:
		assert.Equal(t, core.EvPong, event)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never saw the pong")
	}
}

func TestConnSendAfterClose(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(echoRelay(t, received))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, err := Dial(context.Background(), url, nil)
	require.NoError(t, err)

	conn.Close()
	conn.Close()
	assert.Error(t, conn.Send(map[string]string{"type": core.EvPing}))
}
