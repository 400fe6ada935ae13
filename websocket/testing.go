package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// NewTestingEnv serves a broadcaster on a test server and returns a
// connected client. Logs are written to the test log until the returned
// close function is called.
func NewTestingEnv(t *testing.T, b *Broadcaster) (*websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(b.Server(ctx))

	config, err := websocket.NewConfig(
		strings.ReplaceAll(server.URL, "http://", "ws://"),
		"http://localhost",
	)
	if err != nil {
		t.Fatalf("error initializing web socket: %s", err)
	}
	config.Header.Set("User-Agent", "bygg-test")

	conn, err := websocket.DialConfig(config)
	if err != nil {
		t.Fatalf("error dialing web socket: %s", err)
	}

	return conn, func() {
		conn.Close()
		cancel()
		server.Close()

		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
	}
}

// ReceiveEvent reads the next event sent to a client, skipping heartbeats.
func ReceiveEvent(conn *websocket.Conn) (Event, error) {
	for {
		var msg []byte
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return Event{}, err
		}

		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			return Event{}, err
		}
		if ev.Type != EventHeartbeat {
			return ev, nil
		}
	}
}
