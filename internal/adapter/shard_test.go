package adapter

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var shardTestUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoWSServer accepts one connection and reads until it closes, so the
// test can observe the server side noticing the client hang up.
func echoWSServer(t *testing.T, closed chan<- struct{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := shardTestUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(closed)
				return
			}
		}
	}))
}

func TestHeartbeatWatchdog_ClosesConnectionAfterHeartbeatTimeout(t *testing.T) {
	closed := make(chan struct{})
	server := echoWSServer(t, closed)
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	s := newShard(0, []string{"BTCUSDT"}, wsURL, discardLogger())
	atomic.StoreInt64(&s.lastFrame, time.Now().Add(-2*HeartbeatTimeout).UnixNano())

	done := make(chan struct{})
	defer close(done)
	go s.heartbeatWatchdog(conn, done)

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("heartbeat watchdog did not force-close a stale connection")
	}
}

func TestHeartbeatWatchdog_LeavesFreshConnectionOpen(t *testing.T) {
	closed := make(chan struct{})
	server := echoWSServer(t, closed)
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	s := newShard(0, []string{"BTCUSDT"}, wsURL, discardLogger())
	s.markAlive()

	done := make(chan struct{})
	go s.heartbeatWatchdog(conn, done)
	defer close(done)

	select {
	case <-closed:
		t.Fatal("heartbeat watchdog closed a connection that is still alive")
	case <-time.After(1500 * time.Millisecond):
	}
}
