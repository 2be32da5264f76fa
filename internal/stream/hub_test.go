package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestIntervalClamping(t *testing.T) {
	cases := []struct {
		query string
		want  time.Duration
	}{
		{"", DefaultInterval},
		{"interval=2", 2 * time.Second},
		{"interval=0.5", 500 * time.Millisecond},
		{"interval=0.1", MinInterval},
		{"interval=60", MaxInterval},
		{"interval=-1", DefaultInterval},
		{"interval=abc", DefaultInterval},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/stream?"+tc.query, nil)
		assert.Equal(t, tc.want, Interval(r), "query %q", tc.query)
	}
}

func TestServeStreamsFrames(t *testing.T) {
	hub := NewHub()
	var seq atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "test", func() (any, error) {
			return map[string]int64{"seq": seq.Add(1)}, nil
		})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/?interval=0.5"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var first, second map[string]int64
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, first["seq"]+1, second["seq"])
}

func TestServeSkipsFailedSnapshot(t *testing.T) {
	hub := NewHub()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "test", func() (any, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("cache not ready")
			}
			return map[string]string{"ok": "yes"}, nil
		})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/?interval=0.5"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// first snapshot fails and is skipped, the connection stays open
	var frame map[string]string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "yes", frame["ok"])
}

func TestServeStopsWhenPeerCloses(t *testing.T) {
	hub := NewHub()
	served := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "test", func() (any, error) {
			return map[string]bool{"ok": true}, nil
		})
		close(served)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case <-served:
	case <-time.After(3 * time.Second):
		t.Fatal("serve loop did not exit after peer close")
	}
}

func TestShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "test", func() (any, error) {
			return map[string]bool{"ok": true}, nil
		})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/?interval=10"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// first frame confirms the connection is registered
	var frame map[string]bool
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))

	hub.Shutdown(context.Background())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
				"expected normal closure, got %v", err)
			return
		}
	}
}

func TestRejectSendsPolicyViolation(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Reject(w, r, "authentication required")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "authentication required", string(msg))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
				"expected policy violation close, got %v", err)
			return
		}
	}
}
