package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Garsondee/clouds-of-aurora/internal/syncloop"
)

type recordingRefresher struct {
	mu   sync.Mutex
	reqs [][]syncloop.Resource
	got  chan struct{}
}

func newRecorder() *recordingRefresher {
	return &recordingRefresher{got: make(chan struct{}, 16)}
}

func (r *recordingRefresher) RequestHint(rs ...syncloop.Resource) {
	r.mu.Lock()
	r.reqs = append(r.reqs, rs)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recordingRefresher) wait(t *testing.T, n int) [][]syncloop.Resource {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d hints, want %d", i, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]syncloop.Resource(nil), r.reqs...)
}

// The scheduler takes hints on its gated path.
var _ Refresher = (*syncloop.Scheduler)(nil)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestResources(t *testing.T) {
	cases := map[string][]syncloop.Resource{
		"tick":               {syncloop.Clock},
		"map_changed":        {syncloop.Tiles},
		"settlement_changed": {syncloop.Settlement},
		"event":              {syncloop.Events},
		"weather":            syncloop.All,
		"":                   syncloop.All,
	}
	for in, want := range cases {
		got := Resources(in)
		if len(got) != len(want) {
			t.Fatalf("Resources(%q) = %v, want %v", in, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Resources(%q) = %v, want %v", in, got, want)
			}
		}
	}
}

func TestClient_MessagesBecomePollHints(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"map_changed","tile_x":3}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tick","tick_count":9}`))
		// Hold the connection until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	c := NewClient(wsURL(srv), rec, WithToken("secret"))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	reqs := rec.wait(t, 2)
	if reqs[0][0] != syncloop.Tiles || reqs[1][0] != syncloop.Clock {
		t.Fatalf("requests = %v", reqs)
	}
	if !c.Connected() || c.Received() != 2 {
		t.Fatalf("connected=%v received=%d", c.Connected(), c.Received())
	}
	if auth != "Bearer secret" {
		t.Fatalf("auth header = %q", auth)
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClient_ReconnectsAfterServerClose(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		mu.Unlock()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"settlement_changed"}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		conn.Close()
	}))
	defer srv.Close()

	rec := newRecorder()
	c := NewClient(wsURL(srv), rec, WithRetryDelay(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	reqs := rec.wait(t, 2)
	for _, r := range reqs {
		if len(r) != 1 || r[0] != syncloop.Settlement {
			t.Fatalf("requests = %v", reqs)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if conns < 2 {
		t.Fatalf("connections = %d, want a reconnect", conns)
	}
}

func TestClient_DialFailureRetriesUntilCancel(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/nowhere", newRecorder(), WithRetryDelay(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v", err)
	}
	if c.Connected() {
		t.Fatal("never connected")
	}
}
