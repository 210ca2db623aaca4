package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"record-sync-service/internal/config"
)

// wsTestServer speaks the frame protocol over one connection: a keyed
// map behind get/set/remove, change pushes on every write.
type wsTestServer struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	data      map[string]map[string]any
	authToken string
	lastAuth  string
}

func newWSTestServer() *wsTestServer {
	return &wsTestServer{data: make(map[string]map[string]any)}
}

func (s *wsTestServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.lastAuth = r.Header.Get("Authorization")
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		resp := wsFrame{ID: req.ID, OK: true}
		var change *wsFrame

		s.mu.Lock()
		switch req.Op {
		case "get":
			if strings.Contains(req.Path, "/") {
				if v, ok := s.data[req.Path]; ok {
					resp.Value, _ = json.Marshal(v)
				}
			} else {
				snapshot := make(map[string]any)
				for path, v := range s.data {
					if strings.HasPrefix(path, req.Path+"/") {
						snapshot[strings.TrimPrefix(path, req.Path+"/")] = v
					}
				}
				if len(snapshot) > 0 {
					resp.Value, _ = json.Marshal(snapshot)
				}
			}
		case "set":
			s.data[req.Path] = req.Value
			raw, _ := json.Marshal(req.Value)
			change = &wsFrame{Event: "change", Path: req.Path, Value: raw}
		case "remove":
			delete(s.data, req.Path)
			change = &wsFrame{Event: "change", Path: req.Path}
		case "subscribe", "unsubscribe":
			// acknowledged, nothing to track for one connection
		case "fail":
			resp = wsFrame{ID: req.ID, Error: "server says no"}
		}
		s.mu.Unlock()

		if err := conn.WriteJSON(resp); err != nil {
			return
		}
		if change != nil {
			if err := conn.WriteJSON(*change); err != nil {
				return
			}
		}
	}
}

func dialTestStore(t *testing.T, authToken string) (*WSStore, *wsTestServer) {
	t.Helper()
	server := newWSTestServer()
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)

	s, err := DialWS(config.RemoteConfig{
		URL:            "ws" + strings.TrimPrefix(httpServer.URL, "http"),
		AuthToken:      authToken,
		DialTimeout:    "2s",
		RequestTimeout: "2s",
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, server
}

func TestWSStoreRoundTrip(t *testing.T) {
	s, _ := dialTestStore(t, "")
	ctx := context.Background()

	got, err := s.Get(ctx, "students/s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Set(ctx, "students/s1", map[string]any{"name": "Amina"}))
	require.NoError(t, s.Set(ctx, "students/s2", map[string]any{"name": "Chidi"}))

	got, err = s.Get(ctx, "students/s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Amina", got["name"])

	snapshot, err := s.Get(ctx, "students")
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)

	require.NoError(t, s.Remove(ctx, "students/s1"))
	got, err = s.Get(ctx, "students/s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWSStoreSendsAuthHeader(t *testing.T) {
	_, server := dialTestStore(t, "secret-token")

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Equal(t, "Bearer secret-token", server.lastAuth)
}

func TestWSStoreServerErrorIsOpError(t *testing.T) {
	s, _ := dialTestStore(t, "")

	_, err := s.request(context.Background(), "fail", "students/s1", nil)
	require.Error(t, err)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "fail", opErr.Op)
	assert.Contains(t, err.Error(), "server says no")
}

func TestWSStoreSubscribeReceivesChanges(t *testing.T) {
	s, _ := dialTestStore(t, "")
	ctx := context.Background()

	changes := make(chan string, 4)
	unsubscribe, err := s.Subscribe("students", func(path string, value map[string]any) {
		changes <- path
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, s.Set(ctx, "students/s1", map[string]any{"name": "Amina"}))
	require.NoError(t, s.Set(ctx, "assessments/a1", map[string]any{"subject": "math"}))

	select {
	case path := <-changes:
		assert.Equal(t, "students/s1", path)
	case <-time.After(time.Second):
		t.Fatal("change event not delivered")
	}

	// The assessments change never matched the subscription.
	select {
	case path := <-changes:
		t.Fatalf("unexpected change for %s", path)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWSStoreRequestAfterCloseFails(t *testing.T) {
	s, _ := dialTestStore(t, "")
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "students/s1")
	require.Error(t, err)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
}
