package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"record-sync-service/internal/config"
	"record-sync-service/internal/logger"
)

// wire frames. Requests carry a correlation id; the server answers with
// the same id. Frames without an id are server-initiated change pushes
// for subscribed paths.
type wsRequest struct {
	ID    string         `json:"id"`
	Op    string         `json:"op"` // get | set | update | remove | subscribe | unsubscribe
	Path  string         `json:"path"`
	Value map[string]any `json:"value,omitempty"`
}

type wsFrame struct {
	ID    string          `json:"id,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Event string          `json:"event,omitempty"` // "change"
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// WSStore talks to the remote store over a single websocket, with
// id-correlated request/response and server-pushed change events.
type WSStore struct {
	conn           *websocket.Conn
	requestTimeout time.Duration

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu      sync.Mutex
	pending map[string]chan wsFrame
	subs    map[string]map[int64]func(path string, value map[string]any)
	nextSub int64
	closed  bool

	done chan struct{}
}

func DialWS(cfg config.RemoteConfig) (*WSStore, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.GetDialTimeout()}
	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	conn, resp, err := dialer.Dial(cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial remote store %s: %w", cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s := &WSStore{
		conn:           conn,
		requestTimeout: cfg.GetRequestTimeout(),
		pending:        make(map[string]chan wsFrame),
		subs:           make(map[string]map[int64]func(string, map[string]any)),
		done:           make(chan struct{}),
	}
	go s.readLoop()

	logger.Log.Info("Connected to remote store", zap.String("url", cfg.URL))
	return s, nil
}

func (s *WSStore) readLoop() {
	defer close(s.done)
	for {
		var frame wsFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.failPending(err)
			return
		}

		if frame.ID != "" {
			s.mu.Lock()
			ch, ok := s.pending[frame.ID]
			if ok {
				delete(s.pending, frame.ID)
			}
			s.mu.Unlock()
			if ok {
				ch <- frame
			}
			continue
		}

		if frame.Event == "change" {
			s.dispatchChange(frame)
		}
	}
}

func (s *WSStore) dispatchChange(frame wsFrame) {
	var value map[string]any
	if len(frame.Value) > 0 {
		if err := json.Unmarshal(frame.Value, &value); err != nil {
			logger.Log.Warn("Dropping malformed change event",
				zap.String("path", frame.Path), zap.Error(err))
			return
		}
	}

	s.mu.Lock()
	var fns []func(string, map[string]any)
	for prefix, handlers := range s.subs {
		if frame.Path == prefix || strings.HasPrefix(frame.Path, prefix+"/") {
			for _, fn := range handlers {
				fns = append(fns, fn)
			}
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(frame.Path, value)
	}
}

func (s *WSStore) failPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.pending {
		delete(s.pending, id)
		ch <- wsFrame{ID: id, Error: err.Error()}
	}
}

func (s *WSStore) request(ctx context.Context, op, path string, value map[string]any) (json.RawMessage, error) {
	req := wsRequest{ID: uuid.New().String(), Op: op, Path: path, Value: value}
	ch := make(chan wsFrame, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &OpError{Op: op, Path: path, Err: fmt.Errorf("connection closed")}
	}
	s.pending[req.ID] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		return nil, &OpError{Op: op, Path: path, Err: err}
	}

	timer := time.NewTimer(s.requestTimeout)
	defer timer.Stop()

	select {
	case frame := <-ch:
		if frame.Error != "" {
			return nil, &OpError{Op: op, Path: path, Err: fmt.Errorf("%s", frame.Error)}
		}
		return frame.Value, nil
	case <-timer.C:
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		return nil, &OpError{Op: op, Path: path, Err: fmt.Errorf("request timed out after %s", s.requestTimeout)}
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		return nil, &OpError{Op: op, Path: path, Err: ctx.Err()}
	}
}

func (s *WSStore) Get(ctx context.Context, path string) (map[string]any, error) {
	raw, err := s.request(ctx, "get", path, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &OpError{Op: "get", Path: path, Err: err}
	}
	return value, nil
}

func (s *WSStore) Set(ctx context.Context, path string, value map[string]any) error {
	_, err := s.request(ctx, "set", path, value)
	return err
}

func (s *WSStore) Update(ctx context.Context, path string, partial map[string]any) error {
	_, err := s.request(ctx, "update", path, partial)
	return err
}

func (s *WSStore) Remove(ctx context.Context, path string) error {
	_, err := s.request(ctx, "remove", path, nil)
	return err
}

// Subscribe registers a change handler for a path prefix and returns
// its unsubscribe func. The server is told once per distinct path.
func (s *WSStore) Subscribe(path string, fn func(path string, value map[string]any)) (func(), error) {
	s.mu.Lock()
	firstForPath := len(s.subs[path]) == 0
	if s.subs[path] == nil {
		s.subs[path] = make(map[int64]func(string, map[string]any))
	}
	s.nextSub++
	token := s.nextSub
	s.subs[path][token] = fn
	s.mu.Unlock()

	if firstForPath {
		ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
		defer cancel()
		if _, err := s.request(ctx, "subscribe", path, nil); err != nil {
			s.mu.Lock()
			delete(s.subs[path], token)
			s.mu.Unlock()
			return nil, err
		}
	}

	return func() {
		s.mu.Lock()
		delete(s.subs[path], token)
		lastForPath := len(s.subs[path]) == 0
		if lastForPath {
			delete(s.subs, path)
		}
		closed := s.closed
		s.mu.Unlock()

		if lastForPath && !closed {
			ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
			defer cancel()
			_, _ = s.request(ctx, "unsubscribe", path, nil)
		}
	}, nil
}

func (s *WSStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	err := s.conn.Close()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
	}
	return err
}
