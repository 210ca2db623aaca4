package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"record-sync-service/internal/record"
)

// MemoryStore is an in-process Store for tests and offline development
// (remote.type: memory). It mirrors the wire semantics: collection
// paths return id-keyed maps, record paths return the record map.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]map[string]map[string]any // collection -> id -> record
	subs    map[string]map[int64]func(path string, value map[string]any)
	nextSub int64

	// failures[op] > 0 makes the next calls to op fail; used by retry
	// and backoff tests.
	failures map[string]int
	failErr  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]map[string]map[string]any),
		subs:     make(map[string]map[int64]func(string, map[string]any)),
		failures: make(map[string]int),
	}
}

// FailNext arranges for the next n calls of op ("get", "set", "update",
// "remove") to fail with a retriable OpError.
func (s *MemoryStore) FailNext(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
	s.failErr = err
}

func (s *MemoryStore) takeFailure(op, path string) error {
	if s.failures[op] > 0 {
		s.failures[op]--
		err := s.failErr
		if err == nil {
			err = fmt.Errorf("injected failure")
		}
		return &OpError{Op: op, Path: path, Err: err}
	}
	return nil
}

func splitPath(path string) (collection, id string) {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

func (s *MemoryStore) Get(ctx context.Context, path string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("get", path); err != nil {
		return nil, err
	}

	collection, id := splitPath(path)
	col := s.data[collection]
	if col == nil {
		return nil, nil
	}

	if id == "" {
		out := make(map[string]any, len(col))
		for recID, rec := range col {
			out[recID] = record.ClonePayload(rec)
		}
		return out, nil
	}

	rec, ok := col[id]
	if !ok {
		return nil, nil
	}
	return record.ClonePayload(rec), nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value map[string]any) error {
	s.mu.Lock()
	if err := s.takeFailure("set", path); err != nil {
		s.mu.Unlock()
		return err
	}

	collection, id := splitPath(path)
	if id == "" {
		s.mu.Unlock()
		return &OpError{Op: "set", Path: path, Err: fmt.Errorf("set requires a record path")}
	}
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]map[string]any)
	}
	s.data[collection][id] = record.ClonePayload(value)
	fns := s.matchingSubs(path)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(path, record.ClonePayload(value))
	}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, path string, partial map[string]any) error {
	s.mu.Lock()
	if err := s.takeFailure("update", path); err != nil {
		s.mu.Unlock()
		return err
	}

	collection, id := splitPath(path)
	if id == "" {
		s.mu.Unlock()
		return &OpError{Op: "update", Path: path, Err: fmt.Errorf("update requires a record path")}
	}
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]map[string]any)
	}
	rec := s.data[collection][id]
	if rec == nil {
		rec = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		rec[k] = v
	}
	s.data[collection][id] = rec
	value := record.ClonePayload(rec)
	fns := s.matchingSubs(path)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(path, value)
	}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	if err := s.takeFailure("remove", path); err != nil {
		s.mu.Unlock()
		return err
	}

	collection, id := splitPath(path)
	if col := s.data[collection]; col != nil {
		if id == "" {
			delete(s.data, collection)
		} else {
			delete(col, id)
		}
	}
	fns := s.matchingSubs(path)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(path, nil)
	}
	return nil
}

func (s *MemoryStore) matchingSubs(path string) []func(string, map[string]any) {
	var fns []func(string, map[string]any)
	for prefix, handlers := range s.subs {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			for _, fn := range handlers {
				fns = append(fns, fn)
			}
		}
	}
	return fns
}

func (s *MemoryStore) Subscribe(path string, fn func(path string, value map[string]any)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[path] == nil {
		s.subs[path] = make(map[int64]func(string, map[string]any))
	}
	s.nextSub++
	token := s.nextSub
	s.subs[path][token] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[path], token)
	}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
