package remote

import (
	"context"
	"fmt"
)

// Store is the opaque keyed remote service. Paths are "collection" or
// "collection/id". Get on a collection path returns the id-keyed map of
// records; Get on a record path returns the record map. A missing path
// yields (nil, nil).
//
// Any transport failure surfaces as *OpError, which the engine treats
// as retriable. Timeouts are this adapter's job; the engine sees them
// as ordinary per-item failures.
type Store interface {
	Get(ctx context.Context, path string) (map[string]any, error)
	Set(ctx context.Context, path string, value map[string]any) error
	Update(ctx context.Context, path string, partial map[string]any) error
	Remove(ctx context.Context, path string) error
	Subscribe(path string, fn func(path string, value map[string]any)) (func(), error)
	Close() error
}

// OpError wraps a failed remote operation. Retriable by definition:
// the engine backs off and tries again up to its retry budget.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Path joins a collection and record id into the remote key.
func Path(collection, id string) string {
	return collection + "/" + id
}
