package schema

import (
	"fmt"
	"strings"
	"time"

	"record-sync-service/internal/record"
)

// Remote record envelope fields. The remote store keeps the record id
// and its server-side update time alongside the payload; neither is a
// payload field locally.
const (
	remoteIDField      = "id"
	remoteUpdatedField = "updatedAt"
)

// ToRemoteShape converts a local record into the map written to the
// remote store: payload fields with every timestamp re-encoded as
// RFC3339 (recursing into nested objects and arrays), plus the id and
// updatedAt envelope. Sync bookkeeping (status, retries, lastError)
// never leaves the device.
func (r *Registry) ToRemoteShape(rec *record.Record) (map[string]any, error) {
	col, ok := r.Get(rec.Collection)
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", rec.Collection)
	}

	out := make(map[string]any, len(rec.Payload)+2)
	for k, v := range rec.Payload {
		out[k] = outboundValue(k, v, col)
	}
	out[remoteIDField] = rec.ID
	out[remoteUpdatedField] = millisToRFC3339(rec.LocalUpdatedAt)
	return out, nil
}

// ToLocalShape converts a remote record map into a local Record. The
// caller decides the sync status; LocalUpdatedAt is taken from the
// remote updatedAt so later conflict detection compares like with like.
func (r *Registry) ToLocalShape(collection string, remote map[string]any) (*record.Record, error) {
	col, ok := r.Get(collection)
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	id, _ := remote[remoteIDField].(string)
	if id == "" {
		return nil, fmt.Errorf("remote record in %s has no id", collection)
	}

	updatedAt := parseRemoteTimestamp(remote[remoteUpdatedField])

	payload := make(map[string]any, len(remote))
	for k, v := range remote {
		if k == remoteIDField || k == remoteUpdatedField {
			continue
		}
		payload[k] = inboundValue(k, v, col)
	}

	return &record.Record{
		ID:             id,
		Collection:     collection,
		Payload:        payload,
		LocalUpdatedAt: updatedAt,
	}, nil
}

// RemoteUpdatedAt reads the updatedAt envelope off a raw remote record,
// 0 when absent. Used by conflict detection before any transform.
func RemoteUpdatedAt(remote map[string]any) int64 {
	return parseRemoteTimestamp(remote[remoteUpdatedField])
}

func outboundValue(key string, v any, col *Collection) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = outboundValue(k, e, col)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = outboundValue(key, e, col)
		}
		return out
	default:
		if isTimestampKey(key, col) {
			if ms, ok := record.AsInt64(v); ok {
				return millisToRFC3339(ms)
			}
		}
		return v
	}
}

func inboundValue(key string, v any, col *Collection) any {
	switch t := v.(type) {
	case map[string]any:
		// Remote-native references collapse to their plain id.
		if ref, ok := t["$ref"].(string); ok && len(t) == 1 {
			return refID(ref)
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = inboundValue(k, e, col)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = inboundValue(key, e, col)
		}
		return out
	case string:
		if isTimestampKey(key, col) {
			if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return ts.UnixMilli()
			}
		}
		return v
	default:
		return v
	}
}

// isTimestampKey reports whether a field holds a timestamp: either the
// schema says so, or the key follows the xxxAt naming the payloads use
// for nested stamps the top-level schema cannot see.
func isTimestampKey(key string, col *Collection) bool {
	for _, f := range col.Fields {
		if f.Name == key {
			return f.Type == TypeTimestamp
		}
	}
	return len(key) > 2 && strings.HasSuffix(key, "At")
}

func millisToRFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func parseRemoteTimestamp(v any) int64 {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UnixMilli()
		}
		return 0
	default:
		ms, _ := record.AsInt64(v)
		return ms
	}
}

func refID(ref string) string {
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
