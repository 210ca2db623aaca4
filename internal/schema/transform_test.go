package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"record-sync-service/internal/record"
)

func rfc(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func TestToRemoteShape(t *testing.T) {
	r := Default()
	updatedAt := int64(1_700_000_000_000)
	enrolled := int64(1_690_000_000_000)

	rec := &record.Record{
		ID:         "s1",
		Collection: "students",
		Payload: map[string]any{
			"name":       "Amina Yusuf",
			"classId":    "c1",
			"enrolledAt": enrolled,
		},
		SyncStatus:     record.StatusPending,
		LocalUpdatedAt: updatedAt,
		RetryCount:     2,
		LastError:      "stale",
	}

	shape, err := r.ToRemoteShape(rec)
	require.NoError(t, err)

	assert.Equal(t, "s1", shape["id"])
	assert.Equal(t, rfc(updatedAt), shape["updatedAt"])
	assert.Equal(t, "Amina Yusuf", shape["name"])
	// Schema-typed timestamps go out as RFC3339.
	assert.Equal(t, rfc(enrolled), shape["enrolledAt"])
	// Sync bookkeeping stays local.
	assert.NotContains(t, shape, "syncStatus")
	assert.NotContains(t, shape, "retryCount")
	assert.NotContains(t, shape, "lastError")

	_, err = r.ToRemoteShape(&record.Record{ID: "x", Collection: "nope"})
	require.Error(t, err)
}

func TestToRemoteShapeConvertsNestedStamps(t *testing.T) {
	r := Default()
	stamp := int64(1_700_000_123_000)

	rec := &record.Record{
		ID:         "c1_2026-03-02",
		Collection: "attendance_sessions",
		Payload: map[string]any{
			"classId": "c1",
			"date":    "2026-03-02",
			"entries": map[string]any{
				"s1": map[string]any{"status": "present", "recordedAt": stamp},
			},
		},
		LocalUpdatedAt: stamp,
	}

	shape, err := r.ToRemoteShape(rec)
	require.NoError(t, err)

	entries, _ := shape["entries"].(map[string]any)
	s1, _ := entries["s1"].(map[string]any)
	// Nested xxxAt stamps the top-level schema can't see are converted
	// by naming convention.
	assert.Equal(t, rfc(stamp), s1["recordedAt"])
	assert.Equal(t, "present", s1["status"])
	// The date string is not a timestamp and passes through untouched.
	assert.Equal(t, "2026-03-02", shape["date"])
}

func TestToLocalShape(t *testing.T) {
	r := Default()
	updatedAt := int64(1_700_000_000_000)

	rec, err := r.ToLocalShape("students", map[string]any{
		"id":         "s1",
		"name":       "Amina Yusuf",
		"classId":    map[string]any{"$ref": "classes/c1"},
		"enrolledAt": rfc(1_690_000_000_000),
		"updatedAt":  rfc(updatedAt),
	})
	require.NoError(t, err)

	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, "students", rec.Collection)
	assert.Equal(t, updatedAt, rec.LocalUpdatedAt)
	// Reference objects collapse to their plain id.
	assert.Equal(t, "c1", rec.Payload["classId"])
	// Wire timestamps come back as epoch millis.
	assert.EqualValues(t, 1_690_000_000_000, rec.Payload["enrolledAt"])
	// The envelope is not payload.
	assert.NotContains(t, rec.Payload, "id")
	assert.NotContains(t, rec.Payload, "updatedAt")
}

func TestToLocalShapeRejectsMissingID(t *testing.T) {
	r := Default()
	_, err := r.ToLocalShape("students", map[string]any{"name": "x"})
	require.Error(t, err)

	_, err = r.ToLocalShape("nope", map[string]any{"id": "x"})
	require.Error(t, err)
}

func TestShapeRoundTrip(t *testing.T) {
	r := Default()
	stamp := int64(1_700_000_123_000)

	original := &record.Record{
		ID:         "c1_2026-03-02",
		Collection: "attendance_sessions",
		Payload: map[string]any{
			"classId": "c1",
			"date":    "2026-03-02",
			"notes":   "fire drill",
			"entries": map[string]any{
				"s1": map[string]any{"status": "present", "recordedAt": stamp},
			},
		},
		LocalUpdatedAt: stamp,
	}

	shape, err := r.ToRemoteShape(original)
	require.NoError(t, err)
	back, err := r.ToLocalShape("attendance_sessions", shape)
	require.NoError(t, err)

	assert.Equal(t, original.ID, back.ID)
	assert.Equal(t, original.LocalUpdatedAt, back.LocalUpdatedAt)
	assert.Equal(t, "fire drill", back.Payload["notes"])
	entries, _ := back.Payload["entries"].(map[string]any)
	s1, _ := entries["s1"].(map[string]any)
	assert.EqualValues(t, stamp, s1["recordedAt"])
}

func TestRemoteUpdatedAt(t *testing.T) {
	ms := int64(1_700_000_000_000)

	assert.Equal(t, ms, RemoteUpdatedAt(map[string]any{"updatedAt": rfc(ms)}))
	// Numeric stamps are accepted as-is.
	assert.Equal(t, ms, RemoteUpdatedAt(map[string]any{"updatedAt": float64(ms)}))
	assert.Zero(t, RemoteUpdatedAt(map[string]any{"updatedAt": "garbage"}))
	assert.Zero(t, RemoteUpdatedAt(map[string]any{}))
}
