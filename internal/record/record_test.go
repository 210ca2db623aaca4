package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchMarksPending(t *testing.T) {
	rec := &Record{
		ID:         "s1",
		Collection: "students",
		SyncStatus: StatusSynced,
	}

	rec.Touch(map[string]any{"name": "Amina"})

	assert.Equal(t, StatusPending, rec.SyncStatus)
	assert.NotZero(t, rec.LocalUpdatedAt)
	assert.Equal(t, "Amina", rec.Payload["name"])
}

func TestCloneIsDeep(t *testing.T) {
	rec := &Record{
		ID:         "s1",
		Collection: "students",
		Payload: map[string]any{
			"name": "Amina",
			"entries": map[string]any{
				"s1": map[string]any{"status": "present"},
			},
			"tags": []any{"a", "b"},
		},
	}

	cp := rec.Clone()
	cp.Payload["name"] = "mutated"
	nested := cp.Payload["entries"].(map[string]any)["s1"].(map[string]any)
	nested["status"] = "absent"
	cp.Payload["tags"].([]any)[0] = "z"

	assert.Equal(t, "Amina", rec.Payload["name"])
	orig := rec.Payload["entries"].(map[string]any)["s1"].(map[string]any)
	assert.Equal(t, "present", orig["status"])
	assert.Equal(t, "a", rec.Payload["tags"].([]any)[0])

	var nilRec *Record
	assert.Nil(t, nilRec.Clone())
	assert.Nil(t, ClonePayload(nil))
}

func TestAsInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(42), 42, true},
		{42, 42, true},
		{float64(42.9), 42, true},
		{uint32(42), 42, true},
		{"42", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := AsInt64(tt.in)
		require.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.want, got)
	}
}
