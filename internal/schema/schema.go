package schema

import (
	"fmt"
	"strings"
)

// FieldType is the primitive type a payload field must carry.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeBool      FieldType = "bool"
	TypeTimestamp FieldType = "timestamp" // epoch millis locally, RFC3339 on the wire
	TypeObject    FieldType = "object"
	TypeArray     FieldType = "array"
	TypeReference FieldType = "reference" // plain id locally, ref object remotely
)

type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Items    FieldType // element type for arrays, empty = unchecked
}

// Collection describes one record type: its payload fields plus the
// sync-relevant shape hints. MergeEntries marks append-style records
// (a map of sub-entries keyed by an external id) that must always be
// merged per entry rather than resolved whole-record. NaturalKey lists
// the payload fields whose values, with the date, derive the
// idempotency key for once-per-session creates.
type Collection struct {
	Name            string
	Fields          []Field
	MergeEntries    bool
	EntriesField    string // defaults to "entries"
	EntryStampField string // per-entry timestamp, defaults to "recordedAt"
	NaturalKey      []string
}

func (c *Collection) entriesField() string {
	if c.EntriesField == "" {
		return "entries"
	}
	return c.EntriesField
}

func (c *Collection) entryStampField() string {
	if c.EntryStampField == "" {
		return "recordedAt"
	}
	return c.EntryStampField
}

// EntriesFieldName exposes the resolved sub-entry field name.
func (c *Collection) EntriesFieldName() string {
	return c.entriesField()
}

// EntriesOf extracts the sub-entry map from an append-style payload.
// Returns nil for a missing or wrongly-shaped field.
func (c *Collection) EntriesOf(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	entries, _ := payload[c.entriesField()].(map[string]any)
	return entries
}

// EntryStamp returns the timestamp of one sub-entry, 0 if absent.
func (c *Collection) EntryStamp(entry any) int64 {
	m, ok := entry.(map[string]any)
	if !ok {
		return 0
	}
	switch v := m[c.entryStampField()].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// SetEntries replaces the sub-entry map on a payload copy.
func (c *Collection) SetEntries(payload, entries map[string]any) map[string]any {
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload[c.entriesField()] = entries
	return payload
}

// Registry maps collection name to descriptor. Static for the lifetime
// of the process; built once at startup.
type Registry struct {
	collections map[string]*Collection
}

func NewRegistry(cols ...*Collection) *Registry {
	r := &Registry{collections: make(map[string]*Collection, len(cols))}
	for _, c := range cols {
		r.collections[c.Name] = c
	}
	return r
}

func (r *Registry) Get(name string) (*Collection, bool) {
	c, ok := r.collections[name]
	return c, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	return names
}

// Default returns the registry for the record-keeping domain.
func Default() *Registry {
	return NewRegistry(
		&Collection{
			Name: "attendance_sessions",
			Fields: []Field{
				{Name: "classId", Type: TypeReference, Required: true},
				{Name: "teacherId", Type: TypeReference},
				{Name: "date", Type: TypeString, Required: true},
				{Name: "entries", Type: TypeObject},
				{Name: "notes", Type: TypeString},
			},
			MergeEntries: true,
			NaturalKey:   []string{"classId", "date"},
		},
		&Collection{
			Name: "students",
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true},
				{Name: "classId", Type: TypeReference},
				{Name: "guardianPhone", Type: TypeString},
				{Name: "enrolledAt", Type: TypeTimestamp},
			},
		},
		&Collection{
			Name: "assessments",
			Fields: []Field{
				{Name: "studentId", Type: TypeReference, Required: true},
				{Name: "subject", Type: TypeString, Required: true},
				{Name: "score", Type: TypeNumber},
				{Name: "tags", Type: TypeArray, Items: TypeString},
				{Name: "recordedAt", Type: TypeTimestamp},
			},
		},
	)
}

// ValidationError reports a schema violation. It is non-retriable:
// the engine fails the item immediately, no backoff.
type ValidationError struct {
	Collection string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Collection, strings.Join(e.Problems, "; "))
}

// Validate checks a payload against its collection descriptor. Returns
// nil when valid, *ValidationError otherwise. Unknown fields pass
// through unchecked; the schema constrains what it names.
func (r *Registry) Validate(collection string, payload map[string]any) error {
	col, ok := r.Get(collection)
	if !ok {
		return &ValidationError{Collection: collection, Problems: []string{"unknown collection"}}
	}

	var problems []string
	for _, f := range col.Fields {
		v, present := payload[f.Name]
		if !present || v == nil {
			if f.Required {
				problems = append(problems, fmt.Sprintf("missing required field %q", f.Name))
			}
			continue
		}
		if msg := checkType(f, v); msg != "" {
			problems = append(problems, msg)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Collection: collection, Problems: problems}
	}
	return nil
}

func checkType(f Field, v any) string {
	switch f.Type {
	case TypeString, TypeReference:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("field %q must be a string", f.Name)
		}
	case TypeNumber, TypeTimestamp:
		if !isNumber(v) {
			return fmt.Sprintf("field %q must be a number", f.Name)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("field %q must be a bool", f.Name)
		}
	case TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Sprintf("field %q must be an object", f.Name)
		}
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return fmt.Sprintf("field %q must be an array", f.Name)
		}
		if f.Items != "" {
			for i, item := range arr {
				if msg := checkType(Field{Name: fmt.Sprintf("%s[%d]", f.Name, i), Type: f.Items}, item); msg != "" {
					return msg
				}
			}
		}
	}
	return ""
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}
