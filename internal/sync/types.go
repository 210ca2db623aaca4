package sync

import (
	"fmt"
	"time"
)

// Priority is the static collection tier. Lower sorts first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "medium"
	}
}

// OpKind is what a queued operation does to the remote store.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one ephemeral queue entry. Rebuilt from durable record
// state at the start of every cycle; never the source of truth.
type Operation struct {
	Collection string
	RecordID   string
	Kind       OpKind
	Priority   Priority
	EnqueuedAt int64 // when the record went pending (its LocalUpdatedAt)
	Attempt    int
}

func (op Operation) String() string {
	return fmt.Sprintf("[%s] %s/%s (%s)", op.Kind, op.Collection, op.RecordID, op.Priority)
}

// Summary is the per-phase outcome: one emitted for the push step, one
// for the pull step. Conflicts counts detected conflicts, including
// those held for manual review (which are not failures).
type Summary struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

func (s *Summary) add(o Summary) {
	s.Synced += o.Synced
	s.Failed += o.Failed
	s.Conflicts += o.Conflicts
}

// Result is what a full cycle returns.
type Result struct {
	Push      Summary       `json:"push"`
	Pull      Summary       `json:"pull"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// CycleState is the orchestrator's current phase.
type CycleState string

const (
	StateIdle          CycleState = "idle"
	StateBuildingQueue CycleState = "building-queue"
	StatePushing       CycleState = "pushing"
	StatePulling       CycleState = "pulling"
	StateError         CycleState = "error"
)

// EventType identifies a lifecycle event published to UI subscribers.
type EventType string

const (
	EventSyncStart    EventType = "sync-start"
	EventSyncComplete EventType = "sync-complete"
	EventSyncError    EventType = "sync-error"
	EventOnline       EventType = "online"
	EventOffline      EventType = "offline"
)

// Event is the lifecycle payload handed to subscribers.
type Event struct {
	Type        EventType `json:"type"`
	At          time.Time `json:"at"`
	Collections []string  `json:"collections,omitempty"`
	Result      *Result   `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Notifier receives one callback per record successfully written
// remotely or accepted locally from a pull. Delivery beyond this hook
// is someone else's problem.
type Notifier interface {
	RecordSynced(collection, id string, kind OpKind, at time.Time)
}
