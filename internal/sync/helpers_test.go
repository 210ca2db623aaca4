package sync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	stdsync "sync"
	"testing"
	"time"

	"record-sync-service/internal/config"
	"record-sync-service/internal/localstore"
	"record-sync-service/internal/network"
	"record-sync-service/internal/record"
	"record-sync-service/internal/remote"
	"record-sync-service/internal/schema"
	"record-sync-service/internal/store"
)

// memLocal is an in-memory localstore.Store for engine tests. failWrites
// simulates the device database going away mid-cycle.
type memLocal struct {
	mu         stdsync.Mutex
	data       map[string]map[string]*record.Record
	failWrites bool
	failReads  bool
}

func newMemLocal() *memLocal {
	return &memLocal{data: make(map[string]map[string]*record.Record)}
}

func (m *memLocal) Get(ctx context.Context, collection, id string) (*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, localstore.ErrUnavailable
	}
	col := m.data[collection]
	if col == nil {
		return nil, nil
	}
	rec, ok := col[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *memLocal) Put(ctx context.Context, rec *record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return localstore.ErrUnavailable
	}
	if m.data[rec.Collection] == nil {
		m.data[rec.Collection] = make(map[string]*record.Record)
	}
	m.data[rec.Collection][rec.ID] = rec.Clone()
	return nil
}

func (m *memLocal) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return localstore.ErrUnavailable
	}
	if col := m.data[collection]; col != nil {
		delete(col, id)
	}
	return nil
}

func (m *memLocal) QueryByIndex(ctx context.Context, collection, index, value string) ([]*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, localstore.ErrUnavailable
	}

	var recs []*record.Record
	for _, rec := range m.data[collection] {
		var match bool
		switch index {
		case localstore.IndexSyncStatus:
			match = string(rec.SyncStatus) == value
		case localstore.IndexLocalUpdatedAt:
			match = strconv.FormatInt(rec.LocalUpdatedAt, 10) == value
		default:
			return nil, localstore.ErrUnknownIndex
		}
		if match {
			recs = append(recs, rec.Clone())
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].LocalUpdatedAt != recs[j].LocalUpdatedAt {
			return recs[i].LocalUpdatedAt < recs[j].LocalUpdatedAt
		}
		return recs[i].ID < recs[j].ID
	})
	return recs, nil
}

func (m *memLocal) BatchPut(ctx context.Context, collection string, recs []*record.Record) error {
	for _, rec := range recs {
		if rec.Collection != collection {
			return localstore.ErrUnknownIndex
		}
	}
	for _, rec := range recs {
		if err := m.Put(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *memLocal) Count(ctx context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[collection]), nil
}

func (m *memLocal) CountByStatus(ctx context.Context, collection string) (map[record.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, localstore.ErrUnavailable
	}
	counts := make(map[record.Status]int)
	for _, rec := range m.data[collection] {
		counts[rec.SyncStatus]++
	}
	return counts, nil
}

func (m *memLocal) Close() error { return nil }

// mustGet reads a record straight out of the fake, bypassing the Store
// interface, for assertions.
func (m *memLocal) mustGet(collection, id string) *record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if col := m.data[collection]; col != nil {
		return col[id].Clone()
	}
	return nil
}

// memAudit is an in-memory store.Store mirroring the SQL behavior,
// including the only-pending-review rule on ResolveConflict.
type memAudit struct {
	mu        stdsync.Mutex
	conflicts []*store.ConflictRecord
	history   []*store.SyncHistory
	errors    map[string]*store.ErrorEntry
}

func newMemAudit() *memAudit {
	return &memAudit{errors: make(map[string]*store.ErrorEntry)}
}

func (m *memAudit) CreateConflict(ctx context.Context, c *store.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conflicts = append(m.conflicts, &cp)
	return nil
}

func (m *memAudit) GetConflict(ctx context.Context, id string) (*store.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conflicts {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAudit) ListConflicts(ctx context.Context, pendingOnly bool, limit, offset int) ([]*store.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ConflictRecord
	for _, c := range m.conflicts {
		if pendingOnly && c.Resolution != store.ResolutionPendingReview {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memAudit) HasOpenConflict(ctx context.Context, collection, recordID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conflicts {
		if c.Collection == collection && c.RecordID == recordID && c.Resolution == store.ResolutionPendingReview {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAudit) ResolveConflict(ctx context.Context, id, resolution string, resolvedPayload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conflicts {
		if c.ID == id && c.Resolution == store.ResolutionPendingReview {
			c.Resolution = resolution
			c.ResolvedPayload = resolvedPayload
			c.ResolvedAt.Time = time.Now()
			c.ResolvedAt.Valid = true
			return nil
		}
	}
	return fmt.Errorf("conflict %s not found or not pending review", id)
}

func (m *memAudit) CreateSyncHistory(ctx context.Context, h *store.SyncHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.history = append(m.history, &cp)
	return nil
}

func (m *memAudit) UpdateSyncHistory(ctx context.Context, h *store.SyncHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.history {
		if existing.ID == h.ID {
			cp := *h
			m.history[i] = &cp
			return nil
		}
	}
	return nil
}

func (m *memAudit) GetSyncHistory(ctx context.Context, limit, offset int) ([]*store.SyncHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.SyncHistory, len(m.history))
	for i, h := range m.history {
		cp := *h
		out[i] = &cp
	}
	return out, nil
}

func (m *memAudit) UpsertError(ctx context.Context, entry *store.ErrorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.errors[entry.Collection+"/"+entry.RecordID] = &cp
	return nil
}

func (m *memAudit) ListErrors(ctx context.Context, limit, offset int) ([]*store.ErrorEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ErrorEntry
	for _, e := range m.errors {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memAudit) ClearErrors(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = make(map[string]*store.ErrorEntry)
	return nil
}

func (m *memAudit) Close() error { return nil }

func (m *memAudit) lastHistory() *store.SyncHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return nil
	}
	cp := *m.history[len(m.history)-1]
	return &cp
}

// fakeClock drives the retry scheduler with virtual time.
type fakeClock struct {
	mu     stdsync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	fn       func()
	fired    bool
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NowMillis() int64 {
	return c.Now().UnixMilli()
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves virtual time forward and fires every due timer on the
// calling goroutine, so the test sees the retry complete before the
// next assertion.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// fakeNetwork is an always-settable NetworkStatus.
type fakeNetwork struct {
	mu   stdsync.Mutex
	good bool
}

func (f *fakeNetwork) setGood(good bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.good = good
}

func (f *fakeNetwork) IsGoodForSync() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.good
}

func (f *fakeNetwork) State() network.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return network.State{Connected: f.good, Quality: network.QualityGood}
}

// noteRecorder captures Notifier callbacks.
type noteRecorder struct {
	mu    stdsync.Mutex
	notes []string
}

func (n *noteRecorder) RecordSynced(collection, id string, kind OpKind, at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, string(kind)+":"+collection+"/"+id)
}

func (n *noteRecorder) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notes...)
}

type testEnv struct {
	engine *Engine
	local  *memLocal
	remote *remote.MemoryStore
	audit  *memAudit
	clock  *fakeClock
	net    *fakeNetwork
	notes  *noteRecorder
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		ConflictStrategy: "last-write-wins",
		MaxRetries:       3,
		RetryBaseDelayMs: 1000,
		BatchSize:        25,
		Parallelism:      2,
		ValidateSchema:   true,
		Collections: []config.CollectionConfig{
			{Name: "attendance_sessions", Priority: "high"},
			{Name: "assessments", Priority: "medium"},
			{Name: "students", Priority: "low"},
		},
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.SyncConfig)) *testEnv {
	cfg := testSyncConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	env := &testEnv{
		local:  newMemLocal(),
		remote: remote.NewMemoryStore(),
		audit:  newMemAudit(),
		clock:  newFakeClock(),
		net:    &fakeNetwork{good: true},
		notes:  &noteRecorder{},
	}
	env.engine = NewEngine(cfg, Deps{
		Registry: schema.Default(),
		Local:    env.local,
		Remote:   env.remote,
		Audit:    env.audit,
		Network:  env.net,
		Notifier: env.notes,
		Clock:    env.clock,
	})
	t.Cleanup(env.engine.Stop)
	return env
}

// rfc3339Millis formats an epoch-millisecond stamp the way the remote
// store carries timestamps.
func rfc3339Millis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
