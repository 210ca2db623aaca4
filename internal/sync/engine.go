package sync

import (
	"context"
	"errors"
	"sort"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"record-sync-service/internal/config"
	"record-sync-service/internal/localstore"
	"record-sync-service/internal/logger"
	"record-sync-service/internal/network"
	"record-sync-service/internal/record"
	"record-sync-service/internal/remote"
	"record-sync-service/internal/schema"
	"record-sync-service/internal/store"
)

// ErrAlreadyRunning means a cycle was requested while one is active.
// Cycles are single-flight; callers treat this as a no-op.
var ErrAlreadyRunning = errors.New("sync cycle already running")

// ErrNetworkUnavailable means the monitor vetoed the cycle before it
// started. Nothing was mutated.
var ErrNetworkUnavailable = errors.New("network not good for sync")

// NetworkStatus is the slice of the monitor the engine needs. Injected
// so tests can fake connectivity.
type NetworkStatus interface {
	IsGoodForSync() bool
	State() network.State
}

// Deps carries the engine's collaborators. Network, Notifier, and
// Clock are optional.
type Deps struct {
	Registry *schema.Registry
	Local    localstore.Store
	Remote   remote.Store
	Audit    store.Store
	Network  NetworkStatus
	Notifier Notifier
	Clock    Clock
}

// Engine is the sync orchestrator: it rebuilds the queue from durable
// state, pushes pending records in prioritized batches, pulls remote
// deltas back, and owns retry/backoff for failed items. Strictly
// single-flight; local mutations are never blocked by a running cycle.
type Engine struct {
	cfg         config.SyncConfig
	registry    *schema.Registry
	local       localstore.Store
	remote      remote.Store
	audit       store.Store
	network     NetworkStatus
	notifier    Notifier
	clock       Clock
	strategy    Strategy
	bus         *Bus
	retries     *retryScheduler
	collections []collectionInfo

	mu      stdsync.Mutex
	running bool
	state   CycleState
}

func NewEngine(cfg config.SyncConfig, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = RealClock
	}

	strategy := Strategy(cfg.ConflictStrategy)
	switch strategy {
	case StrategyLastWriteWins, StrategyLocalWins, StrategyRemoteWins, StrategyManualReview:
	default:
		strategy = StrategyLastWriteWins
	}

	var cols []collectionInfo
	if len(cfg.Collections) > 0 {
		for _, c := range cfg.Collections {
			cols = append(cols, collectionInfo{Name: c.Name, Priority: ParsePriority(c.Priority)})
		}
	} else {
		names := deps.Registry.Names()
		sort.Strings(names)
		for _, name := range names {
			cols = append(cols, collectionInfo{Name: name, Priority: PriorityMedium})
		}
	}

	return &Engine{
		cfg:         cfg,
		registry:    deps.Registry,
		local:       deps.Local,
		remote:      deps.Remote,
		audit:       deps.Audit,
		network:     deps.Network,
		notifier:    deps.Notifier,
		clock:       clock,
		strategy:    strategy,
		bus:         NewBus(),
		retries:     newRetryScheduler(clock),
		collections: cols,
		state:       StateIdle,
	}
}

// Stop cancels all pending retry timers. A running cycle is not
// aborted; callers only avoid starting new ones.
func (e *Engine) Stop() {
	e.retries.Stop()
}

func (e *Engine) State() CycleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers a lifecycle event handler, returning its
// unsubscribe.
func (e *Engine) Subscribe(fn func(Event)) func() {
	return e.bus.Subscribe(fn)
}

// HandleNetworkEvent reacts to monitor events: the debounced reconnect
// kicks off a cycle, online/offline are forwarded to UI subscribers.
func (e *Engine) HandleNetworkEvent(ev network.Event) {
	switch ev.Type {
	case network.EventReconnect:
		go func() {
			if _, err := e.Sync(context.Background()); err != nil &&
				!errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, ErrNetworkUnavailable) {
				logger.Log.Error("Reconnect sync failed", zap.Error(err))
			}
		}()
	case network.EventOnline:
		e.bus.Publish(Event{Type: EventOnline, At: ev.At})
	case network.EventOffline:
		e.bus.Publish(Event{Type: EventOffline, At: ev.At})
	}
}

// Sync runs one bidirectional cycle over every configured collection:
// push, then pull.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	return e.syncCollections(ctx, e.collections, "bidirectional")
}

// SyncCollection runs one bidirectional cycle for a single collection,
// for latency-sensitive actions that can't wait for the full sweep.
func (e *Engine) SyncCollection(ctx context.Context, name string) (*Result, error) {
	for _, col := range e.collections {
		if col.Name == name {
			return e.syncCollections(ctx, []collectionInfo{col}, "bidirectional")
		}
	}
	return nil, errors.New("unknown collection " + name)
}

func (e *Engine) syncCollections(ctx context.Context, cols []collectionInfo, direction string) (*Result, error) {
	if e.network != nil && !e.network.IsGoodForSync() {
		return nil, ErrNetworkUnavailable
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.state = StateBuildingQueue
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.state = StateIdle
		e.mu.Unlock()
	}()

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	started := e.clock.Now()

	logger.Log.Info("Sync cycle starting", zap.Strings("collections", names))
	e.bus.Publish(Event{Type: EventSyncStart, At: started, Collections: names})

	hist := &store.SyncHistory{
		ID:          uuid.New().String(),
		StartedAt:   started,
		Direction:   direction,
		Collections: strings.Join(names, ","),
		Status:      "running",
	}
	if err := e.audit.CreateSyncHistory(ctx, hist); err != nil {
		logger.Log.Warn("Failed to record sync history", zap.Error(err))
	}

	queue, err := buildQueue(ctx, e.local, cols)
	if err != nil {
		return nil, e.abortCycle(ctx, hist, names, err)
	}

	e.setState(StatePushing)
	pushSum, err := e.push(ctx, queue)
	if err != nil {
		return nil, e.abortCycle(ctx, hist, names, err)
	}
	logger.Log.Info("Push complete",
		zap.Int("synced", pushSum.Synced),
		zap.Int("failed", pushSum.Failed),
		zap.Int("conflicts", pushSum.Conflicts))

	e.setState(StatePulling)
	pullSum, err := e.pull(ctx, cols)
	if err != nil {
		return nil, e.abortCycle(ctx, hist, names, err)
	}
	logger.Log.Info("Pull complete",
		zap.Int("synced", pullSum.Synced),
		zap.Int("failed", pullSum.Failed),
		zap.Int("conflicts", pullSum.Conflicts))

	result := &Result{
		Push:      pushSum,
		Pull:      pullSum,
		StartedAt: started,
		Duration:  e.clock.Now().Sub(started),
	}

	hist.CompletedAt.Time = e.clock.Now()
	hist.CompletedAt.Valid = true
	hist.Synced = pushSum.Synced + pullSum.Synced
	hist.Failed = pushSum.Failed + pullSum.Failed
	hist.Conflicts = pushSum.Conflicts + pullSum.Conflicts
	hist.Status = "completed"
	if err := e.audit.UpdateSyncHistory(ctx, hist); err != nil {
		logger.Log.Warn("Failed to update sync history", zap.Error(err))
	}

	e.bus.Publish(Event{Type: EventSyncComplete, At: e.clock.Now(), Collections: names, Result: result})
	return result, nil
}

// abortCycle handles a storage-level failure: the cycle stops, no
// further sync state is mutated, and the engine returns to idle via
// the deferred reset.
func (e *Engine) abortCycle(ctx context.Context, hist *store.SyncHistory, names []string, err error) error {
	e.setState(StateError)
	logger.Log.Error("Sync cycle aborted", zap.Error(err))

	hist.CompletedAt.Time = e.clock.Now()
	hist.CompletedAt.Valid = true
	hist.Status = "error"
	hist.ErrorMessage.String = err.Error()
	hist.ErrorMessage.Valid = true
	if uerr := e.audit.UpdateSyncHistory(ctx, hist); uerr != nil {
		logger.Log.Warn("Failed to update sync history", zap.Error(uerr))
	}

	e.bus.Publish(Event{Type: EventSyncError, At: e.clock.Now(), Collections: names, Error: err.Error()})
	return err
}

func (e *Engine) setState(s CycleState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) nowMillis() int64 {
	return e.clock.Now().UnixMilli()
}

// pushOutcome is the result of one item. abort is non-nil only for
// storage-level failures, which end the whole cycle.
type pushOutcome struct {
	sum   Summary
	abort error
}

func (e *Engine) push(ctx context.Context, queue []Operation) (Summary, error) {
	var sum Summary
	for _, batch := range partition(queue, e.cfg.BatchSize) {
		outcomes := e.pushBatch(ctx, batch)
		for _, o := range outcomes {
			sum.add(o.sum)
			if o.abort != nil {
				return sum, o.abort
			}
		}
	}
	return sum, nil
}

// pushBatch processes one batch with bounded parallelism. Records are
// disjoint, so no cross-item ordering is needed within the batch.
func (e *Engine) pushBatch(ctx context.Context, batch []Operation) []pushOutcome {
	parallelism := e.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	outcomes := make([]pushOutcome, len(batch))
	sem := make(chan struct{}, parallelism)
	var wg stdsync.WaitGroup

	for i, op := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, op Operation) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = e.pushOne(ctx, op)
		}(i, op)
	}
	wg.Wait()
	return outcomes
}

func (e *Engine) pushOne(ctx context.Context, op Operation) pushOutcome {
	key := remote.Path(op.Collection, op.RecordID)
	e.retries.Cancel(key)

	rec, err := e.local.Get(ctx, op.Collection, op.RecordID)
	if err != nil {
		return pushOutcome{abort: err}
	}
	// Gone or already settled since the queue was built: no-op. This is
	// also what makes re-pushing a synced item idempotent.
	if rec == nil || rec.SyncStatus != record.StatusPending {
		return pushOutcome{}
	}

	if rec.Deleted {
		return e.pushDelete(ctx, rec)
	}

	if e.cfg.ValidateSchema {
		if verr := e.registry.Validate(rec.Collection, rec.Payload); verr != nil {
			return e.failPermanently(ctx, rec, verr)
		}
	}

	remoteRaw, err := e.remote.Get(ctx, key)
	if err != nil {
		return e.failRetriable(ctx, rec, err)
	}

	if remoteRaw != nil {
		remoteUpdatedAt := schema.RemoteUpdatedAt(remoteRaw)
		if DetectConflict(rec, remoteUpdatedAt) {
			return e.resolveAndPush(ctx, rec, remoteRaw, remoteUpdatedAt)
		}
	}

	shape, err := e.registry.ToRemoteShape(rec)
	if err != nil {
		return e.failPermanently(ctx, rec, err)
	}
	if err := e.remote.Set(ctx, key, shape); err != nil {
		return e.failRetriable(ctx, rec, err)
	}

	if err := e.markSynced(ctx, rec, operationKind(rec)); err != nil {
		return pushOutcome{abort: err}
	}
	return pushOutcome{sum: Summary{Synced: 1}}
}

func (e *Engine) pushDelete(ctx context.Context, rec *record.Record) pushOutcome {
	path := remote.Path(rec.Collection, rec.ID)
	if err := e.remote.Remove(ctx, path); err != nil {
		return e.failRetriable(ctx, rec, err)
	}
	if err := e.local.Delete(ctx, rec.Collection, rec.ID); err != nil {
		return pushOutcome{abort: err}
	}
	e.retries.Cancel(path)
	if e.notifier != nil {
		e.notifier.RecordSynced(rec.Collection, rec.ID, OpDelete, e.clock.Now())
	}
	return pushOutcome{sum: Summary{Synced: 1}}
}

// resolveAndPush settles a push-side conflict and applies the outcome.
func (e *Engine) resolveAndPush(ctx context.Context, rec *record.Record, remoteRaw map[string]any, remoteUpdatedAt int64) pushOutcome {
	col, _ := e.registry.Get(rec.Collection)
	incoming, err := e.registry.ToLocalShape(rec.Collection, remoteRaw)
	if err != nil {
		return e.failRetriable(ctx, rec, err)
	}

	res := Resolve(col, rec, incoming.Payload, remoteUpdatedAt, e.strategy)
	e.recordConflict(ctx, rec, incoming.Payload, remoteUpdatedAt, res)

	switch res.Outcome {
	case store.ResolutionPendingReview:
		// Held for human review; the record stays pending and is
		// excluded from this cycle's apply step.
		logger.Log.Info("Conflict held for manual review",
			zap.String("collection", rec.Collection), zap.String("id", rec.ID))
		return pushOutcome{sum: Summary{Conflicts: 1}}

	case store.ResolutionRemote:
		// Remote is already authoritative: accept it locally, nothing
		// to write upstream.
		rec.Payload = res.Payload
		rec.LocalUpdatedAt = res.UpdatedAt
		if err := e.markSynced(ctx, rec, OpUpdate); err != nil {
			return pushOutcome{abort: err}
		}
		return pushOutcome{sum: Summary{Synced: 1, Conflicts: 1}}

	default: // local or merged: the resolved payload must reach remote
		rec.Payload = res.Payload
		rec.LocalUpdatedAt = res.UpdatedAt
		shape, err := e.registry.ToRemoteShape(rec)
		if err != nil {
			out := e.failPermanently(ctx, rec, err)
			out.sum.Conflicts++
			return out
		}
		if err := e.remote.Set(ctx, remote.Path(rec.Collection, rec.ID), shape); err != nil {
			out := e.failRetriable(ctx, rec, err)
			out.sum.Conflicts++
			return out
		}
		if err := e.markSynced(ctx, rec, OpUpdate); err != nil {
			return pushOutcome{abort: err}
		}
		return pushOutcome{sum: Summary{Synced: 1, Conflicts: 1}}
	}
}

func (e *Engine) recordConflict(ctx context.Context, rec *record.Record, remotePayload map[string]any, remoteUpdatedAt int64, res Resolution) {
	// A held conflict is re-detected every cycle until a reviewer acts;
	// one open row per record is enough.
	if res.Outcome == store.ResolutionPendingReview {
		open, err := e.audit.HasOpenConflict(ctx, rec.Collection, rec.ID)
		if err != nil {
			logger.Log.Warn("Failed to check open conflicts", zap.Error(err))
		} else if open {
			return
		}
	}

	conflict := newConflictRecord(rec, remotePayload, remoteUpdatedAt, res, e.clock.Now())
	if err := e.audit.CreateConflict(ctx, conflict); err != nil {
		logger.Log.Warn("Failed to record conflict",
			zap.String("collection", rec.Collection), zap.String("id", rec.ID), zap.Error(err))
	}
}

// markSynced is the only place a record becomes synced after a push.
// An accepted payload supersedes a pending tombstone, so Deleted is
// cleared here too.
func (e *Engine) markSynced(ctx context.Context, rec *record.Record, kind OpKind) error {
	rec.SyncStatus = record.StatusSynced
	rec.Deleted = false
	rec.LastSyncedAt = e.nowMillis()
	rec.RetryCount = 0
	rec.LastError = ""
	if err := e.local.Put(ctx, rec); err != nil {
		return err
	}
	e.retries.Cancel(remote.Path(rec.Collection, rec.ID))
	if e.notifier != nil {
		e.notifier.RecordSynced(rec.Collection, rec.ID, kind, e.clock.Now())
	}
	return nil
}

// failPermanently marks a non-retriable item failure: schema violation
// or untransformable payload. No backoff, straight to the error log.
func (e *Engine) failPermanently(ctx context.Context, rec *record.Record, cause error) pushOutcome {
	rec.SyncStatus = record.StatusFailed
	rec.LastError = cause.Error()
	if err := e.local.Put(ctx, rec); err != nil {
		return pushOutcome{abort: err}
	}
	e.logItemError(ctx, rec, cause)
	logger.Log.Error("Record failed permanently",
		zap.String("collection", rec.Collection), zap.String("id", rec.ID), zap.Error(cause))
	return pushOutcome{sum: Summary{Failed: 1}}
}

// failRetriable handles a retriable remote failure: bump the retry
// count and either schedule a backed-off retry or, once the budget is
// spent, mark the item failed.
func (e *Engine) failRetriable(ctx context.Context, rec *record.Record, cause error) pushOutcome {
	rec.RetryCount++
	rec.LastError = cause.Error()

	if rec.RetryCount >= e.cfg.MaxRetries {
		rec.SyncStatus = record.StatusFailed
		if err := e.local.Put(ctx, rec); err != nil {
			return pushOutcome{abort: err}
		}
		e.logItemError(ctx, rec, cause)
		logger.Log.Error("Record failed after retries",
			zap.String("collection", rec.Collection), zap.String("id", rec.ID),
			zap.Int("attempts", rec.RetryCount), zap.Error(cause))
		return pushOutcome{sum: Summary{Failed: 1}}
	}

	if err := e.local.Put(ctx, rec); err != nil {
		return pushOutcome{abort: err}
	}

	delay := backoffDelay(time.Duration(e.cfg.RetryBaseDelayMs)*time.Millisecond, rec.RetryCount)
	collection, id := rec.Collection, rec.ID
	e.retries.Schedule(remote.Path(collection, id), delay, func() {
		e.retryRecord(collection, id)
	})
	logger.Log.Warn("Record push failed, retry scheduled",
		zap.String("collection", collection), zap.String("id", id),
		zap.Int("attempt", rec.RetryCount), zap.Duration("delay", delay), zap.Error(cause))
	return pushOutcome{sum: Summary{Failed: 1}}
}

// retryRecord is the backoff timer callback: one more push attempt for
// a single record, outside any cycle.
func (e *Engine) retryRecord(collection, id string) {
	if e.network != nil && !e.network.IsGoodForSync() {
		// Still offline; the next cycle after reconnect picks it up.
		return
	}
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		// A cycle is active and owns pending records until it ends.
		// The record stays pending, so that cycle or the next one
		// retries it.
		return
	}
	outcome := e.pushOne(context.Background(), Operation{Collection: collection, RecordID: id})
	if outcome.abort != nil {
		logger.Log.Error("Retry aborted on storage failure",
			zap.String("collection", collection), zap.String("id", id), zap.Error(outcome.abort))
	}
}

func (e *Engine) logItemError(ctx context.Context, rec *record.Record, cause error) {
	entry := &store.ErrorEntry{
		Collection: rec.Collection,
		RecordID:   rec.ID,
		Message:    cause.Error(),
		OccurredAt: e.clock.Now(),
	}
	if err := e.audit.UpsertError(ctx, entry); err != nil {
		logger.Log.Warn("Failed to record item error", zap.Error(err))
	}
}

func (e *Engine) pull(ctx context.Context, cols []collectionInfo) (Summary, error) {
	var sum Summary
	for _, col := range cols {
		colSum, err := e.pullCollection(ctx, col.Name)
		sum.add(colSum)
		if err != nil {
			if errors.Is(err, localstore.ErrUnavailable) {
				return sum, err
			}
			// Collection-level failure is isolated: log and move on.
			logger.Log.Error("Pull failed for collection",
				zap.String("collection", col.Name), zap.Error(err))
		}
	}
	return sum, nil
}

func (e *Engine) pullCollection(ctx context.Context, collection string) (Summary, error) {
	var sum Summary

	snapshot, err := e.remote.Get(ctx, collection)
	if err != nil {
		return sum, err
	}

	for id, raw := range snapshot {
		remoteRaw, ok := raw.(map[string]any)
		if !ok {
			logger.Log.Debug("Skipping malformed remote record",
				zap.String("collection", collection), zap.String("id", id))
			continue
		}
		if _, has := remoteRaw["id"]; !has {
			remoteRaw["id"] = id
		}

		itemSum, err := e.applyRemote(ctx, collection, remoteRaw)
		sum.add(itemSum)
		if err != nil {
			if errors.Is(err, localstore.ErrUnavailable) {
				return sum, err
			}
			// Item-level failure never escalates past its own item.
			sum.Failed++
			logger.Log.Warn("Failed to apply remote record",
				zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		}
	}
	return sum, nil
}

// applyRemote folds one remote record into the local store per the
// pull rules: absent inserts as synced, settled local state is
// overwritten as synced, pending local state goes through conflict
// detection first.
func (e *Engine) applyRemote(ctx context.Context, collection string, remoteRaw map[string]any) (Summary, error) {
	incoming, err := e.registry.ToLocalShape(collection, remoteRaw)
	if err != nil {
		return Summary{}, err
	}

	local, err := e.local.Get(ctx, collection, incoming.ID)
	if err != nil {
		return Summary{}, err
	}

	switch {
	case local == nil:
		incoming.SyncStatus = record.StatusSynced
		incoming.LastSyncedAt = e.nowMillis()
		if err := e.local.Put(ctx, incoming); err != nil {
			return Summary{}, err
		}
		if e.notifier != nil {
			e.notifier.RecordSynced(collection, incoming.ID, OpCreate, e.clock.Now())
		}
		return Summary{Synced: 1}, nil

	case local.SyncStatus != record.StatusPending:
		if local.LocalUpdatedAt == incoming.LocalUpdatedAt {
			return Summary{}, nil
		}
		local.Payload = incoming.Payload
		local.LocalUpdatedAt = incoming.LocalUpdatedAt
		if err := e.markSynced(ctx, local, OpUpdate); err != nil {
			return Summary{}, err
		}
		return Summary{Synced: 1}, nil

	default:
		return e.applyRemoteToPending(ctx, collection, local, incoming)
	}
}

func (e *Engine) applyRemoteToPending(ctx context.Context, collection string, local, incoming *record.Record) (Summary, error) {
	remoteUpdatedAt := incoming.LocalUpdatedAt
	if !DetectConflict(local, remoteUpdatedAt) {
		// Local pending edit stands; the push step handles it.
		return Summary{}, nil
	}

	col, _ := e.registry.Get(collection)
	res := Resolve(col, local, incoming.Payload, remoteUpdatedAt, e.strategy)
	e.recordConflict(ctx, local, incoming.Payload, remoteUpdatedAt, res)

	switch res.Outcome {
	case store.ResolutionPendingReview:
		return Summary{Conflicts: 1}, nil

	case store.ResolutionRemote:
		local.Payload = res.Payload
		local.LocalUpdatedAt = res.UpdatedAt
		if err := e.markSynced(ctx, local, OpUpdate); err != nil {
			return Summary{}, err
		}
		return Summary{Synced: 1, Conflicts: 1}, nil

	case store.ResolutionMerged:
		// The merge produced something neither side has; keep it
		// pending so the next push publishes it. It also supersedes a
		// pending tombstone, which would otherwise make that push a
		// delete.
		local.Payload = res.Payload
		local.LocalUpdatedAt = e.nowMillis()
		local.SyncStatus = record.StatusPending
		local.Deleted = false
		if err := e.local.Put(ctx, local); err != nil {
			return Summary{}, err
		}
		return Summary{Conflicts: 1}, nil

	default: // local wins: pending edit stands, push will overwrite remote
		return Summary{Conflicts: 1}, nil
	}
}

// StatusCounts is the aggregate the UI queries, overall and per
// collection. Queryable at any time, mid-cycle included.
type StatusCounts struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

type CountsReport struct {
	Collections map[string]StatusCounts `json:"collections"`
	Overall     StatusCounts            `json:"overall"`
}

func (e *Engine) Counts(ctx context.Context) (*CountsReport, error) {
	report := &CountsReport{Collections: make(map[string]StatusCounts, len(e.collections))}

	for _, col := range e.collections {
		byStatus, err := e.local.CountByStatus(ctx, col.Name)
		if err != nil {
			return nil, err
		}
		counts := StatusCounts{
			Pending: byStatus[record.StatusPending],
			Synced:  byStatus[record.StatusSynced],
			Failed:  byStatus[record.StatusFailed],
		}
		counts.Total = counts.Pending + counts.Synced + counts.Failed
		report.Collections[col.Name] = counts

		report.Overall.Pending += counts.Pending
		report.Overall.Synced += counts.Synced
		report.Overall.Failed += counts.Failed
		report.Overall.Total += counts.Total
	}
	return report, nil
}

// SaveRecord applies a UI-originated mutation: the write lands as
// pending immediately and is picked up by the next cycle. An empty id
// allocates one.
func (e *Engine) SaveRecord(ctx context.Context, collection, id string, payload map[string]any) (*record.Record, error) {
	if _, ok := e.registry.Get(collection); !ok {
		return nil, errors.New("unknown collection " + collection)
	}
	if id == "" {
		id = uuid.New().String()
	}

	rec, err := e.local.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &record.Record{ID: id, Collection: collection}
	}

	rec.Deleted = false
	rec.Payload = payload
	rec.SyncStatus = record.StatusPending
	rec.LocalUpdatedAt = e.nowMillis()

	if err := e.local.Put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteRecord removes a record at the domain level. A record the
// remote has never seen is dropped outright; anything else becomes a
// tombstone pushed on the next cycle.
func (e *Engine) DeleteRecord(ctx context.Context, collection, id string) error {
	rec, err := e.local.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	if rec.LastSyncedAt == 0 {
		return e.local.Delete(ctx, collection, id)
	}

	rec.Deleted = true
	rec.SyncStatus = record.StatusPending
	rec.LocalUpdatedAt = e.nowMillis()
	return e.local.Put(ctx, rec)
}
