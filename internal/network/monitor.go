package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"record-sync-service/internal/config"
	"record-sync-service/internal/logger"
)

type Quality string

const (
	QualityGood     Quality = "good"
	QualityDegraded Quality = "degraded"
	QualityUnknown  Quality = "unknown"
)

// State is the transient connectivity snapshot. Never persisted.
type State struct {
	Connected          bool
	Quality            Quality
	RTT                time.Duration
	LastConnectedAt    time.Time
	LastDisconnectedAt time.Time
}

type EventType string

const (
	EventOnline         EventType = "online"
	EventOffline        EventType = "offline"
	EventQualityChanged EventType = "quality-changed"
	// EventReconnect fires once per offline→online transition, after
	// the settle window, so a flapping link doesn't thrash the engine.
	EventReconnect EventType = "reconnect"
)

type Event struct {
	Type  EventType
	State State
	At    time.Time
}

// Prober measures reachability of the remote endpoint. Returns the
// round-trip time on success.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// HTTPProber probes with a HEAD request. Any HTTP response counts as
// connected; quality comes from the measured RTT.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProber) Probe(ctx context.Context) (time.Duration, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return time.Since(start), nil
}

// Monitor tracks connectivity by polling a Prober and publishes
// online/offline/quality events plus the debounced reconnect signal.
type Monitor struct {
	prober       Prober
	pollInterval time.Duration
	settle       time.Duration
	degradedRTT  time.Duration

	mu          sync.Mutex
	state       State
	subscribers map[int64]func(Event)
	nextSub     int64
	settleTimer *time.Timer

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewMonitor(cfg config.NetworkConfig, prober Prober) *Monitor {
	if prober == nil {
		prober = &HTTPProber{URL: cfg.ProbeURL}
	}
	return &Monitor{
		prober:       prober,
		pollInterval: cfg.GetPollInterval(),
		settle:       cfg.GetReconnectSettle(),
		degradedRTT:  time.Duration(cfg.DegradedRTTMs) * time.Millisecond,
		state:        State{Quality: QualityUnknown},
		subscribers:  make(map[int64]func(Event)),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start begins periodic polling. An immediate first probe seeds the
// state so IsOnline answers honestly right away.
func (m *Monitor) Start() {
	go func() {
		defer close(m.done)

		m.CheckNow(context.Background())

		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckNow(context.Background())
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done

	m.mu.Lock()
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
	m.mu.Unlock()
}

// CheckNow runs one probe and applies the transition rules.
func (m *Monitor) CheckNow(ctx context.Context) State {
	rtt, err := m.prober.Probe(ctx)
	now := time.Now()

	m.mu.Lock()
	prev := m.state
	next := prev

	if err != nil {
		next.Connected = false
		next.Quality = QualityUnknown
		next.RTT = 0
		if prev.Connected {
			next.LastDisconnectedAt = now
		}
	} else {
		next.Connected = true
		next.RTT = rtt
		if m.degradedRTT > 0 && rtt >= m.degradedRTT {
			next.Quality = QualityDegraded
		} else {
			next.Quality = QualityGood
		}
		if !prev.Connected {
			next.LastConnectedAt = now
		}
	}

	m.state = next

	var events []Event
	switch {
	case !prev.Connected && next.Connected:
		events = append(events, Event{Type: EventOnline, State: next, At: now})
		m.armSettleLocked()
	case prev.Connected && !next.Connected:
		events = append(events, Event{Type: EventOffline, State: next, At: now})
		if m.settleTimer != nil {
			m.settleTimer.Stop()
			m.settleTimer = nil
		}
	case prev.Connected && next.Connected && prev.Quality != next.Quality:
		events = append(events, Event{Type: EventQualityChanged, State: next, At: now})
	}
	m.mu.Unlock()

	for _, ev := range events {
		if ev.Type == EventOffline {
			logger.Log.Warn("Network offline")
		} else {
			logger.Log.Debug("Network event",
				zap.String("type", string(ev.Type)),
				zap.String("quality", string(ev.State.Quality)),
				zap.Duration("rtt", ev.State.RTT))
		}
		m.publish(ev)
	}

	return next
}

// armSettleLocked schedules the single debounced reconnect signal. A
// pending timer is replaced, never stacked.
func (m *Monitor) armSettleLocked() {
	if m.settleTimer != nil {
		m.settleTimer.Stop()
	}
	m.settleTimer = time.AfterFunc(m.settle, func() {
		m.mu.Lock()
		m.settleTimer = nil
		state := m.state
		m.mu.Unlock()

		if !state.Connected {
			return
		}
		logger.Log.Info("Network reconnected", zap.String("quality", string(state.Quality)))
		m.publish(Event{Type: EventReconnect, State: state, At: time.Now()})
	})
}

func (m *Monitor) publish(ev Event) {
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribe registers an event handler and returns its unsubscribe.
func (m *Monitor) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	token := m.nextSub
	m.subscribers[token] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, token)
	}
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) IsOnline() bool {
	return m.State().Connected
}

// IsGoodForSync is online AND not degraded.
func (m *Monitor) IsGoodForSync() bool {
	s := m.State()
	return s.Connected && s.Quality != QualityDegraded
}
