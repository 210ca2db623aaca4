package sync

import (
	"sync"
	"time"
)

// maxBackoff caps the doubling so a long-failing item still retries on
// a sane cadence.
const maxBackoff = 5 * time.Minute

// backoffDelay returns the delay before a given attempt: base doubling
// per prior attempt, capped. attempt is 1-based.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// retryScheduler holds the per-item backoff timers. At most one timer
// per record key exists at a time, which is what serializes retries of
// the same item. Built on Clock so tests advance virtual time.
type retryScheduler struct {
	clock Clock

	mu      sync.Mutex
	timers  map[string]Timer
	stopped bool
}

func newRetryScheduler(clock Clock) *retryScheduler {
	return &retryScheduler{
		clock:  clock,
		timers: make(map[string]Timer),
	}
}

// Schedule arms a retry for key after d. A key with a pending timer is
// left alone: the earlier schedule wins.
func (s *retryScheduler) Schedule(key string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, exists := s.timers[key]; exists {
		return false
	}

	s.timers[key] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, key)
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		fn()
	})
	return true
}

// Cancel drops a pending retry, if any.
func (s *retryScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Stop cancels everything; the scheduler is dead afterwards.
func (s *retryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
