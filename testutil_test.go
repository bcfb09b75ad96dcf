package netsync

import (
	"sync"
	"testing"
	"time"
)

// fakeScheduler is a manually-advanced Scheduler so tests never wait on the
// wall clock
type fakeScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*fakeTask
}

type fakeTask struct {
	at        time.Duration
	interval  time.Duration // 0 for one-shot
	fn        func()
	cancelled bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) After(d time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &fakeTask{at: s.now + d, fn: fn}
	s.tasks = append(s.tasks, task)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		task.cancelled = true
	}
}

func (s *fakeScheduler) Every(d time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &fakeTask{at: s.now + d, interval: d, fn: fn}
	s.tasks = append(s.tasks, task)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		task.cancelled = true
	}
}

// Advance moves fake time forward, running every task that comes due
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	for {
		var next *fakeTask
		for _, task := range s.tasks {
			if task.cancelled || task.at > target {
				continue
			}
			if next == nil || task.at < next.at {
				next = task
			}
		}
		if next == nil {
			break
		}
		s.now = next.at
		if next.interval > 0 {
			next.at += next.interval
		} else {
			next.cancelled = true
		}
		fn := next.fn
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// newTestContext builds a SyncContext on an in-memory store and fake
// scheduler with quiet logging
func newTestContext(cfg Config, store SharedStore, sched Scheduler) *SyncContext {
	if store == nil {
		store = NewMemoryStore()
	}
	if sched == nil {
		sched = newFakeScheduler()
	}
	cfg.LogLevel = LogSilent
	return newSyncContext(cfg, store, sched, NewLogger(LogSilent))
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// failStore always errors, for exercising store-unavailable fallbacks
type failStore struct{}

type errStore string

func (e errStore) Error() string { return string(e) }

func (failStore) Get(string) (string, bool, error) { return "", false, errStore("store down") }
func (failStore) Set(string, string) error         { return errStore("store down") }
func (failStore) Delete(string) error              { return errStore("store down") }
func (failStore) Subscribe(StoreListener) CancelFunc {
	return func() {}
}
