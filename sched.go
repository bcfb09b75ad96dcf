package netsync

import (
	"sync"
	"time"
)

// CancelFunc stops a scheduled task. Safe to call more than once.
type CancelFunc func()

// Scheduler runs delayed and periodic tasks. Components never call
// time.AfterFunc or time.NewTicker directly; they go through the Scheduler so
// retry chains and heartbeats are testable without wall-clock waits.
type Scheduler interface {
	// After runs fn once after d
	After(d time.Duration, fn func()) CancelFunc
	// Every runs fn repeatedly at interval d until cancelled
	Every(d time.Duration, fn func()) CancelFunc
}

// clockScheduler is the production Scheduler backed by the real clock
type clockScheduler struct{}

// NewScheduler returns a Scheduler backed by the real clock
func NewScheduler() Scheduler {
	return clockScheduler{}
}

func (clockScheduler) After(d time.Duration, fn func()) CancelFunc {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

func (clockScheduler) Every(d time.Duration, fn func()) CancelFunc {
	ticker := time.NewTicker(d)
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()
	return func() {
		once.Do(func() { close(stop) })
	}
}
