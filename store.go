package netsync

import (
	"strconv"
	"sync"
)

// StoreListener observes changes to a SharedStore. value is empty when the
// key was deleted. Listeners are notified for every write, including the
// writer's own; components filter by sender where that matters.
type StoreListener func(key, value string)

// SharedStore is the cross-context key-value store shared by every session
// on the same machine. It is the only resource mutated by more than one
// session, so all counter writes through it are read-modify-write sequences
// that tolerate lost updates.
type SharedStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	// Subscribe registers a change listener and returns its cancel
	Subscribe(fn StoreListener) CancelFunc
}

// MemoryStore is the in-process SharedStore used by tests and single-process
// simulations. Change notification is synchronous.
type MemoryStore struct {
	mu        sync.RWMutex
	data      map[string]string
	listeners map[int]StoreListener
	nextID    int
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:      make(map[string]string),
		listeners: make(map[int]StoreListener),
	}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	fns := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(key, value)
	}
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	fns := s.snapshotListeners()
	s.mu.Unlock()
	if existed {
		for _, fn := range fns {
			fn(key, "")
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(fn StoreListener) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// snapshotListeners copies listeners so notification runs outside the lock.
// Caller must hold mu.
func (s *MemoryStore) snapshotListeners() []StoreListener {
	fns := make([]StoreListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}

// SharedCounter is a monotonically increasing integer living under one store
// key. Uniqueness under concurrent increments is eventual, not strict: the
// read-modify-write sequence accepts lost updates.
type SharedCounter struct {
	store SharedStore
	key   string

	mu    sync.Mutex
	local int // fallback when the store is unavailable
}

// NewSharedCounter creates a counter on the given store key
func NewSharedCounter(store SharedStore, key string) *SharedCounter {
	return &SharedCounter{store: store, key: key}
}

// Next returns the current counter value and advances it by one
func (c *SharedCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok, err := c.store.Get(c.key)
	if err != nil {
		v := c.local
		c.local++
		return v
	}
	v := 0
	if ok {
		if n, perr := strconv.Atoi(raw); perr == nil {
			v = n
		}
	}
	if serr := c.store.Set(c.key, strconv.Itoa(v+1)); serr != nil {
		v = c.local
		c.local++
		return v
	}
	c.local = v + 1
	return v
}

// Peek returns the current counter value without advancing it
func (c *SharedCounter) Peek() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok, err := c.store.Get(c.key)
	if err != nil || !ok {
		return c.local
	}
	n, perr := strconv.Atoi(raw)
	if perr != nil {
		return 0
	}
	return n
}

// Reset clears the counter key and the local fallback
func (c *SharedCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = 0
	c.store.Delete(c.key)
}
