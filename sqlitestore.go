package netsync

import (
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const storePollInterval = 250 * time.Millisecond

// SQLiteStore is the persistent cross-context SharedStore. Every session on
// the machine opens the same database file; change notification is
// poll-based, which is coarse but matches the eventual-consistency contract
// of SharedStore.
type SQLiteStore struct {
	conn  *sql.DB
	sched Scheduler
	log   *Logger

	mu        sync.Mutex
	listeners map[int]StoreListener
	nextID    int
	snapshot  map[string]string
	pollStop  CancelFunc
	closed    bool
}

// OpenSQLiteStore opens (or creates) the shared store database
func OpenSQLiteStore(path string, sched Scheduler, logger *Logger) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL mode so concurrent sessions don't block each other
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=1000"); err != nil {
		conn.Close()
		return nil, err
	}

	s := &SQLiteStore{
		conn:      conn,
		sched:     sched,
		log:       logger,
		listeners: make(map[int]StoreListener),
	}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the kv table if it doesn't exist
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT 0
	);`
	_, err := s.conn.Exec(schema)
	return err
}

// Close stops polling and closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	s.closed = true
	stop := s.pollStop
	s.pollStop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	return s.conn.Close()
}

func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var v string
	err := s.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.conn.Exec(
		"INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.snapshot != nil {
		s.snapshot[key] = value
	}
	fns := s.snapshotListeners()
	s.mu.Unlock()
	// Same-process listeners see the write immediately; other processes see
	// it on their next poll
	for _, fn := range fns {
		fn(key, value)
	}
	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	res, err := s.conn.Exec("DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	s.mu.Lock()
	if s.snapshot != nil {
		delete(s.snapshot, key)
	}
	fns := s.snapshotListeners()
	s.mu.Unlock()
	if n > 0 {
		for _, fn := range fns {
			fn(key, "")
		}
	}
	return nil
}

func (s *SQLiteStore) Subscribe(fn StoreListener) CancelFunc {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	startPoll := s.pollStop == nil && !s.closed
	if startPoll {
		s.snapshot = nil
	}
	s.mu.Unlock()

	if startPoll {
		stop := s.sched.Every(storePollInterval, s.poll)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			stop()
		} else {
			s.pollStop = stop
			s.mu.Unlock()
		}
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// poll diffs the table against the last snapshot and notifies listeners of
// changed keys
func (s *SQLiteStore) poll() {
	rows, err := s.conn.Query("SELECT key, value FROM kv")
	if err != nil {
		s.log.Warnf("store poll: %v", err)
		return
	}
	current := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			continue
		}
		current[k] = v
	}
	rows.Close()

	s.mu.Lock()
	prev := s.snapshot
	s.snapshot = current
	fns := s.snapshotListeners()
	s.mu.Unlock()

	if prev == nil {
		// First poll establishes the baseline
		return
	}
	for k, v := range current {
		if pv, ok := prev[k]; !ok || pv != v {
			for _, fn := range fns {
				fn(k, v)
			}
		}
	}
	for k := range prev {
		if _, ok := current[k]; !ok {
			for _, fn := range fns {
				fn(k, "")
			}
		}
	}
}

// snapshotListeners copies listeners; caller must hold mu
func (s *SQLiteStore) snapshotListeners() []StoreListener {
	fns := make([]StoreListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}
