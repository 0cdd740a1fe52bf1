package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Lookup misses and key collisions surfaced by the document store.
var (
	ErrProductNotFound = errors.New("product not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductExists   = errors.New("product already exists")
	ErrOrderExists     = errors.New("order already exists")
)

// Store persists the product and order collections as JSON documents in
// postgres, one row per record. Single-record operations touch only their
// own row, so writers to different records never overwrite each other.
// Full-collection saves replace the table in one transaction behind a
// collection-level lock.
type Store struct {
	db    *sqlx.DB
	locks keyedMutex
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// LockKey serializes read-modify-write cycles for one logical record.
// Concurrent writers to the same productId or orderId queue here instead of
// silently dropping each other's changes.
func (s *Store) LockKey(key string) func() {
	return s.locks.lock(key)
}

// keyedMutex hands out one mutex per record key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
