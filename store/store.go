// Package store keeps the append-only history of proposed orders and position
// adjustments in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"optiflow/logger"
)

// Store owns the database handle and hands out the table stores.
type Store struct {
	db *sql.DB

	orders      *OrderStore
	adjustments *AdjustmentStore

	mu sync.Mutex
}

// New opens (creating if needed) the SQLite database at path and migrates it.
// ":memory:" gives a private in-memory database.
func New(path string) (*Store, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}

	logger.Infof("history database ready at %s", path)
	return s, nil
}

// NewFromDB wraps an existing connection. Tables are created if missing.
func NewFromDB(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; this also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Store) initTables(ctx context.Context) error {
	if err := s.Orders().initTables(ctx); err != nil {
		return fmt.Errorf("failed to initialize order tables: %w", err)
	}
	if err := s.Adjustments().initTables(ctx); err != nil {
		return fmt.Errorf("failed to initialize adjustment tables: %w", err)
	}
	return nil
}

func (s *Store) Orders() *OrderStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders == nil {
		s.orders = &OrderStore{db: s.db}
	}
	return s.orders
}

func (s *Store) Adjustments() *AdjustmentStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adjustments == nil {
		s.adjustments = &AdjustmentStore{db: s.db}
	}
	return s.adjustments
}

// Ping checks the connection (used by the health endpoint).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
