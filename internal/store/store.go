package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"go.uber.org/zap"

	"github.com/rahul/hitobot/internal/milestone"
)

// Store persists requests, milestone records, users and runtime settings in
// a single SQLite file. It implements milestone.Store.
type Store struct {
	DB *sql.DB

	catalog      *milestone.Catalog
	logger       *zap.Logger
	retryTimeout time.Duration
	observe      func(op string, d time.Duration, err error)
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRetryTimeout bounds how long transient SQLite errors are retried.
func WithRetryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retryTimeout = d
		}
	}
}

// WithOpObserver is called after every store operation with its duration.
func WithOpObserver(fn func(op string, d time.Duration, err error)) Option {
	return func(s *Store) { s.observe = fn }
}

var _ milestone.Store = (*Store)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL DEFAULT '',
		district TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		responsible TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS milestones (
		request_id INTEGER NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		planned TEXT,
		actual TEXT,
		postponements INTEGER NOT NULL DEFAULT 0,
		history TEXT NOT NULL DEFAULT '[]',
		not_applicable INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (request_id, kind)
	);`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		telegram_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS notification_log (
		request_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		planned TEXT NOT NULL,
		recipient TEXT NOT NULL,
		sent_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (request_id, kind, planned, recipient)
	);`,
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, cat *milestone.Catalog, opts ...Option) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers anyway; one connection keeps transactions simple.
	db.SetMaxOpenConns(1)

	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	s := &Store{
		DB:           db,
		catalog:      cat,
		logger:       zap.NewNop(),
		retryTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// run executes fn with retries and reports its duration.
func (s *Store) run(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := withRetry(ctx, s.retryTimeout, fn)
	if s.observe != nil {
		s.observe(op, time.Since(start), err)
	}
	if err != nil && !isExpected(err) {
		s.logger.Warn("Store operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
