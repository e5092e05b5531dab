package store

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"stripesync/internal/db"
)

// Store owns every SQL statement in the engine. It is safe for concurrent
// use; all coordination state lives in the database itself.
type Store struct {
	db      *gorm.DB
	backend db.Backend
	schema  string
}

type Options struct {
	Backend db.Backend
	// Schema is the namespace prefix for every table. Empty means none.
	// Ignored on sqlite.
	Schema string
}

func New(gdb *gorm.DB, opts Options) (*Store, error) {
	schema := opts.Schema
	if opts.Backend == db.BackendSQLite {
		schema = ""
	}
	return &Store{db: gdb, backend: opts.Backend, schema: schema}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Backend() db.Backend {
	return s.backend
}

// DB exposes the underlying handle for advisory-lock sections.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTx runs fn against a transaction-scoped copy of the store. Used when
// one logical event writes multiple rows that must land together.
func (s *Store) WithTx(ctx context.Context, fn func(txStore *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, backend: s.backend, schema: s.schema})
	})
}

// WithAdvisoryLock runs fn in a transaction while holding the lock derived
// from key; concurrent callers with the same key serialize, across processes
// on postgres and within the process on sqlite.
func (s *Store) WithAdvisoryLock(ctx context.Context, key string, fn func(txStore *Store) error) error {
	return db.WithAdvisoryLock(ctx, s.db, s.backend, key, func(tx *gorm.DB) error {
		return fn(&Store{db: tx, backend: s.backend, schema: s.schema})
	})
}

// table renders a name for gorm's Table(); gorm quotes dotted names itself.
func (s *Store) table(name string) string {
	if s.schema == "" {
		return name
	}
	return s.schema + "." + name
}

// sqlTable renders a quoted name for raw SQL fragments.
func (s *Store) sqlTable(name string) string {
	return db.TableName(s.schema, name)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res := s.db.WithContext(ctx).Exec(db.Rebind(s.backend, query), args...)
	return res.RowsAffected, res.Error
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.WithContext(ctx).Raw(db.Rebind(s.backend, query), args...).Rows()
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.WithContext(ctx).Raw(db.Rebind(s.backend, query), args...).Row()
}
