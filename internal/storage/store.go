// Copyright 2024 MorphDepot Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"morphdepot/internal/util"
)

// Options configures how a catalog is opened.
type Options struct {
	// BusyTimeoutMS is the SQLite busy_timeout. Zero uses the default.
	BusyTimeoutMS int
}

// Store is the SQLite-backed entity catalog.
type Store struct {
	path  string
	sqlDB *sql.DB
	db    *bun.DB
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets connection PRAGMAs. libsql ignores DSN pragma parameters.
func applyPragmas(db *sql.DB, opts Options) error {
	// busy_timeout first so that journal_mode=WAL waits instead of failing.
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", GetBusyTimeout(opts.BusyTimeoutMS))); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

func openDB(path string, opts Options) (*sql.DB, error) {
	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps PRAGMA foreign_keys in effect for every query.
	db.SetMaxOpenConns(1)
	if err := applyPragmas(db, opts); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Create creates a new catalog file at path. It fails if the file exists.
func Create(path string, opts Options) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file already exists: %s", path)
	}

	db, err := openDB(path, opts)
	if err != nil {
		return nil, err
	}

	if err := execStatements(db, fullSchema()); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := execStatements(db, initSchemaInfo, catalogType, SchemaVersion); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to initialize schema info: %w", err)
	}

	return newStore(path, db), nil
}

// Open opens an existing catalog file.
func Open(path string, opts Options) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s", path)
	}

	db, err := openDB(path, opts)
	if err != nil {
		return nil, err
	}

	s := newStore(path, db)
	fileType, err := s.SchemaInfo(context.Background(), "type")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema info: %w", err)
	}
	if fileType != catalogType {
		db.Close()
		return nil, fmt.Errorf("not a catalog file (type=%s)", fileType)
	}
	return s, nil
}

// OpenOrCreate opens path, creating the catalog if it does not exist yet.
func OpenOrCreate(path string, opts Options) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Create(path, opts)
	}
	return Open(path, opts)
}

func newStore(path string, db *sql.DB) *Store {
	return &Store{
		path:  path,
		sqlDB: db,
		db:    bun.NewDB(db, sqlitedialect.New()),
	}
}

// Close checkpoints the WAL and closes the connection. The -wal and -shm
// files stay: a mount may still have the catalog open.
func (s *Store) Close() error {
	if s.sqlDB == nil {
		return nil
	}
	if err := execPragma(s.sqlDB, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Warnf("[Store] WAL checkpoint failed: %v", err)
	}
	if err := s.sqlDB.Close(); err != nil {
		return err
	}
	s.sqlDB = nil
	return nil
}

// Path returns the catalog file path.
func (s *Store) Path() string {
	return s.path
}

// DB returns the bun handle for callers that compose their own queries.
func (s *Store) DB() *bun.DB {
	return s.db
}

// SchemaInfo returns a schema_info value.
func (s *Store) SchemaInfo(ctx context.Context, key string) (string, error) {
	var m SchemaInfoModel
	err := s.db.NewSelect().Model(&m).Where("key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Value, nil
}

// RunInTx runs fn in a single transaction, retrying on lock contention.
// fn may run more than once and must not have side effects outside tx that
// it cannot repeat.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return util.Retry(ctx, func() error {
		return s.db.RunInTx(ctx, nil, fn)
	})
}
