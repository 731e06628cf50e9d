/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package postgres implements the storage port over PostgreSQL via sqlx and
// the pgx driver. The eligible-sample query locks rows with FOR UPDATE SKIP
// LOCKED, the assignment update carries the optimistic version in its WHERE
// clause, and Tx wraps a real database transaction. Schema migrations are
// embedded and applied with goose.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/anvil-project/anvil/pkg/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements storage.Store. The zero value is unusable; construct with
// Open or NewStore.
type Store struct {
	db *sqlx.DB
	// q is the active query target: the pool, or the open transaction for a
	// tx-bound store.
	q sqlx.ExtContext
}

var _ storage.Store = (*Store)(nil)

// Open connects, verifies the connection, and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres, %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

// Migrate applies pending schema migrations.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect, %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("applying migrations, %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Tx runs fn inside one database transaction. A store already bound to a
// transaction joins the open scope rather than nesting.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	if _, open := s.q.(*sqlx.Tx); open {
		return fn(ctx, s)
	}
	dbtx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction, %w", err)
	}
	bound := &Store{db: s.db, q: dbtx}
	if err := fn(ctx, bound); err != nil {
		if rbErr := dbtx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rolling back after %w, %s", err, rbErr)
		}
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("committing transaction, %w", err)
	}
	return nil
}
