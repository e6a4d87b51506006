// Package postgres implements the [vectorstore.Namespace] contract on
// PostgreSQL with the pgvector extension.
//
// Each namespace maps to its own table (ns_<name>) holding an id primary
// key, a vector(dim) column and the title/url payload columns. Similarity
// is cosine: the table carries an HNSW index with vector_cosine_ops.
// Full-text search on the title column is enabled through a GIN index over
// to_tsvector. Tables are created implicitly by the first write, with the
// vector dimension taken from the first batch.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/zanussbaum/fast-penguin/pkg/vectorstore"
)

// pgUndefinedTable is the SQLSTATE PostgreSQL raises when a statement
// addresses a table that does not exist. It is the backend's "namespace not
// found" signal.
const pgUndefinedTable = "42P01"

var _ vectorstore.Namespace = (*Namespace)(nil)

// Store holds the connection pool shared by all namespace handles.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the PostgreSQL database at dsn, registers pgvector types
// on every connection, installs the vector extension if absent, and
// verifies connectivity with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore postgres: install vector extension: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Namespace returns a handle to the named collection. The namespace need
// not exist yet; it is created by the first [Namespace.Write].
func (s *Store) Namespace(name string) (*Namespace, error) {
	table, err := tableName(name)
	if err != nil {
		return nil, err
	}
	ns := &Namespace{pool: s.pool, name: name, table: table}
	ns.ensure = ns.ensureTable
	return ns, nil
}

// Ping verifies database connectivity. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// namePattern constrains namespace names to what can be embedded in an SQL
// identifier after sanitisation.
var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// tableName maps a namespace name to its backing table identifier.
// Hyphens (common in namespace names like "nomic-wiki") become underscores;
// anything else outside [a-z0-9_] is rejected rather than silently mangled.
func tableName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("vectorstore postgres: empty namespace name")
	}
	sanitized := strings.ReplaceAll(strings.ToLower(name), "-", "_")
	if !namePattern.MatchString(sanitized) {
		return "", fmt.Errorf("vectorstore postgres: invalid namespace name %q", name)
	}
	return "ns_" + sanitized, nil
}

// apiErr wraps a backend failure per the vectorstore error taxonomy.
func apiErr(op, namespace string, err error) error {
	return &vectorstore.APIError{Op: op, Namespace: namespace, Err: err}
}

// isUndefinedTable reports whether err is PostgreSQL's undefined_table.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}
