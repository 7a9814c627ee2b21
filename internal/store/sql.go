package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLBackend stores each document as one row of the documents table. A write
// is a single upsert, so it replaces the whole document atomically.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLBackend applies the embedded migrations and returns a backend over db.
func NewSQLBackend(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLBackend, error) {
	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		return nil, err
	}
	return &SQLBackend{db: db, dialect: dialect}, nil
}

// NewPostgresBackend connects to databaseURL and prepares the schema.
func NewPostgresBackend(ctx context.Context, databaseURL string) (*SQLBackend, error) {
	db, err := OpenPostgres(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	backend, err := NewSQLBackend(ctx, db, DialectPostgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// NewSQLiteBackend opens the SQLite file at path and prepares the schema.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLBackend, error) {
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	backend, err := NewSQLBackend(ctx, db, DialectSQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

func (b *SQLBackend) Read(ctx context.Context, id StoreID) ([]byte, error) {
	query := `SELECT body FROM documents WHERE id=` + b.dialect.placeholder(1)
	if b.dialect == DialectPostgres {
		query = `SELECT body::text FROM documents WHERE id=$1`
	}
	var body []byte
	err := b.db.QueryRowContext(ctx, query, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	return body, nil
}

func (b *SQLBackend) Write(ctx context.Context, id StoreID, data []byte) error {
	var query string
	var body any = data
	switch b.dialect {
	case DialectPostgres:
		query = `
			INSERT INTO documents (id, body, updated_at) VALUES ($1, $2::jsonb, NOW())
			ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`
		body = string(data)
	default:
		query = `
			INSERT INTO documents (id, body, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (id) DO UPDATE SET body = excluded.body, updated_at = CURRENT_TIMESTAMP`
	}
	if _, err := b.db.ExecContext(ctx, query, id, body); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
