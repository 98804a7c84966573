// Package repository provides typed SQLite persistence for conversations,
// messages, users, permissions, skills, MCP servers and model configs.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository wraps a SQLite database handle. All methods are safe for
// concurrent use; SQLite serializes writes internally.
type Repository struct {
	db *sql.DB
}

// Config contains repository configuration.
type Config struct {
	// Path to the SQLite database file. Empty means in-memory.
	Path string
}

// Open opens (and if necessary creates) the database and applies the schema.
func Open(cfg Config) (*Repository, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps in-memory databases coherent and avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Migrate applies the schema. Idempotent.
func (r *Repository) Migrate() error {
	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}
