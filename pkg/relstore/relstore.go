// Package relstore browses trip rows stored in Postgres.
package relstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// DefaultLimit caps the rows returned by Trips.
const DefaultLimit = 50

// Config configures the store.
type Config struct {
	DSN     string
	Table   string // optionally schema-qualified
	Limit   int
	Timeout time.Duration
}

// Store reads a fixed table.
type Store struct {
	db      *sql.DB
	table   string
	limit   int
	timeout time.Duration
}

// Rows is a page of rows with their column names.
type Rows struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// Open connects with lib/pq and pings the server.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, tferrors.New(tferrors.CodeConfig, "relstore.dsn is not set")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeConfig, "invalid relstore dsn")
	}
	s, err := NewWithDB(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, classify(err, "relstore unreachable")
	}
	return s, nil
}

// NewWithDB wraps an open database handle.
func NewWithDB(db *sql.DB, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, tferrors.New(tferrors.CodeConfig, "relstore.table is not set")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Store{db: db, table: quoteTable(cfg.Table), limit: cfg.Limit, timeout: cfg.Timeout}, nil
}

// quoteTable quotes each part of a possibly schema-qualified name.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// Trips returns up to the configured limit of rows.
func (s *Store) Trips(ctx context.Context) (*Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT $1", s.table), s.limit)
	if err != nil {
		return nil, classify(err, "failed to query trips")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(err, "failed to read columns")
	}

	out := &Rows{Columns: cols, Rows: make([][]interface{}, 0, s.limit)}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err, "failed to scan row")
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to read rows")
	}
	return out, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SQLSTATE classes for rejected credentials and missing privileges.
var authStates = map[string]bool{
	"28000": true, // invalid_authorization_specification
	"28P01": true, // invalid_password
	"42501": true, // insufficient_privilege
}

func classify(err error, msg string) error {
	if pqErr, ok := err.(*pq.Error); ok {
		if authStates[string(pqErr.Code)] {
			return tferrors.Wrap(err, tferrors.CodeAuthentication, msg)
		}
		if pqErr.Code == "42P01" { // undefined_table
			return tferrors.Wrap(err, tferrors.CodeConfig, msg)
		}
	}
	return tferrors.Wrap(err, tferrors.CodeNetwork, msg)
}
