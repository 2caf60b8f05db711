// Package db stores metadata for captured artifacts in SQLite.
// The store is append-only: rows are inserted once and never updated.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	// SQLite driver
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateID is returned when a record with the same id already exists
	ErrDuplicateID = errors.New("duplicate artifact id")

	// ErrInvalidRecord is returned when a required field is missing
	ErrInvalidRecord = errors.New("invalid artifact record")

	// ErrNotFound is returned by OpenExisting when the database file is missing
	ErrNotFound = errors.New("no capture database")
)

// Record is the persisted descriptor of one captured response.
type Record struct {
	ID          string
	URL         string
	Extension   string
	ContentType string
	Headers     map[string]string
	CreatedAt   time.Time

	// RawHeaders is the headers column exactly as stored. Only List sets it.
	RawHeaders string
}

// Filename returns the on-disk artifact name for the record
func (r *Record) Filename() string {
	return r.ID + "." + r.Extension
}

// HeadersJSON returns the serialized header map as stored in the database.
func (r *Record) HeadersJSON() (string, error) {
	if r.Headers == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(r.Headers, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Store is a SQLite-backed metadata store
type Store struct {
	db           *sql.DB
	dataSource   string
	logger       *zap.Logger
	queryTimeout time.Duration
}

// Option is a functional option for Store
type Option func(*Store)

// WithLogger sets the logger used for migrations and diagnostics
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueryTimeout bounds each statement
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// Open opens (creating if needed) the store at connectionString and applies
// pending migrations. Accepted forms:
// - ./path/to/db.sqlite3
// - sqlite://path/to/db.sqlite3
// - sqlite:./db.sqlite3
// - :memory:
func Open(ctx context.Context, connectionString string, opts ...Option) (*Store, error) {
	dsn, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dataSource:   dsn,
		logger:       zap.NewNop(),
		queryTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	if err := migrate(ctx, db, s.logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// OpenExisting opens a store that must already exist on disk. Read-only
// commands use it so a mistyped path is reported instead of created.
func OpenExisting(ctx context.Context, connectionString string, opts ...Option) (*Store, error) {
	dsn, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	if path := filePath(dsn); path != "" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w at %s", ErrNotFound, path)
			}
			return nil, err
		}
	}
	return Open(ctx, connectionString, opts...)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DataSource returns the resolved SQLite data source
func (s *Store) DataSource() string {
	return s.dataSource
}

// Record inserts one row. A duplicate id fails with ErrDuplicateID and leaves
// the existing row untouched.
func (s *Store) Record(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" || rec.URL == "" || rec.Extension == "" {
		return ErrInvalidRecord
	}

	headers, err := rec.HeadersJSON()
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files (id, extension, url, content_type, headers) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Extension, rec.URL, nullString(rec.ContentType), nullString(headers),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		return fmt.Errorf("insert failed: %w", err)
	}
	return nil
}

// ListOptions filters List results
type ListOptions struct {
	Limit       int
	Extension   string
	URLContains string
}

// List returns records newest first
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	query := `SELECT id, extension, url, content_type, headers, created_at FROM files`
	var where []string
	var args []any

	if opts.Extension != "" {
		where = append(where, "extension = ?")
		args = append(args, strings.TrimPrefix(opts.Extension, "."))
	}
	if opts.URLContains != "" {
		where = append(where, "instr(url, ?) > 0")
		args = append(args, opts.URLContains)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		var (
			rec         Record
			contentType sql.NullString
			headers     sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Extension, &rec.URL, &contentType, &headers, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.ContentType = contentType.String
		rec.RawHeaders = headers.String
		if headers.Valid && headers.String != "" {
			if err := json.Unmarshal([]byte(headers.String), &rec.Headers); err != nil {
				return nil, fmt.Errorf("failed to decode headers for %s: %w", rec.ID, err)
			}
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records
func (s *Store) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return n, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// parseConnectionString turns the configured location into a SQLite DSN
func parseConnectionString(connStr string) (string, error) {
	connStr = strings.TrimSpace(connStr)
	if connStr == "" {
		return "", fmt.Errorf("database path is required")
	}

	// Handle sqlite:// and sqlite: prefixes
	if strings.HasPrefix(connStr, "sqlite://") {
		return strings.TrimPrefix(connStr, "sqlite://"), nil
	}
	if strings.HasPrefix(connStr, "sqlite:") {
		return strings.TrimPrefix(connStr, "sqlite:"), nil
	}

	if u, err := url.Parse(connStr); err == nil && len(u.Scheme) > 1 && u.Scheme != "file" {
		return "", fmt.Errorf("unsupported database scheme: %s", u.Scheme)
	}
	return connStr, nil
}

// filePath returns the on-disk file behind dsn, or "" for in-memory databases
func filePath(dsn string) string {
	path, query, _ := strings.Cut(dsn, "?")
	path = strings.TrimPrefix(path, "file:")
	if path == "" || path == ":memory:" || strings.Contains(query, "mode=memory") {
		return ""
	}
	return path
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000"
}
