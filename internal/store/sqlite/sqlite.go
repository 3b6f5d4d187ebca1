// Package sqlite implements the record store on SQLite via mattn/go-sqlite3,
// with WAL mode and a busy timeout for concurrent access.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/quantfabric/venuelink/internal/store"
)

const (
	dirPermissions = 0750
	msPerSecond    = 1000
)

// Config maps to the database section of the config file.
type Config struct {
	// Path is the filesystem path to the SQLite database file, or
	// ":memory:" for an in-memory store. The directory is created if
	// missing.
	Path string

	// WALMode enables Write-Ahead Logging for concurrent reads during
	// writes.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock, in
	// seconds.
	BusyTimeout int
}

// DB implements store.Store on a SQLite database.
type DB struct {
	db  *sql.DB
	log zerolog.Logger
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Open connects to the database and bootstraps the schema.
func Open(cfg Config, logger zerolog.Logger) (*DB, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*msPerSecond)
	if cfg.WALMode && cfg.Path != ":memory:" {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &DB{db: db, log: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("path", cfg.Path).Msg("Record store opened")
	return s, nil
}

// ensureSchema creates the collections the order manager relies on.
func (s *DB) ensureSchema() error {
	const ordersTable = `
CREATE TABLE IF NOT EXISTS orders (
	order_id        TEXT PRIMARY KEY,
	client_order_id TEXT,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	order_type      TEXT NOT NULL,
	qty             TEXT NOT NULL,
	price           TEXT,
	status          TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);`
	if _, err := s.db.Exec(ordersTable); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Insert adds one record to a collection.
func (s *DB) Insert(ctx context.Context, collection string, rec store.Record) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	if len(rec) == 0 {
		return fmt.Errorf("empty record")
	}

	cols := sortedKeys(rec)
	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		if err := checkIdent(c); err != nil {
			return err
		}
		placeholders[i] = "?"
		args[i] = rec[c]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		collection, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	s.log.Debug().Str("collection", collection).Msg("Record inserted")
	return nil
}

// Update sets fields on every record matching the predicate.
func (s *DB) Update(ctx context.Context, collection string, fields store.Record, pred store.Predicate) (int64, error) {
	if err := checkIdent(collection); err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 0, fmt.Errorf("no fields to update")
	}

	setCols := sortedKeys(fields)
	sets := make([]string, len(setCols))
	args := make([]interface{}, 0, len(fields)+len(pred))
	for i, c := range setCols {
		if err := checkIdent(c); err != nil {
			return 0, err
		}
		sets[i] = c + " = ?"
		args = append(args, fields[c])
	}

	where, whereArgs, err := buildWhere(pred)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", collection, strings.Join(sets, ", "), where)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", collection, err)
	}
	return res.RowsAffected()
}

// Select returns every record matching the predicate.
func (s *DB) Select(ctx context.Context, collection string, pred store.Predicate) ([]store.Record, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}

	where, args, err := buildWhere(pred)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s%s", collection, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", collection, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []store.Record
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(store.Record, len(cols))
		for i, c := range cols {
			rec[c] = values[i]
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *DB) Close() error {
	return s.db.Close()
}

func buildWhere(pred store.Predicate) (string, []interface{}, error) {
	if len(pred) == 0 {
		return "", nil, nil
	}
	cols := sortedKeys(map[string]interface{}(pred))
	clauses := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		if err := checkIdent(c); err != nil {
			return "", nil, err
		}
		clauses[i] = c + " = ?"
		args[i] = pred[c]
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
