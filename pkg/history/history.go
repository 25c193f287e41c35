// Package history keeps a catalog of backup runs in SQLite or PostgreSQL.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL placeholder style.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Run status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// FileMode is applied to a newly created SQLite database file.
const FileMode = 0o600

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("history: record not found")

// Record is one backup run.
type Record struct {
	ID              string     `json:"id"`
	FileName        string     `json:"file_name"`
	Path            string     `json:"path"`
	Mode            string     `json:"mode"`
	EnvelopeVersion uint32     `json:"envelope_version"`
	Size            int64      `json:"size"`
	SHA256          string     `json:"sha256,omitempty"`
	Items           int        `json:"items"`
	Folders         int        `json:"folders"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      time.Time  `json:"finished_at"`
	PrunedAt        *time.Time `json:"pruned_at,omitempty"`
}

// Duration is how long the run took.
func (r *Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists Records.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// IsPostgresDSN reports whether dsn names a PostgreSQL database.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to dsn. PostgreSQL URLs use lib/pq; anything else is the
// path of a SQLite database file, created with owner-only permissions.
func Open(dsn string) (*Store, error) {
	if IsPostgresDSN(dsn) {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("history: open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: ping postgres: %w", err)
		}
		return New(db, DialectPostgres)
	}
	return openSQLite(dsn)
}

func openSQLite(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: create data dir: %w", err)
	}

	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping sqlite: %w", err)
	}

	// WAL lets the status server read while a run writes; busy_timeout makes
	// writers wait instead of failing with SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: exec %s: %w", p, err)
		}
	}

	if created {
		if err := os.Chmod(path, FileMode); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: set database permissions: %w", err)
		}
	}
	return New(db, DialectSQLite)
}

// New wraps an open database and applies migrations.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const recordColumns = `id, file_name, path, mode, envelope_version, size, sha256, items, folders,
	status, error, started_at, finished_at, pruned_at`

// Record inserts r. An empty ID is filled with a new UUID.
func (s *Store) Record(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	var pruned *int64
	if r.PrunedAt != nil {
		v := r.PrunedAt.UnixNano()
		pruned = &v
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO backup_runs (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.FileName, r.Path, r.Mode, int64(r.EnvelopeVersion), r.Size, r.SHA256, r.Items, r.Folders,
		r.Status, r.Error, r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), pruned)
	if err != nil {
		return fmt.Errorf("history: save record: %w", err)
	}
	return nil
}

func scanRecord(scanner interface {
	Scan(dest ...any) error
}) (*Record, error) {
	r := &Record{}
	var version, started, finished int64
	var pruned sql.NullInt64
	err := scanner.Scan(&r.ID, &r.FileName, &r.Path, &r.Mode, &version, &r.Size, &r.SHA256, &r.Items, &r.Folders,
		&r.Status, &r.Error, &started, &finished, &pruned)
	if err != nil {
		return nil, err
	}
	r.EnvelopeVersion = uint32(version)
	r.StartedAt = time.Unix(0, started).UTC()
	r.FinishedAt = time.Unix(0, finished).UTC()
	if pruned.Valid {
		t := time.Unix(0, pruned.Int64).UTC()
		r.PrunedAt = &t
	}
	return r, nil
}

// List returns the most recent runs first. A limit of zero or less returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM backup_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("history: list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Latest returns the most recent run, or ErrNotFound.
func (s *Store) Latest(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM backup_runs ORDER BY started_at DESC LIMIT 1`)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: latest record: %w", err)
	}
	return r, nil
}

// Get returns the run with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+recordColumns+` FROM backup_runs WHERE id = ?`), id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get record: %w", err)
	}
	return r, nil
}

// MarkPruned records that the file at path was deleted by retention.
// It returns the number of runs updated.
func (s *Store) MarkPruned(ctx context.Context, path string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE backup_runs SET pruned_at = ? WHERE path = ? AND pruned_at IS NULL`),
		at.UnixNano(), path)
	if err != nil {
		return 0, fmt.Errorf("history: mark pruned: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
