package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cinmatch/internal/keytable"
	"cinmatch/internal/session"
)

// ErrTableNotFound is returned when no table is stored under a name.
var ErrTableNotFound = errors.New("table not found")

// Store is the SQLite table catalog.
type Store struct {
	db *sql.DB
}

// TableInfo describes a stored table without loading its entries.
type TableInfo struct {
	Name         string
	CreatedAt    time.Time
	MaxKeyLength int
	EntryCount   int
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	return OpenWithTimeout(ctx, path, 0)
}

// OpenWithTimeout is Open with a SQLite busy timeout in milliseconds.
func OpenWithTimeout(ctx context.Context, path string, busyTimeoutMs int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_foreign_keys=on&_journal_mode=WAL"
	if busyTimeoutMs > 0 {
		dsn += fmt.Sprintf("&_busy_timeout=%d", busyTimeoutMs)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveTable stores t, replacing any table with the same name.
func (s *Store) SaveTable(ctx context.Context, t *keytable.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM key_tables WHERE name = ?", t.Name()); err != nil {
		return fmt.Errorf("replace table %s: %w", t.Name(), err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO key_tables (name, created_at, alphabet, max_key_length, entry_count)
		VALUES (?, ?, ?, ?, ?)`,
		t.Name(), time.Now().UnixNano(), string(t.Alphabet()), t.MaxKeyLength(), t.Len(),
	)
	if err != nil {
		return fmt.Errorf("insert table %s: %w", t.Name(), err)
	}

	for c, display := range t.Keynames() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO keynames (table_name, key_char, display) VALUES (?, ?, ?)",
			t.Name(), string([]byte{c}), display,
		); err != nil {
			return fmt.Errorf("insert keyname %q: %w", c, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (table_name, ordinal, entry_key, fragment_index, fragment)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()

	ordinal := 0
	for e := range t.Entries() {
		for i, f := range e.Fragments {
			if _, err := stmt.ExecContext(ctx, t.Name(), ordinal, e.Key, i, f); err != nil {
				return fmt.Errorf("insert entry %s: %w", e.Key, err)
			}
		}
		ordinal++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit table %s: %w", t.Name(), err)
	}
	return nil
}

// LoadTable rebuilds the table stored under name.
func (s *Store) LoadTable(ctx context.Context, name string) (*keytable.Table, error) {
	var alphabet string
	err := s.db.QueryRowContext(ctx, "SELECT alphabet FROM key_tables WHERE name = ?", name).Scan(&alphabet)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("query table %s: %w", name, err)
	}

	b := keytable.NewBuilder(name).Alphabet(alphabet)

	rows, err := s.db.QueryContext(ctx, "SELECT key_char, display FROM keynames WHERE table_name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("query keynames: %w", err)
	}
	for rows.Next() {
		var c, display string
		if err := rows.Scan(&c, &display); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan keyname: %w", err)
		}
		if len(c) == 1 {
			b.Keyname(c[0], display)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keynames: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT entry_key, fragment FROM entries
		WHERE table_name = ?
		ORDER BY ordinal, fragment_index`, name)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, fragment string
		if err := rows.Scan(&key, &fragment); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		b.Add(key, fragment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return b.Build()
}

// ListTables returns the stored tables ordered by name.
func (s *Store) ListTables(ctx context.Context) ([]TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, created_at, max_key_length, entry_count
		FROM key_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []TableInfo
	for rows.Next() {
		var info TableInfo
		var createdAt int64
		if err := rows.Scan(&info.Name, &createdAt, &info.MaxKeyLength, &info.EntryCount); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		info.CreatedAt = time.Unix(0, createdAt)
		tables = append(tables, info)
	}
	return tables, rows.Err()
}

// DeleteTable removes the table stored under name.
func (s *Store) DeleteTable(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM key_tables WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete table %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete table %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return nil
}

// SaveSummary records the counters of a finished session.
func (s *Store) SaveSummary(ctx context.Context, sum *session.Summary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_summaries (session_id, table_name, app_id, start_ns, end_ns,
			keystrokes, rejected, lookups, commits, committed_runes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, sum.TableName, sum.AppID, sum.StartTime.UnixNano(), sum.EndTime.UnixNano(),
		sum.Keystrokes, sum.Rejected, sum.Lookups, sum.Commits, sum.CommittedRunes,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// ListSummaries returns the most recent summaries first. A limit of zero or
// less returns all of them.
func (s *Store) ListSummaries(ctx context.Context, limit int) ([]*session.Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, table_name, app_id, start_ns, end_ns,
			keystrokes, rejected, lookups, commits, committed_runes
		FROM session_summaries
		ORDER BY start_ns DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []*session.Summary
	for rows.Next() {
		var sum session.Summary
		var startNs, endNs int64
		if err := rows.Scan(&sum.SessionID, &sum.TableName, &sum.AppID, &startNs, &endNs,
			&sum.Keystrokes, &sum.Rejected, &sum.Lookups, &sum.Commits, &sum.CommittedRunes); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.StartTime = time.Unix(0, startNs)
		sum.EndTime = time.Unix(0, endNs)
		out = append(out, &sum)
	}
	return out, rows.Err()
}
