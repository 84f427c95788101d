package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/notifyer/notifyer/internal/errors"
	"github.com/notifyer/notifyer/internal/logging"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a SQLite database with WAL mode.
// All attributes belong to a single fixed user identity; the system is
// not multi-tenant.
type SQLiteStore struct {
	db     *sql.DB
	user   string
	logger *logging.Logger
}

// NewSQLiteStore opens (creating if needed) the record database for the
// given user identity.
func NewSQLiteStore(dbPath, user string, logger *logging.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		logger = logging.NewLogger()
	}

	return &SQLiteStore{db: db, user: user, logger: logger}, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS records (
					user TEXT NOT NULL,
					key TEXT NOT NULL,
					value TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (user, key)
				);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := tx.Exec(m.up); err != nil {
			return &errors.ErrDatabaseQuery{Operation: "apply migration", Err: err}
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return &errors.ErrDatabaseQuery{Operation: "record migration", Err: err}
		}
	}

	return tx.Commit()
}

// Get retrieves an attribute value for the fixed user. Missing rows and
// query failures both report absence; callers fall back to fresh-start
// behavior either way.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM records WHERE user = ? AND key = ?", s.user, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		s.logger.ErrorWithContext(ctx, "record read failed", "key", key, "error", err.Error())
		return "", false
	}
	return value, true
}

// Set stores an attribute value, overwriting any previous one.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (user, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user, key) DO UPDATE SET value = ?, updated_at = ?
	`, s.user, key, value, now, value, now)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set record", Err: err}
	}
	return nil
}

// Delete removes an attribute.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE user = ? AND key = ?", s.user, key)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete record", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
