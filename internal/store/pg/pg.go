// Package pg implements the access credential store on PostgreSQL. All
// validity-window filtering happens server-side in SQL so every read is an
// "as of" snapshot of the instant the caller supplies.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gatekit.org/internal/access"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements access.Store over database/sql with the pgx driver.
type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

// Open connects to PostgreSQL using the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool, used by tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() access.UserStore             { return &userStore{db: s.db} }
func (s *Store) Roles() access.RoleStore             { return &roleStore{db: s.db} }
func (s *Store) Overrides() access.OverrideStore     { return &overrideStore{db: s.db} }
func (s *Store) Sessions() access.SessionStore       { return &sessionStore{db: s.db} }
func (s *Store) Permissions() access.PermissionStore { return &permissionStore{db: s.db} }

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return access.ErrConflict
		case pgErrForeignKeyViolation:
			return access.ErrNotFound
		}
	}
	return err
}
