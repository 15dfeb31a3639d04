package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatekit.org/internal/access"
)

type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess *access.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, user_id, refresh_hash, ip, device, created_at, last_seen_at, expires_at, active)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sess.ID, sess.UserID, sess.RefreshHash, sess.IP, sess.Device,
		sess.CreatedAt, sess.LastSeenAt, sess.ExpiresAt, sess.Active)
	return mapWriteError(err)
}

const sessionColumns = `id, user_id, refresh_hash, ip, device, created_at, last_seen_at, expires_at, active`

func (s *sessionStore) Find(ctx context.Context, id string) (*access.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id)
	var sess access.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.RefreshHash, &sess.IP, &sess.Device,
		&sess.CreatedAt, &sess.LastSeenAt, &sess.ExpiresAt, &sess.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, access.ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) Touch(ctx context.Context, id string, lastSeen time.Time, ip string) error {
	_, err := s.db.ExecContext(ctx, `
		update sessions
		set last_seen_at=$2, ip=case when $3='' then ip else $3 end
		where id=$1 and active
	`, id, lastSeen, ip)
	return err
}

// RotateSecret replaces the refresh hash and activity fields in one
// statement, guarded on the active flag so a concurrent revocation wins.
func (s *sessionStore) RotateSecret(ctx context.Context, id, newHash string, lastSeen time.Time, ip string) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set refresh_hash=$2, last_seen_at=$3, ip=case when $4='' then ip else $4 end
		where id=$1 and active
	`, id, newHash, lastSeen, ip)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrSessionNotFound
	}
	return nil
}

func (s *sessionStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set active=$2 where id=$1`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sessionStore) DeactivateAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set active=false where user_id=$1 and active`, userID)
	return err
}

func (s *sessionStore) DeactivateAllExcept(ctx context.Context, userID, keepSessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set active=false where user_id=$1 and active and id <> $2`,
		userID, keepSessionID)
	return err
}

func (s *sessionStore) ActiveForUser(ctx context.Context, userID string) ([]access.Session, error) {
	return s.query(ctx, `
		select `+sessionColumns+` from sessions
		where user_id=$1 and active
		order by last_seen_at asc
	`, userID)
}

func (s *sessionStore) CreatedSince(ctx context.Context, userID string, since time.Time) ([]access.Session, error) {
	return s.query(ctx, `
		select `+sessionColumns+` from sessions
		where user_id=$1 and created_at >= $2
		order by created_at asc
	`, userID, since)
}

func (s *sessionStore) DeactivateExpired(ctx context.Context, now time.Time, inactivity time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions set active=false
		where active and (expires_at <= $1 or last_seen_at <= $2)
	`, now, now.Add(-inactivity))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sessionStore) query(ctx context.Context, query string, args ...any) ([]access.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.Session
	for rows.Next() {
		var sess access.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.RefreshHash, &sess.IP, &sess.Device,
			&sess.CreatedAt, &sess.LastSeenAt, &sess.ExpiresAt, &sess.Active); err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}
