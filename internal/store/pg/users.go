package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatekit.org/internal/access"
	"gatekit.org/internal/ids"
)

type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *access.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, org_id, department, email, password_hash, status)
		values($1,$2,$3,$4,$5,$6)
	`, u.ID, u.OrgID, u.Department, u.Email, u.PasswordHash, u.Status)
	return mapWriteError(err)
}

const userColumns = `id, org_id, department, email, password_hash, status, created_at, updated_at`

func (s *userStore) Find(ctx context.Context, id string) (*access.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*access.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func (s *userStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanUser(row *sql.Row) (*access.User, error) {
	var u access.User
	err := row.Scan(&u.ID, &u.OrgID, &u.Department, &u.Email, &u.PasswordHash,
		&u.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, access.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}
