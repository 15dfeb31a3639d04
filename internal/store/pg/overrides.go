package pg

import (
	"context"
	"database/sql"
	"time"

	"gatekit.org/internal/access"
	"gatekit.org/internal/ids"
)

type overrideStore struct{ db *sql.DB }

func (s *overrideStore) Create(ctx context.Context, o *access.PermissionOverride) error {
	if o.ID == "" {
		o.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into permission_overrides(id, user_id, permission_key, effect, valid_from, valid_until, active)
		values($1,$2,$3,$4,$5,$6,$7)
	`, o.ID, o.UserID, o.Permission, string(o.Effect), o.ValidFrom, o.ValidUntil, o.Active)
	return mapWriteError(err)
}

func (s *overrideStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update permission_overrides set active=false where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *overrideStore) ForUser(ctx context.Context, userID string, at time.Time) ([]access.PermissionOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, permission_key, effect, valid_from, valid_until, active, created_at
		from permission_overrides
		where user_id=$1 and active
		  and valid_from <= $2 and (valid_until is null or valid_until > $2)
	`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.PermissionOverride
	for rows.Next() {
		var (
			o      access.PermissionOverride
			effect string
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.Permission, &effect, &o.ValidFrom, &o.ValidUntil, &o.Active, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Effect = access.OverrideEffect(effect)
		result = append(result, o)
	}
	return result, rows.Err()
}

type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Ensure(ctx context.Context, perms []access.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions(id, key, description)
			values($1,$2,$3)
			on conflict (key) do update set description=excluded.description
		`, id, p.Key, p.Description); err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (s *permissionStore) List(ctx context.Context) ([]access.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, key, description, created_at from permissions order by key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.Permission
	for rows.Next() {
		var p access.Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
