package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekit.org/internal/access"
	"gatekit.org/internal/ids"
)

type roleStore struct{ db *sql.DB }

func (s *roleStore) Create(ctx context.Context, role *access.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into roles(id, org_id, name, description, active)
		values($1,$2,$3,$4,$5)
	`, role.ID, role.OrgID, role.Name, role.Description, role.Active)
	return mapWriteError(err)
}

func (s *roleStore) Find(ctx context.Context, id string) (*access.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, org_id, name, description, active, created_at, updated_at
		from roles where id=$1
	`, id)
	var r access.Role
	err := row.Scan(&r.ID, &r.OrgID, &r.Name, &r.Description, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, access.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) ListByOrg(ctx context.Context, orgID string) ([]access.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, org_id, name, description, active, created_at, updated_at
		from roles where org_id=$1 or org_id='' order by name
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.Role
	for rows.Next() {
		var r access.Role
		if err := rows.Scan(&r.ID, &r.OrgID, &r.Name, &r.Description, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *roleStore) SetPermissions(ctx context.Context, roleID string, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_key) values($1,$2)`,
			roleID, key); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

func (s *roleStore) PermissionsForRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select permission_key from role_permissions where role_id=$1 order by permission_key
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *roleStore) Edges(ctx context.Context) ([]access.HierarchyEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		select parent_id, child_id, created_at from role_hierarchy
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []access.HierarchyEdge
	for rows.Next() {
		var e access.HierarchyEdge
		if err := rows.Scan(&e.ParentID, &e.ChildID, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *roleStore) AddEdge(ctx context.Context, edge access.HierarchyEdge) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_hierarchy(parent_id, child_id) values($1,$2)
	`, edge.ParentID, edge.ChildID)
	return mapWriteError(err)
}

func (s *roleStore) Assign(ctx context.Context, a access.RoleAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_assignments(user_id, role_id, valid_from, valid_until, active)
		values($1,$2,$3,$4,$5)
		on conflict (user_id, role_id) do update
		set valid_from=excluded.valid_from, valid_until=excluded.valid_until, active=excluded.active
	`, a.UserID, a.RoleID, a.ValidFrom, a.ValidUntil, a.Active)
	return mapWriteError(err)
}

func (s *roleStore) Unassign(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		update role_assignments set active=false where user_id=$1 and role_id=$2
	`, userID, roleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *roleStore) AssignmentsForUser(ctx context.Context, userID string, at time.Time) ([]access.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, valid_from, valid_until, active, created_at
		from role_assignments
		where user_id=$1 and active
		  and valid_from <= $2 and (valid_until is null or valid_until > $2)
	`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.RoleAssignment
	for rows.Next() {
		var a access.RoleAssignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.ValidFrom, &a.ValidUntil, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *roleStore) UsersHoldingRoles(ctx context.Context, roleIDs []string, at time.Time) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(roleIDs))
	args := make([]any, 0, len(roleIDs)+1)
	args = append(args, at)
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := `
		select distinct user_id from role_assignments
		where active and valid_from <= $1 and (valid_until is null or valid_until > $1)
		  and role_id in (` + strings.Join(placeholders, ",") + `)
		order by user_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
