package access

import (
	"context"
	"time"
)

// Store describes persistence operations required by the access core. The
// store owns no business rules; every read that involves a validity window
// filters "as of" the instant supplied by the caller.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Overrides() OverrideStore
	Sessions() SessionStore
	Permissions() PermissionStore
}

// UserStore manages principals.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// RoleStore manages roles, hierarchy edges and assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	ListByOrg(ctx context.Context, orgID string) ([]Role, error)
	SetPermissions(ctx context.Context, roleID string, keys []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]string, error)

	Edges(ctx context.Context) ([]HierarchyEdge, error)
	AddEdge(ctx context.Context, edge HierarchyEdge) error

	Assign(ctx context.Context, a RoleAssignment) error
	Unassign(ctx context.Context, userID, roleID string) error
	AssignmentsForUser(ctx context.Context, userID string, at time.Time) ([]RoleAssignment, error)
	UsersHoldingRoles(ctx context.Context, roleIDs []string, at time.Time) ([]string, error)
}

// OverrideStore manages per-principal permission overrides.
type OverrideStore interface {
	Create(ctx context.Context, o *PermissionOverride) error
	Deactivate(ctx context.Context, id string) error
	ForUser(ctx context.Context, userID string, at time.Time) ([]PermissionOverride, error)
}

// SessionStore manages session records. RotateSecret and Deactivate* update
// only active rows; a rotation that matches no active row reports
// ErrSessionNotFound so a revocation racing a refresh can never resurrect a
// session.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	Touch(ctx context.Context, id string, lastSeen time.Time, ip string) error
	RotateSecret(ctx context.Context, id, newHash string, lastSeen time.Time, ip string) error
	SetActive(ctx context.Context, id string, active bool) error
	DeactivateAllForUser(ctx context.Context, userID string) error
	DeactivateAllExcept(ctx context.Context, userID, keepSessionID string) error
	ActiveForUser(ctx context.Context, userID string) ([]Session, error)
	CreatedSince(ctx context.Context, userID string, since time.Time) ([]Session, error)
	DeactivateExpired(ctx context.Context, now time.Time, inactivity time.Duration) (int64, error)
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
}
