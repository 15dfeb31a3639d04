package access

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User represents a principal the system authenticates and authorizes.
type User struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Department   string    `json:"department,omitempty"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role groups permissions. An empty OrgID marks the role as system-wide.
type Role struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HierarchyEdge links a parent role to a child role. The edge set forms a
// DAG; a principal holding the child role implicitly holds the permissions
// of every ancestor role.
type HierarchyEdge struct {
	ParentID  string    `json:"parent_id"`
	ChildID   string    `json:"child_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RoleAssignment binds a principal to a role within a validity window.
type RoleAssignment struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ValidAt reports whether the assignment is active and its window covers t.
func (a RoleAssignment) ValidAt(t time.Time) bool {
	return a.Active && withinWindow(t, a.ValidFrom, a.ValidUntil)
}

// OverrideEffect is the polarity of a per-principal permission override.
type OverrideEffect string

const (
	EffectGrant  OverrideEffect = "grant"
	EffectRevoke OverrideEffect = "revoke"
)

// PermissionOverride adjusts a single permission for a single principal,
// taking precedence over role-derived permissions within its window.
type PermissionOverride struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Permission string         `json:"permission"`
	Effect     OverrideEffect `json:"effect"`
	ValidFrom  time.Time      `json:"valid_from"`
	ValidUntil *time.Time     `json:"valid_until,omitempty"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ValidAt reports whether the override is active and its window covers t.
func (o PermissionOverride) ValidAt(t time.Time) bool {
	return o.Active && withinWindow(t, o.ValidFrom, o.ValidUntil)
}

// Session binds a principal to an issued credential pair. Only the hash of
// the refresh secret is kept; the secret itself is returned once and never
// stored or logged.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	RefreshHash string    `json:"-"`
	IP          string    `json:"ip,omitempty"`
	Device      string    `json:"device,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Active      bool      `json:"active"`
}

// Permission is a fine-grained capability in the catalog.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Credentials is the pair handed to a caller after authentication or refresh.
type Credentials struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	SessionID        string    `json:"session_id"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// DeviceInfo describes the client a session was issued to.
type DeviceInfo struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// Principal is a user together with its resolved effective permission set.
type Principal struct {
	User        *User
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal from a resolved permission list.
func NewPrincipal(user *User, perms []string) Principal {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return Principal{User: user, Permissions: set}
}

// HasPermission reports whether the principal may perform the action.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// withinWindow reports whether t falls inside [from, until). A nil until
// means the window is unbounded.
func withinWindow(t, from time.Time, until *time.Time) bool {
	if t.Before(from) {
		return false
	}
	if until != nil && !t.Before(*until) {
		return false
	}
	return true
}
