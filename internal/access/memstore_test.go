package access

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store used across the package tests.
type memStore struct {
	mu          sync.Mutex
	users       map[string]*User
	roles       map[string]*Role
	rolePerms   map[string][]string
	edges       []HierarchyEdge
	assignments []RoleAssignment
	overrides   map[string]*PermissionOverride
	sessions    map[string]*Session
	perms       map[string]Permission

	// resolveCalls counts AssignmentsForUser reads, a proxy for resolver
	// invocations in cache tests.
	resolveCalls int
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*User),
		roles:     make(map[string]*Role),
		rolePerms: make(map[string][]string),
		overrides: make(map[string]*PermissionOverride),
		sessions:  make(map[string]*Session),
		perms:     make(map[string]Permission),
	}
}

func (s *memStore) Users() UserStore             { return memUsers{s} }
func (s *memStore) Roles() RoleStore             { return memRoles{s} }
func (s *memStore) Overrides() OverrideStore     { return memOverrides{s} }
func (s *memStore) Sessions() SessionStore       { return memSessions{s} }
func (s *memStore) Permissions() PermissionStore { return memPerms{s} }

func (s *memStore) addUser(id, email, hash string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &User{ID: id, Email: email, PasswordHash: hash, Status: UserStatusActive}
	s.users[id] = u
	return u
}

func (s *memStore) addRole(id string, perms ...string) *Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Role{ID: id, Name: id, Active: true}
	s.roles[id] = r
	s.rolePerms[id] = append([]string(nil), perms...)
	return r
}

func (s *memStore) addEdge(parentID, childID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, HierarchyEdge{ParentID: parentID, ChildID: childID})
}

func (s *memStore) assign(userID, roleID string, from time.Time, until *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, RoleAssignment{
		UserID: userID, RoleID: roleID, ValidFrom: from, ValidUntil: until, Active: true,
	})
}

func (s *memStore) addOverride(userID, perm string, effect OverrideEffect, from time.Time, until *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "ov-" + userID + "-" + perm + "-" + string(effect)
	s.overrides[id] = &PermissionOverride{
		ID: id, UserID: userID, Permission: perm, Effect: effect,
		ValidFrom: from, ValidUntil: until, Active: true,
	}
}

func (s *memStore) resolveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveCalls
}

func (s *memStore) session(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		cp := *sess
		return &cp
	}
	return nil
}

type memUsers struct{ s *memStore }

func (m memUsers) Create(_ context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *u
	m.s.users[u.ID] = &cp
	return nil
}

func (m memUsers) Find(_ context.Context, id string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m memUsers) UpdateStatus(_ context.Context, id, status string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

func (m memUsers) UpdatePassword(_ context.Context, id, hash string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

type memRoles struct{ s *memStore }

func (m memRoles) Create(_ context.Context, role *Role) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *role
	m.s.roles[role.ID] = &cp
	return nil
}

func (m memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m memRoles) ListByOrg(_ context.Context, orgID string) ([]Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []Role
	for _, r := range m.s.roles {
		if r.OrgID == orgID || r.OrgID == "" {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m memRoles) SetPermissions(_ context.Context, roleID string, keys []string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.roles[roleID]; !ok {
		return ErrNotFound
	}
	m.s.rolePerms[roleID] = append([]string(nil), keys...)
	return nil
}

func (m memRoles) PermissionsForRole(_ context.Context, roleID string) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]string(nil), m.s.rolePerms[roleID]...), nil
}

func (m memRoles) Edges(_ context.Context) ([]HierarchyEdge, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]HierarchyEdge(nil), m.s.edges...), nil
}

func (m memRoles) AddEdge(_ context.Context, edge HierarchyEdge) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.edges = append(m.s.edges, edge)
	return nil
}

func (m memRoles) Assign(_ context.Context, a RoleAssignment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := range m.s.assignments {
		if m.s.assignments[i].UserID == a.UserID && m.s.assignments[i].RoleID == a.RoleID {
			m.s.assignments[i] = a
			return nil
		}
	}
	m.s.assignments = append(m.s.assignments, a)
	return nil
}

func (m memRoles) Unassign(_ context.Context, userID, roleID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := range m.s.assignments {
		if m.s.assignments[i].UserID == userID && m.s.assignments[i].RoleID == roleID {
			m.s.assignments[i].Active = false
			return nil
		}
	}
	return ErrNotFound
}

func (m memRoles) AssignmentsForUser(_ context.Context, userID string, at time.Time) ([]RoleAssignment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.resolveCalls++
	var out []RoleAssignment
	for _, a := range m.s.assignments {
		if a.UserID == userID && a.ValidAt(at) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m memRoles) UsersHoldingRoles(_ context.Context, roleIDs []string, at time.Time) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	want := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		want[id] = struct{}{}
	}
	seen := make(map[string]struct{})
	for _, a := range m.s.assignments {
		if _, ok := want[a.RoleID]; ok && a.ValidAt(at) {
			seen[a.UserID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

type memOverrides struct{ s *memStore }

func (m memOverrides) Create(_ context.Context, o *PermissionOverride) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if o.ID == "" {
		o.ID = "ov-" + o.UserID + "-" + o.Permission + "-" + string(o.Effect)
	}
	cp := *o
	m.s.overrides[o.ID] = &cp
	return nil
}

func (m memOverrides) Deactivate(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.overrides[id]
	if !ok {
		return ErrNotFound
	}
	o.Active = false
	return nil
}

func (m memOverrides) ForUser(_ context.Context, userID string, at time.Time) ([]PermissionOverride, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []PermissionOverride
	for _, o := range m.s.overrides {
		if o.UserID == userID && o.ValidAt(at) {
			out = append(out, *o)
		}
	}
	return out, nil
}

type memSessions struct{ s *memStore }

func (m memSessions) Create(_ context.Context, sess *Session) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *sess
	m.s.sessions[sess.ID] = &cp
	return nil
}

func (m memSessions) Find(_ context.Context, id string) (*Session, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m memSessions) Touch(_ context.Context, id string, lastSeen time.Time, ip string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[id]
	if !ok || !sess.Active {
		return nil
	}
	sess.LastSeenAt = lastSeen
	if ip != "" {
		sess.IP = ip
	}
	return nil
}

func (m memSessions) RotateSecret(_ context.Context, id, newHash string, lastSeen time.Time, ip string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[id]
	if !ok || !sess.Active {
		return ErrSessionNotFound
	}
	sess.RefreshHash = newHash
	sess.LastSeenAt = lastSeen
	if ip != "" {
		sess.IP = ip
	}
	return nil
}

func (m memSessions) SetActive(_ context.Context, id string, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Active = active
	return nil
}

func (m memSessions) DeactivateAllForUser(_ context.Context, userID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, sess := range m.s.sessions {
		if sess.UserID == userID {
			sess.Active = false
		}
	}
	return nil
}

func (m memSessions) DeactivateAllExcept(_ context.Context, userID, keepSessionID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, sess := range m.s.sessions {
		if sess.UserID == userID && sess.ID != keepSessionID {
			sess.Active = false
		}
	}
	return nil
}

func (m memSessions) ActiveForUser(_ context.Context, userID string) ([]Session, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []Session
	for _, sess := range m.s.sessions {
		if sess.UserID == userID && sess.Active {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.Before(out[j].LastSeenAt) })
	return out, nil
}

func (m memSessions) CreatedSince(_ context.Context, userID string, since time.Time) ([]Session, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []Session
	for _, sess := range m.s.sessions {
		if sess.UserID == userID && !sess.CreatedAt.Before(since) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m memSessions) DeactivateExpired(_ context.Context, now time.Time, inactivity time.Duration) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, sess := range m.s.sessions {
		if !sess.Active {
			continue
		}
		if !now.Before(sess.ExpiresAt) || (inactivity > 0 && now.Sub(sess.LastSeenAt) > inactivity) {
			sess.Active = false
			n++
		}
	}
	return n, nil
}

type memPerms struct{ s *memStore }

func (m memPerms) Ensure(_ context.Context, perms []Permission) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range perms {
		m.s.perms[p.Key] = p
	}
	return nil
}

func (m memPerms) List(_ context.Context) ([]Permission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := make([]Permission, 0, len(m.s.perms))
	for _, p := range m.s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
