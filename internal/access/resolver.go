package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gatekit.org/internal/obs"
)

// Resolver computes a principal's effective permission set from role
// assignments, the role hierarchy and per-principal overrides. It owns cycle
// detection and time-window filtering; it holds no state between calls.
type Resolver struct {
	store Store
	now   func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source, useful for tests.
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the effective permission set for a principal, sorted
// lexicographically so repeated calls over the same store state produce
// identical snapshots. A missing principal or a hierarchy cycle is a fatal
// ErrDataIntegrity, never an empty set.
func (r *Resolver) Resolve(ctx context.Context, userID string) ([]string, error) {
	started := time.Now()
	defer func() { obs.ObserveResolveDuration(time.Since(started)) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	now := r.now().UTC()

	if _, err := r.store.Users().Find(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: principal %s does not exist", ErrDataIntegrity, userID)
		}
		return nil, err
	}

	assignments, err := r.store.Roles().AssignmentsForUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	seeds := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if a.ValidAt(now) {
			seeds = append(seeds, a.RoleID)
		}
	}

	closure, err := r.ancestorClosure(ctx, seeds)
	if err != nil {
		return nil, err
	}

	effective := make(map[string]struct{})
	for roleID := range closure {
		role, err := r.store.Roles().Find(ctx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: role %s referenced but missing", ErrDataIntegrity, roleID)
			}
			return nil, err
		}
		if !role.Active {
			continue
		}
		keys, err := r.store.Roles().PermissionsForRole(ctx, roleID)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			effective[k] = struct{}{}
		}
	}

	overrides, err := r.store.Overrides().ForUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	// Revokes apply before grants: a grant override wins when both target
	// the same permission.
	for _, o := range overrides {
		if o.Effect == EffectRevoke && o.ValidAt(now) {
			delete(effective, o.Permission)
		}
	}
	for _, o := range overrides {
		if o.Effect == EffectGrant && o.ValidAt(now) {
			effective[o.Permission] = struct{}{}
		}
	}

	out := make([]string, 0, len(effective))
	for k := range effective {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// AddEdge inserts a hierarchy edge after verifying both roles exist and the
// edge would not create a path from parent back to itself.
func (r *Resolver) AddEdge(ctx context.Context, parentID, childID string) error {
	parentID = strings.TrimSpace(parentID)
	childID = strings.TrimSpace(childID)
	if parentID == "" || childID == "" {
		return fmt.Errorf("%w: parent and child role ids are required", ErrInvalidInput)
	}
	if parentID == childID {
		return fmt.Errorf("%w: role %s cannot be its own parent", ErrCycle, parentID)
	}
	for _, id := range []string{parentID, childID} {
		if _, err := r.store.Roles().Find(ctx, id); err != nil {
			return err
		}
	}

	edges, err := r.store.Roles().Edges(ctx)
	if err != nil {
		return err
	}
	parents := parentIndex(edges)
	// The new edge makes parentID an ancestor of childID. Reject when
	// childID is already an ancestor of parentID.
	reachable, err := walkClosure([]string{parentID}, parents)
	if err != nil {
		return err
	}
	if _, ok := reachable[childID]; ok {
		return fmt.Errorf("%w: edge %s->%s closes a path", ErrCycle, parentID, childID)
	}

	return r.store.Roles().AddEdge(ctx, HierarchyEdge{
		ParentID:  parentID,
		ChildID:   childID,
		CreatedAt: r.now().UTC(),
	})
}

// RoleHolders returns the ids of every principal currently holding the role,
// directly or through a descendant role that inherits from it.
func (r *Resolver) RoleHolders(ctx context.Context, roleID string) ([]string, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	edges, err := r.store.Roles().Edges(ctx)
	if err != nil {
		return nil, err
	}
	children := make(map[string][]string, len(edges))
	for _, e := range edges {
		children[e.ParentID] = append(children[e.ParentID], e.ChildID)
	}
	closure, err := walkClosure([]string{roleID}, children)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(closure))
	for id := range closure {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return r.store.Roles().UsersHoldingRoles(ctx, ids, r.now().UTC())
}

// ancestorClosure expands the assigned roles through the hierarchy toward
// their ancestors.
func (r *Resolver) ancestorClosure(ctx context.Context, seeds []string) (map[string]struct{}, error) {
	if len(seeds) == 0 {
		return map[string]struct{}{}, nil
	}
	edges, err := r.store.Roles().Edges(ctx)
	if err != nil {
		return nil, err
	}
	return walkClosure(seeds, parentIndex(edges))
}

func parentIndex(edges []HierarchyEdge) map[string][]string {
	idx := make(map[string][]string, len(edges))
	for _, e := range edges {
		idx[e.ChildID] = append(idx[e.ChildID], e.ParentID)
	}
	return idx
}

const (
	walkVisiting = 1
	walkDone     = 2
)

type walkFrame struct {
	id   string
	next int
}

// walkClosure performs an iterative depth-first traversal over next and
// returns every node reachable from the seeds, seeds included. Edges are
// guaranteed acyclic by AddEdge, so a back edge here means the stored data
// is corrupt; that is surfaced as ErrDataIntegrity rather than silently
// truncating the walk.
func walkClosure(seeds []string, next map[string][]string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(seeds))
	state := make(map[string]int, len(seeds))

	for _, seed := range seeds {
		if state[seed] == walkDone {
			continue
		}
		stack := []walkFrame{{id: seed}}
		state[seed] = walkVisiting
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			targets := next[top.id]
			if top.next < len(targets) {
				n := targets[top.next]
				top.next++
				switch state[n] {
				case walkVisiting:
					return nil, fmt.Errorf("%w: hierarchy cycle through role %s", ErrDataIntegrity, n)
				case walkDone:
					// already expanded
				default:
					state[n] = walkVisiting
					stack = append(stack, walkFrame{id: n})
				}
				continue
			}
			state[top.id] = walkDone
			out[top.id] = struct{}{}
			stack = stack[:len(stack)-1]
		}
	}
	return out, nil
}
