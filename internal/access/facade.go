package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gatekit.org/internal/obs"
)

// AuditFunc receives best-effort audit events. Implementations must never
// block the caller's control flow; failures are swallowed.
type AuditFunc func(ctx context.Context, event string, fields map[string]any) error

// Service is the single entry point for request-handling code, composing
// the session manager with the permission cache and resolver.
type Service struct {
	store     Store
	resolver  *Resolver
	cache     *Cache
	sessions  *SessionManager
	anomalies *AnomalyDetector
	audit     AuditFunc
	now       func() time.Time
}

type serviceSettings struct {
	cacheTTL     time.Duration
	cacheSize    int
	resolverOpts []ResolverOption
	sessionOpts  []SessionOption
	anomalyOpts  []AnomalyOption
	audit        AuditFunc
	now          func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceSettings)

// WithCacheTTL bounds permission cache staleness.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *serviceSettings) { s.cacheTTL = ttl }
}

// WithCacheSize bounds permission cache entries.
func WithCacheSize(n int) ServiceOption {
	return func(s *serviceSettings) { s.cacheSize = n }
}

// WithSessionOptions forwards options to the session manager.
func WithSessionOptions(opts ...SessionOption) ServiceOption {
	return func(s *serviceSettings) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// WithAnomalyOptions forwards options to the anomaly detector.
func WithAnomalyOptions(opts ...AnomalyOption) ServiceOption {
	return func(s *serviceSettings) { s.anomalyOpts = append(s.anomalyOpts, opts...) }
}

// WithAuditSink wires the audit collaborator.
func WithAuditSink(fn AuditFunc) ServiceOption {
	return func(s *serviceSettings) { s.audit = fn }
}

// WithClock overrides the time source everywhere, useful for tests.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *serviceSettings) {
		if fn == nil {
			return
		}
		s.now = fn
		s.resolverOpts = append(s.resolverOpts, WithResolverClock(fn))
		s.sessionOpts = append(s.sessionOpts, WithSessionClock(fn))
		s.anomalyOpts = append(s.anomalyOpts, WithAnomalyClock(fn))
	}
}

// NewService constructs the facade and its internal components.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	settings := serviceSettings{now: time.Now}
	for _, opt := range opts {
		opt(&settings)
	}

	resolver := NewResolver(store, settings.resolverOpts...)
	sessions, err := NewSessionManager(store, tokens, settings.sessionOpts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:     store,
		resolver:  resolver,
		cache:     NewCache(resolver, settings.cacheTTL, settings.cacheSize),
		sessions:  sessions,
		anomalies: NewAnomalyDetector(store, settings.anomalyOpts...),
		audit:     settings.audit,
		now:       settings.now,
	}, nil
}

// Sessions exposes the session manager for maintenance jobs.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Cache exposes the permission cache.
func (s *Service) Cache() *Cache { return s.cache }

// EnsureBuiltins seeds the built-in permission catalog.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Permissions().Ensure(ctx, BuiltinPermissions)
}

// Authenticate verifies credentials and issues a credential pair. The error
// is uniform for an unknown email and a wrong password so the endpoint
// cannot be used for account enumeration.
func (s *Service) Authenticate(ctx context.Context, email, password string, device DeviceInfo, sourceIP string) (Principal, Credentials, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		obs.IncAuthAttempt("invalid")
		return Principal{}, Credentials{}, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.IncAuthAttempt("invalid")
			return Principal{}, Credentials{}, ErrInvalidCredentials
		}
		return Principal{}, Credentials{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		obs.IncAuthAttempt("invalid")
		s.emitAudit(ctx, "auth.login.failed", map[string]any{"user_id": user.ID, "ip": sourceIP})
		return Principal{}, Credentials{}, ErrInvalidCredentials
	}
	if user.Status != UserStatusActive {
		obs.IncAuthAttempt("inactive")
		return Principal{}, Credentials{}, ErrAccountInactive
	}

	if sig, err := s.anomalies.Detect(ctx, user.ID, sourceIP); err == nil && sig.Suspicious {
		obs.IncAnomalySignal()
		if s.anomalies.ShouldAlert() {
			s.emitAudit(ctx, "auth.anomaly", map[string]any{
				"user_id":         user.ID,
				"ip":              sourceIP,
				"new_ip":          sig.NewIP,
				"recent_sessions": sig.RecentSessions,
				"distinct_ips":    sig.DistinctIPs,
			})
		}
	}

	creds, err := s.sessions.CreateSession(ctx, user, device, sourceIP)
	if err != nil {
		return Principal{}, Credentials{}, err
	}
	perms, err := s.cache.GetEffective(ctx, user.ID)
	if err != nil {
		return Principal{}, Credentials{}, err
	}
	obs.IncAuthAttempt("ok")
	s.emitAudit(ctx, "auth.login", map[string]any{"user_id": user.ID, "session_id": creds.SessionID, "ip": sourceIP})
	return NewPrincipal(user, perms), creds, nil
}

// Authorize validates the token, resolves the caller's effective permission
// set through the cache and checks membership. Permissions embedded in a
// token are never trusted; the cache is the only source. Any failure,
// including a deadline, denies.
func (s *Service) Authorize(ctx context.Context, token, permission string) (bool, error) {
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return false, fmt.Errorf("%w: permission is required", ErrInvalidInput)
	}
	claims, _, err := s.sessions.ValidateAccessToken(ctx, token)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	perms, err := s.cache.GetEffective(ctx, claims.Subject)
	if err != nil {
		return false, err
	}
	if !slices.Contains(perms, permission) {
		s.emitAudit(ctx, "auth.denied", map[string]any{
			"user_id":    claims.Subject,
			"session_id": claims.SessionID,
			"permission": permission,
		})
		return false, ErrPermissionDenied
	}
	return true, nil
}

// Refresh exchanges a refresh handle for new credentials.
func (s *Service) Refresh(ctx context.Context, refreshHandle, sourceIP, sessionIDHint string) (Credentials, error) {
	creds, user, err := s.sessions.Refresh(ctx, refreshHandle, sourceIP, sessionIDHint)
	if err != nil {
		return Credentials{}, err
	}
	s.emitAudit(ctx, "auth.refresh", map[string]any{"user_id": user.ID, "session_id": creds.SessionID, "ip": sourceIP})
	return creds, nil
}

// Logout terminates the session named by an access token, a refresh handle
// or a bare session id.
func (s *Service) Logout(ctx context.Context, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return fmt.Errorf("%w: credential is required", ErrInvalidInput)
	}
	sessionID := credential
	if claims, err := s.sessions.tokens.Parse(credential); err == nil || errors.Is(err, ErrTokenExpired) {
		sessionID = claims.SessionID
	} else if id, _, err := splitRefreshHandle(credential); err == nil {
		sessionID = id
	}
	if err := s.sessions.RevokeSession(ctx, sessionID); err != nil {
		return err
	}
	s.emitAudit(ctx, "auth.logout", map[string]any{"session_id": sessionID})
	return nil
}

// RevokeSession terminates one session; idempotent.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) error {
	return s.sessions.RevokeSession(ctx, sessionID)
}

// RevokeAll terminates every session held by a principal.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	return s.sessions.RevokeAll(ctx, userID)
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every session except the one performing the change.
func (s *Service) ChangePassword(ctx context.Context, userID, current, updated, keepSessionID string) error {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(updated)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.sessions.RevokeAllExcept(ctx, userID, keepSessionID); err != nil {
		return err
	}
	s.emitAudit(ctx, "auth.password_changed", map[string]any{"user_id": userID})
	return nil
}

// EffectivePermissions resolves the principal's permission set through the
// cache.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	return s.cache.GetEffective(ctx, userID)
}

// DetectAnomalies surfaces the advisory anomaly signal for a principal.
func (s *Service) DetectAnomalies(ctx context.Context, userID, sourceIP string) (AnomalySignal, error) {
	return s.anomalies.Detect(ctx, userID, sourceIP)
}

// AssignRole binds a role to a principal within a validity window and
// invalidates the principal's cached permissions before returning.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string, validFrom time.Time, validUntil *time.Time) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if validFrom.IsZero() {
		validFrom = s.now().UTC()
	}
	a := RoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		Active:     true,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Roles().Assign(ctx, a); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	s.emitAudit(ctx, "rbac.role_assigned", map[string]any{"user_id": userID, "role_id": roleID})
	return nil
}

// RemoveRole unbinds a role from a principal.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string) error {
	if err := s.store.Roles().Unassign(ctx, userID, roleID); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	s.emitAudit(ctx, "rbac.role_removed", map[string]any{"user_id": userID, "role_id": roleID})
	return nil
}

// GrantOverride adds a grant-polarity override for a principal.
func (s *Service) GrantOverride(ctx context.Context, userID, permission string, validFrom time.Time, validUntil *time.Time) error {
	return s.addOverride(ctx, userID, permission, EffectGrant, validFrom, validUntil)
}

// RevokeOverride adds a revoke-polarity override for a principal, removing a
// permission its roles would otherwise grant.
func (s *Service) RevokeOverride(ctx context.Context, userID, permission string, validFrom time.Time, validUntil *time.Time) error {
	return s.addOverride(ctx, userID, permission, EffectRevoke, validFrom, validUntil)
}

func (s *Service) addOverride(ctx context.Context, userID, permission string, effect OverrideEffect, validFrom time.Time, validUntil *time.Time) error {
	userID = strings.TrimSpace(userID)
	permission = strings.TrimSpace(permission)
	if userID == "" || permission == "" {
		return fmt.Errorf("%w: user_id and permission are required", ErrInvalidInput)
	}
	if validFrom.IsZero() {
		validFrom = s.now().UTC()
	}
	o := PermissionOverride{
		UserID:     userID,
		Permission: permission,
		Effect:     effect,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		Active:     true,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Overrides().Create(ctx, &o); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	s.emitAudit(ctx, "rbac.override_added", map[string]any{
		"user_id":    userID,
		"permission": permission,
		"effect":     string(effect),
	})
	return nil
}

// RemoveOverride deactivates an override and invalidates the principal.
func (s *Service) RemoveOverride(ctx context.Context, overrideID, userID string) error {
	if err := s.store.Overrides().Deactivate(ctx, overrideID); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	s.emitAudit(ctx, "rbac.override_removed", map[string]any{"override_id": overrideID, "user_id": userID})
	return nil
}

// AddHierarchyEdge inserts a parent-child role edge after the cycle check,
// then fans cache invalidation out to everyone inheriting through the child.
func (s *Service) AddHierarchyEdge(ctx context.Context, parentID, childID string) error {
	if err := s.resolver.AddEdge(ctx, parentID, childID); err != nil {
		return err
	}
	if err := s.cache.InvalidateByRole(ctx, childID); err != nil {
		return err
	}
	s.emitAudit(ctx, "rbac.edge_added", map[string]any{"parent_id": parentID, "child_id": childID})
	return nil
}

// SetRolePermissions replaces a role's permission set and invalidates every
// holder, including transitive ones.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, keys []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if err := s.store.Roles().SetPermissions(ctx, roleID, dedupeStrings(keys)); err != nil {
		return err
	}
	if err := s.cache.InvalidateByRole(ctx, roleID); err != nil {
		return err
	}
	s.emitAudit(ctx, "rbac.role_permissions_set", map[string]any{"role_id": roleID, "count": len(keys)})
	return nil
}

// emitAudit forwards an event to the audit collaborator without ever
// blocking or failing the caller.
func (s *Service) emitAudit(ctx context.Context, event string, fields map[string]any) {
	if s.audit == nil {
		return
	}
	audit := s.audit
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer func() { _ = recover() }()
		_ = audit(ctx, event, fields)
	}()
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
