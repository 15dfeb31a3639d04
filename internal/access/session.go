package access

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gatekit.org/internal/ids"
	"gatekit.org/internal/obs"
)

const (
	defaultAccessTTL         = 15 * time.Minute
	defaultRefreshTTL        = 24 * time.Hour * 14
	defaultInactivityTimeout = 30 * time.Minute
	defaultSessionCap        = 10

	refreshSecretBytes = 32
)

// SessionManager issues, rotates and revokes credential pairs. Refresh
// secrets are random, returned once as an opaque "<sessionID>.<secret>"
// handle and stored only as a sha256 hash.
type SessionManager struct {
	store      Store
	tokens     *TokenIssuer
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
	inactivity time.Duration
	sessionCap int
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures session (refresh secret) lifetime.
func WithRefreshTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
	}
}

// WithInactivityTimeout configures the window after which an idle session is
// treated as terminated.
func WithInactivityTimeout(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.inactivity = d
		}
	}
}

// WithSessionCap bounds concurrent active sessions per principal; the oldest
// session is evicted beyond the cap. Zero disables the cap.
func WithSessionCap(n int) SessionOption {
	return func(m *SessionManager) {
		if n >= 0 {
			m.sessionCap = n
		}
	}
}

// WithSessionClock overrides the time source, useful for tests.
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(store Store, tokens *TokenIssuer, opts ...SessionOption) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	if tokens == nil {
		return nil, errors.New("access: token issuer is required")
	}
	m := &SessionManager{
		store:      store,
		tokens:     tokens,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		inactivity: defaultInactivityTimeout,
		sessionCap: defaultSessionCap,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateSession issues a credential pair for an already-authenticated
// principal.
func (m *SessionManager) CreateSession(ctx context.Context, user *User, device DeviceInfo, sourceIP string) (Credentials, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return Credentials{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	now := m.now().UTC()

	secret, err := newRefreshSecret()
	if err != nil {
		return Credentials{}, err
	}
	sess := &Session{
		ID:          ids.New(),
		UserID:      user.ID,
		RefreshHash: hashRefreshSecret(secret),
		IP:          sourceIP,
		Device:      device.Fingerprint,
		CreatedAt:   now,
		LastSeenAt:  now,
		ExpiresAt:   now.Add(m.refreshTTL),
		Active:      true,
	}
	if err := m.store.Sessions().Create(ctx, sess); err != nil {
		return Credentials{}, err
	}
	if err := m.enforceSessionCap(ctx, user.ID, sess.ID); err != nil {
		return Credentials{}, err
	}

	accessToken, accessExp, err := m.tokens.Issue(user.ID, sess.ID, m.accessTTL)
	if err != nil {
		return Credentials{}, err
	}
	obs.IncSessionCreated()
	return Credentials{
		AccessToken:      accessToken,
		RefreshToken:     sess.ID + "." + secret,
		SessionID:        sess.ID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

// Refresh exchanges a refresh handle for a fresh credential pair. The
// presented secret is consumed: a new secret replaces it atomically and the
// superseded one is rejected from then on. A hash mismatch against an active
// session revokes the session outright.
func (m *SessionManager) Refresh(ctx context.Context, refreshHandle, sourceIP, sessionIDHint string) (Credentials, *User, error) {
	sessionID, secret, err := splitRefreshHandle(refreshHandle)
	if err != nil {
		return Credentials{}, nil, ErrInvalidRefreshToken
	}
	if hint := strings.TrimSpace(sessionIDHint); hint != "" && hint != sessionID {
		return Credentials{}, nil, ErrInvalidRefreshToken
	}

	sess, err := m.store.Sessions().Find(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Credentials{}, nil, ErrInvalidRefreshToken
		}
		return Credentials{}, nil, err
	}
	now := m.now().UTC()
	if !sess.Active || !now.Before(sess.ExpiresAt) {
		return Credentials{}, nil, ErrInvalidRefreshToken
	}
	if m.inactivity > 0 && now.Sub(sess.LastSeenAt) > m.inactivity {
		_ = m.store.Sessions().SetActive(ctx, sess.ID, false)
		return Credentials{}, nil, ErrInvalidRefreshToken
	}
	if !secureCompareHash(sess.RefreshHash, secret) {
		// A wrong secret against a live session suggests a stolen or
		// replayed handle; kill the session.
		_ = m.store.Sessions().SetActive(ctx, sess.ID, false)
		return Credentials{}, nil, ErrInvalidRefreshToken
	}

	user, err := m.store.Users().Find(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = m.store.Sessions().SetActive(ctx, sess.ID, false)
			return Credentials{}, nil, ErrInvalidRefreshToken
		}
		return Credentials{}, nil, err
	}
	if user.Status != UserStatusActive {
		_ = m.store.Sessions().SetActive(ctx, sess.ID, false)
		return Credentials{}, nil, ErrAccountInactive
	}

	newSecret, err := newRefreshSecret()
	if err != nil {
		return Credentials{}, nil, err
	}
	if err := m.store.Sessions().RotateSecret(ctx, sess.ID, hashRefreshSecret(newSecret), now, sourceIP); err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNotFound) {
			// Lost a race with a revocation.
			return Credentials{}, nil, ErrInvalidRefreshToken
		}
		return Credentials{}, nil, err
	}

	accessToken, accessExp, err := m.tokens.Issue(user.ID, sess.ID, m.accessTTL)
	if err != nil {
		return Credentials{}, nil, err
	}
	obs.IncSessionRefreshed()
	return Credentials{
		AccessToken:      accessToken,
		RefreshToken:     sess.ID + "." + newSecret,
		SessionID:        sess.ID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.ExpiresAt,
	}, user, nil
}

// ValidateAccessToken verifies an identity token and the liveness of its
// session. Inactivity beyond the configured window terminates the session
// lazily, on access.
func (m *SessionManager) ValidateAccessToken(ctx context.Context, token string) (*Claims, *Session, error) {
	claims, err := m.tokens.Parse(token)
	if err != nil {
		return nil, nil, err
	}
	sess, err := m.store.Sessions().Find(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}
	if sess.UserID != claims.Subject {
		return nil, nil, ErrTokenInvalid
	}
	now := m.now().UTC()
	if !sess.Active {
		return nil, nil, ErrTokenExpired
	}
	if !now.Before(sess.ExpiresAt) || (m.inactivity > 0 && now.Sub(sess.LastSeenAt) > m.inactivity) {
		_ = m.store.Sessions().SetActive(ctx, sess.ID, false)
		return nil, nil, ErrTokenExpired
	}
	// Best effort; a lost last-activity update is tolerable.
	_ = m.store.Sessions().Touch(ctx, sess.ID, now, "")
	return claims, sess, nil
}

// RevokeSession marks a session inactive. Revoking an already-inactive
// session succeeds.
func (m *SessionManager) RevokeSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	if err := m.store.Sessions().SetActive(ctx, sessionID, false); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	obs.IncSessionRevoked()
	return nil
}

// Revoke terminates the session named by an access token. An expired but
// authentic token is still honored so logout keeps working after expiry.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	claims, err := m.tokens.Parse(token)
	if err != nil && !errors.Is(err, ErrTokenExpired) {
		return err
	}
	return m.RevokeSession(ctx, claims.SessionID)
}

// RevokeAll terminates every session held by a principal.
func (m *SessionManager) RevokeAll(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return m.store.Sessions().DeactivateAllForUser(ctx, userID)
}

// RevokeAllExcept terminates every session held by a principal except one,
// the password-change path.
func (m *SessionManager) RevokeAllExcept(ctx context.Context, userID, keepSessionID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return m.store.Sessions().DeactivateAllExcept(ctx, userID, keepSessionID)
}

// SweepExpired marks lapsed sessions inactive in bulk. Expiry is enforced
// lazily on access regardless; this is hygiene, not correctness.
func (m *SessionManager) SweepExpired(ctx context.Context) (int64, error) {
	return m.store.Sessions().DeactivateExpired(ctx, m.now().UTC(), m.inactivity)
}

func (m *SessionManager) enforceSessionCap(ctx context.Context, userID, justCreated string) error {
	if m.sessionCap <= 0 {
		return nil
	}
	active, err := m.store.Sessions().ActiveForUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(active) <= m.sessionCap {
		return nil
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastSeenAt.Before(active[j].LastSeenAt)
	})
	for _, s := range active[:len(active)-m.sessionCap] {
		if s.ID == justCreated {
			continue
		}
		if err := m.store.Sessions().SetActive(ctx, s.ID, false); err != nil {
			return err
		}
		obs.IncSessionRevoked()
	}
	return nil
}

func newRefreshSecret() (string, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func splitRefreshHandle(raw string) (sessionID, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh handle format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashRefreshSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
