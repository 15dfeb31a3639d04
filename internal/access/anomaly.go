package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAnomalyWindow    = 24 * time.Hour
	defaultAnomalyThreshold = 5
)

// AnomalySignal is an advisory verdict about recent session-creation
// behavior for a principal. It is surfaced and logged, never a hard
// authentication failure.
type AnomalySignal struct {
	Suspicious     bool          `json:"suspicious"`
	NewIP          bool          `json:"new_ip"`
	RecentSessions int           `json:"recent_sessions"`
	DistinctIPs    int           `json:"distinct_ips"`
	Window         time.Duration `json:"window"`
}

// AnomalyDetector flags principals whose session-creation volume in a
// trailing window exceeds a threshold from a previously unseen source IP.
type AnomalyDetector struct {
	store     Store
	window    time.Duration
	threshold int
	now       func() time.Time
	alerts    *rate.Limiter
}

// AnomalyOption configures an AnomalyDetector.
type AnomalyOption func(*AnomalyDetector)

// WithAnomalyWindow sets the trailing window inspected per detection.
func WithAnomalyWindow(d time.Duration) AnomalyOption {
	return func(a *AnomalyDetector) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithAnomalyThreshold sets the session-creation count at which a burst
// becomes suspicious.
func WithAnomalyThreshold(n int) AnomalyOption {
	return func(a *AnomalyDetector) {
		if n > 0 {
			a.threshold = n
		}
	}
}

// WithAnomalyClock overrides the time source, useful for tests.
func WithAnomalyClock(fn func() time.Time) AnomalyOption {
	return func(a *AnomalyDetector) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAnomalyDetector constructs a detector over the store. Alert emission is
// capped by a token bucket so a sustained burst cannot flood the audit sink.
func NewAnomalyDetector(store Store, opts ...AnomalyOption) *AnomalyDetector {
	a := &AnomalyDetector{
		store:     store,
		window:    defaultAnomalyWindow,
		threshold: defaultAnomalyThreshold,
		now:       time.Now,
		alerts:    rate.NewLimiter(rate.Every(time.Minute), 10),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Detect inspects sessions created for the principal inside the trailing
// window and returns an advisory signal.
func (a *AnomalyDetector) Detect(ctx context.Context, userID, sourceIP string) (AnomalySignal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AnomalySignal{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	now := a.now().UTC()
	recent, err := a.store.Sessions().CreatedSince(ctx, userID, now.Add(-a.window))
	if err != nil {
		return AnomalySignal{}, err
	}

	seen := make(map[string]struct{}, len(recent))
	for _, s := range recent {
		if s.IP != "" {
			seen[s.IP] = struct{}{}
		}
	}
	_, known := seen[sourceIP]
	newIP := sourceIP != "" && !known

	sig := AnomalySignal{
		NewIP:          newIP,
		RecentSessions: len(recent),
		DistinctIPs:    len(seen),
		Window:         a.window,
	}
	sig.Suspicious = newIP && len(recent) >= a.threshold
	return sig, nil
}

// ShouldAlert reports whether a suspicious signal may be forwarded to the
// audit sink right now.
func (a *AnomalyDetector) ShouldAlert() bool {
	return a.alerts.Allow()
}
