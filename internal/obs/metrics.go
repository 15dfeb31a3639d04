package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	permCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perm_cache_hits_total",
		Help: "Permission cache hits.",
	})

	permCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perm_cache_misses_total",
		Help: "Permission cache misses.",
	})

	permCacheInvalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perm_cache_invalidations_total",
		Help: "Explicit permission cache invalidations.",
	})

	resolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "perm_resolve_duration_seconds",
		Help:    "Effective permission resolution latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	sessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_created_total",
		Help: "Sessions created.",
	})

	sessionsRefreshedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_refreshed_total",
		Help: "Successful refresh-token rotations.",
	})

	sessionsRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_revoked_total",
		Help: "Sessions marked inactive.",
	})

	anomalySignalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_anomaly_signals_total",
		Help: "Suspicious session-creation signals raised.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		authAttemptsTotal,
		permCacheHitsTotal,
		permCacheMissesTotal,
		permCacheInvalidationsTotal,
		resolveDuration,
		sessionsCreatedTotal,
		sessionsRefreshedTotal,
		sessionsRevokedTotal,
		anomalySignalsTotal,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncAuthAttempt(outcome string) { authAttemptsTotal.WithLabelValues(outcome).Inc() }

func IncPermCacheHit()          { permCacheHitsTotal.Inc() }
func IncPermCacheMiss()         { permCacheMissesTotal.Inc() }
func IncPermCacheInvalidation() { permCacheInvalidationsTotal.Inc() }

func ObserveResolveDuration(d time.Duration) { resolveDuration.Observe(d.Seconds()) }

func IncSessionCreated()   { sessionsCreatedTotal.Inc() }
func IncSessionRefreshed() { sessionsRefreshedTotal.Inc() }
func IncSessionRevoked()   { sessionsRevokedTotal.Inc() }

func IncAnomalySignal() { anomalySignalsTotal.Inc() }
