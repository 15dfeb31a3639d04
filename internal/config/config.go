package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries every runtime knob, loaded from GATEKIT_* environment
// variables.
type Config struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	DatabaseURL string `envconfig:"PG_DSN" required:"true"`

	TokenSecret string        `envconfig:"TOKEN_SECRET" required:"true"`
	TokenIssuer string        `envconfig:"TOKEN_ISSUER" default:"gatekit"`
	AccessTTL   time.Duration `envconfig:"ACCESS_TTL" default:"15m"`
	RefreshTTL  time.Duration `envconfig:"REFRESH_TTL" default:"336h"`

	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"15m"`
	CacheSize int           `envconfig:"CACHE_SIZE" default:"4096"`

	InactivityTimeout time.Duration `envconfig:"INACTIVITY_TIMEOUT" default:"30m"`
	SessionCap        int           `envconfig:"SESSION_CAP" default:"10"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m"`

	AnomalyWindow    time.Duration `envconfig:"ANOMALY_WINDOW" default:"24h"`
	AnomalyThreshold int           `envconfig:"ANOMALY_THRESHOLD" default:"5"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("GATEKIT", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
