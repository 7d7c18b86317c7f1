package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Subscription policies applied when a login arrives while another
// subscription is still delivering.
const (
	PolicyReplace    = "replace"
	PolicyConcurrent = "concurrent"
	PolicyReject     = "reject"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "shhhh, very very secret",
}

type Config struct {
	Port                     int    `env:"PORT" envDefault:"8080"`
	PushPort                 int    `env:"PUSH_PORT" envDefault:"50051"`
	ConfigFile               string `env:"CONFIG_FILE" envDefault:"config.json"`
	RedisURL                 string `env:"REDIS_URL"`
	DatabaseURL              string `env:"DATABASE_URL"`
	SessionSecret            string `env:"SESSION_SECRET" envDefault:"dev-secret-change-me"`
	SessionEncryptionKey     string `env:"SESSION_ENCRYPTION_KEY"`
	ParticleAPIURL           string `env:"PARTICLE_API_URL" envDefault:"https://api.particle.io"`
	ParticleClientID         string `env:"PARTICLE_CLIENT_ID" envDefault:"particle"`
	ParticleClientSecret     string `env:"PARTICLE_CLIENT_SECRET" envDefault:"particle"`
	MetadataURL              string `env:"METADATA_URL" envDefault:"http://metadata/computeMetadata/v1//instance/network-interfaces/0/access-configs/0/external-ip"`
	MetadataCacheTTLSeconds  int    `env:"METADATA_CACHE_TTL_SECONDS" envDefault:"600"`
	AuthTimeoutSeconds       int    `env:"AUTH_TIMEOUT_SECONDS" envDefault:"10"`
	StreamOpenTimeoutSeconds int    `env:"STREAM_OPEN_TIMEOUT_SECONDS" envDefault:"10"`
	SubscriptionPolicy       string `env:"SUBSCRIPTION_POLICY" envDefault:"replace"`
	CancelOnLogout           bool   `env:"CANCEL_ON_LOGOUT" envDefault:"true"`
	LedgerRetentionHours     int    `env:"LEDGER_RETENTION_HOURS" envDefault:"168"`
	LogLevel                 string `env:"LOG_LEVEL" envDefault:"info"`

	// Filled from the config file unless set in the environment.
	EventName string `env:"EVENT_NAME"`
	MapAPIKey string `env:"MAP_API_KEY"`
}

func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutSeconds) * time.Second
}

func (c *Config) StreamOpenTimeout() time.Duration {
	return time.Duration(c.StreamOpenTimeoutSeconds) * time.Second
}

func (c *Config) MetadataCacheTTL() time.Duration {
	return time.Duration(c.MetadataCacheTTLSeconds) * time.Second
}

func (c *Config) LedgerRetention() time.Duration {
	return time.Duration(c.LedgerRetentionHours) * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) PushAddr() string {
	return fmt.Sprintf(":%d", c.PushPort)
}

func (c *Config) Validate(isProduction bool) error {
	if c.EventName == "" {
		return fmt.Errorf("event_name must be set in %s or EVENT_NAME", c.ConfigFile)
	}
	if c.Port == c.PushPort {
		return fmt.Errorf("PORT and PUSH_PORT must differ (both %d)", c.Port)
	}

	switch c.SubscriptionPolicy {
	case PolicyReplace, PolicyConcurrent, PolicyReject:
	default:
		return fmt.Errorf("SUBSCRIPTION_POLICY must be one of %s, %s, %s", PolicyReplace, PolicyConcurrent, PolicyReject)
	}

	if c.AuthTimeoutSeconds <= 0 || c.StreamOpenTimeoutSeconds <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT_SECONDS and STREAM_OPEN_TIMEOUT_SECONDS must be positive")
	}

	if c.SessionEncryptionKey != "" {
		if key, err := hex.DecodeString(c.SessionEncryptionKey); err != nil || len(key) != 32 {
			return fmt.Errorf("SESSION_ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		}
	}

	if c.MapAPIKey == "" {
		log.Warn().Msg("map_api_key is empty: the map page will not load map tiles")
	}

	if isProduction {
		if err := validateSecret("SESSION_SECRET", c.SessionSecret); err != nil {
			return err
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: sessions are kept in memory and lost on restart")
		} else if c.SessionEncryptionKey == "" {
			log.Warn().Msg("SESSION_ENCRYPTION_KEY is empty: upstream credentials are stored in Redis unencrypted")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.loadFile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFile reads event_name and map_api_key from the JSON config file.
// Environment values win; a missing file is only an error when event_name
// has no other source.
func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.ConfigFile)
	if os.IsNotExist(err) {
		if c.EventName == "" {
			return fmt.Errorf("config file %s not found and EVENT_NAME not set", c.ConfigFile)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if !gjson.ValidBytes(data) {
		return fmt.Errorf("config file %s is not valid JSON", c.ConfigFile)
	}

	if c.EventName == "" {
		c.EventName = gjson.GetBytes(data, "event_name").String()
	}
	if c.MapAPIKey == "" {
		c.MapAPIKey = gjson.GetBytes(data, "map_api_key").String()
	}
	return nil
}
