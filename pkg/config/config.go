// Package config reads the daemon settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rubiojr/shopsense/pkg/category"
	"github.com/rubiojr/shopsense/pkg/logger"
)

const (
	ProviderGoogle    = "google"
	ProviderNominatim = "nominatim"
)

const envPrefix = "SHOPSENSE_"

// DefaultAPIAddr is loopback only; the API has no authentication.
const DefaultAPIAddr = "127.0.0.1:43099"

var log = logger.With("config")

type Config struct {
	Debug    bool
	APIAddr  string
	Search   SearchConfig
	Engine   EngineConfig
	Shopping ShoppingConfig
	Geofence GeofenceConfig
	NATS     NATSConfig
	// CategoryMap overrides the place types searched per category.
	CategoryMap map[string][]string
}

type SearchConfig struct {
	Provider          string
	GoogleAPIKey      string
	GoogleRate        float64
	NominatimServer   string
	NominatimRetries  int
	NominatimInterval time.Duration
	Timeout           time.Duration
	Concurrency       int
	CacheTTL          time.Duration
}

type EngineConfig struct {
	MoveThreshold   float64
	HeadingMinSpeed float64
	HeadingCone     float64
	Cooldown        time.Duration
}

type ShoppingConfig struct {
	Snooze         time.Duration
	SampleInterval time.Duration
	MinDistance    float64
}

type GeofenceConfig struct {
	Hysteresis float64
}

// NATSConfig enables the notification mirror when URL is set.
type NATSConfig struct {
	URL     string
	Subject string
}

// Load reads envFile if it exists and then the SHOPSENSE_* variables.
// Variables already set in the environment win over the file. Malformed
// values fall back to their defaults with a warning.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("load %s: %w", envFile, err)
			}
			log.Debug("no env file", "path", envFile)
		} else {
			log.Debug("loaded env file", "path", envFile)
		}
	}

	cfg := Config{
		Debug:   getEnvAsBool("DEBUG", false),
		APIAddr: getEnv("API_ADDR", DefaultAPIAddr),
		Search: SearchConfig{
			Provider:          strings.ToLower(getEnv("SEARCH_PROVIDER", "")),
			GoogleAPIKey:      getEnv("GOOGLE_API_KEY", ""),
			GoogleRate:        getEnvAsFloat("GOOGLE_RATE", 5),
			NominatimServer:   getEnv("NOMINATIM_SERVER", "https://nominatim.openstreetmap.org"),
			NominatimRetries:  getEnvAsInt("NOMINATIM_RETRIES", 1),
			NominatimInterval: getEnvAsDuration("NOMINATIM_INTERVAL", time.Second),
			Timeout:           getEnvAsDuration("SEARCH_TIMEOUT", 8*time.Second),
			Concurrency:       getEnvAsInt("SEARCH_CONCURRENCY", 4),
			CacheTTL:          getEnvAsDuration("SEARCH_CACHE_TTL", 24*time.Hour),
		},
		Engine: EngineConfig{
			MoveThreshold:   getEnvAsFloat("MOVE_THRESHOLD", 100),
			HeadingMinSpeed: getEnvAsFloat("HEADING_MIN_SPEED", 0.5),
			HeadingCone:     getEnvAsFloat("HEADING_CONE", 60),
			Cooldown:        getEnvAsDuration("COOLDOWN", 2*time.Minute),
		},
		Shopping: ShoppingConfig{
			Snooze:         getEnvAsDuration("SNOOZE", 10*time.Minute),
			SampleInterval: getEnvAsDuration("SAMPLE_INTERVAL", 10*time.Second),
			MinDistance:    getEnvAsFloat("SAMPLE_MIN_DISTANCE", 100),
		},
		Geofence: GeofenceConfig{
			Hysteresis: getEnvAsFloat("GEOFENCE_HYSTERESIS", 25),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT", "shopsense.notifications"),
		},
		CategoryMap: category.ParseOverrides(getEnv("CATEGORY_MAP", "")),
	}

	return cfg, validate(&cfg)
}

// validate repairs what it can and fails only on settings that cannot be
// guessed.
func validate(cfg *Config) error {
	s := &cfg.Search
	switch s.Provider {
	case "":
		s.Provider = ProviderNominatim
		if s.GoogleAPIKey != "" {
			s.Provider = ProviderGoogle
		}
	case ProviderGoogle:
		if s.GoogleAPIKey == "" {
			log.Warn("google provider selected without SHOPSENSE_GOOGLE_API_KEY, using nominatim")
			s.Provider = ProviderNominatim
		}
	case ProviderNominatim:
	default:
		return fmt.Errorf("unknown search provider %q (want %s or %s)", s.Provider, ProviderGoogle, ProviderNominatim)
	}

	if s.NominatimRetries < 0 || s.NominatimRetries > 5 {
		log.Warn("nominatim retries out of range, using 1", "value", s.NominatimRetries)
		s.NominatimRetries = 1
	}
	if s.Concurrency < 1 {
		log.Warn("search concurrency must be at least 1", "value", s.Concurrency)
		s.Concurrency = 1
	}
	// Nominatim serves one request per interval, so parallel categories
	// would only spend their timeout queued on the shared limiter.
	if s.Provider == ProviderNominatim && s.Concurrency > 1 {
		log.Debug("nominatim searches one category at a time", "requested", s.Concurrency)
		s.Concurrency = 1
	}
	if s.Timeout <= 0 {
		log.Warn("search timeout must be positive, using 8s", "value", s.Timeout)
		s.Timeout = 8 * time.Second
	}
	if cfg.Engine.HeadingCone <= 0 || cfg.Engine.HeadingCone > 180 {
		log.Warn("heading cone out of range, using 60", "value", cfg.Engine.HeadingCone)
		cfg.Engine.HeadingCone = 60
	}
	if cfg.Shopping.Snooze <= 0 {
		log.Warn("snooze must be positive, using 10m", "value", cfg.Shopping.Snooze)
		cfg.Shopping.Snooze = 10 * time.Minute
	}
	if cfg.Geofence.Hysteresis < 0 {
		cfg.Geofence.Hysteresis = 0
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(envPrefix + key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	return parse(key, defaultValue, strconv.Atoi)
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	return parse(key, defaultValue, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getEnvAsBool(key string, defaultValue bool) bool {
	return parse(key, defaultValue, strconv.ParseBool)
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	return parse(key, defaultValue, time.ParseDuration)
}

func parse[T any](key string, defaultValue T, fn func(string) (T, error)) T {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := fn(raw)
	if err != nil {
		log.Warn("ignoring malformed setting", "key", envPrefix+key, "value", raw)
		return defaultValue
	}
	return v
}
