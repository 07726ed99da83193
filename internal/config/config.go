package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration
	// VerifyConcurrency bounds how many submissions of a batch are verified at once.
	VerifyConcurrency int

	StoreDriver string
	StoreDSN    string

	// ScoringPolicyPath points at a YAML file overriding the built-in weights.
	ScoringPolicyPath string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	batchSize, err := parseIntInRange("BATCH_SIZE", 50, 1, maxBatchSize)
	if err != nil {
		return nil, err
	}

	flushInterval, err := parsePositiveDuration("BATCH_FLUSH_INTERVAL", "500ms")
	if err != nil {
		return nil, err
	}

	concurrency, err := parseIntInRange("VERIFY_CONCURRENCY", runtime.GOMAXPROCS(0), 1, 256)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled, err := parseBool("MAPBOX_ENABLED", mapboxToken != "")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   envOrDefault("KAFKA_SOURCE_TOPIC", "climate-submissions"),
		KafkaSinkTopic:     envOrDefault("KAFKA_SINK_TOPIC", "verification-results"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "climate-witness"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		VerifyConcurrency:  concurrency,

		StoreDriver: envOrDefault("STORE_DRIVER", StoreMemory),
		StoreDSN:    os.Getenv("STORE_DSN"),

		ScoringPolicyPath: os.Getenv("SCORING_POLICY_PATH"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.KafkaSourceTopic == c.KafkaSinkTopic {
		return fmt.Errorf("KAFKA_SOURCE_TOPIC and KAFKA_SINK_TOPIC must differ, both are %q", c.KafkaSinkTopic)
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("STORE_DSN is required when STORE_DRIVER is %s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be memory, sqlite or postgres", c.StoreDriver)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q: must be json or text", c.LogFormat)
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
