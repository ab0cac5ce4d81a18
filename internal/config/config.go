package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

const defaultFeatureServiceURL = "https://services3.arcgis.com/66aUo8zsujfVXRIT/arcgis/rest/services" +
	"/CDPHE_COVID19_Wastewater_Dashboard_Data/FeatureServer/0"

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Upstream feature service.
	FeatureServiceURL string
	CSVExportURL      string
	UpstreamTimeout   time.Duration

	// Paginated fetch and partial-result detection.
	ChunkSize              int
	ResultsCap             int
	PartialUpdateThreshold int

	SnapshotDir  string
	DatabasePath string

	HTTPAddr        string
	APICacheSize    int           // 0 disables the read API cache
	APICacheTTL     time.Duration
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Optional run publishing and metrics push; empty disables each.
	KafkaBrokers   []string
	KafkaRunTopic  string
	PushgatewayURL string
}

// Load reads configuration from environment variables, applying defaults where unset.
// Variables from an optional .env file (ENV_FILE, default ".env") are loaded first
// and never override the real environment.
func Load() (*Config, error) {
	if err := godotenv.Load(sharedcfg.EnvOrDefault("ENV_FILE", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load ENV_FILE: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	upstreamTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("UPSTREAM_TIMEOUT", "30s"))
	if err != nil || upstreamTimeout <= 0 {
		return nil, errors.New("invalid UPSTREAM_TIMEOUT")
	}

	chunkSize, err := parsePositiveInt("FETCH_CHUNK_SIZE", 5_000)
	if err != nil {
		return nil, err
	}
	resultsCap, err := parsePositiveInt("FETCH_RESULTS_CAP", 80_000)
	if err != nil {
		return nil, err
	}
	threshold, err := parsePositiveInt("PARTIAL_UPDATE_THRESHOLD", 25_000)
	if err != nil {
		return nil, err
	}

	cacheSize, err := strconv.Atoi(sharedcfg.EnvOrDefault("API_CACHE_SIZE", "256"))
	if err != nil || cacheSize < 0 {
		return nil, errors.New("invalid API_CACHE_SIZE: must be a non-negative integer")
	}
	cacheTTL, err := time.ParseDuration(sharedcfg.EnvOrDefault("API_CACHE_TTL", "1m"))
	if err != nil || cacheTTL <= 0 {
		return nil, errors.New("invalid API_CACHE_TTL")
	}

	featureURL := sharedcfg.EnvOrDefault("FEATURE_SERVICE_URL", defaultFeatureServiceURL)

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	cfg := &Config{
		FeatureServiceURL:      featureURL,
		CSVExportURL:           sharedcfg.EnvOrDefault("CSV_EXPORT_URL", featureURL+"/query?where=1%3D1&outFields=*&f=csv"),
		UpstreamTimeout:        upstreamTimeout,
		ChunkSize:              chunkSize,
		ResultsCap:             resultsCap,
		PartialUpdateThreshold: threshold,
		SnapshotDir:            sharedcfg.EnvOrDefault("SNAPSHOT_DIR", "data"),
		DatabasePath:           sharedcfg.EnvOrDefault("DATABASE_PATH", "data/wastewater.db"),
		HTTPAddr:               sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		APICacheSize:           cacheSize,
		APICacheTTL:            cacheTTL,
		LogLevel:               sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:              sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:        shutdownTimeout,
		KafkaBrokers:           brokers,
		KafkaRunTopic:          sharedcfg.EnvOrDefault("KAFKA_RUN_TOPIC", "wastewater-updates"),
		PushgatewayURL:         os.Getenv("PUSHGATEWAY_URL"),
	}

	if cfg.FeatureServiceURL == "" {
		return nil, errors.New("FEATURE_SERVICE_URL is required")
	}
	if cfg.ResultsCap < cfg.ChunkSize {
		return nil, errors.New("FETCH_RESULTS_CAP must be at least FETCH_CHUNK_SIZE")
	}
	if cfg.PartialUpdateThreshold > cfg.ResultsCap {
		return nil, errors.New("PARTIAL_UPDATE_THRESHOLD must not exceed FETCH_RESULTS_CAP")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaRunTopic == "" {
		return nil, errors.New("KAFKA_RUN_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// PublishEnabled reports whether update runs should be published to Kafka.
func (c *Config) PublishEnabled() bool { return len(c.KafkaBrokers) > 0 }

func parsePositiveInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", name)
	}
	return n, nil
}
