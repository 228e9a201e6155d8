// Package config handles configuration loading and management
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the node configuration.
type Config struct {
	NodeName        string
	Port            int
	ScratchDir      string
	RelayGrace      time.Duration
	ExecutionSettle time.Duration
	RelayBuffer     int
	UnitWorkers     int
	RequestTimeout  time.Duration
	ProviderTimeout time.Duration
	// LiveProviderDSN is a ClickHouse DSN backing live providers.
	LiveProviderDSN string
	// LiveProviderRedis is a redis URL backing live providers. Ignored when
	// LiveProviderDSN is set.
	LiveProviderRedis string
}

// Load reads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// It's okay if the file doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	hostname, _ := os.Hostname()

	cfg := &Config{
		NodeName:          getEnv("GATF_NODE_NAME", hostname),
		ScratchDir:        getEnv("GATF_SCRATCH_DIR", os.TempDir()),
		LiveProviderDSN:   getEnv("GATF_LIVE_PROVIDER_DSN", ""),
		LiveProviderRedis: getEnv("GATF_LIVE_PROVIDER_REDIS", ""),
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"GATF_NODE_PORT", DefaultNodePort, &cfg.Port},
		{"GATF_RELAY_BUFFER", DefaultRelayBuffer, &cfg.RelayBuffer},
		{"GATF_UNIT_WORKERS", DefaultUnitWorkers, &cfg.UnitWorkers},
	}

	for _, v := range ints {
		n, err := strconv.Atoi(getEnv(v.key, strconv.Itoa(v.def)))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", v.key)
		}

		*v.dest = n
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"GATF_RELAY_GRACE", DefaultRelayGrace, &cfg.RelayGrace},
		{"GATF_EXECUTION_SETTLE", DefaultExecutionSettle, &cfg.ExecutionSettle},
		{"GATF_REQUEST_TIMEOUT", DefaultRequestTimeout, &cfg.RequestTimeout},
		{"GATF_PROVIDER_TIMEOUT", DefaultProviderTimeout, &cfg.ProviderTimeout},
	}

	for _, v := range durations {
		d, err := time.ParseDuration(getEnv(v.key, v.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", v.key, err)
		}

		*v.dest = d
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ListenAddr returns the address the node binds for port.
func ListenAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}

func (c *Config) String() string {
	liveSource := "(static only)"

	switch {
	case c.LiveProviderDSN != "":
		liveSource = "clickhouse " + maskURL(c.LiveProviderDSN)
	case c.LiveProviderRedis != "":
		liveSource = "redis " + maskURL(c.LiveProviderRedis)
	}

	return fmt.Sprintf(`Current Configuration:
======================
Node Name:          %s
Node Port:          %d
Scratch Dir:        %s
Relay Grace:        %s
Execution Settle:   %s
Relay Buffer:       %d
Unit Workers:       %d
Request Timeout:    %s
Provider Timeout:   %s
Live Providers:     %s`,
		c.NodeName,
		c.Port,
		c.ScratchDir,
		c.RelayGrace,
		c.ExecutionSettle,
		c.RelayBuffer,
		c.UnitWorkers,
		c.RequestTimeout,
		c.ProviderTimeout,
		liveSource,
	)
}

// maskURL hides the password of a connection URL.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.Redacted()
}
