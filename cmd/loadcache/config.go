package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/loadcache/cache"
	"github.com/jonwraymond/loadcache/observe"
	"github.com/jonwraymond/loadcache/resilience"
)

var (
	errNoLocationSets = errors.New("loadcache: workload needs at least one location set")
	errInvalidShape   = errors.New("loadcache: workers and rounds must be positive")
)

// Config is the demo's YAML configuration.
type Config struct {
	Observe  observe.Config `yaml:"observe"`
	Cache    CacheConfig    `yaml:"cache"`
	Workload WorkloadConfig `yaml:"workload"`

	// Listen, when set, serves /metrics, /healthz and /livez.
	Listen string `yaml:"listen"`
}

// CacheConfig configures the loader cache.
type CacheConfig struct {
	Construction string                  `yaml:"construction"` // exclusive|coalesced
	MaxPending   int                     `yaml:"max_pending"`
	Retry        *resilience.RetryConfig `yaml:"retry"`
}

// WorkloadConfig shapes the demo workload.
type WorkloadConfig struct {
	Workers      int           `yaml:"workers"`
	Rounds       int           `yaml:"rounds"`
	LocationSets [][]string    `yaml:"location_sets"`
	OpenDelay    time.Duration `yaml:"open_delay"`
	ReclaimWait  time.Duration `yaml:"reclaim_wait"`
}

func defaultConfig() Config {
	return Config{
		Observe: observe.Config{
			ServiceName: "loadcache",
			Version:     "dev",
			Tracing:     observe.TracingConfig{Exporter: "none", SamplePct: 1},
			Metrics:     observe.MetricsConfig{Exporter: "none"},
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
		},
		Cache: CacheConfig{
			Construction: cache.ConstructExclusive.String(),
			MaxPending:   1000,
		},
		Workload: WorkloadConfig{
			Workers: 8,
			Rounds:  3,
			LocationSets: [][]string{
				{"/opt/app/lib/core.jar", "/opt/app/lib/util.jar"},
				{"/opt/app/lib/util.jar", "/opt/app/lib/core.jar"},
				{"/opt/plugins/report/", "/opt/app/lib/core.jar"},
			},
			OpenDelay:   5 * time.Millisecond,
			ReclaimWait: 2 * time.Second,
		},
	}
}

// loadConfig reads path over the defaults. An empty path returns the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the whole demo configuration.
func (c *Config) Validate() error {
	if err := c.Observe.Validate(); err != nil {
		return err
	}
	if _, err := cache.ParseConstructionMode(c.Cache.Construction); err != nil {
		return err
	}
	if c.Workload.Workers <= 0 || c.Workload.Rounds <= 0 {
		return fmt.Errorf("%w: workers=%d rounds=%d", errInvalidShape, c.Workload.Workers, c.Workload.Rounds)
	}
	if len(c.Workload.LocationSets) == 0 {
		return errNoLocationSets
	}
	for i, set := range c.Workload.LocationSets {
		if err := cache.ValidateLocations(set); err != nil {
			return fmt.Errorf("location set %d: %w", i, err)
		}
	}
	return nil
}
