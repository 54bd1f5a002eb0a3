// CLAUDE:SUMMARY Orchestrator configuration (endpoint, cache, retry budget, strict kinds) and YAML loader.
package bridge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/visionbridge/dbopen"
)

// Config holds the agent configuration.
type Config struct {
	Endpoint       string        `yaml:"endpoint"`
	CacheDB        string        `yaml:"cache_db"` // empty: in-memory cache
	CacheDriver    string        `yaml:"cache_driver"`
	CacheBusy      time.Duration `yaml:"cache_busy_timeout"`
	CacheSync      string        `yaml:"cache_synchronous"`
	Attempts       int           `yaml:"attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	StrictKinds    bool          `yaml:"strict_kinds"`
	UserAgent      string        `yaml:"user_agent"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

func (c *Config) defaults() {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.UserAgent == "" {
		c.UserAgent = "visionbridge/1.0"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 4 << 20
	}
}

// cacheOptions maps the cache_* settings onto dbopen options. Unset fields
// keep the dbopen defaults.
func (c *Config) cacheOptions() []dbopen.Option {
	var opts []dbopen.Option
	if c.CacheDriver != "" {
		opts = append(opts, dbopen.WithDriver(c.CacheDriver))
	}
	if c.CacheBusy > 0 {
		opts = append(opts, dbopen.WithBusyTimeout(int(c.CacheBusy/time.Millisecond)))
	}
	if c.CacheSync != "" {
		opts = append(opts, dbopen.WithSynchronous(c.CacheSync))
	}
	return opts
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bridge: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("bridge: parse config: %w", err)
	}
	return cfg, nil
}
