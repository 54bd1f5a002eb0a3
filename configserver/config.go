package configserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config configures the configuration server.
type Config struct {
	// Addr is the listen address. Default: ":8080".
	Addr string `yaml:"addr"`
	// Dir holds the YAML documents. Default: "configs".
	Dir string `yaml:"dir"`
	// CORSOrigins lists allowed origins. Default: ["*"].
	CORSOrigins []string `yaml:"cors_origins"`
	// Watch reloads the index when files change on disk. Default: true.
	Watch *bool `yaml:"watch"`
	// MaxBodyBytes caps write request bodies. Default: 1 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Dir == "" {
		c.Dir = "configs"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.Watch == nil {
		on := true
		c.Watch = &on
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

// Watching reports whether the directory watcher is enabled.
func (c *Config) Watching() bool {
	return c.Watch == nil || *c.Watch
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configserver: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("configserver: parse config: %w", err)
	}
	return &cfg, nil
}
