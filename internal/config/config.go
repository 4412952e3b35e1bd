package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the file-backed process configuration.
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn string `yaml:"dsn"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Browser struct {
		Binary            string `yaml:"binary"`
		DevToolsPort      int    `yaml:"devToolsPort"`
		PageLoadTimeoutMS int    `yaml:"pageLoadTimeoutMS"`
	} `yaml:"browser"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "" // archive disabled unless configured
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "webpen.log"
	c.Browser.DevToolsPort = 9222
	c.Browser.PageLoadTimeoutMS = 30000
	return c
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	c := NewConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}
