package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete count-reporter configuration
type Config struct {
	InstanceID string        `yaml:"instance_id"`
	Counter    CounterConfig `yaml:"counter"`
	MQTT       MQTTConfig    `yaml:"mqtt"`
	Health     HealthConfig  `yaml:"health"`
	Log        LogConfig     `yaml:"log"`
}

// CounterConfig contains deduplication settings
type CounterConfig struct {
	TrackedClass *int `yaml:"tracked_class"` // detector class to count (default: 1)
	Capacity     int  `yaml:"capacity"`      // seen-set capacity (default: 10000)
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	ClientID         string `yaml:"client_id"` // empty: generated per session
	Topic            string `yaml:"topic"`
	QoS              *byte  `yaml:"qos"`
	KeepAliveS       int    `yaml:"keepalive_s"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
	WriteTimeoutMS   int    `yaml:"write_timeout_ms"`
	DrainTimeoutMS   int    `yaml:"drain_timeout_ms"`
}

// HealthConfig contains HTTP health server settings
type HealthConfig struct {
	Port string `yaml:"port"` // empty disables the server
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// KeepAlive returns the keepalive interval
func (m MQTTConfig) KeepAlive() time.Duration {
	return time.Duration(m.KeepAliveS) * time.Second
}

// ConnectTimeout returns the connect handshake timeout
func (m MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the publish enqueue timeout
func (m MQTTConfig) WriteTimeout() time.Duration {
	return time.Duration(m.WriteTimeoutMS) * time.Millisecond
}

// DrainTimeout returns the teardown drain timeout
func (m MQTTConfig) DrainTimeout() time.Duration {
	return time.Duration(m.DrainTimeoutMS) * time.Millisecond
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return cfg
}
