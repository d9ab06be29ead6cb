package config

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultTrackedClass     = 1
	DefaultCapacity         = 10000
	DefaultHost             = "localhost"
	DefaultPort             = 1883
	DefaultTopic            = "deepstream/count"
	DefaultKeepAliveS       = 60
	DefaultConnectTimeoutMS = 5000
	DefaultWriteTimeoutMS   = 1000
	DefaultDrainTimeoutMS   = 250
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	// instance_id is optional, but must be well formed when set
	if cfg.InstanceID != "" && !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if err := validateCounter(&cfg.Counter); err != nil {
		return err
	}
	if err := validateMQTT(&cfg.MQTT); err != nil {
		return err
	}
	if err := validateLog(&cfg.Log); err != nil {
		return err
	}

	return nil
}

func validateCounter(c *CounterConfig) error {
	if c.TrackedClass == nil {
		class := DefaultTrackedClass
		c.TrackedClass = &class
	}
	if *c.TrackedClass < 0 {
		return fmt.Errorf("counter.tracked_class must be >= 0, got %d", *c.TrackedClass)
	}

	if c.Capacity < 0 {
		return fmt.Errorf("counter.capacity must be > 0, got %d", c.Capacity)
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	return nil
}

func validateMQTT(m *MQTTConfig) error {
	if m.Host == "" {
		m.Host = DefaultHost
	}
	if m.Port == 0 {
		m.Port = DefaultPort
	}
	if m.Port < 0 || m.Port > 65535 {
		return fmt.Errorf("mqtt.port must be in 1-65535, got %d", m.Port)
	}

	if m.Topic == "" {
		m.Topic = DefaultTopic
	}
	if strings.ContainsAny(m.Topic, "+#") {
		return fmt.Errorf("mqtt.topic must not contain wildcards, got %q", m.Topic)
	}

	if m.QoS == nil {
		var qos byte
		m.QoS = &qos
	}
	if *m.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", *m.QoS)
	}

	if m.KeepAliveS <= 0 {
		m.KeepAliveS = DefaultKeepAliveS
	}
	if m.ConnectTimeoutMS <= 0 {
		m.ConnectTimeoutMS = DefaultConnectTimeoutMS
	}
	if m.WriteTimeoutMS <= 0 {
		m.WriteTimeoutMS = DefaultWriteTimeoutMS
	}
	if m.DrainTimeoutMS <= 0 {
		m.DrainTimeoutMS = DefaultDrainTimeoutMS
	}
	return nil
}

func validateLog(l *LogConfig) error {
	if l.Level == "" {
		l.Level = "info"
	}
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
		l.Level = strings.ToLower(l.Level)
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}

	if l.Format == "" {
		l.Format = "json"
	}
	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", l.Format)
	}
	return nil
}
