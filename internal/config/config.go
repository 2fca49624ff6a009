// Package config provides the Hub's configuration record (spec §6).
//
// The recognised option table is enumerated; Load reads from the process
// environment using the teacher ingress service's getEnv/getEnvInt pattern,
// generalized to the STAR_<UPPER_OPTION> override naming rule. FromMap
// additionally rejects unknown keys, for callers (tests, a future TOML/CLI
// loader) that build a Config from an explicit option map instead of the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every option the Hub core recognises.
type Config struct {
	Host              string
	Port              int
	EnableAuth        bool
	EnableValidation  bool
	MaxConnections    int
	HeartbeatInterval time.Duration
	SessionTimeout    time.Duration
	MaxFrameBytes     int64
	SendQueueDepth    int
	LogLevel          string
}

// Defaults returns the Config populated with the §6 default values.
func Defaults() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8765,
		EnableAuth:        false,
		EnableValidation:  true,
		MaxConnections:    1000,
		HeartbeatInterval: 30 * time.Second,
		SessionTimeout:    60 * time.Second,
		MaxFrameBytes:     1048576,
		SendQueueDepth:    1024,
		LogLevel:          "INFO",
	}
}

// optionNames lists every recognised option key, used to reject unknown keys
// in FromMap.
var optionNames = map[string]bool{
	"host":                 true,
	"port":                 true,
	"enable_auth":          true,
	"enable_validation":    true,
	"max_connections":      true,
	"heartbeat_interval_s": true,
	"session_timeout_s":    true,
	"max_frame_bytes":      true,
	"send_queue_depth":     true,
	"log_level":            true,
}

// Load builds a Config from defaults overridden by STAR_<UPPER_OPTION>
// environment variables (e.g. STAR_PORT, STAR_HEARTBEAT_INTERVAL_S).
func Load() Config {
	cfg := Defaults()
	cfg.Host = getEnv("STAR_HOST", cfg.Host)
	cfg.Port = getEnvInt("STAR_PORT", cfg.Port)
	cfg.EnableAuth = getEnvBool("STAR_ENABLE_AUTH", cfg.EnableAuth)
	cfg.EnableValidation = getEnvBool("STAR_ENABLE_VALIDATION", cfg.EnableValidation)
	cfg.MaxConnections = getEnvInt("STAR_MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.HeartbeatInterval = time.Duration(getEnvInt("STAR_HEARTBEAT_INTERVAL_S", int(cfg.HeartbeatInterval/time.Second))) * time.Second
	cfg.SessionTimeout = time.Duration(getEnvInt("STAR_SESSION_TIMEOUT_S", int(cfg.SessionTimeout/time.Second))) * time.Second
	cfg.MaxFrameBytes = int64(getEnvInt("STAR_MAX_FRAME_BYTES", int(cfg.MaxFrameBytes)))
	cfg.SendQueueDepth = getEnvInt("STAR_SEND_QUEUE_DEPTH", cfg.SendQueueDepth)
	cfg.LogLevel = getEnv("STAR_LOG_LEVEL", cfg.LogLevel)
	return cfg
}

// FromMap builds a Config from defaults overridden by an explicit option map
// (e.g. parsed from TOML by a collaborator loader). Unknown keys are
// rejected, per §6 ("unknown keys rejected").
func FromMap(options map[string]interface{}) (Config, error) {
	for key := range options {
		if !optionNames[key] {
			return Config{}, fmt.Errorf("config: unrecognised option %q", key)
		}
	}
	cfg := Defaults()
	if v, ok := options["host"].(string); ok {
		cfg.Host = v
	}
	if v, ok := asInt(options["port"]); ok {
		cfg.Port = v
	}
	if v, ok := options["enable_auth"].(bool); ok {
		cfg.EnableAuth = v
	}
	if v, ok := options["enable_validation"].(bool); ok {
		cfg.EnableValidation = v
	}
	if v, ok := asInt(options["max_connections"]); ok {
		cfg.MaxConnections = v
	}
	if v, ok := asInt(options["heartbeat_interval_s"]); ok {
		cfg.HeartbeatInterval = time.Duration(v) * time.Second
	}
	if v, ok := asInt(options["session_timeout_s"]); ok {
		cfg.SessionTimeout = time.Duration(v) * time.Second
	}
	if v, ok := asInt(options["max_frame_bytes"]); ok {
		cfg.MaxFrameBytes = int64(v)
	}
	if v, ok := asInt(options["send_queue_depth"]); ok {
		cfg.SendQueueDepth = v
	}
	if v, ok := options["log_level"].(string); ok {
		cfg.LogLevel = v
	}
	return cfg, nil
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}
