// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads kluster settings from defaults, a YAML (or JSON) file,
// KLUSTER_ environment variables and --set overrides, in that order.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	kerrors "github.com/jllopis/kluster/pkg/errors"
)

const envPrefix = "KLUSTER_"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Store     StoreConfig     `koanf:"store"`
	Cluster   ClusterConfig   `koanf:"cluster"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type StoreConfig struct {
	Backend             string `koanf:"backend"` // sqlite, qdrant, memory
	SQLitePath          string `koanf:"sqlite_path"`
	QdrantAddr          string `koanf:"qdrant_addr"`
	PointsCollection    string `koanf:"points_collection"`
	CentroidsCollection string `koanf:"centroids_collection"`
	// Fixture is a dataset preloaded into the memory backend.
	Fixture            string `koanf:"fixture"`
	CallTimeoutSeconds int    `koanf:"call_timeout_seconds"`
}

// CallTimeout returns the per-call store deadline. Zero means none.
func (s StoreConfig) CallTimeout() time.Duration {
	return time.Duration(s.CallTimeoutSeconds) * time.Second
}

type ClusterConfig struct {
	IterationLimit int `koanf:"iteration_limit"`
	Dimension      int `koanf:"dimension"`
}

type TelemetryConfig struct {
	Enabled               bool   `koanf:"enabled"`
	Exporter              string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint          string `koanf:"otlp_endpoint"`
	OTLPInsecure          bool   `koanf:"otlp_insecure"`
	MetricIntervalSeconds int    `koanf:"metric_interval_seconds"`
}

var defaults = map[string]interface{}{
	"log.level":                         "info",
	"log.format":                        "text",
	"store.backend":                     BackendSQLite,
	"store.sqlite_path":                 "kluster.db",
	"store.qdrant_addr":                 "localhost:6334",
	"store.points_collection":           "movies",
	"store.centroids_collection":        "centroids",
	"store.call_timeout_seconds":        30,
	"cluster.iteration_limit":           100,
	"cluster.dimension":                 2,
	"telemetry.enabled":                 false,
	"telemetry.exporter":                "stdout",
	"telemetry.otlp_endpoint":           "localhost:4317",
	"telemetry.otlp_insecure":           true,
	"telemetry.metric_interval_seconds": 60,
}

// Load reads the configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithCLI resolves --config and --set from args on top of Load.
func LoadWithCLI(args []string) (*Config, error) {
	path, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(path, overrides)
}

func load(path string, overrides map[string]string) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		_ = k.Set(key, value)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, kerrors.New(kerrors.CodeConfiguration, "failed to load config file", err).
				WithContext("path", path)
		}
	}

	// KLUSTER_STORE_SQLITE_PATH -> store.sqlite_path
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for key, raw := range overrides {
		if err := k.Set(key, raw); err != nil {
			return nil, kerrors.New(kerrors.CodeConfiguration, "invalid --set override", err).
				WithContext("key", key)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, kerrors.New(kerrors.CodeConfiguration, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + rest
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendQdrant, BackendMemory:
	default:
		return kerrors.Configuration("unknown store backend").WithContext("backend", c.Store.Backend)
	}
	for _, name := range []string{c.Store.PointsCollection, c.Store.CentroidsCollection} {
		if !identifierPattern.MatchString(name) {
			return kerrors.Configuration("invalid collection name").WithContext("name", name)
		}
	}
	if c.Store.PointsCollection == c.Store.CentroidsCollection {
		return kerrors.Configuration("points and centroids collections must differ")
	}
	if c.Store.CallTimeoutSeconds < 0 {
		return kerrors.Configuration("store.call_timeout_seconds must not be negative")
	}
	if c.Cluster.IterationLimit < 1 {
		return kerrors.Configuration("cluster.iteration_limit must be at least 1").
			WithContext("iteration_limit", c.Cluster.IterationLimit)
	}
	if c.Cluster.Dimension < 1 {
		return kerrors.Configuration("cluster.dimension must be at least 1").
			WithContext("dimension", c.Cluster.Dimension)
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp":
	default:
		return kerrors.Configuration("unknown telemetry exporter").WithContext("exporter", c.Telemetry.Exporter)
	}
	return nil
}

// parseCLIOverrides extracts --config and repeated --set key=value pairs.
// Unrelated arguments are ignored.
func parseCLIOverrides(args []string) (string, map[string]string, error) {
	var path string
	overrides := map[string]string{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--config requires a value")
			}
			i++
			path = args[i]
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		case arg == "--set":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--set requires key=value")
			}
			i++
			if err := addOverride(overrides, args[i]); err != nil {
				return "", nil, err
			}
		case strings.HasPrefix(arg, "--set="):
			if err := addOverride(overrides, strings.TrimPrefix(arg, "--set=")); err != nil {
				return "", nil, err
			}
		}
	}
	return path, overrides, nil
}

func addOverride(overrides map[string]string, pair string) error {
	key, value, ok := strings.Cut(pair, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("invalid --set value %q, expected key=value", pair)
	}
	overrides[key] = strings.TrimSpace(value)
	return nil
}
