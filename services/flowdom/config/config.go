// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates flowdom configuration.
//
// Configuration is YAML. Absent keys keep their defaults; unknown keys are
// rejected.
//
//	max_nodes: 1000000
//	max_iterations: 100
//	cache_size: 128
//	log_level: info
//	log_format: auto
//	log_dir: ""
//	trace_exporter: none
//	otlp_endpoint: localhost:4317
//	otlp_insecure: true
//	metric_exporter: none
//	server:
//	  listen_addr: 127.0.0.1:8080
//	  rate_limit: 50
//	  rate_burst: 100
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use. Config values are
//	plain data and must not be mutated while shared.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AleutianAI/flowdom/services/flowdom/dominators"
	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize is the largest accepted configuration file (1MB).
const MaxConfigFileSize = 1024 * 1024

// ErrInvalidConfig is returned for unreadable, malformed or out-of-range
// configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// configValidate caches struct metadata and is safe for concurrent use.
var configValidate = validator.New()

// Config holds the tunables of the analysis engine and its CLI.
type Config struct {
	// MaxNodes caps the nodes of one control-flow graph, sentinels included.
	MaxNodes int `yaml:"max_nodes" validate:"gte=3"`

	// MaxIterations caps the dominator fixpoint iterations.
	MaxIterations int `yaml:"max_iterations" validate:"gte=1,lte=100000"`

	// CacheSize is the number of memoized analyses. 0 disables caching.
	CacheSize int `yaml:"cache_size" validate:"gte=0,lte=1000000"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat is text, json, or auto (json unless stderr is a terminal).
	LogFormat string `yaml:"log_format" validate:"oneof=text json auto"`

	// LogDir enables JSON file logging in this directory. Empty disables it.
	LogDir string `yaml:"log_dir"`

	// TraceExporter is none, stdout, or otlp.
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`

	// OTLPEndpoint is the OTLP gRPC receiver (host:port) used by the otlp
	// trace exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"omitempty,hostname_port"`

	// OTLPInsecure disables TLS towards OTLPEndpoint.
	OTLPInsecure bool `yaml:"otlp_insecure"`

	// MetricExporter is none, stdout, or prometheus.
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`

	// Server configures the HTTP API of the serve command.
	Server ServerConfig `yaml:"server"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// ListenAddr is the host:port to listen on.
	ListenAddr string `yaml:"listen_addr" validate:"required,hostname_port"`

	// RateLimit is the sustained requests per second accepted by the
	// analysis endpoints. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// RateBurst is the largest burst above RateLimit.
	RateBurst int `yaml:"rate_burst" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxNodes:       graph.DefaultMaxNodes,
		MaxIterations:  dominators.DefaultMaxIterations,
		CacheSize:      128,
		LogLevel:       "info",
		LogFormat:      "auto",
		TraceExporter:  "none",
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
		MetricExporter: "none",
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8080",
			RateLimit:  50,
			RateBurst:  100,
		},
	}
}

// Validate checks every field against its constraints.
//
// Errors:
//
//	ErrInvalidConfig - Wrapping the first failed constraint
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s fails %q (value %v)", ErrInvalidConfig, fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.TraceExporter == "otlp" && c.OTLPEndpoint == "" {
		return fmt.Errorf("%w: trace_exporter otlp needs otlp_endpoint", ErrInvalidConfig)
	}
	return nil
}

// SlogLevel returns LogLevel as a slog.Level. Unknown levels map to Info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Parse decodes YAML on top of Default() and validates the result. Empty
// input yields the defaults.
//
// Errors:
//
//	ErrInvalidConfig - Malformed YAML, unknown keys, or failed validation
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the configuration file at path.
//
// Errors:
//
//	ErrInvalidConfig - File unreadable, too large, or invalid
func Load(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if info.Size() > MaxConfigFileSize {
		return Config{}, fmt.Errorf("%w: %s is %d bytes, limit %d",
			ErrInvalidConfig, path, info.Size(), MaxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return Parse(data)
}
