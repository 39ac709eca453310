/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads process configuration from the environment, with
// an optional YAML overlay file for local development, validated with
// struct tags before any component is constructed from it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full set of environment-driven settings threaded through
// every component constructor. Nothing in this module consults the
// environment directly outside of Load.
type Config struct {
	HTTPPort     int `validate:"min=1,max=65535"`
	NotifierPort int `validate:"min=1,max=65535"`

	BusURL   string `validate:"required"`
	StoreDSN string `validate:"required"`

	AdapterURL string `validate:"omitempty"`

	TokenSecret string        `validate:"required,min=16"`
	TokenExpiry time.Duration `validate:"required"`

	HotRetentionBound  time.Duration `validate:"required"`
	WarmRetentionBound time.Duration `validate:"required"`
	MerkleWindowSize   time.Duration `validate:"required"`

	MaxDeliver     int           `validate:"min=1"`
	DedupWindow    time.Duration `validate:"required"`
	RoomMemberCap  int           `validate:"min=1"`

	EnableCompression bool
	EnableRateLimit   bool
}

// Load populates a Config from the process environment, applying the
// documented defaults, then validates it.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:           envInt("HTTP_PORT", 8080),
		NotifierPort:       envInt("NOTIFIER_PORT", 8081),
		BusURL:             envString("BUS_URL", ""),
		StoreDSN:           envString("STORE_DSN", ""),
		AdapterURL:         envString("ADAPTER_URL", ""),
		TokenSecret:        envString("TOKEN_SECRET", ""),
		TokenExpiry:        envDuration("TOKEN_EXPIRY", time.Hour),
		HotRetentionBound:  envDuration("HOT_RETENTION_BOUND", 30*24*time.Hour),
		WarmRetentionBound: envDuration("WARM_RETENTION_BOUND", 365*24*time.Hour),
		MerkleWindowSize:   envDuration("MERKLE_WINDOW_SIZE", time.Hour),
		MaxDeliver:         envInt("MAX_DELIVER", 3),
		DedupWindow:        envDuration("DEDUP_WINDOW", 10*time.Minute),
		RoomMemberCap:      envInt("ROOM_MEMBER_CAP", 1000),
		EnableCompression:  envBool("ENABLE_COMPRESSION", false),
		EnableRateLimit:    envBool("ENABLE_RATE_LIMIT", false),
	}

	if overlay := os.Getenv("CONFIG_FILE"); overlay != "" {
		if err := applyYAMLOverlay(cfg, overlay); err != nil {
			return nil, fmt.Errorf("apply config overlay %s: %w", overlay, err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyYAMLOverlay(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, cfg)
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
