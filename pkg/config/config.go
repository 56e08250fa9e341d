// Copyright 2026 Hearth Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package config loads platform settings from the environment, with an
// optional .env file for development setups.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hearth-labs/hearth/pkg/fault"
)

// Agent modes.
const (
	ModeDemo = "demo"
	ModeLive = "live"
)

// Config is the resolved platform configuration.
type Config struct {
	// AgentMode selects demo fixtures or live upstream integrations.
	AgentMode string

	// LLM endpoint settings
	LLMBaseURL string
	LLMModel   string
	LLMTimeout time.Duration

	// Cache settings
	CacheDir   string
	CacheL2URL string

	// MinConfidence is the interpretation confidence floor.
	MinConfidence float64

	// Service addresses
	RegistryURL     string
	GatewayPort     int
	CoordinatorPort int

	// EncryptDatabases turns on at-rest encryption for sqlite stores.
	// The key comes from HEARTH_DB_KEY.
	EncryptDatabases bool

	// PolicyFile, when set, seeds and hot-reloads coordinator policy.
	PolicyFile string

	// LogLevel and LogFormat configure the zap logger.
	LogLevel  string
	LogFormat string
}

// Load resolves configuration from the environment. A .env file in the
// working directory is merged in when present, without overriding
// variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("AGENT_MODE", ModeDemo)
	v.SetDefault("LLM_BASE_URL", "http://localhost:11434")
	v.SetDefault("LLM_MODEL", "qwen2.5:3b")
	v.SetDefault("LLM_TIMEOUT_MS", 5000)
	v.SetDefault("CACHE_DIR", defaultCacheDir())
	v.SetDefault("CACHE_L2_URL", "")
	v.SetDefault("MIN_CONFIDENCE", 0.7)
	v.SetDefault("REGISTRY_URL", "http://localhost:9100")
	v.SetDefault("GATEWAY_PORT", 9000)
	v.SetDefault("COORDINATOR_PORT", 9001)
	v.SetDefault("ENCRYPT_DATABASES", false)
	v.SetDefault("POLICY_FILE", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	cfg := &Config{
		AgentMode:        v.GetString("AGENT_MODE"),
		LLMBaseURL:       v.GetString("LLM_BASE_URL"),
		LLMModel:         v.GetString("LLM_MODEL"),
		LLMTimeout:       time.Duration(v.GetInt("LLM_TIMEOUT_MS")) * time.Millisecond,
		CacheDir:         v.GetString("CACHE_DIR"),
		CacheL2URL:       v.GetString("CACHE_L2_URL"),
		MinConfidence:    v.GetFloat64("MIN_CONFIDENCE"),
		RegistryURL:      v.GetString("REGISTRY_URL"),
		GatewayPort:      v.GetInt("GATEWAY_PORT"),
		CoordinatorPort:  v.GetInt("COORDINATOR_PORT"),
		EncryptDatabases: v.GetBool("ENCRYPT_DATABASES"),
		PolicyFile:       v.GetString("POLICY_FILE"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogFormat:        v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AgentMode != ModeDemo && c.AgentMode != ModeLive {
		return fault.New(fault.KindBadRequest, fmt.Sprintf("AGENT_MODE must be %q or %q, got %q", ModeDemo, ModeLive, c.AgentMode))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fault.New(fault.KindBadRequest, fmt.Sprintf("MIN_CONFIDENCE must be in [0,1], got %g", c.MinConfidence))
	}
	if c.LLMTimeout <= 0 {
		return fault.New(fault.KindBadRequest, "LLM_TIMEOUT_MS must be positive")
	}
	if c.GatewayPort <= 0 || c.GatewayPort > 65535 {
		return fault.New(fault.KindBadRequest, fmt.Sprintf("GATEWAY_PORT %d is out of range", c.GatewayPort))
	}
	if c.CoordinatorPort <= 0 || c.CoordinatorPort > 65535 {
		return fault.New(fault.KindBadRequest, fmt.Sprintf("COORDINATOR_PORT %d is out of range", c.CoordinatorPort))
	}
	if c.EncryptDatabases && os.Getenv("HEARTH_DB_KEY") == "" {
		return fault.New(fault.KindBadRequest, "ENCRYPT_DATABASES is set but HEARTH_DB_KEY is empty")
	}
	return nil
}

// CachePath returns the sqlite path for a named database under CacheDir.
func (c *Config) CachePath(name string) string {
	return filepath.Join(c.CacheDir, name)
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hearth"
	}
	return filepath.Join(home, ".hearth")
}
