// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/tenure/database"
	"github.com/blinklabs-io/tenure/database/plugin"
)

type ctxKey string

const configContextKey ctxKey = "tenure.config"

const envPrefix = "tenure"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const DefaultStorePlugin = database.DefaultBackend

// ErrPluginListRequested is returned when the user requests to list available plugins
// This is not an error condition but a successful operation that displays plugin information
var ErrPluginListRequested = errors.New("plugin list requested")

type Config struct {
	BotToken        string        `yaml:"botToken"        envconfig:"BOT_TOKEN"`
	DatabasePath    string        `yaml:"databasePath"                                split_words:"true"`
	StorePlugin     string        `yaml:"storePlugin"                                 split_words:"true"`
	RedisAddr       string        `yaml:"redisAddr"                                   split_words:"true"`
	RedisPassword   string        `yaml:"redisPassword"                               split_words:"true"`
	BindAddr        string        `yaml:"bindAddr"                                    split_words:"true"`
	DisplayTimezone string        `yaml:"displayTimezone"                             split_words:"true"`
	GroupID         int64         `yaml:"groupId"         envconfig:"TARGET_CHAT_ID"`
	RedisDb         int           `yaml:"redisDb"                                     split_words:"true"`
	MetricsPort     uint          `yaml:"metricsPort"                                 split_words:"true"`
	DecisionWindow  time.Duration `yaml:"decisionWindow"                              split_words:"true"`
	RetentionPeriod time.Duration `yaml:"retentionPeriod"                             split_words:"true"`
	SweepInterval   time.Duration `yaml:"sweepInterval"                               split_words:"true"`
	SweepTimeout    time.Duration `yaml:"sweepTimeout"                                split_words:"true"`
	GatewayTimeout  time.Duration `yaml:"gatewayTimeout"                              split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"                             split_words:"true"`
	Tracing         bool          `yaml:"tracing"`
	TracingStdout   bool          `yaml:"tracingStdout"                               split_words:"true"`
}

func defaultConfig() *Config {
	return &Config{
		BindAddr:        "0.0.0.0",
		DatabasePath:    ".tenure",
		StorePlugin:     DefaultStorePlugin,
		RedisAddr:       "localhost:6379",
		DisplayTimezone: "UTC",
		MetricsPort:     12799,
		DecisionWindow:  10 * time.Minute,
		RetentionPeriod: 24 * time.Hour,
		SweepInterval:   60 * time.Second,
		SweepTimeout:    5 * time.Minute,
		GatewayTimeout:  15 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

var globalConfig = defaultConfig()

// LoadConfig builds the config from defaults, then the YAML config file, then
// the environment. Values from .env.local and .env are added to the
// environment first without overriding variables that are already set.
func LoadConfig(configFile string) (*Config, error) {
	LoadDotEnv()
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.tenure/tenure.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".tenure", "tenure.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/tenure/tenure.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/tenure/tenure.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process(envPrefix, globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	if err := globalConfig.Validate(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}

// Validate checks settings shared by every command
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"decisionWindow":  c.DecisionWindow,
		"retentionPeriod": c.RetentionPeriod,
		"sweepInterval":   c.SweepInterval,
		"sweepTimeout":    c.SweepTimeout,
		"gatewayTimeout":  c.GatewayTimeout,
		"shutdownTimeout": c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %s (must be positive)", name, d)
		}
	}
	if c.StorePlugin != "list" {
		if _, ok := plugin.GetPlugin(c.StorePlugin); !ok {
			return fmt.Errorf(
				"unknown storePlugin: %q (available: %v)",
				c.StorePlugin,
				plugin.PluginNames(),
			)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ValidateBot checks the settings needed to connect to the chat platform
func (c *Config) ValidateBot() error {
	if c.BotToken == "" {
		return errors.New("no bot token configured (set BOT_TOKEN)")
	}
	if c.GroupID == 0 {
		return errors.New("no group configured (set TARGET_CHAT_ID)")
	}
	return nil
}

// Location returns the time zone used to render times in group messages
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf(
			"invalid displayTimezone %q: %w",
			c.DisplayTimezone,
			err,
		)
	}
	return loc, nil
}
