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

package tenure

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/tenure/database/plugin"
	"github.com/blinklabs-io/tenure/gateway"
	"github.com/blinklabs-io/tenure/membership"
)

type Config struct {
	promRegistry    prometheus.Registerer
	gateway         gateway.Gateway
	receiver        gateway.Receiver
	logger          *slog.Logger
	location        *time.Location
	now             func() time.Time
	dataDir         string
	storePlugin     string
	redisAddr       string
	redisPassword   string
	groupID         int64
	redisDB         int
	decisionWindow  time.Duration
	retentionPeriod time.Duration
	sweepInterval   time.Duration
	sweepTimeout    time.Duration
	gatewayTimeout  time.Duration
	shutdownTimeout time.Duration
	tracing         bool
	tracingStdout   bool
}

func (n *Node) configValidate() error {
	if n.config.gateway == nil {
		return errors.New("no gateway configured")
	}
	if n.config.groupID == 0 {
		return errors.New("no group ID configured")
	}
	if _, ok := plugin.GetPlugin(n.config.storePlugin); !ok {
		return fmt.Errorf(
			"unknown store plugin: %s (available: %v)",
			n.config.storePlugin,
			plugin.PluginNames(),
		)
	}
	for name, d := range map[string]time.Duration{
		"decision window":  n.config.decisionWindow,
		"retention period": n.config.retentionPeriod,
		"sweep interval":   n.config.sweepInterval,
		"sweep timeout":    n.config.sweepTimeout,
		"gateway timeout":  n.config.gatewayTimeout,
		"shutdown timeout": n.config.shutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %s", name, d)
		}
	}
	return nil
}

func (c *Config) policy() membership.Policy {
	return membership.Policy{
		DecisionWindow:  c.decisionWindow,
		RetentionPeriod: c.retentionPeriod,
	}
}

// ConfigOptionFunc is a type that represents functions that modify the Tenure config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new tenure config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		location:        time.UTC,
		now:             time.Now,
		storePlugin:     "badger",
		decisionWindow:  membership.DefaultDecisionWindow,
		retentionPeriod: membership.DefaultRetentionPeriod,
		sweepInterval:   60 * time.Second,
		sweepTimeout:    5 * time.Minute,
		gatewayTimeout:  15 * time.Second,
		shutdownTimeout: 30 * time.Second,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithStorePlugin specifies the membership store plugin to use
func WithStorePlugin(name string) ConfigOptionFunc {
	return func(c *Config) {
		if name != "" {
			c.storePlugin = name
		}
	}
}

// WithRedis specifies the connection settings for the redis store plugin
func WithRedis(addr string, password string, db int) ConfigOptionFunc {
	return func(c *Config) {
		c.redisAddr = addr
		c.redisPassword = password
		c.redisDB = db
	}
}

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithGateway specifies the chat platform used to prompt, notify and remove members
func WithGateway(gw gateway.Gateway) ConfigOptionFunc {
	return func(c *Config) {
		c.gateway = gw
	}
}

// WithReceiver specifies the source of join and choice events. Without one,
// events must be fed to Node.Intake directly.
func WithReceiver(receiver gateway.Receiver) ConfigOptionFunc {
	return func(c *Config) {
		c.receiver = receiver
	}
}

// WithGroupID specifies the chat ID of the managed group
func WithGroupID(groupID int64) ConfigOptionFunc {
	return func(c *Config) {
		c.groupID = groupID
	}
}

// WithDecisionWindow specifies how long a new member has to make a choice
func WithDecisionWindow(window time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.decisionWindow = window
	}
}

// WithRetentionPeriod specifies how long a timed member stays in the group
func WithRetentionPeriod(period time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.retentionPeriod = period
	}
}

func WithSweepInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.sweepInterval = interval
	}
}

func WithSweepTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.sweepTimeout = timeout
	}
}

// WithGatewayTimeout bounds each individual call to the chat platform
func WithGatewayTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.gatewayTimeout = timeout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithDisplayLocation specifies the time zone used when rendering times in group messages
func WithDisplayLocation(loc *time.Location) ConfigOptionFunc {
	return func(c *Config) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithNow overrides the clock. This is mostly useful for tests
func WithNow(now func() time.Time) ConfigOptionFunc {
	return func(c *Config) {
		c.now = now
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}
