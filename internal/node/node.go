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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blinklabs-io/tenure"
	"github.com/blinklabs-io/tenure/gateway/telegram"
	"github.com/blinklabs-io/tenure/internal/config"
)

// NodeConfig translates the loaded config into orchestrator options. The
// platform client is used as both gateway and receiver.
func NodeConfig(
	cfg *config.Config,
	logger *slog.Logger,
	client *telegram.Client,
) (tenure.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return tenure.Config{}, err
	}
	return tenure.NewConfig(
		tenure.WithLogger(logger),
		tenure.WithDatabasePath(cfg.DatabasePath),
		tenure.WithStorePlugin(cfg.StorePlugin),
		tenure.WithRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDb),
		tenure.WithGateway(client),
		tenure.WithReceiver(client),
		tenure.WithGroupID(cfg.GroupID),
		tenure.WithDecisionWindow(cfg.DecisionWindow),
		tenure.WithRetentionPeriod(cfg.RetentionPeriod),
		tenure.WithSweepInterval(cfg.SweepInterval),
		tenure.WithSweepTimeout(cfg.SweepTimeout),
		tenure.WithGatewayTimeout(cfg.GatewayTimeout),
		tenure.WithShutdownTimeout(cfg.ShutdownTimeout),
		tenure.WithDisplayLocation(loc),
		tenure.WithTracing(cfg.Tracing),
		tenure.WithTracingStdout(cfg.TracingStdout),
		// Enable metrics with default prometheus registry
		tenure.WithPrometheusRegistry(prometheus.DefaultRegisterer),
	), nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(
		fmt.Sprintf(
			"config: store=%s group=%d window=%s retention=%s",
			cfg.StorePlugin,
			cfg.GroupID,
			cfg.DecisionWindow,
			cfg.RetentionPeriod,
		),
		"component", "node",
	)
	if err := cfg.ValidateBot(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	client, err := telegram.New(
		cfg.BotToken,
		cfg.GroupID,
		telegram.WithLogger(logger),
		telegram.WithCallTimeout(cfg.GatewayTimeout),
		telegram.WithLocation(loc),
		telegram.WithRetentionPeriod(cfg.RetentionPeriod),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	nodeCfg, err := NodeConfig(cfg, logger, client)
	if err != nil {
		return err
	}
	n, err := tenure.New(nodeCfg)
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		"node",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run node in goroutine
	errChan := make(chan error, 1)
	go func() {
		//nolint:contextcheck
		errChan <- n.Run(signalCtx)
	}()

	shutdownMetrics := func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			cfg.ShutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Run returns once the signal context is done or the receiver fails
	runErr := <-errChan
	if signalCtx.Err() != nil {
		logger.Info("signal received, initiating graceful shutdown")
	} else if runErr != nil {
		logger.Error("node error", "error", runErr)
	}
	signalCtxStop()
	shutdownMetrics()
	if stopErr := n.Stop(); stopErr != nil {
		logger.Error("shutdown errors occurred", "error", stopErr)
		if runErr == nil {
			return stopErr
		}
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}
