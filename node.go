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

// Package tenure wires the membership store, decision intake, eviction
// scheduler and announcer around a chat platform gateway.
package tenure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/tenure/announce"
	"github.com/blinklabs-io/tenure/database"
	"github.com/blinklabs-io/tenure/event"
	"github.com/blinklabs-io/tenure/eviction"
	"github.com/blinklabs-io/tenure/intake"
)

type Node struct {
	db            *database.Database
	eventBus      *event.EventBus
	intake        *intake.Intake
	scheduler     *eviction.Scheduler
	announcer     *announce.Announcer
	receiveCancel context.CancelFunc
	receiveDone   chan struct{}
	receiveErr    chan error
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	startMu       sync.Mutex
	shutdownOnce  sync.Once
	started       bool
}

func New(cfg Config) (*Node, error) {
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	n := &Node{
		config:     cfg,
		done:       make(chan struct{}),
		receiveErr: make(chan error, 1),
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	n.eventBus = event.NewEventBus(cfg.promRegistry, cfg.logger)
	return n, nil
}

// Start opens the store and starts every component without blocking
func (n *Node) Start(ctx context.Context) error {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	if n.started {
		return errors.New("node already started")
	}
	n.started = true
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		Logger:        n.config.logger,
		PromRegistry:  n.config.promRegistry,
		Backend:       n.config.storePlugin,
		DataDir:       n.config.dataDir,
		RedisAddr:     n.config.redisAddr,
		RedisPassword: n.config.redisPassword,
		RedisDB:       n.config.redisDB,
		GroupID:       n.config.groupID,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Decision intake
	n.intake, err = intake.NewIntake(intake.IntakeConfig{
		Store:          n.db,
		Gateway:        n.config.gateway,
		EventBus:       n.eventBus,
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
		Policy:         n.config.policy(),
		GroupID:        n.config.groupID,
		GatewayTimeout: n.config.gatewayTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create intake: %w", err)
	}
	// Announcer is subscribed before the first sweep can publish
	n.announcer, err = announce.NewAnnouncer(announce.AnnouncerConfig{
		Gateway:         n.config.gateway,
		EventBus:        n.eventBus,
		Logger:          n.config.logger,
		PromRegistry:    n.config.promRegistry,
		Location:        n.config.location,
		GroupID:         n.config.groupID,
		RetentionPeriod: n.config.retentionPeriod,
		GatewayTimeout:  n.config.gatewayTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create announcer: %w", err)
	}
	if err := n.announcer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start announcer: %w", err)
	}
	// Eviction scheduler
	n.scheduler, err = eviction.NewScheduler(eviction.SchedulerConfig{
		Store:          n.db,
		Gateway:        n.config.gateway,
		EventBus:       n.eventBus,
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
		Now:            n.config.now,
		Policy:         n.config.policy(),
		GroupID:        n.config.groupID,
		SweepInterval:  n.config.sweepInterval,
		SweepTimeout:   n.config.sweepTimeout,
		GatewayTimeout: n.config.gatewayTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create eviction scheduler: %w", err)
	}
	if err := n.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start eviction scheduler: %w", err)
	}
	// Inbound platform events
	if n.config.receiver != nil {
		receiveCtx, cancel := context.WithCancel(ctx)
		n.receiveCancel = cancel
		n.receiveDone = make(chan struct{})
		go func() {
			defer close(n.receiveDone)
			if err := n.config.receiver.Receive(receiveCtx, n.intake); err != nil {
				n.receiveErr <- fmt.Errorf("receiver failed: %w", err)
			}
		}()
	}
	n.config.logger.Info(
		"tenure started",
		"component", "node",
		"group_id", n.config.groupID,
		"store", n.config.storePlugin,
		"decision_window", n.config.decisionWindow,
		"retention_period", n.config.retentionPeriod,
	)
	return nil
}

// Run starts the node and blocks until ctx is done, Stop is called, or the
// receiver fails
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return nil
	case err := <-n.receiveErr:
		return err
	}
}

// Intake returns the decision intake, for feeding events without a receiver.
// It is nil until Start has returned.
func (n *Node) Intake() *intake.Intake {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	return n.intake
}

// Scheduler returns the eviction scheduler. It is nil until Start has returned.
func (n *Node) Scheduler() *eviction.Scheduler {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	return n.scheduler
}

func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	ctx, cancel := context.WithTimeout(
		context.Background(),
		n.config.shutdownTimeout,
	)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown", "component", "node")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug("shutdown phase 1: stopping receiver", "component", "node")
	if n.receiveCancel != nil {
		n.receiveCancel()
		if waitErr := waitFor(ctx, n.receiveDone); waitErr != nil {
			err = errors.Join(err, fmt.Errorf("receiver shutdown: %w", waitErr))
		}
	}

	// Phase 2: Let an in-flight sweep finish its gateway calls
	n.config.logger.Debug("shutdown phase 2: stopping eviction scheduler", "component", "node")
	if n.scheduler != nil {
		stopped := make(chan struct{})
		go func() {
			n.scheduler.Stop()
			close(stopped)
		}()
		if waitErr := waitFor(ctx, stopped); waitErr != nil {
			err = errors.Join(err, fmt.Errorf("eviction scheduler shutdown: %w", waitErr))
		}
	}

	// Phase 3: Drain notices
	n.config.logger.Debug("shutdown phase 3: draining notices", "component", "node")
	drained := make(chan struct{})
	go func() {
		if n.announcer != nil {
			n.announcer.Stop()
		}
		if n.eventBus != nil {
			n.eventBus.Stop()
		}
		close(drained)
	}()
	if waitErr := waitFor(ctx, drained); waitErr != nil {
		err = errors.Join(err, fmt.Errorf("notice drain: %w", waitErr))
	}

	// Phase 4: Close database and cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources", "component", "node")
	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	n.config.logger.Debug("graceful shutdown complete", "component", "node")
	close(n.done)
	return err
}

func waitFor(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
