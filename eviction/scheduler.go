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

package eviction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/event"
	"github.com/blinklabs-io/tenure/gateway"
	"github.com/blinklabs-io/tenure/membership"
)

const (
	DefaultSweepInterval  = 60 * time.Second
	DefaultSweepTimeout   = 5 * time.Minute
	DefaultGatewayTimeout = 15 * time.Second

	// bounds the record delete after a confirmed removal, which runs even
	// when the sweep deadline has passed
	recordDeleteTimeout = 10 * time.Second

	tracerName = "github.com/blinklabs-io/tenure/eviction"
)

var (
	ErrSweepInProgress = errors.New("eviction sweep already in progress")
	ErrAlreadyStarted  = errors.New("eviction scheduler already started")
)

type SchedulerConfig struct {
	Store          types.Store
	Gateway        gateway.Gateway
	EventBus       *event.EventBus
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	Now            func() time.Time
	Policy         membership.Policy
	GroupID        int64
	SweepInterval  time.Duration
	SweepTimeout   time.Duration
	GatewayTimeout time.Duration
}

// SweepResult summarizes one pass over the tracked records
type SweepResult struct {
	Started   time.Time
	SweepID   string
	Evicted   []int64
	Failed    []int64
	Examined  int
	Due       int
	Cancelled int
	Malformed int
	Unreached int
	Duration  time.Duration
}

// Scheduler periodically evicts members whose decision window or retention
// period has run out. Sweeps never overlap.
type Scheduler struct {
	metrics  *schedulerMetrics
	stopCh   chan struct{}
	doneCh   chan struct{}
	config   SchedulerConfig
	mu       sync.Mutex
	sweeping atomic.Bool
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, errors.New("eviction scheduler requires a store")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("eviction scheduler requires a gateway")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Policy.DecisionWindow == 0 {
		cfg.Policy.DecisionWindow = membership.DefaultDecisionWindow
	}
	if cfg.Policy.RetentionPeriod == 0 {
		cfg.Policy.RetentionPeriod = membership.DefaultRetentionPeriod
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = DefaultSweepTimeout
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	s := &Scheduler{
		config: cfg,
	}
	s.initMetrics()
	return s, nil
}

// Start runs an immediate sweep and then one per SweepInterval until Stop
// is called or ctx is done. Cancelling ctx does not interrupt a sweep
// already in progress.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return ErrAlreadyStarted
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.stopCh = stopCh
	s.doneCh = doneCh
	ticker := time.NewTicker(s.config.SweepInterval)
	// Gateway calls must outlive shutdown, bounded only by their own timeouts
	sweepCtx := context.WithoutCancel(ctx)
	go func(t *time.Ticker, stop <-chan struct{}) {
		defer close(doneCh)
		defer t.Stop()
		s.loopSweep(sweepCtx)
		for {
			select {
			case <-t.C:
				// Prefer shutdown when both are ready
				select {
				case <-stop:
					return
				case <-ctx.Done():
					return
				default:
				}
				s.loopSweep(sweepCtx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}(ticker, stopCh)
	s.config.Logger.Info(
		fmt.Sprintf(
			"eviction scheduler started with interval %s",
			s.config.SweepInterval,
		),
		"component", "eviction",
	)
	return nil
}

// Stop prevents new sweeps and waits for the sweep in progress, if any, to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	doneCh := s.doneCh
	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	s.mu.Unlock()
	if doneCh != nil {
		<-doneCh
	}
}

func (s *Scheduler) loopSweep(ctx context.Context) {
	_, err := s.Sweep(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, ErrSweepInProgress) {
		s.config.Logger.Debug(
			"skipping scheduled sweep, previous sweep still running",
			"component", "eviction",
		)
		return
	}
	s.config.Logger.Error(
		fmt.Sprintf("eviction sweep failed: %s", err),
		"component", "eviction",
	)
}

// Sweep evaluates every tracked record once and evicts those that are due.
// It returns ErrSweepInProgress if another sweep is running.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.metrics.sweepsRejected.Inc()
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	result := SweepResult{
		SweepID: uuid.NewString(),
		Started: s.config.Now(),
	}
	logger := s.config.Logger.With(
		"component", "eviction",
		"sweep_id", result.SweepID,
	)
	ctx, cancel := context.WithTimeout(ctx, s.config.SweepTimeout)
	defer cancel()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "eviction.sweep")
	defer span.End()
	span.SetAttributes(attribute.String("sweep.id", result.SweepID))
	startTime := time.Now()

	snap, err := s.config.Store.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing failed")
		return result, fmt.Errorf("list membership records: %w", err)
	}
	result.Examined = len(snap.Records)
	result.Malformed = len(snap.Malformed)
	for _, m := range snap.Malformed {
		logger.Warn(
			"skipping malformed membership record",
			"key", m.Key,
			"error", m.Err,
		)
	}
	s.metrics.malformed.Add(float64(len(snap.Malformed)))

	for _, rec := range snap.Records {
		class := s.config.Policy.Classify(rec, result.Started)
		if !class.Due() {
			continue
		}
		result.Due++
		if ctx.Err() != nil {
			// Out of time, the rest are retried next sweep
			result.Unreached++
			continue
		}
		switch s.evictMember(ctx, logger, result.SweepID, result.Started, rec) {
		case outcomeEvicted:
			result.Evicted = append(result.Evicted, rec.MemberID)
		case outcomeFailed:
			result.Failed = append(result.Failed, rec.MemberID)
		case outcomeCancelled:
			result.Cancelled++
		}
	}

	result.Duration = time.Since(startTime)
	s.metrics.sweeps.Inc()
	s.metrics.sweepDuration.Observe(result.Duration.Seconds())
	s.metrics.lastSweep.Set(float64(result.Started.Unix()))
	span.SetAttributes(
		attribute.Int("sweep.examined", result.Examined),
		attribute.Int("sweep.due", result.Due),
		attribute.Int("sweep.evicted", len(result.Evicted)),
		attribute.Int("sweep.failed", len(result.Failed)),
	)
	if result.Due > 0 || result.Malformed > 0 {
		logger.Info(
			fmt.Sprintf(
				"sweep finished: %d evicted, %d failed, %d cancelled, %d unreached",
				len(result.Evicted),
				len(result.Failed),
				result.Cancelled,
				result.Unreached,
			),
			"examined", result.Examined,
			"malformed", result.Malformed,
			"duration", result.Duration,
		)
	} else {
		logger.Debug(
			"sweep finished with nothing due",
			"examined", result.Examined,
		)
	}
	if s.config.EventBus != nil {
		s.config.EventBus.Publish(
			SweepCompletedEventType,
			event.NewEvent(
				SweepCompletedEventType,
				SweepCompletedEvent{Result: result},
			),
		)
	}
	return result, nil
}

type evictOutcome int

const (
	outcomeEvicted evictOutcome = iota
	outcomeFailed
	outcomeCancelled
)

// evictMember removes one due member. The record is re-read first so that a
// choice or re-join made after the snapshot wins over the eviction.
func (s *Scheduler) evictMember(
	ctx context.Context,
	logger *slog.Logger,
	sweepID string,
	now time.Time,
	snapRec membership.Record,
) evictOutcome {
	memberID := snapRec.MemberID
	logger = logger.With("member_id", memberID)
	current, err := s.config.Store.Get(ctx, memberID)
	if err != nil {
		if errors.Is(err, types.ErrRecordNotFound) {
			logger.Debug("record removed since snapshot")
			return outcomeCancelled
		}
		logger.Error(fmt.Sprintf("failed to re-read record: %s", err))
		return outcomeFailed
	}
	if !current.JoinedAt.Equal(snapRec.JoinedAt) {
		logger.Debug("member re-joined since snapshot")
		return outcomeCancelled
	}
	class := s.config.Policy.Classify(current, now)
	if !class.Due() {
		logger.Debug(
			"member decided since snapshot",
			"state", current.State,
		)
		return outcomeCancelled
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	err = s.config.Gateway.RemoveMember(callCtx, s.config.GroupID, memberID)
	cancel()
	if err != nil {
		logger.Warn(
			fmt.Sprintf("failed to remove member, will retry: %s", err),
			"reason", class.Reason,
		)
		s.metrics.failures.WithLabelValues(string(class.Reason)).Inc()
		s.publish(
			EvictionFailedEventType,
			EvictionFailedEvent{
				Record:  current,
				Reason:  class.Reason,
				SweepID: sweepID,
				Error:   err,
			},
		)
		return outcomeFailed
	}

	deleteCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx),
		recordDeleteTimeout,
	)
	deleted, err := s.config.Store.DeleteIf(
		deleteCtx,
		memberID,
		func(r membership.Record) bool {
			return r.JoinedAt.Equal(current.JoinedAt)
		},
	)
	cancel()
	if err != nil {
		// The removal is idempotent, so the next sweep retries it
		logger.Error(
			fmt.Sprintf("member removed but record delete failed: %s", err),
		)
		s.metrics.failures.WithLabelValues(string(class.Reason)).Inc()
		return outcomeFailed
	}
	if !deleted {
		logger.Info("member re-joined during removal, keeping new record")
	}
	logger.Info(
		"evicted member",
		"reason", class.Reason,
		"display_name", current.DisplayName,
	)
	s.metrics.evictions.WithLabelValues(string(class.Reason)).Inc()
	s.publish(
		MemberEvictedEventType,
		MemberEvictedEvent{
			Record:     current,
			Reason:     class.Reason,
			SweepID:    sweepID,
			RecordKept: !deleted,
		},
	)
	return outcomeEvicted
}

func (s *Scheduler) publish(eventType event.EventType, data any) {
	if s.config.EventBus == nil {
		return
	}
	s.config.EventBus.Publish(eventType, event.NewEvent(eventType, data))
}
