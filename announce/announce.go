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

// Package announce posts group notices about membership choices and evictions
package announce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/tenure/event"
	"github.com/blinklabs-io/tenure/eviction"
	"github.com/blinklabs-io/tenure/gateway"
	"github.com/blinklabs-io/tenure/intake"
	"github.com/blinklabs-io/tenure/membership"
)

const (
	DefaultGatewayTimeout = 15 * time.Second

	timeLayout = "2006-01-02 15:04 MST"
)

type AnnouncerConfig struct {
	Gateway         gateway.Gateway
	EventBus        *event.EventBus
	Logger          *slog.Logger
	PromRegistry    prometheus.Registerer
	Location        *time.Location
	GroupID         int64
	RetentionPeriod time.Duration
	GatewayTimeout  time.Duration
}

// Announcer turns decision and eviction events into group notices.
// Delivery is best-effort: failures are logged and counted only.
type Announcer struct {
	ctx        context.Context
	sent       *prometheus.CounterVec
	failed     prometheus.Counter
	config     AnnouncerConfig
	decidedSub event.EventSubscriberId
	evictedSub event.EventSubscriberId
	mu         sync.Mutex
}

func NewAnnouncer(cfg AnnouncerConfig) (*Announcer, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("announcer requires a gateway")
	}
	if cfg.EventBus == nil {
		return nil, errors.New("announcer requires an event bus")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = membership.DefaultRetentionPeriod
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	promautoFactory := promauto.With(cfg.PromRegistry)
	a := &Announcer{
		config: cfg,
		sent: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenure_announcements_sent_total",
				Help: "group notices delivered by kind",
			},
			[]string{"kind"},
		),
		failed: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "tenure_announcements_failed_total",
			Help: "group notices that could not be delivered",
		}),
	}
	return a, nil
}

// Start subscribes to membership events. Notices are sent with a context
// derived from ctx that is not cancelled along with it, so a notice already
// being delivered at shutdown is bounded only by the gateway timeout.
func (a *Announcer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.decidedSub != 0 || a.evictedSub != 0 {
		return errors.New("announcer already started")
	}
	a.ctx = context.WithoutCancel(ctx)
	a.decidedSub = a.config.EventBus.SubscribeFunc(
		intake.MemberDecidedEventType,
		a.handleDecided,
	)
	a.evictedSub = a.config.EventBus.SubscribeFunc(
		eviction.MemberEvictedEventType,
		a.handleEvicted,
	)
	if a.decidedSub == 0 || a.evictedSub == 0 {
		return errors.New("event bus is stopped")
	}
	return nil
}

func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.decidedSub != 0 {
		a.config.EventBus.Unsubscribe(intake.MemberDecidedEventType, a.decidedSub)
		a.decidedSub = 0
	}
	if a.evictedSub != 0 {
		a.config.EventBus.Unsubscribe(eviction.MemberEvictedEventType, a.evictedSub)
		a.evictedSub = 0
	}
}

func (a *Announcer) handleDecided(evt event.Event) {
	data, ok := evt.Data.(intake.MemberDecidedEvent)
	if !ok {
		return
	}
	a.send("decided", a.DecidedText(data))
}

func (a *Announcer) handleEvicted(evt event.Event) {
	data, ok := evt.Data.(eviction.MemberEvictedEvent)
	if !ok {
		return
	}
	a.send("evicted", EvictedText(data))
}

// DecidedText renders the notice confirming a member's choice
func (a *Announcer) DecidedText(data intake.MemberDecidedEvent) string {
	name := data.Record.DisplayName
	if data.Choice == membership.ChoicePermanent {
		return fmt.Sprintf("@%s chose permanent membership.", name)
	}
	return fmt.Sprintf(
		"@%s chose %s membership; removal at %s.",
		name,
		formatPeriod(a.config.RetentionPeriod),
		data.Deadline.In(a.config.Location).Format(timeLayout),
	)
}

// EvictedText renders the notice for a removed member
func EvictedText(data eviction.MemberEvictedEvent) string {
	reason := "retention period ended"
	if data.Reason == membership.ReasonNoChoiceMade {
		reason = "no choice made"
	}
	return fmt.Sprintf("@%s was removed (%s).", data.Record.DisplayName, reason)
}

func (a *Announcer) send(kind string, text string) {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, a.config.GatewayTimeout)
	defer cancel()
	if err := a.config.Gateway.Notify(ctx, a.config.GroupID, text); err != nil {
		a.failed.Inc()
		a.config.Logger.Warn(
			fmt.Sprintf("failed to send %s notice: %s", kind, err),
			"component", "announce",
		)
		return
	}
	a.sent.WithLabelValues(kind).Inc()
}

// formatPeriod renders whole hours or minutes compactly, e.g. "24h" or "90m"
func formatPeriod(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
