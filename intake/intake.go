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

// Package intake records member joins and membership choices as they arrive
// from the chat platform.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/event"
	"github.com/blinklabs-io/tenure/gateway"
	"github.com/blinklabs-io/tenure/membership"
)

const DefaultGatewayTimeout = 15 * time.Second

var errAlreadyDecided = errors.New("member already decided")

type IntakeConfig struct {
	Store          types.Store
	Gateway        gateway.Gateway
	EventBus       *event.EventBus
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	Policy         membership.Policy
	GroupID        int64
	GatewayTimeout time.Duration
}

type Intake struct {
	metrics *intakeMetrics
	config  IntakeConfig
}

var _ gateway.Handler = (*Intake)(nil)

func NewIntake(cfg IntakeConfig) (*Intake, error) {
	if cfg.Store == nil {
		return nil, errors.New("intake requires a store")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("intake requires a gateway")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Policy.DecisionWindow == 0 {
		cfg.Policy.DecisionWindow = membership.DefaultDecisionWindow
	}
	if cfg.Policy.RetentionPeriod == 0 {
		cfg.Policy.RetentionPeriod = membership.DefaultRetentionPeriod
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	i := &Intake{config: cfg}
	i.initMetrics()
	return i, nil
}

// OnJoin starts tracking a member with a fresh undecided record, replacing
// any earlier record, and prompts them to choose. The record is stored before
// the prompt is sent, so a failed prompt is logged and not returned.
func (i *Intake) OnJoin(
	ctx context.Context,
	memberID int64,
	displayName string,
	now time.Time,
) error {
	rec := membership.NewRecord(memberID, displayName, now)
	if err := i.config.Store.Put(ctx, rec); err != nil {
		return fmt.Errorf("record join of member %d: %w", memberID, err)
	}
	i.metrics.joins.Inc()
	deadline := i.config.Policy.Deadline(rec)
	i.config.Logger.Info(
		"member joined",
		"component", "intake",
		"member_id", memberID,
		"display_name", rec.DisplayName,
		"deadline", deadline,
	)

	callCtx, cancel := context.WithTimeout(ctx, i.config.GatewayTimeout)
	err := i.config.Gateway.PresentChoice(
		callCtx,
		i.config.GroupID,
		memberID,
		rec.DisplayName,
		deadline,
	)
	cancel()
	if err != nil {
		i.metrics.promptFailures.Inc()
		i.config.Logger.Warn(
			fmt.Sprintf("failed to present choice: %s", err),
			"component", "intake",
			"member_id", memberID,
		)
	}
	i.publish(
		MemberJoinedEventType,
		MemberJoinedEvent{
			Record:   rec,
			Deadline: deadline,
			Prompted: err == nil,
		},
	)
	return nil
}

// OnChoice applies a member's choice if they are still undecided. A choice
// made after the decision deadline is accepted as long as the member has not
// been evicted yet. An invalid choice or a store failure is returned as an
// error with ChoiceRejected.
func (i *Intake) OnChoice(
	ctx context.Context,
	memberID int64,
	choice membership.Choice,
	now time.Time,
) (membership.ChoiceOutcome, error) {
	newState, err := choice.State()
	if err != nil {
		return membership.ChoiceRejected, err
	}
	var updated membership.Record
	err = i.config.Store.Update(
		ctx,
		memberID,
		func(rec *membership.Record) error {
			if rec.State != membership.StateUndecided {
				return errAlreadyDecided
			}
			rec.State = newState
			updated = *rec
			return nil
		},
	)
	logger := i.config.Logger.With(
		"component", "intake",
		"member_id", memberID,
		"choice", string(choice),
	)
	switch {
	case errors.Is(err, types.ErrRecordNotFound):
		i.metrics.choices.WithLabelValues(membership.ChoiceUnknownMember.String()).Inc()
		logger.Debug("choice from untracked member ignored")
		return membership.ChoiceUnknownMember, nil
	case errors.Is(err, errAlreadyDecided):
		i.metrics.choices.WithLabelValues(membership.ChoiceAlreadyDecided.String()).Inc()
		logger.Debug("choice from decided member ignored")
		return membership.ChoiceAlreadyDecided, nil
	case err != nil:
		return membership.ChoiceRejected, fmt.Errorf(
			"record choice of member %d: %w",
			memberID,
			err,
		)
	}
	i.metrics.choices.WithLabelValues(membership.ChoiceAccepted.String()).Inc()
	deadline := i.config.Policy.Deadline(updated)
	if windowEnd := updated.JoinedAt.Add(i.config.Policy.DecisionWindow); !now.Before(windowEnd) {
		logger.Info(
			"accepted choice after decision window",
			"window_end", windowEnd,
		)
	} else {
		logger.Info("accepted choice")
	}
	i.publish(
		MemberDecidedEventType,
		MemberDecidedEvent{
			Record:   updated,
			Choice:   choice,
			Deadline: deadline,
		},
	)
	return membership.ChoiceAccepted, nil
}

func (i *Intake) publish(eventType event.EventType, data any) {
	if i.config.EventBus == nil {
		return
	}
	i.config.EventBus.Publish(eventType, event.NewEvent(eventType, data))
}
