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

// Package gateway defines the boundary between membership tracking and the
// chat platform that hosts the managed group.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/tenure/membership"
)

// ErrCallFailed is wrapped by every error returned from a platform call
var ErrCallFailed = errors.New("gateway call failed")

const (
	OpRemoveMember  = "remove_member"
	OpNotify        = "notify"
	OpPresentChoice = "present_choice"
)

// CallError describes a failed or timed out platform call
type CallError struct {
	Err      error
	Op       string
	MemberID int64
}

func (e *CallError) Error() string {
	if e.MemberID == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("%s for member %d: %s", e.Op, e.MemberID, e.Err)
}

func (e *CallError) Unwrap() []error {
	return []error{ErrCallFailed, e.Err}
}

// NewCallError wraps err as a CallError, or returns nil if err is nil
func NewCallError(op string, memberID int64, err error) error {
	if err == nil {
		return nil
	}
	return &CallError{Op: op, MemberID: memberID, Err: err}
}

// Gateway is the outbound side of the chat platform. Every call may block
// and callers bound it with a context deadline.
type Gateway interface {
	// RemoveMember removes a member from the group such that they may rejoin later
	RemoveMember(ctx context.Context, groupID int64, memberID int64) error
	// Notify posts a best-effort message to the group
	Notify(ctx context.Context, groupID int64, text string) error
	// PresentChoice prompts a newly joined member to pick a membership choice
	PresentChoice(
		ctx context.Context,
		groupID int64,
		memberID int64,
		displayName string,
		deadline time.Time,
	) error
}

// Handler consumes inbound platform events
type Handler interface {
	OnJoin(
		ctx context.Context,
		memberID int64,
		displayName string,
		now time.Time,
	) error
	OnChoice(
		ctx context.Context,
		memberID int64,
		choice membership.Choice,
		now time.Time,
	) (membership.ChoiceOutcome, error)
}

// Receiver delivers inbound platform events to a Handler until ctx is done
type Receiver interface {
	Receive(ctx context.Context, handler Handler) error
}
