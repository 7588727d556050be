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

package testutil

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/tenure/gateway"
)

// Prompt records one PresentChoice call
type Prompt struct {
	Deadline    time.Time
	DisplayName string
	GroupID     int64
	MemberID    int64
}

// FakeGateway is an in-memory gateway.Gateway. Hooks, when set, decide the
// result of a call; otherwise calls succeed.
type FakeGateway struct {
	RemoveHook  func(ctx context.Context, memberID int64) error
	NotifyHook  func(ctx context.Context, text string) error
	PromptHook  func(ctx context.Context, memberID int64) error
	removed     []int64
	removeCalls []int64
	notes       []string
	prompts     []Prompt
	mu          sync.Mutex
}

var _ gateway.Gateway = (*FakeGateway)(nil)

func (f *FakeGateway) RemoveMember(
	ctx context.Context,
	groupID int64,
	memberID int64,
) error {
	f.mu.Lock()
	f.removeCalls = append(f.removeCalls, memberID)
	hook := f.RemoveHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, memberID); err != nil {
			return gateway.NewCallError(gateway.OpRemoveMember, memberID, err)
		}
	}
	f.mu.Lock()
	f.removed = append(f.removed, memberID)
	f.mu.Unlock()
	return nil
}

func (f *FakeGateway) Notify(
	ctx context.Context,
	groupID int64,
	text string,
) error {
	f.mu.Lock()
	hook := f.NotifyHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, text); err != nil {
			return gateway.NewCallError(gateway.OpNotify, 0, err)
		}
	}
	f.mu.Lock()
	f.notes = append(f.notes, text)
	f.mu.Unlock()
	return nil
}

func (f *FakeGateway) PresentChoice(
	ctx context.Context,
	groupID int64,
	memberID int64,
	displayName string,
	deadline time.Time,
) error {
	f.mu.Lock()
	hook := f.PromptHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, memberID); err != nil {
			return gateway.NewCallError(gateway.OpPresentChoice, memberID, err)
		}
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, Prompt{
		GroupID:     groupID,
		MemberID:    memberID,
		DisplayName: displayName,
		Deadline:    deadline,
	})
	f.mu.Unlock()
	return nil
}

// Removed returns the members successfully removed, in call order
func (f *FakeGateway) Removed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.removed)
}

// RemoveCalls returns every member a removal was attempted for, in call order
func (f *FakeGateway) RemoveCalls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.removeCalls)
}

// Notifications returns the text of every delivered notification
func (f *FakeGateway) Notifications() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.notes)
}

// Prompts returns every delivered choice prompt
func (f *FakeGateway) Prompts() []Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.prompts)
}

// RequireRemoved waits until exactly the given members have been removed, in
// any order
func (f *FakeGateway) RequireRemoved(
	t *testing.T,
	timeout time.Duration,
	memberIDs ...int64,
) {
	t.Helper()
	WaitForCondition(
		t,
		func() bool { return len(f.Removed()) >= len(memberIDs) },
		timeout,
		"members were not removed",
	)
	require.ElementsMatch(t, memberIDs, f.Removed())
}

// RequireNotices waits until count notifications were delivered and returns them
func (f *FakeGateway) RequireNotices(
	t *testing.T,
	timeout time.Duration,
	count int,
) []string {
	t.Helper()
	WaitForCondition(
		t,
		func() bool { return len(f.Notifications()) >= count },
		timeout,
		"notices were not delivered",
	)
	notes := f.Notifications()
	require.Len(t, notes, count)
	return notes
}
