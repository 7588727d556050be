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

package intake_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/event"
	"github.com/blinklabs-io/tenure/intake"
	"github.com/blinklabs-io/tenure/internal/test/testutil"
	"github.com/blinklabs-io/tenure/membership"
)

const testGroupID = -1001234

var joinTime = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newIntake(
	t *testing.T,
	store types.Store,
	gw *testutil.FakeGateway,
	bus *event.EventBus,
	reg prometheus.Registerer,
) *intake.Intake {
	t.Helper()
	in, err := intake.NewIntake(intake.IntakeConfig{
		Store:        store,
		Gateway:      gw,
		EventBus:     bus,
		PromRegistry: reg,
		GroupID:      testGroupID,
	})
	require.NoError(t, err)
	return in
}

func TestOnJoinRecordsAndPrompts(t *testing.T) {
	store := testutil.NewMemStore()
	gw := &testutil.FakeGateway{}
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	_, joined := bus.Subscribe(intake.MemberJoinedEventType)
	in := newIntake(t, store, gw, bus, nil)

	require.NoError(t, in.OnJoin(context.Background(), 42, "alice", joinTime))

	rec, err := store.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, membership.StateUndecided, rec.State)
	assert.Equal(t, "alice", rec.DisplayName)
	assert.True(t, rec.JoinedAt.Equal(joinTime))

	prompts := gw.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, int64(42), prompts[0].MemberID)
	assert.Equal(t, int64(testGroupID), prompts[0].GroupID)
	assert.True(t, prompts[0].Deadline.Equal(joinTime.Add(10*time.Minute)))

	evt := testutil.RequireReceive(t, joined, time.Second, "join event")
	data := evt.Data.(intake.MemberJoinedEvent)
	assert.True(t, data.Prompted)
	assert.Equal(t, int64(42), data.Record.MemberID)
}

func TestOnJoinDefaultDisplayName(t *testing.T) {
	store := testutil.NewMemStore()
	gw := &testutil.FakeGateway{}
	in := newIntake(t, store, gw, nil, nil)
	require.NoError(t, in.OnJoin(context.Background(), 7, "", joinTime))
	rec, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "member 7", rec.DisplayName)
	assert.Equal(t, "member 7", gw.Prompts()[0].DisplayName)
}

func TestOnJoinPromptFailureKeepsRecord(t *testing.T) {
	store := testutil.NewMemStore()
	gw := &testutil.FakeGateway{
		PromptHook: func(ctx context.Context, memberID int64) error {
			return errors.New("chat unavailable")
		},
	}
	reg := prometheus.NewRegistry()
	in := newIntake(t, store, gw, nil, reg)
	require.NoError(t, in.OnJoin(context.Background(), 3, "bob", joinTime))
	_, err := store.Get(context.Background(), 3)
	require.NoError(t, err)
	expected := `
# HELP tenure_intake_prompt_failures_total choice prompts that could not be delivered
# TYPE tenure_intake_prompt_failures_total counter
tenure_intake_prompt_failures_total 1
`
	require.NoError(
		t,
		promtestutil.GatherAndCompare(
			reg,
			strings.NewReader(expected),
			"tenure_intake_prompt_failures_total",
		),
	)
}

func TestOnJoinStoreFailure(t *testing.T) {
	gw := &testutil.FakeGateway{}
	in := newIntake(t, failingStore{testutil.NewMemStore()}, gw, nil, nil)
	err := in.OnJoin(context.Background(), 3, "bob", joinTime)
	require.ErrorIs(t, err, types.ErrStoreUnavailable)
	assert.Empty(t, gw.Prompts())
}

func TestRejoinIsFreshStart(t *testing.T) {
	store := testutil.NewMemStore()
	in := newIntake(t, store, &testutil.FakeGateway{}, nil, nil)
	ctx := context.Background()
	require.NoError(t, in.OnJoin(ctx, 5, "carol", joinTime))
	outcome, err := in.OnChoice(ctx, 5, membership.ChoiceTimed, joinTime.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, membership.ChoiceAccepted, outcome)

	rejoinAt := joinTime.Add(2 * time.Hour)
	require.NoError(t, in.OnJoin(ctx, 5, "carol", rejoinAt))
	rec, err := store.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, membership.StateUndecided, rec.State)
	assert.True(t, rec.JoinedAt.Equal(rejoinAt))
}

func TestOnChoiceOutcomes(t *testing.T) {
	store := testutil.NewMemStore()
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	_, decided := bus.Subscribe(intake.MemberDecidedEventType)
	in := newIntake(t, store, &testutil.FakeGateway{}, bus, nil)
	ctx := context.Background()

	outcome, err := in.OnChoice(ctx, 99, membership.ChoicePermanent, joinTime)
	require.NoError(t, err)
	assert.Equal(t, membership.ChoiceUnknownMember, outcome)
	_, err = store.Get(ctx, 99)
	require.ErrorIs(t, err, types.ErrRecordNotFound)

	require.NoError(t, in.OnJoin(ctx, 1, "dave", joinTime))
	outcome, err = in.OnChoice(ctx, 1, membership.ChoiceTimed, joinTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, membership.ChoiceAccepted, outcome)

	evt := testutil.RequireReceive(t, decided, time.Second, "decided event")
	data := evt.Data.(intake.MemberDecidedEvent)
	assert.Equal(t, membership.ChoiceTimed, data.Choice)
	assert.Equal(t, membership.StateTimed, data.Record.State)
	assert.True(t, data.Deadline.Equal(joinTime.Add(24*time.Hour)))

	outcome, err = in.OnChoice(ctx, 1, membership.ChoicePermanent, joinTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, membership.ChoiceAlreadyDecided, outcome)
	rec, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, membership.StateTimed, rec.State)
	testutil.RequireNoReceive(t, decided, 20*time.Millisecond, "no event for ignored choice")
}

func TestOnChoiceInvalid(t *testing.T) {
	store := testutil.NewMemStore()
	in := newIntake(t, store, &testutil.FakeGateway{}, nil, nil)
	ctx := context.Background()
	require.NoError(t, in.OnJoin(ctx, 1, "erin", joinTime))
	outcome, err := in.OnChoice(ctx, 1, membership.Choice("forever"), joinTime)
	require.ErrorIs(t, err, membership.ErrInvalidChoice)
	assert.Equal(t, membership.ChoiceRejected, outcome)
	rec, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, membership.StateUndecided, rec.State)
}

func TestOnChoiceAfterDeadlineAccepted(t *testing.T) {
	store := testutil.NewMemStore()
	in := newIntake(t, store, &testutil.FakeGateway{}, nil, nil)
	ctx := context.Background()
	require.NoError(t, in.OnJoin(ctx, 1, "frank", joinTime))
	outcome, err := in.OnChoice(ctx, 1, membership.ChoicePermanent, joinTime.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, membership.ChoiceAccepted, outcome)
}

func TestOnChoiceConcurrent(t *testing.T) {
	store := testutil.NewMemStore()
	reg := prometheus.NewRegistry()
	in := newIntake(t, store, &testutil.FakeGateway{}, nil, reg)
	ctx := context.Background()
	require.NoError(t, in.OnJoin(ctx, 1, "gina", joinTime))

	const workers = 16
	outcomes := make(chan membership.ChoiceOutcome, workers)
	var wg sync.WaitGroup
	for n := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			choice := membership.ChoicePermanent
			if n%2 == 1 {
				choice = membership.ChoiceTimed
			}
			outcome, err := in.OnChoice(ctx, 1, choice, joinTime.Add(time.Minute))
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)
	accepted := 0
	for outcome := range outcomes {
		if outcome == membership.ChoiceAccepted {
			accepted++
		} else {
			assert.Equal(t, membership.ChoiceAlreadyDecided, outcome)
		}
	}
	assert.Equal(t, 1, accepted)

	expected := `
# HELP tenure_intake_choices_total submitted choices by outcome
# TYPE tenure_intake_choices_total counter
tenure_intake_choices_total{outcome="accepted"} 1
tenure_intake_choices_total{outcome="already_decided"} 15
`
	require.NoError(
		t,
		promtestutil.GatherAndCompare(
			reg,
			strings.NewReader(expected),
			"tenure_intake_choices_total",
		),
	)
}

func TestOnChoiceStoreFailureRejected(t *testing.T) {
	store := updateFailingStore{testutil.NewMemStore()}
	in := newIntake(t, store, &testutil.FakeGateway{}, nil, nil)
	ctx := context.Background()
	require.NoError(t, in.OnJoin(ctx, 1, "gina", joinTime))
	outcome, err := in.OnChoice(ctx, 1, membership.ChoicePermanent, joinTime)
	require.ErrorIs(t, err, types.ErrStoreUnavailable)
	assert.Equal(t, membership.ChoiceRejected, outcome)
	assert.NotEqual(t, membership.ChoiceUnknownMember, outcome)
	assert.Equal(t, "rejected", outcome.String())
}

func TestNewIntakeRequiresDeps(t *testing.T) {
	_, err := intake.NewIntake(intake.IntakeConfig{Gateway: &testutil.FakeGateway{}})
	require.Error(t, err)
	_, err = intake.NewIntake(intake.IntakeConfig{Store: testutil.NewMemStore()})
	require.Error(t, err)
}

type failingStore struct {
	*testutil.MemStore
}

func (failingStore) Put(context.Context, membership.Record) error {
	return types.ErrStoreUnavailable
}

type updateFailingStore struct {
	*testutil.MemStore
}

func (updateFailingStore) Update(context.Context, int64, types.UpdateFunc) error {
	return types.ErrStoreUnavailable
}
