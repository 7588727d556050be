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

package membership_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/tenure/membership"
)

var testJoinTime = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func testRecord(state membership.State) membership.Record {
	rec := membership.NewRecord(42, "alice", testJoinTime)
	rec.State = state
	return rec
}

func TestClassifyPermanentNeverDue(t *testing.T) {
	p := membership.DefaultPolicy()
	rec := testRecord(membership.StatePermanent)
	for _, elapsed := range []time.Duration{
		0,
		p.DecisionWindow,
		p.RetentionPeriod,
		20 * time.Hour,
		48 * time.Hour,
		365 * 24 * time.Hour,
	} {
		c := p.Classify(rec, testJoinTime.Add(elapsed))
		assert.Equal(t, membership.Exempt, c.Verdict, "elapsed %s", elapsed)
		assert.False(t, c.Due(), "elapsed %s", elapsed)
	}
}

func TestClassifyUndecided(t *testing.T) {
	p := membership.DefaultPolicy()
	rec := testRecord(membership.StateUndecided)
	tests := []struct {
		name    string
		elapsed time.Duration
		verdict membership.Verdict
		reason  membership.EvictionReason
	}{
		{"just joined", 0, membership.WithinWindow, membership.ReasonNone},
		{"nine minutes", 9 * time.Minute, membership.WithinWindow, membership.ReasonNone},
		{"one ns short", p.DecisionWindow - time.Nanosecond, membership.WithinWindow, membership.ReasonNone},
		{"exact boundary", p.DecisionWindow, membership.DueForEviction, membership.ReasonNoChoiceMade},
		{"eleven minutes", 11 * time.Minute, membership.DueForEviction, membership.ReasonNoChoiceMade},
		{"clock skew", -time.Minute, membership.WithinWindow, membership.ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := p.Classify(rec, testJoinTime.Add(tt.elapsed))
			assert.Equal(t, tt.verdict, c.Verdict)
			assert.Equal(t, tt.reason, c.Reason)
		})
	}
}

func TestClassifyTimed(t *testing.T) {
	p := membership.DefaultPolicy()
	rec := testRecord(membership.StateTimed)
	tests := []struct {
		name    string
		elapsed time.Duration
		due     bool
	}{
		{"past decision window", 11 * time.Minute, false},
		{"23h59m", 23*time.Hour + 59*time.Minute, false},
		{"exact boundary", 24 * time.Hour, true},
		{"24h1m", 24*time.Hour + time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := p.Classify(rec, testJoinTime.Add(tt.elapsed))
			assert.Equal(t, tt.due, c.Due())
			if tt.due {
				assert.Equal(t, membership.ReasonRetentionExpired, c.Reason)
			} else {
				assert.Equal(t, membership.WithinWindow, c.Verdict)
			}
		})
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	p := membership.Policy{
		DecisionWindow:  30 * time.Second,
		RetentionPeriod: 2 * time.Minute,
	}
	undecided := testRecord(membership.StateUndecided)
	assert.True(t, p.Classify(undecided, testJoinTime.Add(30*time.Second)).Due())
	timed := testRecord(membership.StateTimed)
	assert.False(t, p.Classify(timed, testJoinTime.Add(time.Minute)).Due())
	assert.True(t, p.Classify(timed, testJoinTime.Add(2*time.Minute)).Due())
}

func TestDeadline(t *testing.T) {
	p := membership.DefaultPolicy()
	assert.Equal(
		t,
		testJoinTime.Add(10*time.Minute),
		p.Deadline(testRecord(membership.StateUndecided)),
	)
	assert.Equal(
		t,
		testJoinTime.Add(24*time.Hour),
		p.Deadline(testRecord(membership.StateTimed)),
	)
	assert.True(t, p.Deadline(testRecord(membership.StatePermanent)).IsZero())
}

func TestRecordValidate(t *testing.T) {
	require.NoError(t, testRecord(membership.StateUndecided).Validate())

	bad := []membership.Record{
		{MemberID: 0, JoinedAt: testJoinTime, State: membership.StateTimed},
		{MemberID: 7, State: membership.StateTimed},
		{MemberID: 7, JoinedAt: testJoinTime, State: "banana"},
		{MemberID: 7, JoinedAt: testJoinTime},
	}
	for _, rec := range bad {
		assert.ErrorIs(t, rec.Validate(), membership.ErrMalformedRecord)
	}
}

func TestNewRecordDisplayNameFallback(t *testing.T) {
	rec := membership.NewRecord(99, "", testJoinTime)
	assert.Equal(t, "member 99", rec.DisplayName)
	assert.Equal(t, membership.StateUndecided, rec.State)
}

func TestChoiceState(t *testing.T) {
	s, err := membership.ChoicePermanent.State()
	require.NoError(t, err)
	assert.Equal(t, membership.StatePermanent, s)
	s, err = membership.ChoiceTimed.State()
	require.NoError(t, err)
	assert.Equal(t, membership.StateTimed, s)
	_, err = membership.Choice("forever").State()
	assert.ErrorIs(t, err, membership.ErrInvalidChoice)
}
