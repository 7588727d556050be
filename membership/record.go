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

package membership

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformedRecord is returned when a persisted record is missing required fields
var ErrMalformedRecord = errors.New("malformed membership record")

// ErrInvalidChoice is returned for a choice value that is not one of the known choices
var ErrInvalidChoice = errors.New("invalid membership choice")

type State string

const (
	StateUndecided State = "undecided"
	StatePermanent State = "permanent"
	StateTimed     State = "timed"
)

// Valid returns true if the State is a known state
func (s State) Valid() bool {
	switch s {
	case StateUndecided, StatePermanent, StateTimed:
		return true
	default:
		return false
	}
}

// Choice is the decision a member submits while undecided
type Choice string

const (
	ChoicePermanent Choice = "permanent"
	ChoiceTimed     Choice = "timed"
)

// State returns the policy state a choice transitions an undecided record into
func (c Choice) State() (State, error) {
	switch c {
	case ChoicePermanent:
		return StatePermanent, nil
	case ChoiceTimed:
		return StateTimed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChoice, string(c))
	}
}

// ChoiceOutcome reports what happened to a submitted choice. Unknown and
// already-decided members are expected outcomes rather than errors.
// ChoiceRejected is the zero value and goes with a non-nil error.
type ChoiceOutcome int

const (
	ChoiceRejected ChoiceOutcome = iota
	ChoiceAccepted
	ChoiceUnknownMember
	ChoiceAlreadyDecided
)

func (o ChoiceOutcome) String() string {
	switch o {
	case ChoiceRejected:
		return "rejected"
	case ChoiceAccepted:
		return "accepted"
	case ChoiceUnknownMember:
		return "unknown_member"
	case ChoiceAlreadyDecided:
		return "already_decided"
	default:
		return "unknown"
	}
}

// Record is the tracked membership state of one member of the managed group
type Record struct {
	JoinedAt    time.Time `json:"joinedAt"`
	DisplayName string    `json:"displayName"`
	State       State     `json:"state"`
	MemberID    int64     `json:"memberId"`
}

// NewRecord returns a fresh undecided record for a member observed joining at the given instant
func NewRecord(memberID int64, displayName string, joinedAt time.Time) Record {
	if displayName == "" {
		displayName = "member " + strconv.FormatInt(memberID, 10)
	}
	return Record{
		MemberID:    memberID,
		DisplayName: displayName,
		JoinedAt:    joinedAt.UTC(),
		State:       StateUndecided,
	}
}

// Validate checks that the record carries every field the policy needs
func (r Record) Validate() error {
	if r.MemberID <= 0 {
		return fmt.Errorf("%w: invalid member ID %d", ErrMalformedRecord, r.MemberID)
	}
	if r.JoinedAt.IsZero() {
		return fmt.Errorf("%w: member %d has no join time", ErrMalformedRecord, r.MemberID)
	}
	if !r.State.Valid() {
		return fmt.Errorf(
			"%w: member %d has unknown state %q",
			ErrMalformedRecord,
			r.MemberID,
			string(r.State),
		)
	}
	return nil
}
