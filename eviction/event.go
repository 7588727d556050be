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
	"github.com/blinklabs-io/tenure/event"
	"github.com/blinklabs-io/tenure/membership"
)

const (
	MemberEvictedEventType  event.EventType = "eviction.member_evicted"
	EvictionFailedEventType event.EventType = "eviction.failed"
	SweepCompletedEventType event.EventType = "eviction.sweep_completed"
)

// MemberEvictedEvent is published after the gateway confirmed a removal
type MemberEvictedEvent struct {
	Record  membership.Record
	Reason  membership.EvictionReason
	SweepID string
	// RecordKept is set when the member re-joined while the removal was in flight
	RecordKept bool
}

// EvictionFailedEvent is published when a due member could not be removed.
// The record is left in place and retried on the next sweep.
type EvictionFailedEvent struct {
	Error   error
	Record  membership.Record
	Reason  membership.EvictionReason
	SweepID string
}

// SweepCompletedEvent carries the result of every finished sweep
type SweepCompletedEvent struct {
	Result SweepResult
}
