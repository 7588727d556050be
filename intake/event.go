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

package intake

import (
	"time"

	"github.com/blinklabs-io/tenure/event"
	"github.com/blinklabs-io/tenure/membership"
)

const (
	MemberJoinedEventType  event.EventType = "intake.member_joined"
	MemberDecidedEventType event.EventType = "intake.member_decided"
)

type MemberJoinedEvent struct {
	Deadline time.Time
	Record   membership.Record
	// Prompted is false when the choice prompt could not be delivered
	Prompted bool
}

// MemberDecidedEvent is published when an undecided member's choice is accepted.
// Deadline is the zero time for permanent members.
type MemberDecidedEvent struct {
	Deadline time.Time
	Record   membership.Record
	Choice   membership.Choice
}
