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

import "time"

const (
	DefaultDecisionWindow  = 10 * time.Minute
	DefaultRetentionPeriod = 24 * time.Hour
)

type Verdict int

const (
	WithinWindow Verdict = iota
	Exempt
	DueForEviction
)

func (v Verdict) String() string {
	switch v {
	case WithinWindow:
		return "within_window"
	case Exempt:
		return "exempt"
	case DueForEviction:
		return "due_for_eviction"
	default:
		return "unknown"
	}
}

// EvictionReason explains why a record is due for eviction
type EvictionReason string

const (
	ReasonNone             EvictionReason = ""
	ReasonNoChoiceMade     EvictionReason = "no_choice_made"
	ReasonRetentionExpired EvictionReason = "retention_expired"
)

type Classification struct {
	Verdict Verdict
	Reason  EvictionReason
}

// Due returns true if the classified record should be evicted
func (c Classification) Due() bool {
	return c.Verdict == DueForEviction
}

// Policy holds the retention thresholds. Both are measured from the join time.
type Policy struct {
	DecisionWindow  time.Duration
	RetentionPeriod time.Duration
}

// DefaultPolicy returns a Policy with the default decision window and retention period
func DefaultPolicy() Policy {
	return Policy{
		DecisionWindow:  DefaultDecisionWindow,
		RetentionPeriod: DefaultRetentionPeriod,
	}
}

// Classify decides whether a record is exempt, still within its window, or
// due for eviction at the given instant. Elapsed time equal to a threshold
// counts as due.
func (p Policy) Classify(rec Record, now time.Time) Classification {
	elapsed := now.Sub(rec.JoinedAt)
	switch rec.State {
	case StatePermanent:
		return Classification{Verdict: Exempt}
	case StateUndecided:
		if elapsed >= p.DecisionWindow {
			return Classification{
				Verdict: DueForEviction,
				Reason:  ReasonNoChoiceMade,
			}
		}
	case StateTimed:
		if elapsed >= p.RetentionPeriod {
			return Classification{
				Verdict: DueForEviction,
				Reason:  ReasonRetentionExpired,
			}
		}
	}
	return Classification{Verdict: WithinWindow}
}

// Deadline returns the instant at which the record becomes due for eviction,
// or the zero time for permanent records
func (p Policy) Deadline(rec Record) time.Time {
	switch rec.State {
	case StateUndecided:
		return rec.JoinedAt.Add(p.DecisionWindow)
	case StateTimed:
		return rec.JoinedAt.Add(p.RetentionPeriod)
	default:
		return time.Time{}
	}
}
