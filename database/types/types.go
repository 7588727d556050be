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

package types

import (
	"context"
	"errors"
	"fmt"

	"github.com/blinklabs-io/tenure/membership"
)

// ErrRecordNotFound is returned when no record exists for a member
var ErrRecordNotFound = errors.New("membership record not found")

// ErrStoreUnavailable is returned when the backing medium cannot be opened or read.
// It is fatal at startup.
var ErrStoreUnavailable = errors.New("membership store unavailable")

// ErrMemberIDMismatch is returned when an update function changes the member ID of a record
var ErrMemberIDMismatch = errors.New("member ID cannot be changed")

// MalformedRecordError describes a persisted record that could not be decoded or validated
type MalformedRecordError struct {
	Err error
	Key string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %s: %s", e.Key, e.Err)
}

func (e *MalformedRecordError) Unwrap() []error {
	return []error{membership.ErrMalformedRecord, e.Err}
}

// Snapshot is a point-in-time listing of every tracked record
type Snapshot struct {
	Records   []membership.Record
	Malformed []*MalformedRecordError
}

// UpdateFunc mutates a record in place. Returning an error aborts the update
// without writing anything.
type UpdateFunc func(rec *membership.Record) error

// Store is a durable mapping from member ID to membership record. All
// operations are atomic with respect to concurrent callers, and writes are
// durable before they return.
type Store interface {
	Get(ctx context.Context, memberID int64) (membership.Record, error)
	Put(ctx context.Context, rec membership.Record) error
	Delete(ctx context.Context, memberID int64) error
	// DeleteIf atomically deletes the record if pred returns true for its
	// current value. It reports whether a record was deleted.
	DeleteIf(
		ctx context.Context,
		memberID int64,
		pred func(membership.Record) bool,
	) (bool, error)
	// Update performs an atomic read-modify-write of a single record
	Update(ctx context.Context, memberID int64, fn UpdateFunc) error
	List(ctx context.Context) (*Snapshot, error)
	Close() error
}
