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
	"maps"
	"slices"
	"sync"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/membership"
)

// MemStore is a map-backed types.Store that starts no goroutines, for
// lifecycle tests that check for leaks
type MemStore struct {
	// AfterList, when set, runs after every List call returns its snapshot
	AfterList func()
	records   map[int64]membership.Record
	mu        sync.Mutex
}

var _ types.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[int64]membership.Record)}
}

func (m *MemStore) Get(
	ctx context.Context,
	memberID int64,
) (membership.Record, error) {
	if err := ctx.Err(); err != nil {
		return membership.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[memberID]
	if !ok {
		return membership.Record{}, types.ErrRecordNotFound
	}
	return rec, nil
}

func (m *MemStore) Put(ctx context.Context, rec membership.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.MemberID] = rec
	return nil
}

func (m *MemStore) Delete(ctx context.Context, memberID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, memberID)
	return nil
}

func (m *MemStore) DeleteIf(
	ctx context.Context,
	memberID int64,
	pred func(membership.Record) bool,
) (bool, error) {
	// The disk backends refuse to write under an expired context
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[memberID]
	if !ok || !pred(rec) {
		return false, nil
	}
	delete(m.records, memberID)
	return true, nil
}

func (m *MemStore) Update(
	ctx context.Context,
	memberID int64,
	fn types.UpdateFunc,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[memberID]
	if !ok {
		return types.ErrRecordNotFound
	}
	if err := fn(&rec); err != nil {
		return err
	}
	if rec.MemberID != memberID {
		return types.ErrMemberIDMismatch
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	m.records[memberID] = rec
	return nil
}

func (m *MemStore) List(ctx context.Context) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	snap := &types.Snapshot{
		Records: slices.Collect(maps.Values(m.records)),
	}
	hook := m.AfterList
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return snap, nil
}

func (m *MemStore) Close() error {
	return nil
}
