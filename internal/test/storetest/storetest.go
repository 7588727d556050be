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

// Package storetest holds the behavioral checks every membership store
// backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/membership"
)

var JoinTime = time.Date(2025, 3, 14, 9, 0, 0, 123456000, time.UTC)

// NewStoreFunc returns a new empty store. The store is closed by the suite.
type NewStoreFunc func(t *testing.T) types.Store

// Run executes the store contract suite against fresh stores from newStore
func Run(t *testing.T, newStore NewStoreFunc) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(*testing.T, types.Store)
	}{
		{"GetMissing", testGetMissing},
		{"PutGet", testPutGet},
		{"PutOverwrites", testPutOverwrites},
		{"Delete", testDelete},
		{"DeleteIf", testDeleteIf},
		{"Update", testUpdate},
		{"UpdateAborts", testUpdateAborts},
		{"UpdateConcurrent", testUpdateConcurrent},
		{"List", testList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			defer func() {
				require.NoError(t, store.Close())
			}()
			tt.fn(t, store)
		})
	}
}

// Record returns a valid record for tests
func Record(memberID int64, state membership.State) membership.Record {
	rec := membership.NewRecord(memberID, "", JoinTime)
	rec.State = state
	return rec
}

// RequireRecordEqual compares records, treating join times as instants
func RequireRecordEqual(t *testing.T, want, got membership.Record) {
	t.Helper()
	require.Equal(t, want.MemberID, got.MemberID)
	require.Equal(t, want.DisplayName, got.DisplayName)
	require.Equal(t, want.State, got.State)
	require.True(
		t,
		want.JoinedAt.Equal(got.JoinedAt),
		"join time mismatch: want %s, got %s",
		want.JoinedAt,
		got.JoinedAt,
	)
}

func testGetMissing(t *testing.T, store types.Store) {
	_, err := store.Get(context.Background(), 404)
	require.ErrorIs(t, err, types.ErrRecordNotFound)
}

func testPutGet(t *testing.T, store types.Store) {
	ctx := context.Background()
	rec := membership.NewRecord(1001, "Budi", JoinTime)
	require.NoError(t, store.Put(ctx, rec))
	got, err := store.Get(ctx, 1001)
	require.NoError(t, err)
	RequireRecordEqual(t, rec, got)

	bad := membership.Record{MemberID: 1002}
	require.ErrorIs(t, store.Put(ctx, bad), membership.ErrMalformedRecord)
}

func testPutOverwrites(t *testing.T, store types.Store) {
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Record(7, membership.StateTimed)))
	fresh := membership.NewRecord(7, "rejoined", JoinTime.Add(time.Hour))
	require.NoError(t, store.Put(ctx, fresh))
	got, err := store.Get(ctx, 7)
	require.NoError(t, err)
	RequireRecordEqual(t, fresh, got)
}

func testDelete(t *testing.T, store types.Store) {
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Record(8, membership.StateUndecided)))
	require.NoError(t, store.Delete(ctx, 8))
	_, err := store.Get(ctx, 8)
	require.ErrorIs(t, err, types.ErrRecordNotFound)
	// Deleting an absent record is a no-op
	require.NoError(t, store.Delete(ctx, 8))
}

func testDeleteIf(t *testing.T, store types.Store) {
	ctx := context.Background()
	rec := Record(9, membership.StateTimed)
	require.NoError(t, store.Put(ctx, rec))

	deleted, err := store.DeleteIf(ctx, 9, func(r membership.Record) bool {
		return r.State == membership.StatePermanent
	})
	require.NoError(t, err)
	assert.False(t, deleted)
	_, err = store.Get(ctx, 9)
	require.NoError(t, err)

	deleted, err = store.DeleteIf(ctx, 9, func(r membership.Record) bool {
		return r.JoinedAt.Equal(rec.JoinedAt)
	})
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = store.Get(ctx, 9)
	require.ErrorIs(t, err, types.ErrRecordNotFound)

	deleted, err = store.DeleteIf(ctx, 9, func(membership.Record) bool {
		return true
	})
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testUpdate(t *testing.T, store types.Store) {
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Record(10, membership.StateUndecided)))
	err := store.Update(ctx, 10, func(r *membership.Record) error {
		r.State = membership.StatePermanent
		return nil
	})
	require.NoError(t, err)
	got, err := store.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, membership.StatePermanent, got.State)

	err = store.Update(ctx, 11, func(r *membership.Record) error {
		return nil
	})
	require.ErrorIs(t, err, types.ErrRecordNotFound)
}

func testUpdateAborts(t *testing.T, store types.Store) {
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Record(12, membership.StateUndecided)))
	abort := errors.New("abort")
	err := store.Update(ctx, 12, func(r *membership.Record) error {
		r.State = membership.StateTimed
		return abort
	})
	require.ErrorIs(t, err, abort)

	err = store.Update(ctx, 12, func(r *membership.Record) error {
		r.MemberID = 13
		return nil
	})
	require.ErrorIs(t, err, types.ErrMemberIDMismatch)

	err = store.Update(ctx, 12, func(r *membership.Record) error {
		r.State = "bogus"
		return nil
	})
	require.ErrorIs(t, err, membership.ErrMalformedRecord)

	got, err := store.Get(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, membership.StateUndecided, got.State)
	_, err = store.Get(ctx, 13)
	require.ErrorIs(t, err, types.ErrRecordNotFound)
}

func testUpdateConcurrent(t *testing.T, store types.Store) {
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Record(14, membership.StateUndecided)))
	errDecided := errors.New("already decided")
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := membership.StatePermanent
			if i%2 == 0 {
				state = membership.StateTimed
			}
			err := store.Update(ctx, 14, func(r *membership.Record) error {
				if r.State != membership.StateUndecided {
					return errDecided
				}
				r.State = state
				return nil
			})
			if err == nil {
				accepted.Add(1)
				return
			}
			assert.ErrorIs(t, err, errDecided)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
	got, err := store.Get(ctx, 14)
	require.NoError(t, err)
	assert.NotEqual(t, membership.StateUndecided, got.State)
}

func testList(t *testing.T, store types.Store) {
	ctx := context.Background()
	snap, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.Empty(t, snap.Malformed)

	ids := []int64{300, 100, 200}
	for _, id := range ids {
		require.NoError(t, store.Put(ctx, Record(id, membership.StateTimed)))
	}
	snap, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Records, 3)
	got := make([]int64, 0, len(snap.Records))
	for _, rec := range snap.Records {
		got = append(got, rec.MemberID)
	}
	assert.ElementsMatch(t, ids, got)
}
