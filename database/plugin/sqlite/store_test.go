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

package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/tenure/database/plugin"
	"github.com/blinklabs-io/tenure/database/plugin/sqlite"
	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/internal/test/storetest"
	"github.com/blinklabs-io/tenure/membership"
)

func TestStoreContractInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) types.Store {
		s, err := sqlite.New()
		require.NoError(t, err)
		return s
	})
}

func TestStoreContractOnDisk(t *testing.T) {
	storetest.Run(t, func(t *testing.T) types.Store {
		s, err := sqlite.New(sqlite.WithDataDir(t.TempDir()))
		require.NoError(t, err)
		return s
	})
}

func TestInMemoryStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	a, err := sqlite.New()
	require.NoError(t, err)
	defer a.Close()
	b, err := sqlite.New()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Put(ctx, storetest.Record(1, membership.StateTimed)))
	_, err = b.Get(ctx, 1)
	require.ErrorIs(t, err, types.ErrRecordNotFound)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := sqlite.New(sqlite.WithDataDir(dir))
	require.NoError(t, err)
	rec := membership.NewRecord(77, "Sari", storetest.JoinTime)
	require.NoError(t, s.Put(ctx, rec))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = sqlite.New(sqlite.WithDataDir(dir))
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, 77)
	require.NoError(t, err)
	storetest.RequireRecordEqual(t, rec, got)
}

func TestListSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.New()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, storetest.Record(1, membership.StatePermanent)))
	for _, state := range []string{"bogus", ""} {
		id := int64(2)
		if state == "" {
			id = 3
		}
		err := s.DB().Exec(
			"INSERT INTO members (member_id, display_name, joined_at, state) VALUES (?, ?, ?, ?)",
			id,
			"broken",
			storetest.JoinTime,
			state,
		).Error
		require.NoError(t, err)
	}

	snap, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, int64(1), snap.Records[0].MemberID)
	require.Len(t, snap.Malformed, 2)
	for _, m := range snap.Malformed {
		assert.ErrorIs(t, m, membership.ErrMalformedRecord)
	}

	_, err = s.Get(ctx, 2)
	assert.ErrorIs(t, err, membership.ErrMalformedRecord)
}

func TestPluginRegistered(t *testing.T) {
	s, err := plugin.Open(sqlite.PluginName, plugin.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
