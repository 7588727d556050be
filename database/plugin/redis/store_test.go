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

package redis_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/tenure/database/plugin"
	"github.com/blinklabs-io/tenure/database/plugin/redis"
	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/internal/test/storetest"
	"github.com/blinklabs-io/tenure/membership"
)

const testGroupID = -1001234567890

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) types.Store {
		mr := miniredis.RunT(t)
		s, err := redis.New(
			redis.WithAddr(mr.Addr()),
			redis.WithGroupID(testGroupID),
		)
		require.NoError(t, err)
		return s
	})
}

func TestGroupsAreIsolated(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a, err := redis.New(redis.WithAddr(mr.Addr()), redis.WithGroupID(1))
	require.NoError(t, err)
	defer a.Close()
	b, err := redis.New(redis.WithAddr(mr.Addr()), redis.WithGroupID(2))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Put(ctx, storetest.Record(5, membership.StateTimed)))
	_, err = b.Get(ctx, 5)
	require.ErrorIs(t, err, types.ErrRecordNotFound)
	assert.True(t, mr.Exists(redis.HashKey(1)))
	assert.False(t, mr.Exists(redis.HashKey(2)))
}

func TestListSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s, err := redis.New(redis.WithAddr(mr.Addr()), redis.WithGroupID(testGroupID))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, storetest.Record(1, membership.StateUndecided)))
	key := redis.HashKey(testGroupID)
	mr.HSet(key, "2", "{not json")
	mr.HSet(key, "abc", "{}")
	mr.HSet(key, "4", `{"memberId":5,"joinedAt":"2025-03-14T09:00:00Z","state":"timed"}`)

	snap, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, int64(1), snap.Records[0].MemberID)
	require.Len(t, snap.Malformed, 3)
	for _, m := range snap.Malformed {
		assert.ErrorIs(t, m, membership.ErrMalformedRecord)
	}
}

func TestConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := redis.New(redis.WithAddr(addr))
	require.Error(t, err)
}

func TestPluginRegistered(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := plugin.Open(
		redis.PluginName,
		plugin.Options{RedisAddr: mr.Addr(), GroupID: testGroupID},
	)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpenReportsDurability(t *testing.T) {
	mr := miniredis.RunT(t)
	var buf bytes.Buffer
	logger := slog.New(
		slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	s, err := redis.New(redis.WithAddr(mr.Addr()), redis.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	// Without an fsynced append-only file the operator hears about it, and a
	// server refusing CONFIG GET does not block startup
	out := buf.String()
	assert.True(
		t,
		strings.Contains(out, "append-only file is disabled") ||
			strings.Contains(out, "unable to read redis persistence settings"),
		"missing durability report in %s",
		out,
	)
}
