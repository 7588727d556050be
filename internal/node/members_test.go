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

package node

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/tenure/database"
	"github.com/blinklabs-io/tenure/gateway/telegram"
	"github.com/blinklabs-io/tenure/internal/config"
	"github.com/blinklabs-io/tenure/membership"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StorePlugin:     "sqlite",
		DatabasePath:    t.TempDir(),
		DisplayTimezone: "UTC",
		GroupID:         -100,
		DecisionWindow:  10 * time.Minute,
		RetentionPeriod: 24 * time.Hour,
		SweepInterval:   time.Minute,
		SweepTimeout:    time.Minute,
		GatewayTimeout:  time.Second,
		ShutdownTimeout: time.Second,
	}
}

func TestMembers(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	joined := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	db, err := database.New(&database.Config{
		Backend: cfg.StorePlugin,
		DataDir: cfg.DatabasePath,
		GroupID: cfg.GroupID,
	})
	require.NoError(t, err)
	timed := membership.NewRecord(2, "bob", joined.Add(time.Minute))
	timed.State = membership.StateTimed
	permanent := membership.NewRecord(3, "carol", joined.Add(2*time.Minute))
	permanent.State = membership.StatePermanent
	for _, rec := range []membership.Record{
		permanent,
		membership.NewRecord(1, "alice", joined),
		timed,
	} {
		require.NoError(t, db.Put(ctx, rec))
	}
	require.NoError(t, db.Close())

	var buf bytes.Buffer
	require.NoError(t, Members(ctx, cfg, nil, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(
		t,
		[]string{"MEMBER", "NAME", "STATE", "JOINED", "DEADLINE"},
		strings.Fields(lines[0]),
	)
	assert.Equal(
		t,
		[]string{"1", "alice", "undecided", "2025-03-14", "09:00", "UTC", "2025-03-14", "09:10", "UTC"},
		strings.Fields(lines[1]),
	)
	assert.Equal(
		t,
		[]string{"2", "bob", "timed", "2025-03-14", "09:01", "UTC", "2025-03-15", "09:01", "UTC"},
		strings.Fields(lines[2]),
	)
	assert.Equal(
		t,
		[]string{"3", "carol", "permanent", "2025-03-14", "09:02", "UTC", "never"},
		strings.Fields(lines[3]),
	)
}

func TestMembersEmptyStore(t *testing.T) {
	cfg := testConfig(t)
	var buf bytes.Buffer
	require.NoError(t, Members(context.Background(), cfg, nil, &buf))
	assert.Equal(t, []string{"MEMBER", "NAME", "STATE", "JOINED", "DEADLINE"}, strings.Fields(buf.String()))
}

func TestMembersInvalidTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.DisplayTimezone = "Mars/Olympus"
	var buf bytes.Buffer
	require.Error(t, Members(context.Background(), cfg, nil, &buf))
}

func TestRunRequiresBotSettings(t *testing.T) {
	cfg := testConfig(t)
	require.Error(t, Run(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil))))
}

func TestNodeConfig(t *testing.T) {
	cfg := testConfig(t)
	_, err := NodeConfig(cfg, nil, &telegram.Client{})
	require.NoError(t, err)
	cfg.DisplayTimezone = "Mars/Olympus"
	_, err = NodeConfig(cfg, nil, &telegram.Client{})
	require.Error(t, err)
}
