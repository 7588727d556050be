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
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/blinklabs-io/tenure/database"
	"github.com/blinklabs-io/tenure/internal/config"
	"github.com/blinklabs-io/tenure/membership"
)

const membersTimeLayout = "2006-01-02 15:04 MST"

// Members writes a table of every tracked member with its state and
// eviction deadline, oldest join first
func Members(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	w io.Writer,
) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	// Load database
	db, err := database.New(&database.Config{
		Logger:        logger,
		Backend:       cfg.StorePlugin,
		DataDir:       cfg.DatabasePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDb,
		GroupID:       cfg.GroupID,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	snap, err := db.List(ctx)
	if err != nil {
		return fmt.Errorf("listing members: %w", err)
	}
	records := slices.Clone(snap.Records)
	slices.SortFunc(records, func(a, b membership.Record) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.MemberID, b.MemberID)
	})
	policy := membership.Policy{
		DecisionWindow:  cfg.DecisionWindow,
		RetentionPeriod: cfg.RetentionPeriod,
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MEMBER\tNAME\tSTATE\tJOINED\tDEADLINE")
	for _, rec := range records {
		fmt.Fprintf(
			tw,
			"%d\t%s\t%s\t%s\t%s\n",
			rec.MemberID,
			rec.DisplayName,
			rec.State,
			rec.JoinedAt.In(loc).Format(membersTimeLayout),
			formatDeadline(policy.Deadline(rec), loc),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(snap.Malformed) > 0 {
		fmt.Fprintf(w, "\n%d malformed record(s) skipped:\n", len(snap.Malformed))
		for _, m := range snap.Malformed {
			fmt.Fprintf(w, "  %s: %s\n", m.Key, m.Err)
		}
	}
	return nil
}

func formatDeadline(deadline time.Time, loc *time.Location) string {
	if deadline.IsZero() {
		return "never"
	}
	return deadline.In(loc).Format(membersTimeLayout)
}
