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

package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/membership"
)

const (
	DefaultGcInterval = 5 * time.Minute

	// Conflicting writers are retried this many times before giving up
	maxUpdateRetries = 16
)

// MemberStoreBadger stores membership records in badger
type MemberStoreBadger struct {
	db         *badger.DB
	logger     *slog.Logger
	gcTicker   *time.Ticker
	gcStopCh   chan struct{}
	dataDir    string
	gcWg       sync.WaitGroup
	gcInterval time.Duration
	closeOnce  sync.Once
	gcEnabled  bool
}

// New opens a badger-backed membership store
func New(opts ...MemberStoreBadgerOptionFunc) (*MemberStoreBadger, error) {
	s := &MemberStoreBadger{
		gcEnabled:  true,
		gcInterval: DefaultGcInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var badgerOpts badger.Options
	if s.dataDir == "" {
		// No dataDir, use in-memory config
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
		// GC is not supported for in-memory databases
		s.gcEnabled = false
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(s.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(s.dataDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(s.dataDir, "members")).
			// Writes must be durable before they are acknowledged
			WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.
		WithLogger(NewBadgerLogger(s.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	s.db = db
	if s.gcEnabled {
		s.gcTicker = time.NewTicker(s.gcInterval)
		s.gcStopCh = make(chan struct{})
		s.gcWg.Add(1)
		go s.valueLogGc(s.gcTicker, s.gcStopCh)
	}
	return s, nil
}

func (s *MemberStoreBadger) valueLogGc(t *time.Ticker, stop <-chan struct{}) {
	defer s.gcWg.Done()
	for {
		select {
		case <-t.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == nil {
					// Run it again if it just ran successfully
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					s.logger.Warn(
						fmt.Sprintf("member DB: GC failure: %s", err),
						"component", "database",
					)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

// Close stops background GC and closes the database
func (s *MemberStoreBadger) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.gcTicker != nil {
			s.gcTicker.Stop()
			close(s.gcStopCh)
			// Wait for GC goroutine to finish
			s.gcWg.Wait()
		}
		err = s.db.Close()
	})
	return err
}

// DB returns the database handle
func (s *MemberStoreBadger) DB() *badger.DB {
	return s.db
}

func (s *MemberStoreBadger) Get(
	ctx context.Context,
	memberID int64,
) (membership.Record, error) {
	if err := ctx.Err(); err != nil {
		return membership.Record{}, err
	}
	var rec membership.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, memberID)
		return err
	})
	return rec, err
}

func (s *MemberStoreBadger) Put(
	ctx context.Context,
	rec membership.Record,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := types.EncodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(types.MemberKey(rec.MemberID), val)
	})
}

func (s *MemberStoreBadger) Delete(ctx context.Context, memberID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(types.MemberKey(memberID))
	})
}

func (s *MemberStoreBadger) DeleteIf(
	ctx context.Context,
	memberID int64,
	pred func(membership.Record) bool,
) (bool, error) {
	var deleted bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		deleted = false
		rec, err := getRecord(txn, memberID)
		if err != nil {
			if errors.Is(err, types.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !pred(rec) {
			return nil
		}
		deleted = true
		return txn.Delete(types.MemberKey(memberID))
	})
	return deleted, err
}

func (s *MemberStoreBadger) Update(
	ctx context.Context,
	memberID int64,
	fn types.UpdateFunc,
) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, memberID)
		if err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		if rec.MemberID != memberID {
			return types.ErrMemberIDMismatch
		}
		val, err := types.EncodeRecord(rec)
		if err != nil {
			return err
		}
		return txn.Set(types.MemberKey(memberID), val)
	})
}

func (s *MemberStoreBadger) List(ctx context.Context) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ret := &types.Snapshot{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(types.MemberKeyPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			memberID, err := types.MemberIDFromKey(key)
			if err != nil {
				ret.Malformed = append(
					ret.Malformed,
					&types.MalformedRecordError{
						Key: fmt.Sprintf("%x", key),
						Err: err,
					},
				)
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := types.DecodeRecord(memberID, val)
			if err != nil {
				if mErr, ok := types.AsMalformed(err); ok {
					ret.Malformed = append(ret.Malformed, mErr)
					continue
				}
				return err
			}
			ret.Records = append(ret.Records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// update runs fn in a read-write transaction, retrying on conflict with a
// concurrent writer
func (s *MemberStoreBadger) update(
	ctx context.Context,
	fn func(*badger.Txn) error,
) error {
	for range maxUpdateRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug(
			"member DB: retrying conflicting update",
			"component", "database",
		)
	}
	return fmt.Errorf(
		"update abandoned after %d attempts: %w",
		maxUpdateRetries,
		badger.ErrConflict,
	)
}

func getRecord(txn *badger.Txn, memberID int64) (membership.Record, error) {
	item, err := txn.Get(types.MemberKey(memberID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return membership.Record{}, types.ErrRecordNotFound
		}
		return membership.Record{}, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return membership.Record{}, err
	}
	return types.DecodeRecord(memberID, val)
}
