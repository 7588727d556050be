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

package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/membership"
)

const (
	DefaultAddr = "localhost:6379"

	pingTimeout = 5 * time.Second
	// Optimistic transactions that lose a WATCH race are retried this many times
	maxTxRetries = 16
)

// MemberStoreRedis keeps one redis hash per managed group, keyed by member ID
type MemberStoreRedis struct {
	client   *redis.Client
	logger   *slog.Logger
	addr     string
	password string
	key      string
	groupID  int64
	db       int
}

// New connects to redis and verifies the connection
func New(opts ...RedisOptionFunc) (*MemberStoreRedis, error) {
	s := &MemberStoreRedis{
		addr: DefaultAddr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.addr == "" {
		s.addr = DefaultAddr
	}
	s.key = HashKey(s.groupID)
	s.client = redis.NewClient(&redis.Options{
		Addr:     s.addr,
		Password: s.password,
		DB:       s.db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.logger.Debug(
		"connected to redis",
		"component", "database",
		"addr", s.addr,
		"key", s.key,
	)
	s.checkDurability(ctx)
	return s, nil
}

// checkDurability warns when the server persistence settings can lose
// acknowledged writes on a crash. Servers that refuse CONFIG GET, such as
// managed instances, are only noted at debug level.
func (s *MemberStoreRedis) checkDurability(ctx context.Context) {
	settings := make(map[string]string, 2)
	for _, param := range []string{"appendonly", "appendfsync"} {
		res, err := s.client.ConfigGet(ctx, param).Result()
		if err != nil {
			s.logger.Debug(
				"unable to read redis persistence settings",
				"component", "database",
				"error", err,
			)
			return
		}
		settings[param] = res[param]
	}
	if msg := durabilityWarning(settings["appendonly"], settings["appendfsync"]); msg != "" {
		s.logger.Warn(
			msg,
			"component", "database",
			"addr", s.addr,
			"appendonly", settings["appendonly"],
			"appendfsync", settings["appendfsync"],
		)
	}
}

// durabilityWarning describes the crash exposure of the given redis
// persistence settings, or returns an empty string when every write is
// fsynced to the append-only file
func durabilityWarning(appendonly, appendfsync string) string {
	if appendonly != "yes" {
		return "redis append-only file is disabled, records written since the last snapshot are lost on a crash"
	}
	if appendfsync != "always" {
		return fmt.Sprintf(
			"redis appendfsync is %q, recent record writes can be lost on a crash",
			appendfsync,
		)
	}
	return ""
}

// HashKey returns the redis key holding the records of a managed group
func HashKey(groupID int64) string {
	return fmt.Sprintf("tenure:%d:members", groupID)
}

func (s *MemberStoreRedis) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Client returns the redis client
func (s *MemberStoreRedis) Client() *redis.Client {
	return s.client
}

func (s *MemberStoreRedis) Get(
	ctx context.Context,
	memberID int64,
) (membership.Record, error) {
	return s.getRecord(ctx, s.client, memberID)
}

func (s *MemberStoreRedis) Put(
	ctx context.Context,
	rec membership.Record,
) error {
	val, err := types.EncodeRecord(rec)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key, field(rec.MemberID), val).Err()
}

func (s *MemberStoreRedis) Delete(ctx context.Context, memberID int64) error {
	return s.client.HDel(ctx, s.key, field(memberID)).Err()
}

func (s *MemberStoreRedis) DeleteIf(
	ctx context.Context,
	memberID int64,
	pred func(membership.Record) bool,
) (bool, error) {
	var deleted bool
	err := s.watch(ctx, func(tx *redis.Tx) error {
		deleted = false
		rec, err := s.getRecord(ctx, tx, memberID)
		if err != nil {
			if errors.Is(err, types.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !pred(rec) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, s.key, field(memberID))
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (s *MemberStoreRedis) Update(
	ctx context.Context,
	memberID int64,
	fn types.UpdateFunc,
) error {
	return s.watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.getRecord(ctx, tx, memberID)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, field(memberID), val)
			return nil
		})
		return err
	})
}

func (s *MemberStoreRedis) List(ctx context.Context) (*types.Snapshot, error) {
	entries, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	ret := &types.Snapshot{}
	for k, v := range entries {
		memberID, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			ret.Malformed = append(
				ret.Malformed,
				&types.MalformedRecordError{Key: k, Err: err},
			)
			continue
		}
		rec, err := types.DecodeRecord(memberID, []byte(v))
		if err != nil {
			if mErr, ok := types.AsMalformed(err); ok {
				ret.Malformed = append(ret.Malformed, mErr)
				continue
			}
			return nil, err
		}
		ret.Records = append(ret.Records, rec)
	}
	return ret, nil
}

// watch runs fn as an optimistic transaction on the group hash, retrying
// when another client modifies the hash first
func (s *MemberStoreRedis) watch(
	ctx context.Context,
	fn func(*redis.Tx) error,
) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, s.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug(
			"member DB: retrying conflicting update",
			"component", "database",
		)
	}
	return fmt.Errorf(
		"update abandoned after %d attempts: %w",
		maxTxRetries,
		redis.TxFailedErr,
	)
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (s *MemberStoreRedis) getRecord(
	ctx context.Context,
	c hashGetter,
	memberID int64,
) (membership.Record, error) {
	val, err := c.HGet(ctx, s.key, field(memberID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return membership.Record{}, types.ErrRecordNotFound
		}
		return membership.Record{}, err
	}
	return types.DecodeRecord(memberID, val)
}

func field(memberID int64) string {
	return strconv.FormatInt(memberID, 10)
}
