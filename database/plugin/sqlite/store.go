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

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/membership"
)

// MemberStoreSqlite is a SQLite-based implementation of the membership store
type MemberStoreSqlite struct {
	db          *gorm.DB
	logger      *slog.Logger
	timerVacuum *time.Timer
	dataDir     string
	vacuumWG    sync.WaitGroup
	timerMutex  sync.Mutex
	closed      bool
}

// New creates a SQLite membership store
func New(opts ...SqliteOptionFunc) (*MemberStoreSqlite, error) {
	s := &MemberStoreSqlite{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var dsn string
	if s.dataDir == "" {
		// Each in-memory store gets its own named database
		dsn = fmt.Sprintf(
			"file:tenure-%s?mode=memory&cache=shared",
			uuid.NewString(),
		)
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
		dbPath := filepath.Join(s.dataDir, "members.sqlite")
		// WAL journal mode, full sync on commit so acknowledged writes survive a crash
		connOpts := "_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
		dsn = fmt.Sprintf("file:%s?%s", dbPath, connOpts)
	}
	db, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, err
	}
	s.db = db
	sqlDb, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Single writer connection serializes read-modify-write transactions
	sqlDb.SetMaxOpenConns(1)
	if err := s.init(); err != nil {
		_ = sqlDb.Close()
		return nil, err
	}
	return s, nil
}

func (s *MemberStoreSqlite) init() error {
	// Configure tracing for GORM
	if err := s.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	s.logger.Debug(
		fmt.Sprintf("creating table: %#v", &Member{}),
		"component", "database",
	)
	if err := s.db.AutoMigrate(&Member{}); err != nil {
		return err
	}
	s.scheduleDailyVacuum()
	return nil
}

func (s *MemberStoreSqlite) runVacuum() error {
	s.timerMutex.Lock()
	if s.dataDir == "" || s.closed {
		s.timerMutex.Unlock()
		return nil
	}
	// Track this vacuum operation while we know the store is open
	s.vacuumWG.Add(1)
	s.timerMutex.Unlock()
	defer s.vacuumWG.Done()
	return s.db.Exec("VACUUM").Error
}

// scheduleDailyVacuum schedules a daily vacuum operation
func (s *MemberStoreSqlite) scheduleDailyVacuum() {
	s.timerMutex.Lock()
	defer s.timerMutex.Unlock()
	if s.closed {
		return
	}
	if s.timerVacuum != nil {
		s.timerVacuum.Stop()
	}
	f := func() {
		// schedule next run
		defer s.scheduleDailyVacuum()
		if err := s.runVacuum(); err != nil {
			s.logger.Error(
				"failed to free unused space in membership store",
				"component", "database",
				"error", err,
			)
		}
	}
	s.timerVacuum = time.AfterFunc(24*time.Hour, f)
}

// Close stops the vacuum timer and closes the database
func (s *MemberStoreSqlite) Close() error {
	s.timerMutex.Lock()
	if s.closed {
		s.timerMutex.Unlock()
		return nil
	}
	s.closed = true
	if s.timerVacuum != nil {
		s.timerVacuum.Stop()
		s.timerVacuum = nil
	}
	s.timerMutex.Unlock()
	s.vacuumWG.Wait()
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}

// DB returns the database handle
func (s *MemberStoreSqlite) DB() *gorm.DB {
	return s.db
}

func (s *MemberStoreSqlite) Get(
	ctx context.Context,
	memberID int64,
) (membership.Record, error) {
	return getRecord(s.db.WithContext(ctx), memberID)
}

func (s *MemberStoreSqlite) Put(
	ctx context.Context,
	rec membership.Record,
) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m := memberFromRecord(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&m).Error
}

func (s *MemberStoreSqlite) Delete(ctx context.Context, memberID int64) error {
	return s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Delete(&Member{}).Error
}

func (s *MemberStoreSqlite) DeleteIf(
	ctx context.Context,
	memberID int64,
	pred func(membership.Record) bool,
) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := getRecord(tx, memberID)
		if err != nil {
			if errors.Is(err, types.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !pred(rec) {
			return nil
		}
		result := tx.Where("member_id = ?", memberID).Delete(&Member{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *MemberStoreSqlite) Update(
	ctx context.Context,
	memberID int64,
	fn types.UpdateFunc,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := getRecord(tx, memberID)
		if err != nil {
			return err
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
		m := memberFromRecord(rec)
		return tx.Save(&m).Error
	})
}

func (s *MemberStoreSqlite) List(ctx context.Context) (*types.Snapshot, error) {
	db := s.db.WithContext(ctx)
	rows, err := db.Model(&Member{}).Order("member_id").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := &types.Snapshot{}
	for rows.Next() {
		var m Member
		if err := db.ScanRows(rows, &m); err != nil {
			ret.Malformed = append(
				ret.Malformed,
				&types.MalformedRecordError{
					Key: strconv.FormatInt(m.MemberID, 10),
					Err: err,
				},
			)
			continue
		}
		rec := m.Record()
		if err := rec.Validate(); err != nil {
			ret.Malformed = append(
				ret.Malformed,
				&types.MalformedRecordError{
					Key: strconv.FormatInt(m.MemberID, 10),
					Err: err,
				},
			)
			continue
		}
		ret.Records = append(ret.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func getRecord(db *gorm.DB, memberID int64) (membership.Record, error) {
	var m Member
	result := db.Where("member_id = ?", memberID).Take(&m)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return membership.Record{}, types.ErrRecordNotFound
		}
		return membership.Record{}, result.Error
	}
	rec := m.Record()
	if err := rec.Validate(); err != nil {
		return membership.Record{}, &types.MalformedRecordError{
			Key: strconv.FormatInt(memberID, 10),
			Err: err,
		}
	}
	return rec, nil
}
