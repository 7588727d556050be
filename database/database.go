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

package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/tenure/database/plugin"
	_ "github.com/blinklabs-io/tenure/database/plugin/badger"
	_ "github.com/blinklabs-io/tenure/database/plugin/redis"
	_ "github.com/blinklabs-io/tenure/database/plugin/sqlite"
	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/membership"
)

const (
	DefaultBackend = "badger"

	startupCheckTimeout = 30 * time.Second
)

type Config struct {
	Logger        *slog.Logger
	PromRegistry  prometheus.Registerer
	Backend       string
	DataDir       string
	RedisAddr     string
	RedisPassword string
	GroupID       int64
	RedisDB       int
}

// Database is the membership store used by the rest of the program. It wraps
// a storage backend with logging and metrics.
type Database struct {
	logger  *slog.Logger
	store   types.Store
	metrics *storeMetrics
	backend string
	dataDir string
}

var _ types.Store = (*Database)(nil)

// New opens the configured storage backend and verifies that every stored
// record can be listed. Any failure is reported as ErrStoreUnavailable.
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	db := &Database{
		logger:  cfg.Logger,
		backend: cfg.Backend,
		dataDir: cfg.DataDir,
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if db.backend == "" {
		db.backend = DefaultBackend
	}
	store, err := plugin.Open(
		db.backend,
		plugin.Options{
			Logger:        db.logger,
			PromRegistry:  cfg.PromRegistry,
			DataDir:       cfg.DataDir,
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			RedisDB:       cfg.RedisDB,
			GroupID:       cfg.GroupID,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
	}
	db.store = store
	db.metrics = newStoreMetrics(cfg.PromRegistry)
	if err := db.init(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return db, nil
}

func (d *Database) init() error {
	ctx, cancel := context.WithTimeout(context.Background(), startupCheckTimeout)
	defer cancel()
	snap, err := d.List(ctx)
	if err != nil {
		return fmt.Errorf(
			"%w: initial listing failed: %w",
			types.ErrStoreUnavailable,
			err,
		)
	}
	d.logger.Info(
		fmt.Sprintf(
			"opened membership store with %d record(s)",
			len(snap.Records),
		),
		"component", "database",
		"backend", d.backend,
		"data_dir", d.dataDir,
		"malformed", len(snap.Malformed),
	)
	return nil
}

// Backend returns the name of the storage backend in use
func (d *Database) Backend() string {
	return d.backend
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Store returns the underlying storage backend
func (d *Database) Store() types.Store {
	return d.store
}

func (d *Database) Get(
	ctx context.Context,
	memberID int64,
) (membership.Record, error) {
	start := time.Now()
	rec, err := d.store.Get(ctx, memberID)
	d.observe("get", start, err)
	return rec, err
}

func (d *Database) Put(ctx context.Context, rec membership.Record) error {
	start := time.Now()
	err := d.store.Put(ctx, rec)
	d.observe("put", start, err)
	return err
}

func (d *Database) Delete(ctx context.Context, memberID int64) error {
	start := time.Now()
	err := d.store.Delete(ctx, memberID)
	d.observe("delete", start, err)
	return err
}

func (d *Database) DeleteIf(
	ctx context.Context,
	memberID int64,
	pred func(membership.Record) bool,
) (bool, error) {
	start := time.Now()
	deleted, err := d.store.DeleteIf(ctx, memberID, pred)
	d.observe("delete_if", start, err)
	return deleted, err
}

func (d *Database) Update(
	ctx context.Context,
	memberID int64,
	fn types.UpdateFunc,
) error {
	start := time.Now()
	err := d.store.Update(ctx, memberID, fn)
	d.observe("update", start, err)
	return err
}

func (d *Database) List(ctx context.Context) (*types.Snapshot, error) {
	start := time.Now()
	snap, err := d.store.List(ctx)
	d.observe("list", start, err)
	if err != nil {
		return nil, err
	}
	for _, m := range snap.Malformed {
		d.logger.Warn(
			"skipping malformed membership record",
			"component", "database",
			"key", m.Key,
			"error", m.Err,
		)
	}
	d.metrics.recordSnapshot(snap)
	return snap, nil
}

// Close closes the underlying storage backend
func (d *Database) Close() error {
	return d.store.Close()
}

func (d *Database) observe(op string, start time.Time, err error) {
	d.metrics.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, types.ErrRecordNotFound) {
		d.metrics.opErrors.WithLabelValues(op).Inc()
	}
}
