// Copyright 2026 Hearth Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package syncer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/fault"
)

// Worker states.
const (
	StateIdle    = "idle"
	StateSyncing = "syncing"
	StateStopped = "stopped"
)

// Defaults.
const (
	DefaultSyncInterval   = 5 * time.Minute
	DefaultForceCooldown  = 60 * time.Second
	DefaultRetentionDays  = 90
	DefaultStopGrace      = 10 * time.Second
	retentionCronSpec     = "0 3 * * *"
)

// Fetcher pulls records from an upstream source. Implementations are
// per-integration (mail provider, calendar provider, and so on).
type Fetcher interface {
	// Collections lists the collection names this fetcher serves.
	Collections() []string

	// Fetch returns records changed since the watermark. A zero since
	// means full backfill.
	Fetch(ctx context.Context, collection string, since time.Time) ([]Record, error)
}

// WorkerConfig configures a sync Worker.
type WorkerConfig struct {
	Store         *Store
	Fetcher       Fetcher
	Interval      time.Duration
	ForceCooldown time.Duration
	RetentionDays int

	// BackfillWindow bounds the initial sync of a collection with no
	// watermark. Zero backfills everything the fetcher has.
	BackfillWindow time.Duration

	// MaxPerCycle caps records ingested per collection per cycle. When the
	// cap truncates a batch the watermark advances only to the newest kept
	// record, so the remainder is picked up next cycle. Zero is unlimited.
	MaxPerCycle int

	Logger *zap.Logger
}

// Worker periodically mirrors upstream collections into the local store.
// A failing collection never blocks the others.
type Worker struct {
	config WorkerConfig
	logger *zap.Logger

	mu        sync.Mutex
	state     string
	lastForce time.Time

	cron     *cron.Cron
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWorker creates a Worker with defaults filled in.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Store == nil || config.Fetcher == nil {
		return nil, fault.New(fault.KindBadRequest, "sync worker needs a store and a fetcher")
	}
	if config.Interval == 0 {
		config.Interval = DefaultSyncInterval
	}
	if config.ForceCooldown == 0 {
		config.ForceCooldown = DefaultForceCooldown
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = DefaultRetentionDays
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Worker{
		config: config,
		logger: config.Logger,
		state:  StateIdle,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start runs the initial backfill, then the periodic loop and the nightly
// retention job.
func (w *Worker) Start(ctx context.Context) error {
	w.cron = cron.New()
	if _, err := w.cron.AddFunc(retentionCronSpec, w.runRetention); err != nil {
		return fault.Wrap(fault.KindInternal, err, "scheduling retention job")
	}
	w.cron.Start()

	go w.loop(ctx)
	w.logger.Info("sync worker started",
		zap.Duration("interval", w.config.Interval),
		zap.Int("retention_days", w.config.RetentionDays))
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)

	// Initial backfill before the first tick
	w.syncAll(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.syncAll(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the loop, waiting up to the grace period for an in-flight
// sync pass to finish. Safe to call more than once.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if w.cron != nil {
		w.cron.Stop()
	}

	select {
	case <-w.doneCh:
	case <-time.After(DefaultStopGrace):
		w.logger.Warn("sync worker did not stop within grace period")
	case <-ctx.Done():
	}

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()
	return nil
}

// State reports idle, syncing, or stopped.
func (w *Worker) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ForceSync triggers an immediate pass, optionally scoped to a single
// collection (empty syncs them all). Calls during an in-flight pass,
// within the cool-down window, or naming an unserved collection are
// no-ops and return false.
func (w *Worker) ForceSync(ctx context.Context, collection string) bool {
	collections := w.config.Fetcher.Collections()
	if collection != "" {
		if !servedCollection(collections, collection) {
			return false
		}
		collections = []string{collection}
	}

	w.mu.Lock()
	if w.state != StateIdle || time.Since(w.lastForce) < w.config.ForceCooldown {
		w.mu.Unlock()
		return false
	}
	w.lastForce = time.Now()
	w.mu.Unlock()

	w.runPass(ctx, collections)
	return true
}

func servedCollection(collections []string, name string) bool {
	for _, c := range collections {
		if c == name {
			return true
		}
	}
	return false
}

// syncAll runs one pass over every collection.
func (w *Worker) syncAll(ctx context.Context) {
	w.runPass(ctx, w.config.Fetcher.Collections())
}

// runPass syncs the given collections. Per-collection failures are
// recorded in sync_status and do not abort the pass.
func (w *Worker) runPass(ctx context.Context, collections []string) {
	w.mu.Lock()
	if w.state != StateIdle {
		w.mu.Unlock()
		return
	}
	w.state = StateSyncing
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.state == StateSyncing {
			w.state = StateIdle
		}
		w.mu.Unlock()
	}()

	for _, collection := range collections {
		if ctx.Err() != nil {
			return
		}
		w.syncCollection(ctx, collection)
	}
}

func (w *Worker) syncCollection(ctx context.Context, collection string) {
	stored, err := w.config.Store.LastSync(ctx, collection)
	if err != nil {
		w.logger.Error("reading sync watermark failed",
			zap.String("collection", collection), zap.Error(err))
		return
	}

	since := stored
	backfill := stored.IsZero()
	if backfill && w.config.BackfillWindow > 0 {
		since = time.Now().Add(-w.config.BackfillWindow)
	}

	passStart := time.Now()
	records, err := w.config.Fetcher.Fetch(ctx, collection, since)
	if err != nil {
		w.logger.Warn("collection sync failed",
			zap.String("collection", collection), zap.Error(err))
		_ = w.config.Store.SetSyncStatus(ctx, CollectionStatus{
			Collection: collection,
			LastSyncAt: stored, // watermark does not advance on failure
			LastError:  err.Error(),
		})
		return
	}

	watermark := passStart
	if w.config.MaxPerCycle > 0 && len(records) > w.config.MaxPerCycle {
		records = oldestFirst(records)[:w.config.MaxPerCycle]
		watermark = records[len(records)-1].Timestamp
	}

	if err := w.config.Store.UpsertRecords(ctx, collection, records); err != nil {
		w.logger.Error("storing synced records failed",
			zap.String("collection", collection), zap.Error(err))
		return
	}

	if err := w.config.Store.SetSyncStatus(ctx, CollectionStatus{
		Collection:    collection,
		LastSyncAt:    watermark,
		RecordsSynced: len(records),
	}); err != nil {
		w.logger.Error("writing sync status failed",
			zap.String("collection", collection), zap.Error(err))
		return
	}

	w.logger.Debug("collection synced",
		zap.String("collection", collection),
		zap.Int("records", len(records)),
		zap.Bool("backfill", backfill))
}

func oldestFirst(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (w *Worker) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := w.config.Store.Cleanup(ctx, w.config.RetentionDays)
	if err != nil {
		w.logger.Error("retention cleanup failed", zap.Error(err))
		return
	}
	if removed > 0 {
		w.logger.Info("retention cleanup removed records", zap.Int64("removed", removed))
	}
}
