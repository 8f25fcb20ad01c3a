package service

import (
	"context"
	"sync"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/rs/zerolog"
)

// finalSnapshotTimeout bounds the save performed while stopping
const finalSnapshotTimeout = 10 * time.Second

// SnapshotWorker is a background worker that periodically persists the layout store
type SnapshotWorker struct {
	store    domain.LayoutSnapshotter
	repo     domain.SnapshotRepository
	logger   zerolog.Logger
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	started  bool
	running  bool
}

// SnapshotWorkerConfig holds configuration for the snapshot worker
type SnapshotWorkerConfig struct {
	Interval time.Duration // How often to save a snapshot
}

// DefaultSnapshotWorkerConfig returns sensible defaults
func DefaultSnapshotWorkerConfig() SnapshotWorkerConfig {
	return SnapshotWorkerConfig{
		Interval: time.Minute,
	}
}

// NewSnapshotWorker creates a new snapshot worker
func NewSnapshotWorker(
	store domain.LayoutSnapshotter,
	repo domain.SnapshotRepository,
	logger zerolog.Logger,
	config SnapshotWorkerConfig,
) *SnapshotWorker {
	if config.Interval <= 0 {
		config.Interval = DefaultSnapshotWorkerConfig().Interval
	}

	return &SnapshotWorker{
		store:    store,
		repo:     repo,
		logger:   logger.With().Str("component", "snapshot_worker").Logger(),
		interval: config.Interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins saving snapshots in the background. A worker runs at most once.
func (w *SnapshotWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.running = true
	w.mu.Unlock()

	w.logger.Info().
		Dur("interval", w.interval).
		Msg("Starting snapshot worker")

	go w.run(ctx)
}

// Stop saves a final snapshot and stops the worker. It is safe to call
// concurrently and more than once; every call returns after the final save.
func (w *SnapshotWorker) Stop() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}

	w.stopOnce.Do(func() {
		w.logger.Info().Msg("Stopping snapshot worker")
		close(w.stopCh)
	})
	<-w.doneCh
	w.logger.Info().Msg("Snapshot worker stopped")
}

// run is the main loop for the snapshot worker
func (w *SnapshotWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.finish()
			return
		case <-w.stopCh:
			w.finish()
			return
		case <-ticker.C:
			if err := w.SaveNow(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Failed to save layout snapshot")
			}
		}
	}
}

// finish writes the last snapshot on a fresh context, since the run context may be cancelled
func (w *SnapshotWorker) finish() {
	ctx, cancel := context.WithTimeout(context.Background(), finalSnapshotTimeout)
	defer cancel()

	if err := w.SaveNow(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Failed to save final layout snapshot")
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// SaveNow copies the store and persists it
func (w *SnapshotWorker) SaveNow(ctx context.Context) error {
	startTime := time.Now()

	snapshot, err := w.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := w.repo.Save(ctx, snapshot); err != nil {
		return err
	}

	total := 0
	for _, layouts := range snapshot {
		total += len(layouts)
	}
	w.logger.Debug().
		Int("namespaces", len(snapshot)).
		Int("layouts", total).
		Dur("elapsed", time.Since(startTime)).
		Msg("Saved layout snapshot")
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SnapshotWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
