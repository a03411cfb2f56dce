// Package index keeps the vector store in sync with the notes server by
// periodically sweeping for updated blocks.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hrygo/siyuan-companion/ai/metrics"
	"github.com/hrygo/siyuan-companion/siyuan"
)

// NotesSource is the slice of the kernel client the worker reads from.
type NotesSource interface {
	CountBlocks(ctx context.Context) (int, error)
	BlocksUpdatedSince(ctx context.Context, since time.Time) ([]siyuan.Block, error)
}

// BlockIndexer embeds blocks and writes them to the vector store.
type BlockIndexer interface {
	AddBlocks(ctx context.Context, blocks []siyuan.Block) (int, error)
}

// CursorStore persists the epoch-second watermark between sweeps.
type CursorStore interface {
	LoadCursor() (int64, error)
	SaveCursor(cursor int64) error
	ClearCursor() error
}

// Config configures the index worker.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// ForceUpdate discards the cursor before the first sweep so the whole
	// workspace is re-indexed.
	ForceUpdate bool
}

// DefaultConfig returns default worker configuration.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute}
}

// Worker sweeps the notes server for updated blocks and feeds them to the
// indexer. Sweeps are serialized; a tick that fires during a long sweep
// waits for it to finish.
type Worker struct {
	notes   NotesSource
	indexer BlockIndexer
	cursor  CursorStore

	exporter *metrics.PrometheusExporter
	config   Config

	mu      sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	running atomic.Bool
}

// NewWorker creates an index worker. The exporter may be nil.
func NewWorker(notes NotesSource, indexer BlockIndexer, cursor CursorStore, exporter *metrics.PrometheusExporter, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	return &Worker{
		notes:    notes,
		indexer:  indexer,
		cursor:   cursor,
		exporter: exporter,
		config:   cfg,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background loop. The first sweep runs immediately.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return // Already running
	}

	if w.config.ForceUpdate {
		if err := w.cursor.ClearCursor(); err != nil {
			slog.Error("failed to clear index cursor", "error", err)
		} else {
			slog.Info("index cursor cleared, full re-index scheduled")
		}
	}

	w.ticker = time.NewTicker(w.config.Interval)

	go w.run()
	slog.Info("index worker started", "interval", w.config.Interval)
}

// Stop halts the background loop. A sweep already in flight finishes.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return // Not running
	}

	close(w.stopCh)
	if w.ticker != nil {
		w.ticker.Stop()
	}

	slog.Info("index worker stopped")
}

// IsRunning returns true if the worker loop is active.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

func (w *Worker) run() {
	ctx := context.Background()

	w.sweepAndLog(ctx)
	for {
		select {
		case <-w.ticker.C:
			w.sweepAndLog(ctx)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) sweepAndLog(ctx context.Context) {
	count, err := w.Sweep(ctx)
	if err != nil {
		slog.Error("index sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("index sweep complete", "blocks", count)
	}
}

// Sweep runs one incremental pass: fetch blocks updated since the cursor,
// index them, and advance the cursor. It returns the number of blocks
// indexed. The cursor only moves after a successful write of a non-empty
// batch, so a failed sweep is retried over the same window.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	count, err := w.sweep(ctx)
	if w.exporter != nil {
		w.exporter.RecordSweep(time.Since(start), count, err == nil)
	}
	return count, err
}

func (w *Worker) sweep(ctx context.Context) (int, error) {
	cursor, err := w.cursor.LoadCursor()
	if err != nil {
		return 0, err
	}

	// Captured before the fetch so edits landing mid-sweep fall into the
	// next window instead of being skipped.
	now := time.Now()

	// Refresh the block count so the fetch below sees the whole table.
	if _, err := w.notes.CountBlocks(ctx); err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}

	blocks, err := w.notes.BlocksUpdatedSince(ctx, time.Unix(cursor, 0))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch updated blocks: %w", err)
	}
	if len(blocks) == 0 {
		return 0, nil
	}

	count, err := w.indexer.AddBlocks(ctx, blocks)
	if err != nil {
		return 0, fmt.Errorf("failed to index blocks: %w", err)
	}

	if err := w.cursor.SaveCursor(now.Unix()); err != nil {
		return count, fmt.Errorf("failed to save index cursor: %w", err)
	}

	return count, nil
}
