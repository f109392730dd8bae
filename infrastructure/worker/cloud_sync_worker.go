package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"faceforward/domain/models"
	"faceforward/domain/services"
	"faceforward/pkg/logger"
)

// CloudSyncWorker runs backlog passes when nudged and on a fixed interval.
// Each pass walks the mirror directories, so a burst of triggers collapses
// into one pass.
type CloudSyncWorker struct {
	cloudSync services.CloudSync

	// Worker control
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
	triggerCh chan struct{} // Channel to trigger immediate processing

	// Configuration
	interval time.Duration
	debounce time.Duration

	passes  atomic.Int64
	lastRun atomic.Pointer[models.SyncRun]
}

// NewCloudSyncWorker creates a new cloud sync worker. A zero interval
// disables the periodic pass.
func NewCloudSyncWorker(cloudSync services.CloudSync, interval time.Duration) *CloudSyncWorker {
	return &CloudSyncWorker{
		cloudSync: cloudSync,
		triggerCh: make(chan struct{}, 1),
		interval:  interval,
		debounce:  2 * time.Second,
	}
}

// Trigger requests a pass without blocking the caller.
func (w *CloudSyncWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
		// Already triggered
	}
}

// Start starts the cloud sync worker
func (w *CloudSyncWorker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()

	logger.Cloud("worker_started", "Cloud sync worker started", map[string]interface{}{
		"remote_root": w.cloudSync.RemoteRoot(),
		"interval":    w.interval.String(),
	})
}

// Stop stops the worker gracefully
func (w *CloudSyncWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	logger.Cloud("worker_stopped", "Cloud sync worker stopped", nil)
}

// IsRunning returns whether the worker is running
func (w *CloudSyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

func (w *CloudSyncWorker) run() {
	defer w.wg.Done()

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Catch up on anything routed while nothing was syncing.
	w.RunPass(w.ctx)

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.triggerCh:
			// Let the rest of a burst land before walking the tree.
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.debounce):
			}
			w.RunPass(w.ctx)
		case <-tick:
			w.RunPass(w.ctx)
		}
	}
}

// RunPass runs one backlog pass. Failures are logged, never returned.
func (w *CloudSyncWorker) RunPass(ctx context.Context) {
	run, err := w.cloudSync.SyncBacklog(ctx, nil)
	w.passes.Add(1)
	if err != nil {
		if ctx.Err() == nil {
			logger.CloudError("backlog_failed", "Backlog pass failed", err, nil)
		}
		return
	}
	w.lastRun.Store(run)
}

// LastRun returns the most recent finished pass, or nil.
func (w *CloudSyncWorker) LastRun() *models.SyncRun {
	return w.lastRun.Load()
}

// GetStats returns worker statistics
func (w *CloudSyncWorker) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"isRunning":  w.IsRunning(),
		"remoteRoot": w.cloudSync.RemoteRoot(),
		"passes":     w.passes.Load(),
	}
	if run := w.LastRun(); run != nil {
		stats["lastRun"] = run
	}
	return stats
}
