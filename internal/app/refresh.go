package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/openusage/internal/batch"
)

// Start begins the auto-refresh loop. It is a no-op when the refresh
// interval is zero or the loop is already running.
func (a *App) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil || a.config.RefreshInterval <= 0 {
		return
	}

	a.stopCh = make(chan struct{})
	a.loopDone = make(chan struct{})
	go a.runRefreshLoop(a.config.RefreshInterval, a.stopCh, a.loopDone)

	a.logger.Info("auto-refresh started", "interval", a.config.RefreshInterval)
}

// Stop halts the auto-refresh loop and waits for in-flight probes.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, done := a.stopCh, a.loopDone
	a.stopCh, a.loopDone = nil, nil
	a.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-done
		a.logger.Info("auto-refresh stopped")
	}
	a.orchestrator.Wait()
}

// runRefreshLoop probes every plugin once per interval. A tick is skipped
// while the previous batch is still running.
func (a *App) runRefreshLoop(interval time.Duration, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	inFlight := make(chan struct{}, 1)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			select {
			case inFlight <- struct{}{}:
			default:
				a.logger.Debug("previous refresh still running, skipping tick")
				continue
			}
			req := a.refreshRequest()
			req.BatchID = uuid.New().String()
			a.completions.expect(req.BatchID, func() { <-inFlight })
			a.orchestrator.Start(context.Background(), req)
		}
	}
}

// completionWatcher runs a callback when a given batch completes.
type completionWatcher struct {
	mu      sync.Mutex
	pending map[string]func()
}

func newCompletionWatcher() *completionWatcher {
	return &completionWatcher{pending: make(map[string]func())}
}

func (w *completionWatcher) expect(batchID string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[batchID] = fn
}

// Emit implements batch.Emitter.
func (w *completionWatcher) Emit(event string, payload any) {
	if event != batch.EventBatchComplete {
		return
	}
	complete, ok := payload.(batch.Complete)
	if !ok {
		return
	}

	w.mu.Lock()
	fn := w.pending[complete.BatchID]
	delete(w.pending, complete.BatchID)
	w.mu.Unlock()

	if fn != nil {
		fn()
	}
}
