package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/carsync/errors"
)

var (
	// ErrAutoReplayRunning is returned by StartAutoReplay when a loop is already active.
	ErrAutoReplayRunning = errors.New("auto replay is already running")
	// ErrAutoReplayStopped is returned by StopAutoReplay when no loop is active.
	ErrAutoReplayStopped = errors.New("auto replay is not running")
)

type autoReplay struct {
	mu          sync.Mutex
	stop        chan struct{}
	wg          sync.WaitGroup
	subscribers []func(*ReplayReport)
}

// StartAutoReplay flushes the queue every interval while commands are pending and
// the remote service answers its probe. The loop ends on ctx, StopAutoReplay or Close.
func (e *Engine) StartAutoReplay(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("auto replay interval must be positive")
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEngineClosed
	}

	e.auto.mu.Lock()
	defer e.auto.mu.Unlock()
	if e.auto.stop != nil {
		return ErrAutoReplayRunning
	}

	stop := make(chan struct{})
	e.auto.stop = stop
	e.auto.wg.Add(1)

	go func() {
		defer e.auto.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				e.replayIfPending(ctx)
			}
		}
	}()

	e.logger.Info("Auto replay started", "interval", interval)
	return nil
}

// StopAutoReplay stops the loop and waits for an in-progress pass to finish.
func (e *Engine) StopAutoReplay() error {
	e.auto.mu.Lock()
	if e.auto.stop == nil {
		e.auto.mu.Unlock()
		return ErrAutoReplayStopped
	}
	close(e.auto.stop)
	e.auto.stop = nil
	e.auto.mu.Unlock()

	e.auto.wg.Wait()
	e.logger.Info("Auto replay stopped")
	return nil
}

// Subscribe registers handler to receive the report of every background replay.
func (e *Engine) Subscribe(handler func(*ReplayReport)) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEngineClosed
	}

	e.auto.mu.Lock()
	defer e.auto.mu.Unlock()
	e.auto.subscribers = append(e.auto.subscribers, handler)
	return nil
}

func (e *Engine) replayIfPending(ctx context.Context) {
	pending, err := e.queue.Size(ctx)
	if err != nil || pending == 0 {
		return
	}

	report, err := e.Replay(ctx)
	if err != nil {
		if syncErrors.IsConnectivity(err) {
			e.logger.Debug("Remote service still unreachable", "pending", pending)
			return
		}
		e.logger.LogError(ctx, err, "Background replay failed")
		return
	}
	e.notifySubscribers(report)
}

func (e *Engine) notifySubscribers(report *ReplayReport) {
	e.auto.mu.Lock()
	subscribers := make([]func(*ReplayReport), len(e.auto.subscribers))
	copy(subscribers, e.auto.subscribers)
	e.auto.mu.Unlock()

	for _, h := range subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Replay subscriber panicked", "panic", r)
				}
			}()
			h(report)
		}()
	}
}
