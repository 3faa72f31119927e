package authsession

import (
	"context"
	"log/slog"
	"time"
)

// DefaultWatchInterval is used when NewWatcher is given a non-positive interval.
const DefaultWatchInterval = time.Minute

// Watcher periodically re-reads the session token so that expiry is detected
// and the session cleared even when no request is being made.
type Watcher struct {
	Manager  *Manager
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher for m.
func NewWatcher(m *Manager, logger *slog.Logger, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		Manager:  m,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background loop. It does not block.
func (w *Watcher) Start() {
	go w.run()
	w.Logger.Debug("session watcher started", "interval", w.Interval)
}

// Stop ends the loop and waits for it to return.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.Logger.Debug("session watcher stopped")
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.check()

	for {
		select {
		case <-ticker.C:
			w.check()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) check() {
	w.Manager.Token(context.Background())
}
