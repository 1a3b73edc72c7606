package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Invalidator drops cached attribute types of one owner.
type Invalidator interface {
	Invalidate(ctx context.Context, ownerKey string)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context, ownerKey string)

// Invalidate calls f(ctx, ownerKey).
func (f InvalidatorFunc) Invalidate(ctx context.Context, ownerKey string) {
	f(ctx, ownerKey)
}

// TypeWatcher keeps attribute type caches consistent across server instances.
// It uses PostgreSQL LISTEN/NOTIFY: the attribute_types trigger publishes the
// owner key of every changed row, and the watcher invalidates that owner.
//
// When the listener connection is lost every owner is invalidated once it is
// re-established, since notifications sent in between are gone.
type TypeWatcher struct {
	mu       sync.Mutex
	connStr  string
	channel  string
	target   Invalidator
	logger   *slog.Logger
	listener *pq.Listener
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopped  bool

	// resetAll is called after a reconnect
	resetAll func(ctx context.Context)
}

// NewTypeWatcher creates a TypeWatcher.
// connStr is the PostgreSQL connection string for LISTEN/NOTIFY.
// resetAll may be nil.
func NewTypeWatcher(connStr, channel string, target Invalidator, resetAll func(ctx context.Context), logger *slog.Logger) *TypeWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &TypeWatcher{
		connStr:  connStr,
		channel:  channel,
		target:   target,
		resetAll: resetAll,
		logger:   logger.With("component", "type_watcher", "channel", channel),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins listening on the notify channel.
func (w *TypeWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return fmt.Errorf("type watcher already stopped")
	}
	if w.started {
		return nil
	}

	w.listener = pq.NewListener(w.connStr, 10*time.Second, time.Minute, w.reportProblem)
	if err := w.listener.Listen(w.channel); err != nil {
		w.listener.Close()
		w.listener = nil
		return fmt.Errorf("failed to listen on %s: %w", w.channel, err)
	}
	w.started = true

	go w.handleNotifications(w.listener.Notify)
	w.logger.Info("listening for attribute type changes")
	return nil
}

// Stop stops the watcher and closes the listener.
func (w *TypeWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	started := w.started
	w.mu.Unlock()

	if !started {
		return nil
	}
	<-w.doneCh
	return w.listener.Close()
}

// Handle applies one notification payload.
func (w *TypeWatcher) Handle(ctx context.Context, n *pq.Notification) {
	if n == nil {
		// nil is sent after the connection was re-established
		w.logger.Warn("listener reconnected, invalidating all owners")
		if w.resetAll != nil {
			w.resetAll(ctx)
		}
		return
	}
	if n.Extra == "" {
		return
	}
	w.logger.Debug("attribute types changed", "owner", n.Extra)
	w.target.Invalidate(ctx, n.Extra)
}

func (w *TypeWatcher) handleNotifications(notify <-chan *pq.Notification) {
	defer close(w.doneCh)
	ctx := context.Background()

	for {
		select {
		case <-w.stopCh:
			return
		case n := <-notify:
			w.Handle(ctx, n)
		case <-time.After(90 * time.Second):
			// Periodic ping to keep connection alive
			go func() {
				if err := w.listener.Ping(); err != nil {
					w.logger.Warn("listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (w *TypeWatcher) reportProblem(ev pq.ListenerEventType, err error) {
	if err != nil {
		w.logger.Error("listener error", "event", int(ev), "error", err)
	}
}
