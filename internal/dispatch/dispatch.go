// Package dispatch implements the write-ahead-durable event dispatcher: a
// pending WAL row is persisted before any listener runs, so a notification
// is never silently dropped. Listener failures are recorded as status
// transitions and never propagate to the caller that triggered the dispatch.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/starford/berkano/internal/apperr"
	"github.com/starford/berkano/internal/store"
)

// Mode selects how hooks execute after the WAL row is durable.
type Mode int

const (
	// ModeSync executes listeners inline with Dispatch. Used by tests and
	// by the explicit no-concurrency flag.
	ModeSync Mode = iota
	// ModeAsync submits execution to a bounded worker pool.
	ModeAsync
)

// ParseMode converts a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "sync":
		return ModeSync, nil
	case "async":
		return ModeAsync, nil
	}
	return 0, fmt.Errorf("dispatch: unknown mode %q", s)
}

// Options configures a Dispatcher.
type Options struct {
	Mode       Mode
	Workers    int64         // async pool size
	MaxRetries int           // failed attempts before dead_letter
	TaskWait   time.Duration // per-task wait bound during Drain
}

// DrainResult summarizes one row retried by Drain.
type DrainResult struct {
	ID     int64  `json:"id"`
	Hook   string `json:"hook_name"`
	Status string `json:"status"`
}

// Dispatcher persists dispatch intents and executes them against the relay.
// It owns its own short statements against the WAL table, independent of any
// coordinator scope.
type Dispatcher struct {
	db     *store.Store
	relay  *Relay
	opts   Options
	logger *slog.Logger

	sem    *semaphore.Weighted
	closed atomic.Bool

	mu       sync.Mutex
	inflight map[int64]chan struct{}
}

// New creates a dispatcher.
func New(db *store.Store, relay *Relay, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.TaskWait <= 0 {
		opts.TaskWait = 5 * time.Second
	}
	return &Dispatcher{
		db:       db,
		relay:    relay,
		opts:     opts,
		logger:   logger,
		sem:      semaphore.NewWeighted(opts.Workers),
		inflight: make(map[int64]chan struct{}),
	}
}

// Dispatch persists a pending WAL row for the hook, then executes it per the
// configured mode. The returned id identifies the WAL row. Listener failures
// surface only in the row's status, never as a returned error.
func (d *Dispatcher) Dispatch(ctx context.Context, hook string, payload any, sessionID string) (int64, error) {
	if d.closed.Load() {
		return 0, apperr.ErrClosed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("dispatch: marshal payload: %w", err)
	}

	// Durability precedes execution.
	id, err := store.InsertEvent(d.db.Conn(), hook, raw, sessionID)
	if err != nil {
		return 0, err
	}

	if d.opts.Mode == ModeSync {
		d.execute(ctx, id, hook, raw, sessionID)
		return id, nil
	}

	done := make(chan struct{})
	d.mu.Lock()
	d.inflight[id] = done
	d.mu.Unlock()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		// The row stays pending; the next Drain picks it up.
		d.forget(id)
		close(done)
		return id, nil
	}
	go func() {
		defer d.sem.Release(1)
		defer close(done)
		defer d.forget(id)
		d.execute(context.Background(), id, hook, raw, sessionID)
	}()
	return id, nil
}

// Drain is a synchronization barrier. It first waits (bounded per task) for
// in-flight async work, then re-executes every pending or failed row in
// ascending id order, returning the final status of each. dead_letter rows
// are excluded: retrying them forever is an explicit non-choice.
func (d *Dispatcher) Drain(ctx context.Context) ([]DrainResult, error) {
	d.mu.Lock()
	waiting := make(map[int64]chan struct{}, len(d.inflight))
	for id, ch := range d.inflight {
		waiting[id] = ch
	}
	d.mu.Unlock()

	for id, ch := range waiting {
		select {
		case <-ch:
		case <-time.After(d.opts.TaskWait):
			// Tolerated: the task's own handler persists its final state.
			d.logger.Warn("dispatch: drain wait timed out", slog.Int64("event_id", id))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	rows, err := store.RetryableEvents(d.db.Conn())
	if err != nil {
		return nil, err
	}

	out := make([]DrainResult, 0, len(rows))
	for _, ev := range rows {
		d.execute(ctx, ev.ID, ev.Hook, ev.Payload, ev.SessionID)
		cur, err := store.GetEvent(d.db.Conn(), ev.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, DrainResult{ID: cur.ID, Hook: cur.Hook, Status: cur.Status})
	}
	return out, nil
}

// Shutdown drains, stops accepting new work, and waits for the pool to
// empty.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if _, err := d.Drain(ctx); err != nil {
		return err
	}
	d.closed.Store(true)
	if err := d.sem.Acquire(ctx, d.opts.Workers); err != nil {
		return fmt.Errorf("dispatch: wait for pool: %w", err)
	}
	d.sem.Release(d.opts.Workers)
	return nil
}

// execute resolves the hook against the relay and transitions the WAL row.
// Zero registered listeners means completed, not failure.
func (d *Dispatcher) execute(ctx context.Context, id int64, hook string, payload []byte, sessionID string) {
	handlers := d.relay.Handlers(hook)
	if len(handlers) == 0 {
		if err := store.MarkEventCompleted(d.db.Conn(), id); err != nil {
			d.logger.Warn("dispatch: complete event failed", slog.Int64("event_id", id), slog.String("error", err.Error()))
		}
		return
	}

	ev := Event{ID: id, Hook: hook, Payload: payload, SessionID: sessionID}
	var firstErr error
	for _, h := range handlers {
		if err := callListener(ctx, h, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr == nil {
		if err := store.MarkEventCompleted(d.db.Conn(), id); err != nil {
			d.logger.Warn("dispatch: complete event failed", slog.Int64("event_id", id), slog.String("error", err.Error()))
		}
		return
	}

	d.logger.Warn("dispatch: listener failed",
		slog.Int64("event_id", id),
		slog.String("hook", hook),
		slog.String("error", firstErr.Error()))
	if err := store.MarkEventFailed(d.db.Conn(), id, firstErr.Error(), d.opts.MaxRetries); err != nil {
		d.logger.Warn("dispatch: fail event failed", slog.Int64("event_id", id), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) forget(id int64) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// callListener runs one listener, converting a panic into an error: plugin
// failures are never fatal to the triggering operation.
func callListener(ctx context.Context, h HandlerFunc, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: listener panic: %v", r)
		}
	}()
	return h(ctx, ev)
}
