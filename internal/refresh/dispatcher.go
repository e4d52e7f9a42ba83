// Package refresh coalesces bursts of change events into deduplicated
// re-fetch calls against the data layer.
package refresh

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Default dispatcher parameters.
const (
	DefaultDebounce       = 300 * time.Millisecond
	DefaultInvalidateWait = 30 * time.Second
)

// Invalidator re-fetches the named resources. Provided by the data layer.
type Invalidator interface {
	Invalidate(ctx context.Context, keys []string) error
}

// InvalidatorFunc adapts a function to the Invalidator interface.
type InvalidatorFunc func(ctx context.Context, keys []string) error

func (f InvalidatorFunc) Invalidate(ctx context.Context, keys []string) error {
	return f(ctx, keys)
}

// Config configures the dispatcher.
type Config struct {
	Debounce       time.Duration // Coalescing window
	InvalidateWait time.Duration // Deadline for one Invalidate call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:       DefaultDebounce,
		InvalidateWait: DefaultInvalidateWait,
	}
}

// Dispatcher merges refresh requests within a debounce window and issues one
// Invalidate per burst. Invalidate failures are logged and dropped; the next
// change event naturally retries.
type Dispatcher struct {
	cfg      Config
	inv      Invalidator
	fullKeys func() []string
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	full    bool
	timer   *time.Timer
	closed  bool

	flushWG sync.WaitGroup
}

// NewDispatcher creates a dispatcher. fullKeys resolves the key set of a
// full refresh; nil means full refreshes invalidate with an empty key list
// and the data layer decides what that means.
func NewDispatcher(cfg Config, inv Invalidator, fullKeys func() []string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.InvalidateWait <= 0 {
		cfg.InvalidateWait = def.InvalidateWait
	}

	return &Dispatcher{
		cfg:      cfg,
		inv:      inv,
		fullKeys: fullKeys,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}
}

// Request merges keys into the pending set and arms the debounce timer if
// needed. An empty key set requests a full refresh, which absorbs any
// pending partial request.
func (d *Dispatcher) Request(keys ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	if len(keys) == 0 {
		d.full = true
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		d.pending[k] = struct{}{}
	}

	if d.timer == nil {
		d.timer = time.AfterFunc(d.cfg.Debounce, d.flush)
	}
}

// Close cancels any armed debounce timer and waits for an in-flight flush to
// finish. Requests after Close are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
	d.full = false
	d.mu.Unlock()

	d.flushWG.Wait()
}

// flush issues one Invalidate with the accumulated key union.
func (d *Dispatcher) flush() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	full := d.full
	keys := make([]string, 0, len(d.pending))
	for k := range d.pending {
		keys = append(keys, k)
	}
	d.pending = make(map[string]struct{})
	d.full = false
	d.timer = nil
	d.flushWG.Add(1)
	d.mu.Unlock()

	defer d.flushWG.Done()

	if !full && len(keys) == 0 {
		return
	}
	if full {
		if d.fullKeys != nil {
			keys = d.fullKeys()
		} else {
			keys = nil
		}
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.InvalidateWait)
	defer cancel()

	if err := d.inv.Invalidate(ctx, keys); err != nil {
		d.logger.Warn("refresh invalidate failed", "keys", keys, "full", full, "error", err)
		return
	}
	d.logger.Debug("refresh dispatched", "keys", keys, "full", full)
}
