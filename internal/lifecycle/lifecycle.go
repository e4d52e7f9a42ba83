// Package lifecycle surfaces host application lifecycle transitions, in
// particular returns to the foreground. Hosts embedding the engine call
// Foreground directly; the wake detector additionally catches machine
// suspend/resume, where no host callback fires.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default wake detector parameters.
const (
	DefaultTickInterval = 5 * time.Second
	DefaultWakeGap      = 20 * time.Second
	DefaultBufferSize   = 8
)

// Reason describes what produced a foreground event.
type Reason int

const (
	ReasonManual Reason = iota // Host reported a foreground transition
	ReasonWake                 // Wall-clock gap indicates suspend/resume
)

func (r Reason) String() string {
	switch r {
	case ReasonManual:
		return "manual"
	case ReasonWake:
		return "wake"
	default:
		return "unknown"
	}
}

// Event is a single foreground transition.
type Event struct {
	Reason Reason
	Gap    time.Duration // Observed clock gap, wake events only
	At     time.Time
}

// Source emits foreground events for the engine to consume.
type Source interface {
	// Events returns the foreground event stream.
	Events() <-chan Event
	// Foreground reports a host foreground transition.
	Foreground()
}

// Config configures the wake detector.
type Config struct {
	TickInterval time.Duration // Monotonic tick period
	WakeGap      time.Duration // Wall-clock gap treated as a resume
	BufferSize   int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: DefaultTickInterval,
		WakeGap:      DefaultWakeGap,
		BufferSize:   DefaultBufferSize,
	}
}

// WakeDetector is a Source that combines host Foreground calls with
// suspend/resume detection based on wall-clock gaps between ticks.
type WakeDetector struct {
	cfg    Config
	logger *slog.Logger
	events chan Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWakeDetector creates a wake detector.
func NewWakeDetector(cfg Config, logger *slog.Logger) *WakeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.WakeGap <= cfg.TickInterval {
		cfg.WakeGap = def.WakeGap
		if cfg.WakeGap <= cfg.TickInterval {
			cfg.WakeGap = 4 * cfg.TickInterval
		}
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &WakeDetector{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.BufferSize),
	}
}

// Start launches the tick loop.
func (w *WakeDetector) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.tickLoop(ctx)

	w.logger.Debug("wake detector started",
		"tick_interval", w.cfg.TickInterval,
		"wake_gap", w.cfg.WakeGap)
	return nil
}

// Stop halts the tick loop.
func (w *WakeDetector) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("wake detector shutdown timeout")
	}
	return nil
}

// Events returns the foreground event stream.
func (w *WakeDetector) Events() <-chan Event {
	return w.events
}

// Foreground reports a host foreground transition.
func (w *WakeDetector) Foreground() {
	w.emit(Event{Reason: ReasonManual, At: time.Now()})
}

func (w *WakeDetector) tickLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			gap := now.Sub(last)
			last = now
			if gap >= w.cfg.WakeGap {
				w.logger.Info("wake detected", "gap", gap)
				w.emit(Event{Reason: ReasonWake, Gap: gap, At: now})
			}
		}
	}
}

func (w *WakeDetector) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("lifecycle event dropped, buffer full", "reason", ev.Reason.String())
	}
}
