// Package probe tracks device network status and backend reachability.
//
// Network status comes from a pluggable NetworkSource polled at a short
// interval. Backend reachability is a periodic HTTP HEAD against the
// backend's health endpoint, run only while the network is up. Probe
// failures are state, not errors: a check that fails or times out just
// reports unreachable.
package probe

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default probe parameters.
const (
	DefaultCheckInterval       = 30 * time.Second
	DefaultCheckTimeout        = 5 * time.Second
	DefaultNetworkPollInterval = 5 * time.Second
	DefaultBufferSize          = 16
)

// EventType identifies what changed.
type EventType int

const (
	NetworkChanged      EventType = iota // Device network went up or down
	ReachabilityChanged                  // Backend reachability flipped
)

func (t EventType) String() string {
	switch t {
	case NetworkChanged:
		return "network_changed"
	case ReachabilityChanged:
		return "reachability_changed"
	}
	return "unknown"
}

// Event carries the probe status at the time of a change.
type Event struct {
	Type      EventType
	Online    bool
	Reachable bool
	At        time.Time
}

// Config configures the probe.
type Config struct {
	HealthURL           string        // HEAD target (e.g., https://api.pipwave.io/rest/v1/)
	CheckInterval       time.Duration // Reachability check period
	CheckTimeout        time.Duration // Per-check deadline
	NetworkPollInterval time.Duration // NetworkSource poll period
	BufferSize          int           // Events channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:       DefaultCheckInterval,
		CheckTimeout:        DefaultCheckTimeout,
		NetworkPollInterval: DefaultNetworkPollInterval,
		BufferSize:          DefaultBufferSize,
	}
}

// Probe is the single source of truth for connectivity status.
type Probe interface {
	// Start begins network polling and periodic reachability checks.
	Start(ctx context.Context) error

	// Stop cancels the pollers and releases all timers.
	Stop(ctx context.Context) error

	// Events returns status-change notifications.
	Events() <-chan Event

	// Status returns the current network and reachability flags.
	Status() (online, reachable bool)

	// CheckNow runs a reachability check immediately, bypassing the
	// periodic interval. Concurrent calls share one in-flight check.
	CheckNow(ctx context.Context) bool
}

type prober struct {
	cfg    Config
	src    NetworkSource
	client *http.Client
	logger *slog.Logger

	events chan Event
	sf     singleflight.Group

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	online    bool
	reachable bool
}

// NewProbe creates a probe. A nil source uses interface polling.
func NewProbe(cfg Config, src NetworkSource, logger *slog.Logger) Probe {
	if logger == nil {
		logger = slog.Default()
	}
	if src == nil {
		src = InterfaceSource{}
	}
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.NetworkPollInterval <= 0 {
		cfg.NetworkPollInterval = def.NetworkPollInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &prober{
		cfg:    cfg,
		src:    src,
		client: &http.Client{Timeout: cfg.CheckTimeout},
		logger: logger,
		events: make(chan Event, cfg.BufferSize),
	}
}

// Start launches the poll loops.
func (p *prober) Start(ctx context.Context) error {
	p.runCtx, p.cancel = context.WithCancel(ctx)

	p.mu.Lock()
	p.online = p.src.Online()
	p.mu.Unlock()

	p.wg.Add(2)
	go p.networkLoop()
	go p.reachLoop()

	return nil
}

// Stop cancels the loops.
func (p *prober) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("probe shutdown timeout")
	}
	return nil
}

// Events returns the notification channel.
func (p *prober) Events() <-chan Event {
	return p.events
}

// Status returns the current flags.
func (p *prober) Status() (online, reachable bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online, p.reachable
}

// CheckNow forces an immediate reachability check.
func (p *prober) CheckNow(ctx context.Context) bool {
	ch := p.sf.DoChan("reach", func() (any, error) {
		return p.check(), nil
	})

	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		p.setReachable(ok)
		return ok
	case <-ctx.Done():
		_, reachable := p.Status()
		return reachable
	}
}

// networkLoop polls the network source and emits transitions.
func (p *prober) networkLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.NetworkPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.runCtx.Done():
			return
		case <-ticker.C:
			cur := p.src.Online()

			p.mu.Lock()
			if cur == p.online {
				p.mu.Unlock()
				continue
			}
			p.online = cur
			wasReachable := p.reachable
			if !cur {
				p.reachable = false
			}
			p.mu.Unlock()

			p.logger.Info("network status changed", "online", cur)
			p.emit(NetworkChanged)
			if !cur && wasReachable {
				p.emit(ReachabilityChanged)
			}
			if cur {
				// Resolve reachability right away rather than waiting for
				// the next periodic tick.
				go p.CheckNow(p.runCtx)
			}
		}
	}
}

// reachLoop runs the periodic reachability check while online.
func (p *prober) reachLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.runCtx.Done():
			return
		case <-ticker.C:
			if online, _ := p.Status(); !online {
				continue
			}
			p.CheckNow(p.runCtx)
		}
	}
}

// check performs one HEAD request. Any failure means unreachable.
func (p *prober) check() bool {
	if p.cfg.HealthURL == "" {
		return false
	}

	base := p.runCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, p.cfg.CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.cfg.HealthURL, nil)
	if err != nil {
		p.logger.Debug("reachability request build failed", "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("reachability check failed", "error", err)
		return false
	}
	resp.Body.Close()

	// Any response below 500 proves the backend is there and serving.
	return resp.StatusCode < 500
}

// setReachable records a check result and emits on change.
func (p *prober) setReachable(ok bool) {
	p.mu.Lock()
	if p.reachable == ok {
		p.mu.Unlock()
		return
	}
	p.reachable = ok
	p.mu.Unlock()

	p.logger.Info("backend reachability changed", "reachable", ok)
	p.emit(ReachabilityChanged)
}

// emit sends an event without blocking.
func (p *prober) emit(t EventType) {
	online, reachable := p.Status()
	ev := Event{Type: t, Online: online, Reachable: reachable, At: time.Now()}

	select {
	case p.events <- ev:
	default:
		p.logger.Warn("probe event buffer full, dropping event", "type", t.String())
	}
}
