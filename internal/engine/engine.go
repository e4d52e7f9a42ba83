// Package engine implements the reconnection controller: a single-goroutine
// state machine that watches the connectivity probe, drives the channel
// transport through connect/retry cycles with exponential backoff, keeps the
// topic registry in step with the connection, and triggers data refreshes so
// callers never act on events missed while disconnected.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pipwave/streamsync/internal/backoff"
	"github.com/pipwave/streamsync/internal/channel"
	"github.com/pipwave/streamsync/internal/lifecycle"
	"github.com/pipwave/streamsync/internal/metrics"
	"github.com/pipwave/streamsync/internal/probe"
	"github.com/pipwave/streamsync/internal/refresh"
)

// DefaultCommandBuffer is the default size of the command queue.
const DefaultCommandBuffer = 16

// Config configures the engine.
type Config struct {
	Backoff       backoff.Config
	CommandBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backoff:       backoff.DefaultConfig(),
		CommandBuffer: DefaultCommandBuffer,
	}
}

// Engine coordinates connectivity, channel subscriptions, and refreshes.
type Engine interface {
	// Start launches the probe, the registry, and the control loop.
	Start(ctx context.Context) error

	// Stop tears everything down: cancels pending retries, closes the
	// connection, and stops the probe and registry.
	Stop(ctx context.Context) error

	// Register adds a topic subscription. Safe at any connection state.
	Register(t channel.Topic) (channel.Handle, error)

	// Unregister removes a topic subscription by handle.
	Unregister(h channel.Handle)

	// Snapshot returns the current connection state.
	Snapshot() State

	// OnStateChange registers a listener invoked on every state change
	// from the control loop. Listeners must be fast and must not block.
	// The returned function removes the listener.
	OnStateChange(fn func(State)) func()

	// RetryConnection skips any pending backoff delay and re-attempts
	// immediately. The attempt counter is preserved, so backoff keeps
	// escalating if failures continue.
	RetryConnection()

	// Foreground signals that the host application returned to the
	// foreground: checks reachability, reconnects if the channel is not
	// subscribed, and requests a full refresh.
	Foreground()
}

// Deps are the engine's collaborators. Transport, Registry, and Probe are
// required; the rest may be nil.
type Deps struct {
	Transport channel.Transport
	Registry  channel.Registry
	Probe     probe.Probe
	Refresh   *refresh.Dispatcher
	Lifecycle lifecycle.Source
	Metrics   *metrics.Collector
}

type cmdKind int

const (
	cmdRetry cmdKind = iota
	cmdForeground
	cmdRetryTimer
)

func (k cmdKind) String() string {
	switch k {
	case cmdRetry:
		return "retry"
	case cmdForeground:
		return "foreground"
	case cmdRetryTimer:
		return "retry_timer"
	default:
		return "unknown"
	}
}

// command is an instruction for the control loop.
type command struct {
	kind cmdKind
	gen  uint64 // Retry timer generation, cmdRetryTimer only
}

// dialResult reports the outcome of an async open. The generation ties it to
// the connect call that started it, so results of abandoned dials are
// recognized and discarded.
type dialResult struct {
	gen uint64
	err error
}

type engine struct {
	cfg       Config
	transport channel.Transport
	registry  channel.Registry
	probe     probe.Probe
	refresh   *refresh.Dispatcher
	source    lifecycle.Source
	mc        *metrics.Collector
	policy    *backoff.Policy
	logger    *slog.Logger

	cmds        chan command
	dialResults chan dialResult

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Owned by the control loop.
	st         State
	connGen    uint64
	retryGen   uint64
	retryTimer *time.Timer

	mu        sync.RWMutex
	published State
	listeners map[int]func(State)
	nextID    int
}

// NewEngine creates an engine. Panics if a required dependency is missing.
func NewEngine(cfg Config, deps Deps, logger *slog.Logger) Engine {
	if deps.Transport == nil || deps.Registry == nil || deps.Probe == nil {
		panic("engine: Transport, Registry, and Probe are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = DefaultCommandBuffer
	}

	return &engine{
		cfg:         cfg,
		transport:   deps.Transport,
		registry:    deps.Registry,
		probe:       deps.Probe,
		refresh:     deps.Refresh,
		source:      deps.Lifecycle,
		mc:          deps.Metrics,
		policy:      backoff.New(cfg.Backoff),
		logger:      logger,
		cmds:        make(chan command, cfg.CommandBuffer),
		dialResults: make(chan dialResult, 4),
		listeners:   make(map[int]func(State)),
	}
}

// Start launches the engine.
func (e *engine) Start(ctx context.Context) error {
	e.runCtx, e.cancel = context.WithCancel(ctx)

	if err := e.probe.Start(e.runCtx); err != nil {
		return fmt.Errorf("start probe: %w", err)
	}
	if err := e.registry.Start(e.runCtx); err != nil {
		e.probe.Stop(ctx)
		return fmt.Errorf("start registry: %w", err)
	}

	online, reachable := e.probe.Status()
	e.st = State{
		Online:           online,
		BackendReachable: reachable,
		Channel:          StatusDisconnected,
	}

	e.wg.Add(1)
	go e.run()

	e.logger.Info("sync engine started",
		"online", online,
		"backend_reachable", reachable,
	)
	return nil
}

// Stop tears the engine down.
func (e *engine) Stop(ctx context.Context) error {
	e.logger.Info("stopping sync engine")

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("shutdown timeout, forcing close")
	}

	e.transport.Close()
	e.registry.Stop(ctx)
	e.probe.Stop(ctx)

	e.logger.Info("sync engine stopped")
	return nil
}

// Register adds a topic subscription.
func (e *engine) Register(t channel.Topic) (channel.Handle, error) {
	return e.registry.Register(t)
}

// Unregister removes a topic subscription.
func (e *engine) Unregister(h channel.Handle) {
	e.registry.Unregister(h)
}

// Snapshot returns the current state.
func (e *engine) Snapshot() State {
	e.mu.RLock()
	st := e.published
	e.mu.RUnlock()

	st.ActiveTopics = e.registry.ActiveTopics()
	return st
}

// OnStateChange registers a state listener.
func (e *engine) OnStateChange(fn func(State)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// RetryConnection requests an immediate reconnect attempt.
func (e *engine) RetryConnection() {
	e.send(command{kind: cmdRetry})
}

// Foreground reports a host foreground transition.
func (e *engine) Foreground() {
	e.send(command{kind: cmdForeground})
}

func (e *engine) send(c command) {
	if e.runCtx == nil {
		return
	}
	select {
	case e.cmds <- c:
	default:
		e.logger.Warn("command dropped, queue full", "kind", c.kind.String())
	}
}

// run is the control loop. All state transitions happen here, one event at a
// time, so no transition can interleave with another.
func (e *engine) run() {
	defer e.wg.Done()
	defer e.stopRetryTimer()

	probeEvents := e.probe.Events()
	transportEvents := e.transport.Events()
	var lifecycleEvents <-chan lifecycle.Event
	if e.source != nil {
		lifecycleEvents = e.source.Events()
	}

	if e.st.Online {
		e.connect()
	}
	e.publish()

	for {
		select {
		case <-e.runCtx.Done():
			return

		case ev, ok := <-probeEvents:
			if !ok {
				probeEvents = nil
				continue
			}
			e.handleProbe(ev)

		case ev, ok := <-transportEvents:
			if !ok {
				transportEvents = nil
				continue
			}
			e.handleTransport(ev)

		case r := <-e.dialResults:
			e.handleDialResult(r)

		case c := <-e.cmds:
			e.handleCommand(c)

		case ev, ok := <-lifecycleEvents:
			if !ok {
				lifecycleEvents = nil
				continue
			}
			e.foreground(ev.Reason.String())
		}
	}
}

func (e *engine) handleProbe(ev probe.Event) {
	switch ev.Type {
	case probe.NetworkChanged:
		if ev.Online == e.st.Online {
			e.st.BackendReachable = ev.Reachable
			e.publish()
			return
		}
		e.st.Online = ev.Online
		e.st.BackendReachable = ev.Reachable
		if !ev.Online {
			e.logger.Info("network offline, closing channel")
			e.toOffline("offline")
		} else {
			e.logger.Info("network online")
			if e.st.Channel == StatusDisconnected {
				e.st.Attempt = 0
				e.connect()
			}
		}
		e.publish()

	case probe.ReachabilityChanged:
		e.st.BackendReachable = ev.Reachable
		e.publish()
	}
}

func (e *engine) handleTransport(ev channel.Event) {
	switch ev.Type {
	case channel.EventOpened:
		if e.st.Channel != StatusConnecting {
			// Offline or teardown won the race; the connection is unwanted.
			e.logger.Warn("discarding late connection", "state", e.st.Channel.String())
			e.closeConn()
			return
		}
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		e.st.Channel = StatusSubscribed
		e.st.Attempt = 0
		e.st.LastConnectedAt = at
		e.registry.ConnectionOpened()
		e.mc.RecordConnection()
		e.requestRefresh()
		e.logger.Info("channel subscribed")
		e.publish()

	case channel.EventClosed:
		if e.st.Channel != StatusConnecting && e.st.Channel != StatusSubscribed {
			return
		}
		e.registry.ConnectionLost()
		if ev.Err != nil {
			e.mc.RecordDisconnect("error")
		} else {
			e.mc.RecordDisconnect("closed")
		}
		e.connectFailed(ev.Err)
		e.publish()

	case channel.EventChange:
		e.mc.RecordChange(ev.Change.Table)
		e.registry.DispatchChange(ev.Change)
		if ev.Change.Table != "" {
			e.requestRefresh(ev.Change.Table)
		}
	}
}

func (e *engine) handleDialResult(r dialResult) {
	if r.gen != e.connGen {
		if r.err == nil {
			// An abandoned dial still produced a connection; close it.
			e.closeConn()
		}
		return
	}
	if r.err == nil {
		return // EventOpened drives the transition
	}
	if e.st.Channel != StatusConnecting {
		return
	}
	e.connectFailed(r.err)
	e.publish()
}

func (e *engine) handleCommand(c command) {
	switch c.kind {
	case cmdRetry:
		e.retryNow()

	case cmdForeground:
		e.foreground("manual")

	case cmdRetryTimer:
		if c.gen != e.retryGen {
			return
		}
		e.retryTimer = nil
		if !e.st.Online || e.st.Channel != StatusError {
			return
		}
		e.connect()
		e.publish()
	}
}

// retryNow handles a manual retry: skip the pending delay, keep the attempt
// counter so backoff stays escalated if failures continue.
func (e *engine) retryNow() {
	if !e.st.Online {
		e.logger.Debug("manual retry ignored, network offline")
		return
	}
	switch e.st.Channel {
	case StatusConnecting, StatusSubscribed:
		return
	}
	e.stopRetryTimer()
	e.connect()
	e.publish()
}

func (e *engine) foreground(reason string) {
	e.logger.Info("foreground", "reason", reason)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.probe.CheckNow(e.runCtx)
	}()

	e.requestRefresh()

	if e.st.Online && (e.st.Channel == StatusDisconnected || e.st.Channel == StatusError) {
		e.stopRetryTimer()
		e.connect()
		e.publish()
	}
}

// connect starts an async open and moves to Connecting. The dial runs off the
// loop; its result comes back tagged with the connect generation.
func (e *engine) connect() {
	e.st.Channel = StatusConnecting
	e.connGen++
	gen := e.connGen

	e.mc.RecordConnectAttempt()
	e.logger.Info("opening channel", "attempt", e.st.Attempt)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.transport.Open(e.runCtx)
		select {
		case e.dialResults <- dialResult{gen: gen, err: err}:
		case <-e.runCtx.Done():
		}
	}()
}

// connectFailed moves to Error and schedules the next attempt.
func (e *engine) connectFailed(err error) {
	e.st.Channel = StatusError
	e.st.Attempt++
	delay := e.policy.Delay(e.st.Attempt)
	e.armRetryTimer(delay)
	e.logger.Warn("channel attempt failed",
		"attempt", e.st.Attempt,
		"retry_in", delay,
		"error", err,
	)
}

// toOffline forces the channel down. No retries are scheduled while offline;
// the next online transition restarts the cycle.
func (e *engine) toOffline(reason string) {
	e.stopRetryTimer()
	if e.st.Channel == StatusSubscribed || e.st.Channel == StatusConnecting {
		e.mc.RecordDisconnect(reason)
	}
	e.closeConn()
	e.st.Channel = StatusDisconnected
	e.registry.ConnectionLost()
}

func (e *engine) closeConn() {
	e.connGen++
	if err := e.transport.Close(); err != nil && !errors.Is(err, channel.ErrNotOpen) {
		e.logger.Debug("close transport", "error", err)
	}
}

func (e *engine) armRetryTimer(d time.Duration) {
	e.stopRetryTimer()
	gen := e.retryGen
	e.retryTimer = time.AfterFunc(d, func() {
		select {
		case e.cmds <- command{kind: cmdRetryTimer, gen: gen}:
		case <-e.runCtx.Done():
		}
	})
}

// stopRetryTimer cancels the pending retry, if any. Bumping the generation
// also invalidates a timer that fired but was not yet processed.
func (e *engine) stopRetryTimer() {
	e.retryGen++
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

func (e *engine) requestRefresh(keys ...string) {
	if e.refresh == nil {
		return
	}
	e.refresh.Request(keys...)
	e.mc.RecordRefreshRequest(len(keys) == 0)
}

// publish stores the state snapshot and notifies listeners.
func (e *engine) publish() {
	st := e.st
	st.ActiveTopics = e.registry.ActiveTopics()

	e.mc.RecordChannelStatus(int(st.Channel))
	e.mc.RecordSubscribedTopics(len(st.ActiveTopics))

	e.mu.Lock()
	e.published = st
	fns := make([]func(State), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
