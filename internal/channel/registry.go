package channel

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipwave/streamsync/internal/backoff"
)

// Registry owns the logical topic set and serializes all subscribe and
// unsubscribe traffic against the transport. The reconnection controller
// reports connection transitions via ConnectionOpened/ConnectionLost and
// pumps change events in via DispatchChange; consumers only see Register and
// Unregister.
type Registry interface {
	// Start launches the change dispatch loop. Must be called before the
	// connection is opened.
	Start(ctx context.Context) error

	// Stop cancels per-topic retries and drains the dispatch loop.
	Stop(ctx context.Context) error

	// Register adds a consumer for the topic. Registrations of the same
	// topic id share one transport subscription. If the connection is open
	// the subscription is issued immediately, otherwise it is queued until
	// the next ConnectionOpened.
	Register(t Topic) (Handle, error)

	// Unregister removes a consumer. When the last consumer of a topic is
	// removed its transport subscription is released fire-and-forget.
	Unregister(h Handle)

	// ConnectionOpened re-issues every registered topic's subscription.
	ConnectionOpened()

	// ConnectionLost marks all topics unsubscribed and cancels pending
	// subscribe retries.
	ConnectionLost()

	// DispatchChange queues a change event for handler delivery.
	DispatchChange(c Change)

	// ActiveTopics returns the ids of topics with a live subscription.
	ActiveTopics() []string

	// RegisteredTopics returns the ids of all registered topics.
	RegisteredTopics() []string

	// Resources returns the distinct data resources covered by registered
	// topics, used to resolve full-refresh requests.
	Resources() []string
}

// topicState tracks one logical topic's consumers and subscription.
type topicState struct {
	topic    Topic
	handlers map[uuid.UUID]func(Change)

	joined  bool
	joining bool
	attempt int
	retry   *time.Timer
}

type registry struct {
	cfg       RegistryConfig
	transport Transport
	logger    *slog.Logger
	policy    *backoff.Policy

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatchQ *queue[Change]

	mu     sync.RWMutex
	topics map[string]*topicState
	open   bool
	sess   uint64 // bumped on every connection transition; stale join results check it
}

// NewRegistry creates a topic registry bound to the given transport.
func NewRegistry(cfg RegistryConfig, transport Transport, logger *slog.Logger) Registry {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRegistryConfig()
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}

	return &registry{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		policy:    backoff.New(cfg.RetryBackoff),
		dispatchQ: newQueue[Change](cfg.QueueCapacity),
		topics:    make(map[string]*topicState),
	}
}

// Start launches the dispatch loop.
func (r *registry) Start(ctx context.Context) error {
	r.runCtx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.dispatchLoop()

	return nil
}

// Stop shuts the registry down.
func (r *registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	r.mu.Lock()
	r.open = false
	r.sess++
	for _, ts := range r.topics {
		ts.stopRetry()
		ts.joined = false
		ts.joining = false
	}
	r.mu.Unlock()

	r.dispatchQ.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("registry shutdown timeout")
	}
	return nil
}

// Register adds a consumer for a topic.
func (r *registry) Register(t Topic) (Handle, error) {
	if t.ID == "" {
		return Handle{}, ErrEmptyTopicID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.topics[t.ID]
	if ts == nil {
		ts = &topicState{
			topic:    t,
			handlers: make(map[uuid.UUID]func(Change)),
		}
		r.topics[t.ID] = ts
	}

	h := Handle{id: uuid.New(), topicID: t.ID}
	ts.handlers[h.id] = t.Handler

	if r.open && !ts.joined && !ts.joining {
		r.startJoinLocked(ts)
	}
	return h, nil
}

// Unregister removes a consumer registration.
func (r *registry) Unregister(h Handle) {
	if !h.Valid() {
		return
	}

	r.mu.Lock()
	ts := r.topics[h.topicID]
	if ts == nil {
		r.mu.Unlock()
		return
	}
	delete(ts.handlers, h.id)
	if len(ts.handlers) > 0 {
		r.mu.Unlock()
		return
	}

	// Last consumer gone.
	ts.stopRetry()
	wasJoined := ts.joined
	open := r.open
	delete(r.topics, h.topicID)
	r.mu.Unlock()

	if wasJoined && open {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.JoinTimeout)
			defer cancel()
			if err := r.transport.Leave(ctx, h.topicID); err != nil {
				r.logger.Debug("unsubscribe failed", "topic", h.topicID, "error", err)
			}
		}()
	}
}

// ConnectionOpened resubscribes every registered topic on the new session.
func (r *registry) ConnectionOpened() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.open = true
	r.sess++
	for _, ts := range r.topics {
		ts.stopRetry()
		ts.joined = false
		ts.joining = false
		ts.attempt = 0
		r.startJoinLocked(ts)
	}
}

// ConnectionLost invalidates all subscriptions.
func (r *registry) ConnectionLost() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return
	}
	r.open = false
	r.sess++
	for _, ts := range r.topics {
		ts.stopRetry()
		ts.joined = false
		ts.joining = false
	}
}

// DispatchChange queues a change for handler delivery.
func (r *registry) DispatchChange(c Change) {
	r.dispatchQ.Put(c)
}

// ActiveTopics returns ids of currently subscribed topics, sorted.
func (r *registry) ActiveTopics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.topics))
	for id, ts := range r.topics {
		if ts.joined {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// RegisteredTopics returns ids of all registered topics, sorted.
func (r *registry) RegisteredTopics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.topics))
	for id := range r.topics {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resources returns the distinct tables covered by registered topics.
func (r *registry) Resources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.topics))
	for id, ts := range r.topics {
		res := ts.topic.Filter.Table
		if res == "" {
			res = id
		}
		seen[res] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for res := range seen {
		out = append(out, res)
	}
	sort.Strings(out)
	return out
}

// startJoinLocked launches a subscribe attempt. Caller holds r.mu.
func (r *registry) startJoinLocked(ts *topicState) {
	ts.joining = true
	topic := ts.topic
	sess := r.sess

	r.wg.Add(1)
	go r.join(topic, sess)
}

// join performs one subscribe attempt and schedules an isolated retry on
// failure.
func (r *registry) join(topic Topic, sess uint64) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(r.runCtx, r.cfg.JoinTimeout)
	defer cancel()
	err := r.transport.Join(ctx, topic.ID, topic.Filter)

	r.mu.Lock()
	defer r.mu.Unlock()

	if sess != r.sess {
		// Connection changed while the join was in flight; the new session's
		// own resubscribe pass covers this topic.
		return
	}

	ts := r.topics[topic.ID]
	if ts == nil {
		// Unregistered while joining; release the orphan subscription.
		if err == nil {
			r.leaveOrphan(topic.ID)
		}
		return
	}

	ts.joining = false
	if err != nil {
		if !r.open {
			return
		}
		ts.attempt++
		delay := r.policy.Delay(ts.attempt)
		r.logger.Warn("topic subscribe failed, retrying",
			"topic", topic.ID,
			"attempt", ts.attempt,
			"retry_in", delay,
			"error", err,
		)
		id := topic.ID
		ts.retry = time.AfterFunc(delay, func() { r.retryJoin(id, sess) })
		return
	}

	ts.joined = true
	ts.attempt = 0
}

// retryJoin re-attempts a failed subscribe if the topic and session are
// still current.
func (r *registry) retryJoin(id string, sess uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess != r.sess || !r.open {
		return
	}
	ts := r.topics[id]
	if ts == nil || ts.joined || ts.joining {
		return
	}
	r.startJoinLocked(ts)
}

// leaveOrphan releases a subscription whose consumers vanished mid-join.
// Caller holds r.mu.
func (r *registry) leaveOrphan(id string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.JoinTimeout)
		defer cancel()
		if err := r.transport.Leave(ctx, id); err != nil {
			r.logger.Debug("orphan unsubscribe failed", "topic", id, "error", err)
		}
	}()
}

// dispatchLoop delivers queued changes to topic handlers.
func (r *registry) dispatchLoop() {
	defer r.wg.Done()

	for {
		c, ok := r.dispatchQ.Take()
		if !ok {
			return
		}

		r.mu.RLock()
		ts := r.topics[c.TopicID]
		var handlers []func(Change)
		if ts != nil {
			for _, h := range ts.handlers {
				if h != nil {
					handlers = append(handlers, h)
				}
			}
		}
		r.mu.RUnlock()

		for _, h := range handlers {
			h(c)
		}
	}
}

func (ts *topicState) stopRetry() {
	if ts.retry != nil {
		ts.retry.Stop()
		ts.retry = nil
	}
}
