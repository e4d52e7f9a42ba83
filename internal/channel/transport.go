package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the single realtime connection to the backend. One instance
// is dialed and closed repeatedly across reconnections; Events delivers each
// session's lifecycle and change events in order.
type Transport interface {
	// Open dials the backend. Returns ErrAlreadyOpen if a session is live.
	Open(ctx context.Context) error

	// Close tears down the current session. Idempotent.
	Close() error

	// Join subscribes the logical topic id with the given change filter and
	// waits for the server's ack.
	Join(ctx context.Context, id string, f Filter) error

	// Leave unsubscribes a previously joined topic.
	Leave(ctx context.Context, id string) error

	// Events returns the event stream. The channel stays open across
	// sessions; each session contributes one EventOpened, any number of
	// EventChange, and one terminal EventClosed.
	Events() <-chan Event
}

// joinRecord tracks a joined topic within the current session.
type joinRecord struct {
	wireTopic string
	joinRef   string
}

// wsTransport implements Transport over a gorilla WebSocket.
type wsTransport struct {
	cfg    TransportConfig
	logger *slog.Logger

	events chan Event
	ref    atomic.Int64

	// Write serialization
	writeMu sync.Mutex

	// Session state
	mu          sync.RWMutex
	conn        *websocket.Conn
	open        bool
	opening     bool
	done        chan struct{}
	lastRecv    time.Time
	closeReason error
	joins       map[string]joinRecord // logical id -> join info

	// Reply correlation
	pendingMu sync.Mutex
	pending   map[string]chan frame
}

// NewTransport creates a WebSocket transport. Zero config durations fall
// back to defaults.
func NewTransport(cfg TransportConfig, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultTransportConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = def.ReplyTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &wsTransport{
		cfg:     cfg,
		logger:  logger,
		events:  make(chan Event, cfg.BufferSize),
		pending: make(map[string]chan frame),
	}
}

// Open dials the backend and starts the session goroutines.
func (t *wsTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.open || t.opening {
		t.mu.Unlock()
		return ErrAlreadyOpen
	}
	t.opening = true
	t.mu.Unlock()

	wsURL, err := t.buildURL()
	if err != nil {
		t.setOpening(false)
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		t.setOpening(false)
		return fmt.Errorf("websocket dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.open = true
	t.opening = false
	t.done = make(chan struct{})
	t.lastRecv = time.Now()
	t.closeReason = nil
	t.joins = make(map[string]joinRecord)
	done := t.done
	t.mu.Unlock()

	t.pendingMu.Lock()
	t.pending = make(map[string]chan frame)
	t.pendingMu.Unlock()

	conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})

	go t.readLoop(conn, done)
	go t.heartbeatLoop(conn, done)

	t.logger.Debug("transport connected", "url", t.cfg.URL)
	t.emitSure(Event{Type: EventOpened, At: time.Now()})
	return nil
}

// Close tears down the current session cleanly.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	conn := t.conn
	done := t.done
	t.mu.Unlock()

	close(done)
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// Join subscribes a topic and waits for the server's reply.
func (t *wsTransport) Join(ctx context.Context, id string, f Filter) error {
	t.mu.RLock()
	if !t.open {
		t.mu.RUnlock()
		return ErrNotOpen
	}
	conn := t.conn
	done := t.done
	t.mu.RUnlock()

	ref := t.nextRef()
	respCh := t.addPending(ref)
	defer t.removePending(ref)

	wireTopic := f.ChannelTopic()
	buf, err := encodeFrame(wireTopic, evtJoin, newJoinPayload(f), ref, ref)
	if err != nil {
		return err
	}
	if err := t.send(conn, buf); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrNotOpen
	case <-time.After(t.cfg.ReplyTimeout):
		return ErrReplyTimeout
	case resp := <-respCh:
		if err := decodeReply(resp.Payload); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.joins[id] = joinRecord{wireTopic: wireTopic, joinRef: ref}
	t.mu.Unlock()

	t.logger.Debug("topic joined", "topic", id, "channel", wireTopic)
	return nil
}

// Leave unsubscribes a topic. Leaving a topic that is not joined is a no-op.
func (t *wsTransport) Leave(ctx context.Context, id string) error {
	t.mu.RLock()
	if !t.open {
		t.mu.RUnlock()
		return ErrNotOpen
	}
	conn := t.conn
	done := t.done
	rec, joined := t.joins[id]
	t.mu.RUnlock()

	if !joined {
		return nil
	}

	ref := t.nextRef()
	respCh := t.addPending(ref)
	defer t.removePending(ref)

	buf, err := encodeFrame(rec.wireTopic, evtLeave, struct{}{}, ref, rec.joinRef)
	if err != nil {
		return err
	}
	if err := t.send(conn, buf); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrNotOpen
	case <-time.After(t.cfg.ReplyTimeout):
		return ErrReplyTimeout
	case resp := <-respCh:
		if err := decodeReply(resp.Payload); err != nil {
			return err
		}
	}

	t.mu.Lock()
	delete(t.joins, id)
	t.mu.Unlock()

	t.logger.Debug("topic left", "topic", id)
	return nil
}

// Events returns the event stream.
func (t *wsTransport) Events() <-chan Event {
	return t.events
}

// buildURL appends the apikey and protocol version query parameters.
func (t *wsTransport) buildURL() (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	if t.cfg.APIKey != "" {
		q.Set("apikey", t.cfg.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// send writes a text frame with the configured deadline.
func (t *wsTransport) send(conn *websocket.Conn, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames until the session ends, then emits the terminal
// EventClosed.
func (t *wsTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	var closeErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Locally closed; closeReason distinguishes stale-kill from
				// a requested Close.
				closeErr = t.takeCloseReason()
			default:
				closeErr = err
				t.teardown(conn, done)
			}
			break
		}
		t.touch()
		t.handleFrame(data)
	}

	t.emitSure(Event{Type: EventClosed, Err: closeErr, At: time.Now()})
}

// heartbeatLoop sends protocol heartbeats and kills the session when the
// server goes silent.
func (t *wsTransport) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			buf, err := encodeFrame(heartbeatTopic, evtHeartbeat, struct{}{}, t.nextRef(), "")
			if err == nil {
				if err := t.send(conn, buf); err != nil {
					t.logger.Debug("heartbeat send failed", "error", err)
				}
			}

			t.mu.RLock()
			last := t.lastRecv
			t.mu.RUnlock()

			if time.Since(last) > t.cfg.HeartbeatTimeout {
				t.logger.Warn("no traffic from server, closing stale connection",
					"last_recv", last,
					"timeout", t.cfg.HeartbeatTimeout,
				)
				t.failSession(ErrStale)
				return
			}
		}
	}
}

// handleFrame decodes one inbound frame and routes it.
func (t *wsTransport) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.logger.Warn("undecodable frame", "error", err)
		return
	}

	switch f.Event {
	case evtReply:
		t.routeReply(f)

	case evtChanges:
		change, err := decodeChange(f.Payload)
		if err != nil {
			t.logger.Warn("undecodable change event", "topic", f.Topic, "error", err)
			return
		}
		id, ok := t.topicForWire(f.Topic)
		if !ok {
			t.logger.Debug("change for unjoined channel, dropping", "channel", f.Topic)
			return
		}
		now := time.Now()
		t.emit(Event{
			Type: EventChange,
			Change: Change{
				TopicID:    id,
				Kind:       change.Type,
				Table:      change.Table,
				Record:     change.Record,
				Old:        change.OldRecord,
				ReceivedAt: now,
			},
			At: now,
		})

	case evtClose, evtError:
		t.logger.Warn("channel terminated by server", "channel", f.Topic, "event", f.Event)
		t.removeJoinByWire(f.Topic)

	default:
		t.logger.Debug("unhandled frame", "event", f.Event, "channel", f.Topic)
	}
}

// routeReply delivers a phx_reply to the waiting Join/Leave call. Replies
// with no waiter (heartbeat acks) are dropped.
func (t *wsTransport) routeReply(f frame) {
	t.pendingMu.Lock()
	ch, ok := t.pending[f.Ref]
	if ok {
		delete(t.pending, f.Ref)
	}
	t.pendingMu.Unlock()

	if ok {
		select {
		case ch <- f:
		default:
		}
	}
}

// teardown marks the session dead after a read failure.
func (t *wsTransport) teardown(conn *websocket.Conn, done chan struct{}) {
	t.mu.Lock()
	if t.open {
		t.open = false
		close(done)
	}
	t.mu.Unlock()
	conn.Close()
}

// failSession kills the session with an attributed reason.
func (t *wsTransport) failSession(reason error) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	t.open = false
	t.closeReason = reason
	conn := t.conn
	done := t.done
	t.mu.Unlock()

	close(done)
	conn.Close()
}

func (t *wsTransport) takeCloseReason() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	reason := t.closeReason
	t.closeReason = nil
	return reason
}

func (t *wsTransport) topicForWire(wireTopic string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, rec := range t.joins {
		if rec.wireTopic == wireTopic {
			return id, true
		}
	}
	return "", false
}

func (t *wsTransport) removeJoinByWire(wireTopic string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, rec := range t.joins {
		if rec.wireTopic == wireTopic {
			delete(t.joins, id)
			return
		}
	}
}

func (t *wsTransport) touch() {
	t.mu.Lock()
	t.lastRecv = time.Now()
	t.mu.Unlock()
}

func (t *wsTransport) setOpening(v bool) {
	t.mu.Lock()
	t.opening = v
	t.mu.Unlock()
}

func (t *wsTransport) nextRef() string {
	return strconv.FormatInt(t.ref.Add(1), 10)
}

func (t *wsTransport) addPending(ref string) chan frame {
	ch := make(chan frame, 1)
	t.pendingMu.Lock()
	t.pending[ref] = ch
	t.pendingMu.Unlock()
	return ch
}

func (t *wsTransport) removePending(ref string) {
	t.pendingMu.Lock()
	delete(t.pending, ref)
	t.pendingMu.Unlock()
}

// emit delivers an event without blocking; change events may be dropped
// under sustained backpressure.
func (t *wsTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Warn("event buffer full, dropping event", "type", ev.Type.String())
	}
}

// emitSure delivers a lifecycle event, waiting briefly for buffer space.
// Opened and Closed drive the reconnection state machine and must not be
// dropped while the consumer is alive.
func (t *wsTransport) emitSure(ev Event) {
	select {
	case t.events <- ev:
	case <-time.After(5 * time.Second):
		t.logger.Warn("event buffer full, dropping lifecycle event", "type", ev.Type.String())
	}
}
