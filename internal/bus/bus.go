// Package bus multiplexes the single persistent websocket to the mosaic
// backend among many topic-scoped subscribers. One reader goroutine owns
// the connection and dispatches envelopes synchronously, so subscribers on
// a topic observe envelopes in channel-arrival order and one at a time.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/renjiyun06/mosaic-sub001/internal/fault"
	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// Topic is the routing key for subscriptions: a session id, or TopicAll.
type Topic string

// TopicAll matches every notification envelope regardless of session id.
const TopicAll Topic = "*"

// Handler receives one envelope. Handlers run synchronously on the reader
// goroutine and must return quickly; long work belongs elsewhere.
type Handler func(wire.Envelope)

// State describes the transport connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type subscription struct {
	id      int
	topic   Topic
	handler Handler
}

// Bus is the shared event channel. Create with New, start with Run.
type Bus struct {
	url   string
	token string
	log   zerolog.Logger

	baseDelay time.Duration
	maxDelay  time.Duration

	mu            sync.Mutex
	conn          *websocket.Conn
	subs          []*subscription
	nextID        int
	state         State
	stateWatchers []*stateWatcher
	lastErr       string

	writeMu sync.Mutex // serialises all conn writes (frames, pings)
}

type stateWatcher struct {
	id int
	fn func(State)
}

// New creates a bus targeting the given websocket URL. The bus does not
// connect until Run is called.
func New(url, token string, log zerolog.Logger) *Bus {
	return &Bus{
		url:       url,
		token:     token,
		log:       log,
		baseDelay: reconnectBaseDelay,
		maxDelay:  reconnectMaxDelay,
	}
}

// Subscribe registers handler for topic and returns an idempotent
// unsubscribe closure. Many subscriptions may share a topic; unsubscribing
// removes exactly this registration. Subscriptions survive reconnection.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, topic: topic, handler: handler}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == sub.id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// OnStateChange registers a connection-state listener and returns an
// idempotent unregister closure. The listener is invoked with the current
// state immediately so callers never miss the initial value.
func (b *Bus) OnStateChange(fn func(State)) func() {
	b.mu.Lock()
	b.nextID++
	w := &stateWatcher{id: b.nextID, fn: fn}
	b.stateWatchers = append(b.stateWatchers, w)
	current := b.state
	b.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sw := range b.stateWatchers {
				if sw.id == w.id {
					b.stateWatchers = append(b.stateWatchers[:i], b.stateWatchers[i+1:]...)
					return
				}
			}
		})
	}
}

// State returns the current connection state.
func (b *Bus) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError returns the detail of the most recent backend error frame, or
// "" if none was observed. Error frames never reach topic subscribers;
// this is how the status line surfaces them.
func (b *Bus) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// SendRaw writes a terminal frame to the transport. The frame bypasses
// subscription matching entirely. Returns a TransportError when the
// channel is down; frames are never queued across a disconnect.
func (b *Bus) SendRaw(env wire.Envelope) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return &fault.TransportError{Err: errNotConnected}
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(env); err != nil {
		return &fault.TransportError{Err: err}
	}
	return nil
}

// PublishLocal dispatches an envelope to subscribers without touching the
// transport. In-process publishers (cross-panel broadcasts, the test
// suite) get the same routing and filtering as backend notifications.
// Callers that need ordering against channel traffic must publish from a
// bus handler.
func (b *Bus) PublishLocal(env wire.Envelope) {
	b.dispatch(env)
}

// Run connects and pumps envelopes until ctx is cancelled. On transport
// loss it reconnects with exponential backoff; existing subscriptions are
// untouched across reconnects. Envelopes in flight during a drop are lost
// (delivery is at-most-once).
func (b *Bus) Run(ctx context.Context) {
	delay := b.baseDelay
	for {
		select {
		case <-ctx.Done():
			b.setState(StateDisconnected)
			return
		default:
		}

		b.setState(StateConnecting)
		conn, err := b.dial(ctx)
		if err != nil {
			b.log.Warn().Err(err).Dur("retry_in", delay).Msg("bus dial failed")
			select {
			case <-ctx.Done():
				b.setState(StateDisconnected)
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, b.maxDelay)
			continue
		}
		delay = b.baseDelay

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		b.setState(StateConnected)

		pingCtx, pingCancel := context.WithCancel(ctx)
		go b.pingLoop(pingCtx, conn)

		err = b.readLoop(conn)
		pingCancel()

		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		conn.Close()
		b.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		b.log.Warn().Err(err).Msg("bus connection lost")
	}
}

var errNotConnected = &notConnectedError{}

type notConnectedError struct{}

func (*notConnectedError) Error() string { return "not connected" }

func (b *Bus) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return nil, err
	}
	if b.token != "" {
		auth := map[string]string{"type": "auth", "token": b.token}
		if err := conn.WriteJSON(auth); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (b *Bus) readLoop(conn *websocket.Conn) error {
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := wire.Parse(data)
		if err != nil {
			b.log.Warn().Err(&fault.ProtocolError{Detail: "unparseable frame", Err: err}).
				Msg("dropping frame")
			continue
		}
		b.dispatch(env)
	}
}

// dispatch routes one envelope to every subscription whose topic equals the
// envelope's session id or is the wildcard. It iterates a snapshot of the
// subscriber list taken up front, so a handler that subscribes or
// unsubscribes during its own invocation affects only later envelopes.
// Error frames and envelopes with a role other than "notification" never
// reach subscribers; terminal telemetry carries no role and passes.
func (b *Bus) dispatch(env wire.Envelope) {
	if env.IsError() {
		b.mu.Lock()
		b.lastErr = env.Data
		b.mu.Unlock()
		b.log.Warn().Str("session_id", env.SessionID).Str("detail", env.Data).
			Msg("error frame from backend")
		return
	}
	if env.Role != "" && !env.IsNotification() {
		return
	}
	if env.MessageType == "" {
		return
	}

	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		if sub.topic == TopicAll || string(sub.topic) == env.SessionID {
			sub.handler(env)
		}
	}
}

func (b *Bus) setState(s State) {
	b.mu.Lock()
	if b.state == s {
		b.mu.Unlock()
		return
	}
	b.state = s
	watchers := make([]*stateWatcher, len(b.stateWatchers))
	copy(watchers, b.stateWatchers)
	b.mu.Unlock()

	for _, w := range watchers {
		w.fn(s)
	}
}

func (b *Bus) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			b.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
