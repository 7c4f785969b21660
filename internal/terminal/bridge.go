// Package terminal bridges a terminal widget's keystrokes and output to a
// remote pseudo-terminal session over the shared event channel. A Bridge
// follows one logical session; renderers come and go with the hosting
// panel, and the captured scrollback survives in a BufferStore so a
// remount resumes without data loss.
package terminal

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renjiyun06/mosaic-sub001/internal/bus"
	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

const (
	// promptDelay is how long after terminal_start the bridge waits
	// before sending a bare carriage return. The remote shell answers it
	// with a prompt, so the panel never opens onto dead air. Restart uses
	// the same delay.
	promptDelay = 200 * time.Millisecond

	// resizeDebounce coalesces bursts of panel dimension changes before
	// the grid is recomputed. Resizing never emits network traffic.
	resizeDebounce = 100 * time.Millisecond
)

// SessionState is the bridge lifecycle state.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateStarting
	StateConnected
	StateDisconnected
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

// Channel is the slice of the event bus the bridge needs. *bus.Bus
// satisfies it.
type Channel interface {
	Subscribe(topic bus.Topic, h bus.Handler) func()
	SendRaw(env wire.Envelope) error
	OnStateChange(fn func(bus.State)) func()
}

// BufferStore keeps serialized screen captures keyed per session. It is
// the only terminal state that survives a panel unmount.
type BufferStore interface {
	Save(ctx context.Context, sessionID, buffer string) error
	Load(ctx context.Context, sessionID string) (buffer string, ok bool, err error)
	Invalidate(ctx context.Context, sessionID string) error
}

// RendererFactory builds a renderer for a mount at the given dimensions.
type RendererFactory func(cols, rows int) Renderer

// Bridge connects one logical session to whatever renderer is currently
// mounted. Unmounting disposes the renderer but never stops the remote
// session; that takes an explicit stop or the session ending server-side.
type Bridge struct {
	sessionID string
	ch        Channel
	store     BufferStore
	factory   RendererFactory
	log       zerolog.Logger

	promptDelay    time.Duration
	resizeDebounce time.Duration

	mu          sync.Mutex
	state       SessionState
	renderer    Renderer
	activated   bool // terminal_start has been sent at least once
	unsubEnv    func()
	unsubState  func()
	promptTimer *time.Timer
	resizeTimer *time.Timer
	pendingCols int
	pendingRows int
}

// NewBridge creates an unmounted bridge for the session.
func NewBridge(sessionID string, ch Channel, store BufferStore, factory RendererFactory, log zerolog.Logger) *Bridge {
	return &Bridge{
		sessionID:      sessionID,
		ch:             ch,
		store:          store,
		factory:        factory,
		log:            log.With().Str("session_id", sessionID).Logger(),
		promptDelay:    promptDelay,
		resizeDebounce: resizeDebounce,
		state:          StateUninitialized,
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Mount attaches a renderer because the panel became visible. A serialized
// buffer from an earlier unmount is replayed verbatim; otherwise the panel
// shows a first-run banner. On the session's very first activation the
// bridge sends terminal_start and, after the prompt delay, a single
// carriage-return input frame.
func (b *Bridge) Mount(ctx context.Context, cols, rows int) error {
	b.mu.Lock()
	if b.renderer != nil {
		b.mu.Unlock()
		return nil
	}
	r := b.factory(cols, rows)
	b.renderer = r

	buffer, resumed, err := b.store.Load(ctx, b.sessionID)
	if err != nil {
		b.log.Warn().Err(err).Msg("scrollback load failed, starting clean")
		resumed = false
	}
	if resumed {
		r.Restore(buffer)
	} else {
		r.Banner("terminal session " + b.sessionID)
	}

	needStart := !b.activated
	if needStart {
		b.activated = true
		b.state = StateStarting
	}
	b.mu.Unlock()

	// Subscribing outside the lock: OnStateChange invokes the listener
	// immediately with the current channel state.
	unsubEnv := b.ch.Subscribe(bus.Topic(b.sessionID), b.handleEnvelope)
	unsubState := b.ch.OnStateChange(b.handleChannelState)
	b.mu.Lock()
	b.unsubEnv, b.unsubState = unsubEnv, unsubState
	b.mu.Unlock()

	if needStart {
		return b.startSequence()
	}
	return nil
}

// startSequence sends terminal_start and schedules the prompt-triggering
// carriage return.
func (b *Bridge) startSequence() error {
	if err := b.ch.SendRaw(wire.TerminalStart(b.sessionID)); err != nil {
		return err
	}
	b.mu.Lock()
	if b.promptTimer != nil {
		b.promptTimer.Stop()
	}
	b.promptTimer = time.AfterFunc(b.promptDelay, func() {
		if err := b.ch.SendRaw(wire.TerminalInput(b.sessionID, "\r")); err != nil {
			b.log.Warn().Err(err).Msg("prompt nudge failed")
		}
	})
	b.mu.Unlock()
	return nil
}

// Input forwards raw keystroke data verbatim. No buffering, no
// line-editing; the remote pty owns echo and editing.
func (b *Bridge) Input(data string) error {
	return b.ch.SendRaw(wire.TerminalInput(b.sessionID, data))
}

// Unmount captures the renderer into the session's buffer slot and
// disposes it. The logical remote session keeps running.
func (b *Bridge) Unmount(ctx context.Context) {
	b.mu.Lock()
	r := b.renderer
	b.renderer = nil
	unsubEnv, unsubState := b.unsubEnv, b.unsubState
	b.unsubEnv, b.unsubState = nil, nil
	if b.promptTimer != nil {
		b.promptTimer.Stop()
		b.promptTimer = nil
	}
	if b.resizeTimer != nil {
		b.resizeTimer.Stop()
		b.resizeTimer = nil
	}
	b.mu.Unlock()

	if unsubEnv != nil {
		unsubEnv()
	}
	if unsubState != nil {
		unsubState()
	}
	if r == nil {
		return
	}
	if err := b.store.Save(ctx, b.sessionID, r.Serialize()); err != nil {
		b.log.Warn().Err(err).Msg("scrollback save failed")
	}
	r.Close()
}

// Restart stops the remote terminal, clears the captured scrollback, and
// runs the start sequence again.
func (b *Bridge) Restart(ctx context.Context) error {
	if err := b.ch.SendRaw(wire.TerminalStop(b.sessionID)); err != nil {
		return err
	}
	if err := b.store.Invalidate(ctx, b.sessionID); err != nil {
		b.log.Warn().Err(err).Msg("scrollback invalidate failed")
	}

	b.mu.Lock()
	if b.renderer != nil {
		b.renderer.Restore("")
		b.renderer.Banner("restarting")
	}
	b.state = StateStarting
	b.mu.Unlock()

	return b.startSequence()
}

// Resize records new panel dimensions and recomputes the grid after the
// debounce window. Repeated calls within the window coalesce.
func (b *Bridge) Resize(cols, rows int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingCols, b.pendingRows = cols, rows
	if b.resizeTimer != nil {
		b.resizeTimer.Stop()
	}
	b.resizeTimer = time.AfterFunc(b.resizeDebounce, func() {
		b.mu.Lock()
		r := b.renderer
		c, rw := b.pendingCols, b.pendingRows
		b.mu.Unlock()
		if r != nil {
			r.Resize(c, rw)
		}
	})
}

func (b *Bridge) handleEnvelope(env wire.Envelope) {
	switch env.MessageType {
	case wire.MsgTerminalOutput:
		var p wire.TerminalOutputPayload
		if err := env.DecodePayload(&p); err != nil {
			b.log.Warn().Err(err).Msg("bad terminal_output payload")
			return
		}
		b.mu.Lock()
		r := b.renderer
		b.mu.Unlock()
		if r != nil {
			r.Write(p.Data)
		}

	case wire.MsgTerminalStatus:
		var p wire.TerminalStatusPayload
		if err := env.DecodePayload(&p); err != nil {
			b.log.Warn().Err(err).Msg("bad terminal_status payload")
			return
		}
		b.handleStatus(p)
	}
}

func (b *Bridge) handleStatus(p wire.TerminalStatusPayload) {
	b.mu.Lock()
	r := b.renderer
	switch p.Status {
	case wire.StatusStarted:
		b.state = StateConnected
	case wire.StatusStopped:
		b.state = StateStopped
	}
	b.mu.Unlock()

	if r == nil {
		return
	}
	switch p.Status {
	case wire.StatusStarted:
		r.Banner("terminal started")
	case wire.StatusStopped:
		r.Banner("terminal stopped")
	case wire.StatusError:
		line := "terminal error"
		if p.Message != "" {
			line += ": " + p.Message
		}
		r.Banner(line)
	}
}

// handleChannelState marks the session Disconnected when the transport
// drops. Nothing is lost silently: the serialized buffer still replays on
// the next mount after reconnect.
func (b *Bridge) handleChannelState(s bus.State) {
	if s != bus.StateDisconnected {
		return
	}
	b.mu.Lock()
	if b.state != StateConnected && b.state != StateStarting {
		b.mu.Unlock()
		return
	}
	b.state = StateDisconnected
	r := b.renderer
	b.mu.Unlock()
	if r != nil {
		r.Banner("channel disconnected")
	}
}
