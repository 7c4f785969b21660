// Package correlate pairs a one-shot command with the asynchronous
// notification that confirms it. The caller arms a correlation first, then
// issues the command; the subscription existing before the side effect
// closes the race where the backend's confirmation is emitted and lost
// before anyone is listening.
package correlate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renjiyun06/mosaic-sub001/internal/bus"
	"github.com/renjiyun06/mosaic-sub001/internal/fault"
	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

// DefaultTimeout is the deadline for session-start confirmations.
const DefaultTimeout = 30 * time.Second

// Predicate selects the envelope a correlation is waiting for.
type Predicate func(wire.Envelope) bool

// Correlator arms awaitable correlations on a bus.
type Correlator struct {
	bus *bus.Bus
	log zerolog.Logger
}

// New creates a correlator dispatching on b.
func New(b *bus.Bus, log zerolog.Logger) *Correlator {
	return &Correlator{bus: b, log: log}
}

type result struct {
	env wire.Envelope
	err error
}

// Pending is one in-flight correlation. It settles exactly once, on the
// first of: a matching envelope, the deadline, or Cancel. Once settled,
// later matching envelopes are ignored.
type Pending struct {
	what string
	ch   chan result
	once sync.Once

	// armMu orders arming before settlement: a confirmation delivered on
	// the bus between Subscribe and the timer assignment must not observe
	// a half-built Pending.
	armMu sync.Mutex
	timer *time.Timer
	unsub func()
}

// AwaitEvent subscribes to topic and returns a Pending that settles with
// the first delivered envelope matching pred. The subscription is armed
// before AwaitEvent returns, so the caller may issue the triggering command
// immediately afterward without racing the confirmation. what names the
// awaited event in error messages.
func (c *Correlator) AwaitEvent(topic bus.Topic, what string, pred Predicate, timeout time.Duration) *Pending {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Pending{what: what, ch: make(chan result, 1)}

	p.armMu.Lock()
	p.unsub = c.bus.Subscribe(topic, func(env wire.Envelope) {
		if pred(env) {
			p.settle(result{env: env})
		}
	})
	p.timer = time.AfterFunc(timeout, func() {
		c.log.Debug().Str("await", what).Msg("correlation timed out")
		p.settle(result{err: &fault.TimeoutError{Waited: what}})
	})
	p.armMu.Unlock()
	return p
}

// settle resolves or rejects the correlation. The timer is stopped and the
// subscription removed exactly once regardless of which path settles.
func (p *Pending) settle(r result) {
	p.once.Do(func() {
		p.armMu.Lock()
		timer, unsub := p.timer, p.unsub
		p.armMu.Unlock()
		timer.Stop()
		unsub()
		p.ch <- r
	})
}

// Cancel rejects the correlation with a CancelledError. Calling Cancel
// after settlement is a no-op.
func (p *Pending) Cancel() {
	p.settle(result{err: &fault.CancelledError{Waited: p.what}})
}

// Wait blocks until the correlation settles or ctx is done. Context
// cancellation cancels the correlation; if a matching envelope settled it
// first, that result wins.
func (p *Pending) Wait(ctx context.Context) (wire.Envelope, error) {
	select {
	case r := <-p.ch:
		return r.env, r.err
	case <-ctx.Done():
		p.Cancel()
		r := <-p.ch
		return r.env, r.err
	}
}
