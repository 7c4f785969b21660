package correlate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/renjiyun06/mosaic-sub001/internal/bus"
	"github.com/renjiyun06/mosaic-sub001/internal/fault"
	"github.com/renjiyun06/mosaic-sub001/internal/logging"
	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

func newTestCorrelator() (*bus.Bus, *Correlator) {
	b := bus.New("", "", logging.Nop())
	return b, New(b, logging.Nop())
}

func sessionStarted(sessionID string) wire.Envelope {
	return wire.Notification(sessionID, wire.MsgSessionStarted,
		wire.SessionPayload{SessionID: sessionID})
}

func matchSessionStarted(want string) Predicate {
	return func(env wire.Envelope) bool {
		if env.MessageType != wire.MsgSessionStarted {
			return false
		}
		var p wire.SessionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		return p.SessionID == want
	}
}

func TestSettlesOnFirstMatch(t *testing.T) {
	b, c := newTestCorrelator()

	p := c.AwaitEvent(bus.TopicAll, "session start", matchSessionStarted("s-2"), time.Second)

	// Non-matching envelopes must not settle the correlation.
	b.PublishLocal(sessionStarted("s-1"))
	b.PublishLocal(wire.Notification("s-2", wire.MsgTopicUpdated, map[string]string{}))
	b.PublishLocal(sessionStarted("s-2"))

	env, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if env.SessionID != "s-2" {
		t.Errorf("settled with session %q, want s-2", env.SessionID)
	}
}

func TestSettlesExactlyOnce(t *testing.T) {
	b, c := newTestCorrelator()

	p := c.AwaitEvent(bus.TopicAll, "session start", matchSessionStarted("s-1"), time.Second)
	b.PublishLocal(sessionStarted("s-1"))
	b.PublishLocal(sessionStarted("s-1")) // late duplicate, must be ignored

	if _, err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// The subscription is gone after settlement; another envelope must not
	// block or panic.
	b.PublishLocal(sessionStarted("s-1"))
}

func TestTimeout(t *testing.T) {
	b, c := newTestCorrelator()

	p := c.AwaitEvent(bus.TopicAll, "session start", matchSessionStarted("s-1"), 20*time.Millisecond)

	_, err := p.Wait(context.Background())
	if !fault.IsTimeout(err) {
		t.Fatalf("Wait returned %v, want TimeoutError", err)
	}
	// An envelope arriving after the deadline settles nothing.
	b.PublishLocal(sessionStarted("s-1"))
}

func TestCancel(t *testing.T) {
	_, c := newTestCorrelator()

	p := c.AwaitEvent(bus.TopicAll, "session start", matchSessionStarted("s-1"), time.Second)
	p.Cancel()

	_, err := p.Wait(context.Background())
	if !fault.IsCancelled(err) {
		t.Fatalf("Wait returned %v, want CancelledError", err)
	}
}

func TestWaitContextCancellation(t *testing.T) {
	_, c := newTestCorrelator()

	p := c.AwaitEvent(bus.TopicAll, "session start", matchSessionStarted("s-1"), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx)
	if !fault.IsCancelled(err) {
		t.Fatalf("Wait returned %v, want CancelledError", err)
	}
}

func TestArmBeforeTrigger(t *testing.T) {
	b, c := newTestCorrelator()

	// The confirmation may be published from another goroutine the instant
	// the command completes; the already-armed subscription must catch it.
	p := c.AwaitEvent(bus.TopicAll, "session start", matchSessionStarted("s-1"), time.Second)
	go b.PublishLocal(sessionStarted("s-1"))

	env, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if env.SessionID != "s-1" {
		t.Errorf("settled with session %q, want s-1", env.SessionID)
	}
}
