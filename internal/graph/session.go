package graph

import (
	"context"
	"sync"
	"time"

	"github.com/renjiyun06/mosaic-sub001/internal/bus"
	"github.com/renjiyun06/mosaic-sub001/internal/client"
	"github.com/renjiyun06/mosaic-sub001/internal/correlate"
	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

// SessionAPI is the REST surface for session commands. *client.HTTPClient
// satisfies it.
type SessionAPI interface {
	CreateSession(ctx context.Context, nodeID string) (*client.CreateSessionResponse, error)
	StopSession(ctx context.Context, sessionID string) error
}

// StartSession creates a session on the node and waits for the backend's
// session_started confirmation. The correlation is armed before the create
// command is issued, and the session id it must match is only known from
// the command response — so while the id is unset the predicate records
// every candidate confirmation instead of dropping it, and the recorded
// set is checked once the response names the session. A confirmation can
// therefore land at any point relative to the response without being
// lost. A command rejection cancels the correlation; a missing
// confirmation surfaces as a TimeoutError, distinct from any rejection
// the dialog may need to show. A timeout of zero means the default.
func StartSession(ctx context.Context, api SessionAPI, cor *correlate.Correlator, nodeID string, timeout time.Duration) (string, error) {
	var (
		mu   sync.Mutex
		want string
		seen = make(map[string]bool)
	)
	pending := cor.AwaitEvent(bus.TopicAll, "session start confirmation",
		func(env wire.Envelope) bool {
			if env.MessageType != wire.MsgSessionStarted {
				return false
			}
			var p wire.SessionPayload
			if err := env.DecodePayload(&p); err != nil {
				return false
			}
			mu.Lock()
			defer mu.Unlock()
			if want == "" {
				seen[p.SessionID] = true
				return false
			}
			return p.SessionID == want
		}, timeout)

	resp, err := api.CreateSession(ctx, nodeID)
	if err != nil {
		pending.Cancel()
		return "", err
	}
	mu.Lock()
	want = resp.SessionID
	confirmed := seen[want]
	mu.Unlock()

	if confirmed {
		// The confirmation beat the command response; nothing left to
		// wait for. Cancel tears down the subscription and timer.
		pending.Cancel()
		return resp.SessionID, nil
	}
	if _, err := pending.Wait(ctx); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// StopSession issues the stop command. Graph state catches up through the
// session_ended notification rather than a local mutation here.
func StopSession(ctx context.Context, api SessionAPI, sessionID string) error {
	return api.StopSession(ctx, sessionID)
}
