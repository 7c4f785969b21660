package terminal

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/renjiyun06/mosaic-sub001/internal/bus"
	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

// MemoryStore is a BufferStore kept in process memory. It backs tests and
// runs the console without the sqlite scrollback database.
type MemoryStore struct {
	mu      sync.Mutex
	buffers map[string]string
}

// NewMemoryStore creates an empty in-memory buffer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buffers: make(map[string]string)}
}

func (m *MemoryStore) Save(_ context.Context, sessionID, buffer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffers[sessionID] = buffer
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.buffers[sessionID]
	return buf, ok, nil
}

func (m *MemoryStore) Invalidate(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, sessionID)
	return nil
}

// WatchInvalidation drops a session's captured scrollback when its
// session_ended notification is observed. It subscribes on the wildcard
// topic so invalidation happens whether or not the session's panel is
// mounted. The returned closure stops watching.
func WatchInvalidation(ch Channel, store BufferStore, log zerolog.Logger) func() {
	return ch.Subscribe(bus.TopicAll, func(env wire.Envelope) {
		if env.MessageType != wire.MsgSessionEnded {
			return
		}
		var p wire.SessionPayload
		if err := env.DecodePayload(&p); err != nil {
			log.Warn().Err(err).Msg("bad session_ended payload")
			return
		}
		if p.SessionID == "" {
			return
		}
		if err := store.Invalidate(context.Background(), p.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", p.SessionID).Msg("scrollback invalidate failed")
		}
	})
}
