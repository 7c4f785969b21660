// Package mockd is a self-contained mosaic backend for local development
// and demos. It serves the REST command API, pushes notifications over the
// websocket hub, and answers terminal frames with a fake shell.
package mockd

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renjiyun06/mosaic-sub001/internal/client"
)

// Store holds the daemon's in-memory mosaic state.
type Store struct {
	mu          sync.RWMutex
	mosaics     map[string]client.Mosaic
	nodes       map[string]client.Node
	connections map[string]client.Connection
	sessions    map[string]client.Session
}

// NewStore creates a store seeded with one demo mosaic.
func NewStore() *Store {
	s := &Store{
		mosaics:     make(map[string]client.Mosaic),
		nodes:       make(map[string]client.Node),
		connections: make(map[string]client.Connection),
		sessions:    make(map[string]client.Session),
	}
	m := client.Mosaic{ID: "demo", Name: "Demo Mosaic", CreatedAt: time.Now().UTC()}
	s.mosaics[m.ID] = m
	return s
}

func (s *Store) Mosaics() []client.Mosaic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]client.Mosaic, 0, len(s.mosaics))
	for _, m := range s.mosaics {
		out = append(out, m)
	}
	return out
}

func (s *Store) HasMosaic(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.mosaics[id]
	return ok
}

func (s *Store) Nodes(mosaicID string) []client.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]client.Node, 0)
	for _, n := range s.nodes {
		if n.MosaicID == mosaicID {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) Node(id string) (client.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

func (s *Store) CreateNode(mosaicID string, req client.NodeRequest) client.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := client.Node{
		ID:          uuid.NewString(),
		MosaicID:    mosaicID,
		Name:        req.Name,
		Kind:        req.Kind,
		Description: req.Description,
		X:           req.X,
		Y:           req.Y,
	}
	s.nodes[n.ID] = n
	return n
}

func (s *Store) UpdateNode(id string, req client.NodeRequest) (client.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return client.Node{}, false
	}
	n.Name = req.Name
	n.Description = req.Description
	n.X, n.Y = req.X, req.Y
	s.nodes[id] = n
	return n, true
}

// DeleteNode removes the node and its connections. It refuses while the
// node still hosts active sessions.
func (s *Store) DeleteNode(id string) (busy, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[id]; !exists {
		return false, false
	}
	for _, sess := range s.sessions {
		if sess.NodeID == id && sess.Active {
			return true, false
		}
	}
	delete(s.nodes, id)
	for cid, c := range s.connections {
		if c.SourceID == id || c.TargetID == id {
			delete(s.connections, cid)
		}
	}
	return false, true
}

func (s *Store) Counts(nodeID string) client.NodeCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts client.NodeCounts
	for _, sess := range s.sessions {
		if sess.NodeID == nodeID && sess.Active {
			counts.Sessions++
		}
	}
	for _, c := range s.connections {
		if c.TargetID == nodeID {
			counts.Incoming++
		}
		if c.SourceID == nodeID {
			counts.Outgoing++
		}
	}
	return counts
}

func (s *Store) Connections(mosaicID string) []client.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]client.Connection, 0)
	for _, c := range s.connections {
		if c.MosaicID == mosaicID {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) CreateConnection(mosaicID string, req client.ConnectionRequest) (client.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[req.SourceID]; !ok {
		return client.Connection{}, false
	}
	if _, ok := s.nodes[req.TargetID]; !ok {
		return client.Connection{}, false
	}
	c := client.Connection{
		ID:       uuid.NewString(),
		MosaicID: mosaicID,
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		Label:    req.Label,
	}
	s.connections[c.ID] = c
	return c, true
}

func (s *Store) DeleteConnection(id string) (client.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return client.Connection{}, false
	}
	delete(s.connections, id)
	return c, true
}

// CreateSession starts a session on a sessionable node.
func (s *Store) CreateSession(nodeID string) (client.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok || !n.Kind.Sessionable() {
		return client.Session{}, false
	}
	sess := client.Session{
		ID:        "s-" + uuid.NewString()[:8],
		NodeID:    nodeID,
		StartedAt: time.Now().UTC(),
		Active:    true,
	}
	s.sessions[sess.ID] = sess
	return sess, true
}

func (s *Store) EndSession(id string) (client.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.Active {
		return client.Session{}, false
	}
	sess.Active = false
	s.sessions[id] = sess
	return sess, true
}

func (s *Store) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Active {
			n++
		}
	}
	return n
}
