// Package client provides the REST command client for the mosaic backend.
// Types mirror the backend wire format without importing backend packages.
package client

import "time"

// NodeKind identifies what a node is and therefore what it can do.
type NodeKind string

const (
	KindAgent     NodeKind = "agent"
	KindTopic     NodeKind = "topic"
	KindConnector NodeKind = "connector"
)

// Sessionable reports whether nodes of this kind can host sessions. Only
// sessionable nodes may be expanded in the graph.
func (k NodeKind) Sessionable() bool {
	return k == KindAgent
}

// Connectable reports whether nodes of this kind accept connections.
func (k NodeKind) Connectable() bool {
	return k == KindAgent || k == KindTopic
}

// Mosaic is one orchestration workspace.
type Mosaic struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Node is the backend's view of one graph node.
type Node struct {
	ID          string   `json:"id"`
	MosaicID    string   `json:"mosaicId"`
	Name        string   `json:"name"`
	Kind        NodeKind `json:"kind"`
	Description string   `json:"description,omitempty"` // markdown
	Runtime     string   `json:"runtime,omitempty"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
}

// Connection is a directed edge between two nodes.
type Connection struct {
	ID       string `json:"id"`
	MosaicID string `json:"mosaicId"`
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
	Label    string `json:"label,omitempty"`
}

// Session is one live session hosted by a sessionable node.
type Session struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"nodeId"`
	StartedAt time.Time `json:"startedAt"`
	Active    bool      `json:"active"`
}

// NodeCounts reports how entangled a node is; the delete guard consults it
// before a destructive delete.
type NodeCounts struct {
	Sessions int `json:"sessions"`
	Incoming int `json:"incoming"`
	Outgoing int `json:"outgoing"`
}

// NodeRequest is the create/update body for a node.
type NodeRequest struct {
	Name        string   `json:"name"`
	Kind        NodeKind `json:"kind,omitempty"`
	Description string   `json:"description,omitempty"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
}

// ConnectionRequest is the create body for a connection.
type ConnectionRequest struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
	Label    string `json:"label,omitempty"`
}

// CreateSessionResponse is returned when a session is started.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// DirEntry is one item in a workspace directory listing.
type DirEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size,omitempty"`
}
