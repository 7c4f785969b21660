// Package graph owns the visual node/edge collections of one mosaic and
// their mutation protocol. Local state changes only after the backend
// accepted the command; a rejected command leaves the graph untouched so
// the initiating dialog can stay open and retry. Refreshes triggered by
// backend notifications reconcile server state into the existing visuals
// instead of replacing them, so expand state and z-order survive.
package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/renjiyun06/mosaic-sub001/internal/bus"
	"github.com/renjiyun06/mosaic-sub001/internal/client"
	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

// API is the REST collaborator the controller issues commands through.
// *client.HTTPClient satisfies it.
type API interface {
	ListNodes(ctx context.Context, mosaicID string) ([]client.Node, error)
	ListConnections(ctx context.Context, mosaicID string) ([]client.Connection, error)
	CreateNode(ctx context.Context, mosaicID string, req client.NodeRequest) (*client.Node, error)
	UpdateNode(ctx context.Context, nodeID string, req client.NodeRequest) (*client.Node, error)
	DeleteNode(ctx context.Context, nodeID string) error
	GetNodeCounts(ctx context.Context, nodeID string) (*client.NodeCounts, error)
	CreateConnection(ctx context.Context, mosaicID string, req client.ConnectionRequest) (*client.Connection, error)
	DeleteConnection(ctx context.Context, connectionID string) error
}

// Subscriber is the slice of the event bus the controller needs.
type Subscriber interface {
	Subscribe(topic bus.Topic, h bus.Handler) func()
}

// NodeVisual is one node as the graph canvas sees it: the backend state
// plus purely client-side presentation flags.
type NodeVisual struct {
	Node     client.Node
	Expanded bool
	ZIndex   int
}

// Edge is derived 1:1 from a backend connection and never independently
// persisted client-side.
type Edge struct {
	Connection client.Connection
}

// refreshTriggers are the notification message types that require a full
// node-list refresh. Everything else is ignored at this layer.
var refreshTriggers = map[string]bool{
	wire.MsgSessionStarted:       true,
	wire.MsgSessionEnded:         true,
	wire.MsgTopicUpdated:         true,
	wire.MsgRuntimeStatusChanged: true,
}

// Controller keeps one mosaic's visual graph consistent with the backend.
type Controller struct {
	api      API
	mosaicID string
	log      zerolog.Logger

	mu       sync.Mutex
	nodes    map[string]*NodeVisual
	edges    map[string]*Edge
	zCounter int

	refreshInFlight bool
	refreshQueued   bool

	onChange func()
	unsub    func()
}

// New creates a controller for the given mosaic. onChange, if non-nil, is
// called after every graph mutation so the render layer can repaint.
func New(api API, mosaicID string, onChange func(), log zerolog.Logger) *Controller {
	return &Controller{
		api:      api,
		mosaicID: mosaicID,
		log:      log.With().Str("mosaic_id", mosaicID).Logger(),
		nodes:    make(map[string]*NodeVisual),
		edges:    make(map[string]*Edge),
		onChange: onChange,
	}
}

// Attach subscribes the controller to the wildcard topic. Notifications of
// the refresh-trigger message types schedule a refresh off the dispatch
// goroutine; unrelated types are dropped.
func (c *Controller) Attach(sub Subscriber) {
	c.unsub = sub.Subscribe(bus.TopicAll, func(env wire.Envelope) {
		if !refreshTriggers[env.MessageType] {
			return
		}
		go func() {
			if err := c.Refresh(context.Background()); err != nil {
				c.log.Warn().Err(err).Str("trigger", env.MessageType).Msg("refresh failed")
			}
		}()
	})
}

// Detach removes the notification subscription. Safe to call repeatedly.
func (c *Controller) Detach() {
	if c.unsub != nil {
		c.unsub()
	}
}

// Refresh reconciles the graph with a full fetch. Refreshes never
// interleave: a trigger arriving while one is in flight marks it queued,
// and exactly one follow-up run starts when the current one finishes.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshInFlight {
		c.refreshQueued = true
		c.mu.Unlock()
		return nil
	}
	c.refreshInFlight = true
	c.mu.Unlock()

	err := c.refreshOnce(ctx)

	c.mu.Lock()
	c.refreshInFlight = false
	rerun := c.refreshQueued
	c.refreshQueued = false
	c.mu.Unlock()

	if rerun {
		if rerr := c.Refresh(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func (c *Controller) refreshOnce(ctx context.Context) error {
	nodes, err := c.api.ListNodes(ctx, c.mosaicID)
	if err != nil {
		return err
	}
	conns, err := c.api.ListConnections(ctx, c.mosaicID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		seen[n.ID] = true
		if v, ok := c.nodes[n.ID]; ok {
			v.Node = n // reconcile server state, keep presentation flags
		} else {
			c.zCounter++
			c.nodes[n.ID] = &NodeVisual{Node: n, ZIndex: c.zCounter}
		}
	}
	for id := range c.nodes {
		if !seen[id] {
			delete(c.nodes, id)
		}
	}

	c.edges = make(map[string]*Edge, len(conns))
	for _, conn := range conns {
		c.edges[conn.ID] = &Edge{Connection: conn}
	}
	c.mu.Unlock()

	c.changed()
	return nil
}

// CreateNode issues the create command and inserts the node locally once
// the backend accepted it.
func (c *Controller) CreateNode(ctx context.Context, req client.NodeRequest) (*NodeVisual, error) {
	n, err := c.api.CreateNode(ctx, c.mosaicID, req)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.zCounter++
	v := &NodeVisual{Node: *n, ZIndex: c.zCounter}
	c.nodes[n.ID] = v
	out := *v
	c.mu.Unlock()
	c.changed()
	return &out, nil
}

// UpdateNode issues the edit command and applies the confirmed server
// state locally. On failure the node is untouched.
func (c *Controller) UpdateNode(ctx context.Context, nodeID string, req client.NodeRequest) error {
	n, err := c.api.UpdateNode(ctx, nodeID, req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if v, ok := c.nodes[nodeID]; ok {
		v.Node = *n
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// DeleteCheck returns the node's live session and connection counts. A
// nonzero count warns the operator but does not block the delete; only
// the backend's own rejection is final.
func (c *Controller) DeleteCheck(ctx context.Context, nodeID string) (*client.NodeCounts, error) {
	return c.api.GetNodeCounts(ctx, nodeID)
}

// DeleteNode issues the delete command and removes the node and its edges
// locally once the backend accepted it.
func (c *Controller) DeleteNode(ctx context.Context, nodeID string) error {
	if err := c.api.DeleteNode(ctx, nodeID); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.nodes, nodeID)
	for id, e := range c.edges {
		if e.Connection.SourceID == nodeID || e.Connection.TargetID == nodeID {
			delete(c.edges, id)
		}
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// Connect issues the create-connection command and derives the edge.
func (c *Controller) Connect(ctx context.Context, req client.ConnectionRequest) (*Edge, error) {
	conn, err := c.api.CreateConnection(ctx, c.mosaicID, req)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	e := &Edge{Connection: *conn}
	c.edges[conn.ID] = e
	out := *e
	c.mu.Unlock()
	c.changed()
	return &out, nil
}

// Disconnect issues the delete-connection command and drops the edge.
func (c *Controller) Disconnect(ctx context.Context, connectionID string) error {
	if err := c.api.DeleteConnection(ctx, connectionID); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.edges, connectionID)
	c.mu.Unlock()
	c.changed()
	return nil
}

// BringToFront assigns the node the next z-index. Every select or
// drag-start interaction calls this, so two nodes never compare equal
// after any interaction. Returns the assigned z-index, or 0 for an
// unknown node.
func (c *Controller) BringToFront(nodeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.nodes[nodeID]
	if !ok {
		return 0
	}
	c.zCounter++
	v.ZIndex = c.zCounter
	return v.ZIndex
}

// ToggleExpanded flips the node's expanded flag. Non-sessionable kinds
// cannot host sessions, so toggling them is a silent no-op.
func (c *Controller) ToggleExpanded(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.nodes[nodeID]
	if !ok || !v.Node.Kind.Sessionable() {
		return false
	}
	v.Expanded = !v.Expanded
	return v.Expanded
}

// Node returns a copy of one visual node.
func (c *Controller) Node(nodeID string) (NodeVisual, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.nodes[nodeID]
	if !ok {
		return NodeVisual{}, false
	}
	return *v, true
}

// Nodes returns copies of all visual nodes in ascending z-order.
func (c *Controller) Nodes() []NodeVisual {
	c.mu.Lock()
	out := make([]NodeVisual, 0, len(c.nodes))
	for _, v := range c.nodes {
		out = append(out, *v)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ZIndex < out[j].ZIndex })
	return out
}

// Edges returns copies of all edges.
func (c *Controller) Edges() []Edge {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Edge, 0, len(c.edges))
	for _, e := range c.edges {
		out = append(out, *e)
	}
	return out
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
