package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/renjiyun06/mosaic-sub001/internal/bus"
	"github.com/renjiyun06/mosaic-sub001/internal/client"
	"github.com/renjiyun06/mosaic-sub001/internal/correlate"
	"github.com/renjiyun06/mosaic-sub001/internal/fault"
	"github.com/renjiyun06/mosaic-sub001/internal/logging"
	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

// fakeAPI serves canned graph state and records command outcomes. Setting
// fail makes every command return that error without touching state.
type fakeAPI struct {
	mu       sync.Mutex
	nodes    []client.Node
	conns    []client.Connection
	counts   client.NodeCounts
	fail     error
	listHits int
	gate     chan struct{} // when non-nil, ListNodes blocks until closed
}

func (f *fakeAPI) ListNodes(ctx context.Context, mosaicID string) ([]client.Node, error) {
	f.mu.Lock()
	gate := f.gate
	f.listHits++
	out := append([]client.Node(nil), f.nodes...)
	err := f.fail
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return out, err
}

func (f *fakeAPI) ListConnections(ctx context.Context, mosaicID string) ([]client.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.Connection(nil), f.conns...), f.fail
}

func (f *fakeAPI) CreateNode(ctx context.Context, mosaicID string, req client.NodeRequest) (*client.Node, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	n := client.Node{ID: "n-new", MosaicID: mosaicID, Name: req.Name, Kind: req.Kind}
	return &n, nil
}

func (f *fakeAPI) UpdateNode(ctx context.Context, nodeID string, req client.NodeRequest) (*client.Node, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return &client.Node{ID: nodeID, Name: req.Name, Kind: req.Kind}, nil
}

func (f *fakeAPI) DeleteNode(ctx context.Context, nodeID string) error { return f.fail }

func (f *fakeAPI) GetNodeCounts(ctx context.Context, nodeID string) (*client.NodeCounts, error) {
	c := f.counts
	return &c, f.fail
}

func (f *fakeAPI) CreateConnection(ctx context.Context, mosaicID string, req client.ConnectionRequest) (*client.Connection, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return &client.Connection{ID: "c-new", SourceID: req.SourceID, TargetID: req.TargetID}, nil
}

func (f *fakeAPI) DeleteConnection(ctx context.Context, connectionID string) error { return f.fail }

func node(id string, kind client.NodeKind) client.Node {
	return client.Node{ID: id, MosaicID: "m-1", Name: id, Kind: kind}
}

func seeded(t *testing.T, api *fakeAPI) *Controller {
	t.Helper()
	c := New(api, "m-1", nil, logging.Nop())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}
	return c
}

func TestBringToFrontStrictlyIncreases(t *testing.T) {
	api := &fakeAPI{nodes: []client.Node{node("n-1", client.KindAgent), node("n-2", client.KindTopic)}}
	c := seeded(t, api)

	z1 := c.BringToFront("n-1")
	z2 := c.BringToFront("n-2")
	z3 := c.BringToFront("n-1")
	if !(z1 < z2 && z2 < z3) {
		t.Errorf("z sequence %d, %d, %d is not strictly increasing", z1, z2, z3)
	}

	n1, _ := c.Node("n-1")
	n2, _ := c.Node("n-2")
	if n1.ZIndex <= n2.ZIndex {
		t.Errorf("last-raised node n-1 (z=%d) is not above n-2 (z=%d)", n1.ZIndex, n2.ZIndex)
	}
	if z := c.BringToFront("n-missing"); z != 0 {
		t.Errorf("BringToFront on unknown node returned %d, want 0", z)
	}
}

func TestNodesSortedByZ(t *testing.T) {
	api := &fakeAPI{nodes: []client.Node{
		node("n-1", client.KindAgent), node("n-2", client.KindTopic), node("n-3", client.KindConnector),
	}}
	c := seeded(t, api)
	c.BringToFront("n-1")

	visuals := c.Nodes()
	for i := 1; i < len(visuals); i++ {
		if visuals[i-1].ZIndex >= visuals[i].ZIndex {
			t.Fatalf("Nodes() not ascending by z at %d: %d >= %d",
				i, visuals[i-1].ZIndex, visuals[i].ZIndex)
		}
	}
	if visuals[len(visuals)-1].Node.ID != "n-1" {
		t.Errorf("raised node is not last in paint order")
	}
}

func TestToggleExpandedOnlyForSessionable(t *testing.T) {
	api := &fakeAPI{nodes: []client.Node{
		node("n-agent", client.KindAgent),
		node("n-topic", client.KindTopic),
		node("n-conn", client.KindConnector),
	}}
	c := seeded(t, api)

	if !c.ToggleExpanded("n-agent") {
		t.Error("agent node did not expand")
	}
	if c.ToggleExpanded("n-agent") {
		t.Error("second toggle did not collapse")
	}
	if c.ToggleExpanded("n-topic") || c.ToggleExpanded("n-conn") {
		t.Error("non-sessionable kind expanded")
	}
	for _, id := range []string{"n-topic", "n-conn"} {
		if v, _ := c.Node(id); v.Expanded {
			t.Errorf("%s carries the expanded flag", id)
		}
	}
}

func TestMutationOnlyAfterCommandSuccess(t *testing.T) {
	api := &fakeAPI{nodes: []client.Node{node("n-1", client.KindAgent)}}
	c := seeded(t, api)
	boom := errors.New("backend rejected")
	api.fail = boom

	if _, err := c.CreateNode(context.Background(), client.NodeRequest{Name: "x", Kind: client.KindTopic}); !errors.Is(err, boom) {
		t.Fatalf("CreateNode error = %v", err)
	}
	if err := c.DeleteNode(context.Background(), "n-1"); !errors.Is(err, boom) {
		t.Fatalf("DeleteNode error = %v", err)
	}
	if _, err := c.Connect(context.Background(), client.ConnectionRequest{SourceID: "n-1", TargetID: "n-2"}); !errors.Is(err, boom) {
		t.Fatalf("Connect error = %v", err)
	}

	if len(c.Nodes()) != 1 {
		t.Errorf("rejected commands mutated the node set: %v", c.Nodes())
	}
	if _, ok := c.Node("n-1"); !ok {
		t.Error("rejected delete removed the node locally")
	}
	if len(c.Edges()) != 0 {
		t.Error("rejected connect created a local edge")
	}
}

func TestDeleteRemovesNodeAndItsEdges(t *testing.T) {
	api := &fakeAPI{
		nodes: []client.Node{node("n-1", client.KindAgent), node("n-2", client.KindTopic)},
		conns: []client.Connection{
			{ID: "c-1", SourceID: "n-1", TargetID: "n-2"},
			{ID: "c-2", SourceID: "n-2", TargetID: "n-3"},
		},
	}
	c := seeded(t, api)

	if err := c.DeleteNode(context.Background(), "n-1"); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if _, ok := c.Node("n-1"); ok {
		t.Error("deleted node still present")
	}
	edges := c.Edges()
	if len(edges) != 1 || edges[0].Connection.ID != "c-2" {
		t.Errorf("edges after delete = %+v, want only c-2", edges)
	}
}

func TestDeleteCheckReportsCountsButNeverBlocks(t *testing.T) {
	api := &fakeAPI{
		nodes:  []client.Node{node("n-1", client.KindAgent)},
		counts: client.NodeCounts{Sessions: 2, Incoming: 1, Outgoing: 3},
	}
	c := seeded(t, api)

	counts, err := c.DeleteCheck(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("DeleteCheck: %v", err)
	}
	if counts.Sessions != 2 || counts.Incoming != 1 || counts.Outgoing != 3 {
		t.Errorf("counts = %+v", counts)
	}
	// Nonzero counts warn the operator; the delete itself still goes through.
	if err := c.DeleteNode(context.Background(), "n-1"); err != nil {
		t.Fatalf("DeleteNode after warning: %v", err)
	}
}

func TestRefreshKeepsPresentationFlags(t *testing.T) {
	api := &fakeAPI{nodes: []client.Node{node("n-1", client.KindAgent), node("n-2", client.KindTopic)}}
	c := seeded(t, api)

	c.ToggleExpanded("n-1")
	zBefore := c.BringToFront("n-1")

	api.mu.Lock()
	api.nodes = []client.Node{
		{ID: "n-1", MosaicID: "m-1", Name: "renamed", Kind: client.KindAgent},
		node("n-3", client.KindTopic), // n-2 is gone, n-3 is new
	}
	api.mu.Unlock()
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	v, ok := c.Node("n-1")
	if !ok {
		t.Fatal("surviving node dropped by refresh")
	}
	if !v.Expanded || v.ZIndex != zBefore {
		t.Errorf("refresh lost presentation flags: %+v", v)
	}
	if v.Node.Name != "renamed" {
		t.Errorf("refresh did not apply server state: %+v", v.Node)
	}
	if _, ok := c.Node("n-2"); ok {
		t.Error("server-deleted node survived refresh")
	}
	if _, ok := c.Node("n-3"); !ok {
		t.Error("new server node missing after refresh")
	}
}

func TestRefreshCoalescesWhileInFlight(t *testing.T) {
	api := &fakeAPI{nodes: []client.Node{node("n-1", client.KindAgent)}}
	c := New(api, "m-1", nil, logging.Nop())

	gate := make(chan struct{})
	api.mu.Lock()
	api.gate = gate
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()

	// Wait until the first refresh is inside ListNodes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		api.mu.Lock()
		hits := api.listHits
		api.mu.Unlock()
		if hits == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first refresh never reached the API")
		}
		time.Sleep(time.Millisecond)
	}

	// Triggers landing mid-flight collapse into one queued rerun.
	for i := 0; i < 5; i++ {
		if err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("queued Refresh: %v", err)
		}
	}

	api.mu.Lock()
	api.gate = nil
	api.mu.Unlock()
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	api.mu.Lock()
	hits := api.listHits
	api.mu.Unlock()
	if hits != 2 {
		t.Errorf("ListNodes hit %d times, want 2 (initial plus one coalesced rerun)", hits)
	}
}

// fakeSessionAPI answers CreateSession and optionally publishes
// confirmations on the bus: prePublish ids go out synchronously before
// the response returns (confirmations overtaking the response), confirm
// publishes the real one concurrently after it (backend order).
type fakeSessionAPI struct {
	b          *bus.Bus
	sessionID  string
	err        error
	confirm    bool
	prePublish []string
	stopped    []string
}

func (f *fakeSessionAPI) CreateSession(ctx context.Context, nodeID string) (*client.CreateSessionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, id := range f.prePublish {
		f.b.PublishLocal(wire.Notification(id, wire.MsgSessionStarted,
			wire.SessionPayload{SessionID: id}))
	}
	if f.confirm {
		go f.b.PublishLocal(wire.Notification(f.sessionID, wire.MsgSessionStarted,
			wire.SessionPayload{SessionID: f.sessionID, NodeID: nodeID}))
	}
	return &client.CreateSessionResponse{SessionID: f.sessionID}, nil
}

func (f *fakeSessionAPI) StopSession(ctx context.Context, sessionID string) error {
	f.stopped = append(f.stopped, sessionID)
	return nil
}

func TestStartSessionWaitsForConfirmation(t *testing.T) {
	b := bus.New("", "", logging.Nop())
	cor := correlate.New(b, logging.Nop())
	api := &fakeSessionAPI{b: b, sessionID: "s-42", confirm: true}

	got, err := StartSession(context.Background(), api, cor, "n-1", time.Second)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if got != "s-42" {
		t.Errorf("StartSession returned %q, want s-42", got)
	}
}

func TestStartSessionConfirmationBeforeResponse(t *testing.T) {
	b := bus.New("", "", logging.Nop())
	cor := correlate.New(b, logging.Nop())
	// The backend's confirmation is dispatched before the command
	// response is even read off the wire; it must not be lost.
	api := &fakeSessionAPI{b: b, sessionID: "s-42", prePublish: []string{"s-42"}}

	got, err := StartSession(context.Background(), api, cor, "n-1", time.Second)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if got != "s-42" {
		t.Errorf("StartSession returned %q, want s-42", got)
	}
}

func TestStartSessionIgnoresForeignConfirmations(t *testing.T) {
	b := bus.New("", "", logging.Nop())
	cor := correlate.New(b, logging.Nop())
	// Other operators' sessions confirm first; only ours may settle the
	// correlation, even when every confirmation beats the response.
	api := &fakeSessionAPI{b: b, sessionID: "s-42",
		prePublish: []string{"s-other", "s-early", "s-42"}}

	got, err := StartSession(context.Background(), api, cor, "n-1", time.Second)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if got != "s-42" {
		t.Errorf("StartSession returned %q, want s-42", got)
	}
}

func TestStartSessionCancelsOnCommandFailure(t *testing.T) {
	b := bus.New("", "", logging.Nop())
	cor := correlate.New(b, logging.Nop())
	boom := errors.New("quota exceeded")
	api := &fakeSessionAPI{b: b, err: boom}

	if _, err := StartSession(context.Background(), api, cor, "n-1", time.Second); !errors.Is(err, boom) {
		t.Fatalf("StartSession error = %v, want command failure", err)
	}
}

func TestStartSessionHonorsConfirmTimeout(t *testing.T) {
	b := bus.New("", "", logging.Nop())
	cor := correlate.New(b, logging.Nop())
	api := &fakeSessionAPI{b: b, sessionID: "s-42", confirm: false}

	start := time.Now()
	_, err := StartSession(context.Background(), api, cor, "n-1", 50*time.Millisecond)
	if !fault.IsTimeout(err) {
		t.Fatalf("error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timed out after %v, want the configured 50ms bound", elapsed)
	}
}

func TestStartSessionTimesOutWithoutConfirmation(t *testing.T) {
	b := bus.New("", "", logging.Nop())
	cor := correlate.New(b, logging.Nop())
	api := &fakeSessionAPI{b: b, sessionID: "s-42", confirm: false}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := StartSession(ctx, api, cor, "n-1", time.Second)
	if err == nil {
		t.Fatal("StartSession succeeded without a confirmation")
	}
	if !fault.IsCancelled(err) && !fault.IsTimeout(err) {
		t.Errorf("error = %v, want cancellation or timeout", err)
	}
}
