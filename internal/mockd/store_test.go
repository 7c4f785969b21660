package mockd

import (
	"testing"

	"github.com/renjiyun06/mosaic-sub001/internal/client"
)

func TestStoreSeedsDemoMosaic(t *testing.T) {
	s := NewStore()
	if !s.HasMosaic("demo") {
		t.Fatal("fresh store has no demo mosaic")
	}
	if got := len(s.Mosaics()); got != 1 {
		t.Errorf("fresh store has %d mosaics, want 1", got)
	}
}

func TestNodeCRUD(t *testing.T) {
	s := NewStore()

	n := s.CreateNode("demo", client.NodeRequest{Name: "worker", Kind: client.KindAgent, X: 10, Y: 20})
	if n.ID == "" || n.MosaicID != "demo" {
		t.Fatalf("created node %+v", n)
	}

	updated, ok := s.UpdateNode(n.ID, client.NodeRequest{Name: "renamed", Kind: client.KindAgent, X: 30, Y: 40})
	if !ok || updated.Name != "renamed" || updated.X != 30 {
		t.Errorf("update returned %+v ok=%v", updated, ok)
	}

	if _, ok := s.UpdateNode("n-missing", client.NodeRequest{Name: "x"}); ok {
		t.Error("update of a missing node reported ok")
	}

	if busy, ok := s.DeleteNode(n.ID); busy || !ok {
		t.Errorf("delete: busy=%v ok=%v", busy, ok)
	}
	if _, ok := s.Node(n.ID); ok {
		t.Error("deleted node still present")
	}
}

func TestDeleteNodeBusyWithActiveSession(t *testing.T) {
	s := NewStore()
	n := s.CreateNode("demo", client.NodeRequest{Name: "worker", Kind: client.KindAgent})

	sess, ok := s.CreateSession(n.ID)
	if !ok {
		t.Fatal("CreateSession refused a sessionable node")
	}

	if busy, ok := s.DeleteNode(n.ID); !busy || ok {
		t.Errorf("delete with active session: busy=%v ok=%v, want busy", busy, ok)
	}

	s.EndSession(sess.ID)
	if busy, ok := s.DeleteNode(n.ID); busy || !ok {
		t.Errorf("delete after session end: busy=%v ok=%v", busy, ok)
	}
}

func TestCreateSessionOnlyForSessionableKinds(t *testing.T) {
	s := NewStore()
	topic := s.CreateNode("demo", client.NodeRequest{Name: "feed", Kind: client.KindTopic})
	conn := s.CreateNode("demo", client.NodeRequest{Name: "pipe", Kind: client.KindConnector})

	if _, ok := s.CreateSession(topic.ID); ok {
		t.Error("session created on a topic node")
	}
	if _, ok := s.CreateSession(conn.ID); ok {
		t.Error("session created on a connector node")
	}
	if _, ok := s.CreateSession("n-missing"); ok {
		t.Error("session created on a missing node")
	}
}

func TestCountsReflectSessionsAndConnections(t *testing.T) {
	s := NewStore()
	a := s.CreateNode("demo", client.NodeRequest{Name: "a", Kind: client.KindAgent})
	b := s.CreateNode("demo", client.NodeRequest{Name: "b", Kind: client.KindTopic})

	s.CreateConnection("demo", client.ConnectionRequest{SourceID: a.ID, TargetID: b.ID})
	s.CreateConnection("demo", client.ConnectionRequest{SourceID: b.ID, TargetID: a.ID})
	s.CreateSession(a.ID)

	counts := s.Counts(a.ID)
	if counts.Sessions != 1 || counts.Outgoing != 1 || counts.Incoming != 1 {
		t.Errorf("counts = %+v, want 1/1/1", counts)
	}
}

func TestActiveSessionsTracksLifecycle(t *testing.T) {
	s := NewStore()
	n := s.CreateNode("demo", client.NodeRequest{Name: "worker", Kind: client.KindAgent})

	s1, _ := s.CreateSession(n.ID)
	s2, _ := s.CreateSession(n.ID)
	if got := s.ActiveSessions(); got != 2 {
		t.Fatalf("ActiveSessions = %d, want 2", got)
	}

	s.EndSession(s1.ID)
	if got := s.ActiveSessions(); got != 1 {
		t.Errorf("ActiveSessions = %d after one end, want 1", got)
	}
	if _, ok := s.EndSession(s1.ID); ok {
		t.Error("ending an ended session reported ok")
	}
	s.EndSession(s2.ID)
	if got := s.ActiveSessions(); got != 0 {
		t.Errorf("ActiveSessions = %d, want 0", got)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	s := NewStore()
	a := s.CreateNode("demo", client.NodeRequest{Name: "a", Kind: client.KindAgent})
	b := s.CreateNode("demo", client.NodeRequest{Name: "b", Kind: client.KindTopic})

	c, ok := s.CreateConnection("demo", client.ConnectionRequest{SourceID: a.ID, TargetID: b.ID})
	if !ok || c.ID == "" {
		t.Fatalf("CreateConnection: %+v ok=%v", c, ok)
	}
	if _, ok := s.CreateConnection("demo", client.ConnectionRequest{SourceID: a.ID, TargetID: "n-missing"}); ok {
		t.Error("connection created to a missing node")
	}
	deleted, ok := s.DeleteConnection(c.ID)
	if !ok || deleted.MosaicID != "demo" {
		t.Errorf("DeleteConnection returned %+v ok=%v", deleted, ok)
	}
	if _, ok := s.DeleteConnection(c.ID); ok {
		t.Error("double delete reported ok")
	}
}
