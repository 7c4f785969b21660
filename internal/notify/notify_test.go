package notify

import (
	"fmt"
	"testing"
)

func TestPushBeforeInitIsNoop(t *testing.T) {
	n := New()
	n.Error("lost in the void") // must not panic
	if got := n.Drain(); got != nil {
		t.Errorf("Drain returned %v from an uninitialized notifier", got)
	}
}

func TestPushAndDrainInOrder(t *testing.T) {
	n := New()
	n.Init()
	n.Info("connected")
	n.Warn("node has 2 active sessions")
	n.Error("delete rejected")

	got := n.Drain()
	if len(got) != 3 {
		t.Fatalf("Drain returned %d notifications, want 3", len(got))
	}
	wantLevels := []Level{LevelInfo, LevelWarn, LevelError}
	for i, want := range wantLevels {
		if got[i].Level != want {
			t.Errorf("notification %d level %v, want %v", i, got[i].Level, want)
		}
	}
	if again := n.Drain(); len(again) != 0 {
		t.Errorf("second Drain returned %v, want empty", again)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	n := New()
	n.Init()
	for i := 0; i < queueDepth+5; i++ {
		n.Info(fmt.Sprintf("msg %d", i))
	}
	got := n.Drain()
	if len(got) != queueDepth {
		t.Fatalf("Drain returned %d notifications, want %d", len(got), queueDepth)
	}
	if got[len(got)-1].Message != fmt.Sprintf("msg %d", queueDepth+4) {
		t.Errorf("newest notification lost: last is %q", got[len(got)-1].Message)
	}
	if got[0].Message == "msg 0" {
		t.Error("oldest notification survived overflow")
	}
}

func TestPushAfterTeardownIsNoop(t *testing.T) {
	n := New()
	n.Init()
	n.Teardown()
	n.Error("too late") // must not panic
	if got := n.Drain(); got != nil {
		t.Errorf("Drain returned %v after teardown", got)
	}
}
