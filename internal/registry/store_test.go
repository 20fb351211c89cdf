package registry

import (
	"testing"
	"time"
)

func sendOK(any) bool { return true }

func newSession(nodeID string, connID string, connectedAt time.Time) *NodeSession {
	return &NodeSession{
		NodeID:      nodeID,
		ConnID:      connID,
		Send:        sendOK,
		ConnectedAt: connectedAt,
	}
}

func TestRegisterAndGet(t *testing.T) {
	s := NewStore()
	s.Register(newSession("n1", "c1", time.Now()))

	sess, ok := s.Get("n1")
	if !ok || sess.ConnID != "c1" {
		t.Fatalf("expected session for n1, got %+v %v", sess, ok)
	}
	if _, ok := s.Get("n2"); ok {
		t.Fatalf("unknown node should not resolve")
	}
	if s.Count() != 1 {
		t.Fatalf("expected one session, got %d", s.Count())
	}
}

func TestRegisterIgnoresInvalidSession(t *testing.T) {
	s := NewStore()
	s.Register(nil)
	s.Register(&NodeSession{NodeID: "", ConnID: "c1"})
	s.Register(&NodeSession{NodeID: "n1", ConnID: ""})
	if s.Count() != 0 {
		t.Fatalf("invalid sessions must not be stored, got %d", s.Count())
	}
}

func TestReRegisterDisplacesOldConn(t *testing.T) {
	s := NewStore()
	s.Register(newSession("n1", "c1", time.Now()))
	s.Register(newSession("n1", "c2", time.Now()))

	sess, _ := s.Get("n1")
	if sess.ConnID != "c2" {
		t.Fatalf("last register should win, got %q", sess.ConnID)
	}

	// The displaced conn id is stale and must not remove the new session.
	if _, ok := s.Unregister("c1"); ok {
		t.Fatalf("stale conn id must not unregister")
	}
	if _, ok := s.Get("n1"); !ok {
		t.Fatalf("replacement session should survive a stale unregister")
	}

	nodeID, ok := s.Unregister("c2")
	if !ok || nodeID != "n1" {
		t.Fatalf("current conn id should unregister n1, got %q %v", nodeID, ok)
	}
	if s.Count() != 0 {
		t.Fatalf("store should be empty, got %d", s.Count())
	}
}

func TestUnregisterUnknownConn(t *testing.T) {
	s := NewStore()
	if _, ok := s.Unregister("nope"); ok {
		t.Fatalf("unknown conn id must not unregister")
	}
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	s := NewStore()
	s.Register(newSession("n1", "c1", time.Now()))

	seen := time.Unix(1_700_000_123, 0)
	if !s.Touch("c1", seen) {
		t.Fatalf("touch on a live conn should succeed")
	}
	sess, _ := s.Get("n1")
	if !sess.LastSeenAt.Equal(seen) {
		t.Fatalf("expected last seen %v, got %v", seen, sess.LastSeenAt)
	}
	if s.Touch("c-gone", seen) {
		t.Fatalf("touch on an unknown conn must fail")
	}
}

func TestListOrderAndPagination(t *testing.T) {
	s := NewStore()
	base := time.Unix(1_700_000_000, 0)
	s.Register(newSession("n-c", "c3", base.Add(2*time.Second)))
	s.Register(newSession("n-a", "c1", base))
	s.Register(newSession("n-b", "c2", base))

	views, total := s.List(1, 10)
	if total != 3 || len(views) != 3 {
		t.Fatalf("expected 3 sessions, got %d/%d", len(views), total)
	}
	// Equal timestamps fall back to node id order.
	if views[0].NodeID != "n-a" || views[1].NodeID != "n-b" || views[2].NodeID != "n-c" {
		t.Fatalf("unexpected order: %v %v %v", views[0].NodeID, views[1].NodeID, views[2].NodeID)
	}

	page2, total := s.List(2, 2)
	if total != 3 || len(page2) != 1 || page2[0].NodeID != "n-c" {
		t.Fatalf("unexpected second page: %+v total=%d", page2, total)
	}

	empty, total := s.List(5, 2)
	if total != 3 || len(empty) != 0 {
		t.Fatalf("out-of-range page should be empty, got %+v", empty)
	}
}

func TestListSnapshotsAreIsolated(t *testing.T) {
	s := NewStore()
	sess := newSession("n1", "c1", time.Now())
	sess.Commands = []string{"ls"}
	s.Register(sess)

	views, _ := s.List(1, 10)
	views[0].Commands[0] = "rm"

	live, _ := s.Get("n1")
	if live.Commands[0] != "ls" {
		t.Fatalf("list must return copies, live session was mutated")
	}
}
