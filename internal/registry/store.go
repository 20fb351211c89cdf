package registry

import (
	"sort"
	"sync"
	"time"
)

// SendFunc pushes one outbound frame to a node's connection and reports
// whether the write succeeded.
type SendFunc func(frame any) bool

// NodeSession is one connected node. NodeID is the stable identity that
// survives reconnects; ConnID identifies the current physical connection and
// changes on every reconnect.
type NodeSession struct {
	NodeID       string
	ConnID       string
	Send         SendFunc
	Capabilities []string
	Commands     []string
	Permissions  map[string]bool
	DisplayName  string
	Platform     string
	ConnectedAt  time.Time
	LastSeenAt   time.Time
}

// NodeView is a read-only session snapshot for the operator API.
type NodeView struct {
	NodeID       string    `json:"node_id"`
	ConnID       string    `json:"conn_id"`
	DisplayName  string    `json:"display_name"`
	Platform     string    `json:"platform"`
	Capabilities []string  `json:"capabilities"`
	Commands     []string  `json:"commands"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Store is the in-memory session map, keyed both by node id (for invokes)
// and by conn id (for disconnect cleanup).
type Store struct {
	mu     sync.RWMutex
	byNode map[string]*NodeSession
	byConn map[string]string
}

func NewStore() *Store {
	return &Store{
		byNode: make(map[string]*NodeSession),
		byConn: make(map[string]string),
	}
}

// Register inserts a session. The last register for a node id wins: a
// previous session under the same node id is displaced along with its conn
// index entry.
func (s *Store) Register(sess *NodeSession) {
	if sess == nil || sess.NodeID == "" || sess.ConnID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byNode[sess.NodeID]; ok {
		delete(s.byConn, existing.ConnID)
	}
	s.byNode[sess.NodeID] = sess
	s.byConn[sess.ConnID] = sess.NodeID
}

// Unregister removes the session owning connID. A stale conn id (one already
// displaced by a re-register) removes nothing and returns false.
func (s *Store) Unregister(connID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodeID, ok := s.byConn[connID]
	if !ok {
		return "", false
	}
	sess, ok := s.byNode[nodeID]
	if !ok || sess.ConnID != connID {
		delete(s.byConn, connID)
		return "", false
	}
	delete(s.byNode, nodeID)
	delete(s.byConn, connID)
	return nodeID, true
}

// Get returns the session for nodeID.
func (s *Store) Get(nodeID string) (*NodeSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byNode[nodeID]
	return sess, ok
}

// Touch updates LastSeenAt for the session owning connID, used by the
// transport's ping handling.
func (s *Store) Touch(connID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodeID, ok := s.byConn[connID]
	if !ok {
		return false
	}
	sess, ok := s.byNode[nodeID]
	if !ok || sess.ConnID != connID {
		return false
	}
	sess.LastSeenAt = now
	return true
}

// Count returns the number of connected nodes.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byNode)
}

// List returns a page of session snapshots ordered by connection time, then
// node id for a stable order between equal timestamps.
func (s *Store) List(page int, pageSize int) ([]NodeView, int) {
	s.mu.RLock()
	views := make([]NodeView, 0, len(s.byNode))
	for _, sess := range s.byNode {
		views = append(views, NodeView{
			NodeID:       sess.NodeID,
			ConnID:       sess.ConnID,
			DisplayName:  sess.DisplayName,
			Platform:     sess.Platform,
			Capabilities: cloneStrings(sess.Capabilities),
			Commands:     cloneStrings(sess.Commands),
			ConnectedAt:  sess.ConnectedAt,
			LastSeenAt:   sess.LastSeenAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].ConnectedAt.Equal(views[j].ConnectedAt) {
			return views[i].NodeID < views[j].NodeID
		}
		return views[i].ConnectedAt.Before(views[j].ConnectedAt)
	})

	total := len(views)
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []NodeView{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return views[start:end], total
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
