// Package invoke implements the correlated request/response core: it tracks
// connected nodes, issues invoke requests with per-node admission control and
// idempotency deduplication, and resolves pending requests from inbound
// result frames or timer-wheel expiry.
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodegate/nodegate/internal/protocol"
	"github.com/nodegate/nodegate/internal/registry"
	"github.com/nodegate/nodegate/internal/timewheel"
)

const (
	DefaultMaxPendingPerNode = 100
	DefaultIdempotencyTTL    = 5 * time.Minute
	DefaultInvokeTimeout     = 30 * time.Second
)

// Structured failure codes returned inside Result. Routine failures are
// values, never errors; callers branch on Error.Code.
const (
	CodeNotConnected     = "NOT_CONNECTED"
	CodeOverloaded       = "OVERLOADED"
	CodeUnavailable      = "UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeNodeDisconnected = "NODE_DISCONNECTED"
)

var ErrInvalidRequest = errors.New("node_id and command are required")

// Request is one invoke submission.
type Request struct {
	NodeID         string
	Command        string
	Params         any
	Timeout        time.Duration
	IdempotencyKey string
}

// Result is the terminal outcome of an invoke. Payload carries a decoded
// JSON value, PayloadJSON a pre-serialized string; both pass through from
// the node untouched.
type Result struct {
	OK          bool                 `json:"ok"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
	PayloadJSON *string              `json:"payload_json,omitempty"`
	Error       *protocol.ErrorShape `json:"error,omitempty"`
}

// Record is an audit row for one completed invoke.
type Record struct {
	ID          string
	NodeID      string
	Command     string
	OK          bool
	Code        string
	Duration    time.Duration
	CompletedAt time.Time
}

// Recorder receives completed invoke records. Implementations must not
// block the invoke path.
type Recorder interface {
	Record(rec Record)
}

// pendingInvoke is one in-flight request. Removal from the pending map is
// the single source of truth for "already completed": whichever path removes
// the entry owns the one delivery into done.
type pendingInvoke struct {
	nodeID  string
	command string
	done    chan Result
}

type idemEntry struct {
	result    Result
	expiresAt time.Time
}

// Options tune the registry; zero values fall back to the defaults above.
type Options struct {
	MaxPendingPerNode int
	IdempotencyTTL    time.Duration
	DefaultTimeout    time.Duration
}

// Registry is the node invocation registry.
type Registry struct {
	store *registry.Store
	wheel *timewheel.Wheel

	mu             sync.Mutex
	pending        map[string]*pendingInvoke
	pendingPerNode map[string]int
	idem           map[string]idemEntry

	maxPendingPerNode int
	idemTTL           time.Duration
	defaultTimeout    time.Duration

	recorder Recorder
	nowFn    func() time.Time
	newIDFn  func() string
	logger   zerolog.Logger
}

func NewRegistry(store *registry.Store, wheel *timewheel.Wheel, opts Options, logger zerolog.Logger) *Registry {
	maxPending := opts.MaxPendingPerNode
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingPerNode
	}
	idemTTL := opts.IdempotencyTTL
	if idemTTL <= 0 {
		idemTTL = DefaultIdempotencyTTL
	}
	defaultTimeout := opts.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultInvokeTimeout
	}
	return &Registry{
		store:             store,
		wheel:             wheel,
		pending:           make(map[string]*pendingInvoke),
		pendingPerNode:    make(map[string]int),
		idem:              make(map[string]idemEntry),
		maxPendingPerNode: maxPending,
		idemTTL:           idemTTL,
		defaultTimeout:    defaultTimeout,
		nowFn:             time.Now,
		newIDFn:           uuid.NewString,
		logger:            logger.With().Str("component", "invoke").Logger(),
	}
}

// SetRecorder attaches an audit sink for completed invokes.
func (r *Registry) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// Register inserts a node session. The last register for a node id wins;
// callers are responsible for not double-registering concurrently.
func (r *Registry) Register(sess *registry.NodeSession) error {
	if sess == nil || strings.TrimSpace(sess.NodeID) == "" || strings.TrimSpace(sess.ConnID) == "" {
		return errors.New("session requires node_id and conn_id")
	}
	r.store.Register(sess)
	r.logger.Info().Str("node_id", sess.NodeID).Str("conn_id", sess.ConnID).Msg("node registered")
	return nil
}

// Unregister removes the session owning connID and rejects every pending
// invoke for that node with a disconnect error carrying the command name.
// Returns the freed node id, or "" and false for an unknown or stale conn.
func (r *Registry) Unregister(connID string) (string, bool) {
	nodeID, ok := r.store.Unregister(connID)
	if !ok {
		return "", false
	}

	type victim struct {
		id string
		p  *pendingInvoke
	}
	r.mu.Lock()
	var victims []victim
	for id, p := range r.pending {
		if p.nodeID == nodeID {
			delete(r.pending, id)
			victims = append(victims, victim{id: id, p: p})
		}
	}
	delete(r.pendingPerNode, nodeID)
	r.mu.Unlock()

	for _, v := range victims {
		r.wheel.Cancel(v.id)
		v.p.done <- Result{
			OK: false,
			Error: &protocol.ErrorShape{
				Code:    CodeNodeDisconnected,
				Message: fmt.Sprintf("node disconnected while %q was in flight", v.p.command),
			},
		}
	}
	r.logger.Info().Str("node_id", nodeID).Str("conn_id", connID).Int("rejected", len(victims)).Msg("node unregistered")
	return nodeID, true
}

// Invoke sends command to a node and suspends until a matching result frame
// arrives or the timer wheel fires the timeout. Routine failures
// (NOT_CONNECTED, OVERLOADED, UNAVAILABLE, TIMEOUT, NODE_DISCONNECTED) come
// back as a Result value; the error return is reserved for contract
// violations and context cancellation.
func (r *Registry) Invoke(ctx context.Context, req Request) (Result, error) {
	nodeID := strings.TrimSpace(req.NodeID)
	command := strings.TrimSpace(req.Command)
	if nodeID == "" || command == "" {
		return Result{}, ErrInvalidRequest
	}

	if res, ok := r.idemGet(req.IdempotencyKey); ok {
		return res, nil
	}

	sess, ok := r.store.Get(nodeID)
	if !ok {
		return failure(CodeNotConnected, fmt.Sprintf("node %q is not connected", nodeID)), nil
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	paramsJSON, err := encodeParams(req.Params)
	if err != nil {
		return Result{}, fmt.Errorf("encode params: %w", err)
	}

	// Admission and pending registration happen in one critical section so
	// the outstanding counter can never overshoot the ceiling.
	r.mu.Lock()
	if r.pendingPerNode[nodeID] >= r.maxPendingPerNode {
		r.mu.Unlock()
		return failure(CodeOverloaded, fmt.Sprintf("node %q has too many outstanding invokes", nodeID)), nil
	}
	r.pendingPerNode[nodeID]++
	id := r.newIDFn()
	p := &pendingInvoke{nodeID: nodeID, command: command, done: make(chan Result, 1)}
	r.pending[id] = p
	r.mu.Unlock()

	started := r.nowFn()
	frame := protocol.InvokeRequest{
		Type:           protocol.FrameInvokeRequest,
		ID:             id,
		NodeID:         nodeID,
		Command:        command,
		ParamsJSON:     paramsJSON,
		TimeoutMS:      timeout.Milliseconds(),
		IdempotencyKey: req.IdempotencyKey,
	}
	if !sess.Send(frame) {
		r.take(id)
		res := failure(CodeUnavailable, fmt.Sprintf("failed to send request to node %q", nodeID))
		r.complete(id, req, res, started)
		return res, nil
	}

	r.wheel.Schedule(id, timeout, func() { r.expire(id) })

	select {
	case res := <-p.done:
		r.complete(id, req, res, started)
		return res, nil
	case <-ctx.Done():
		// Abort only the wait. If the entry is still pending it is cleaned
		// up here; a concurrently delivered result has already done so.
		if r.take(id) != nil {
			r.wheel.Cancel(id)
		}
		return Result{}, ctx.Err()
	}
}

// HandleResult matches an inbound result frame to its pending invoke.
// Unknown correlation ids and node-id mismatches are dropped: a reconnect
// may have reused an id, and there is no waiting caller to deliver to.
func (r *Registry) HandleResult(frame protocol.InvokeResult) bool {
	r.mu.Lock()
	p, ok := r.pending[frame.ID]
	if !ok || p.nodeID != frame.NodeID {
		r.mu.Unlock()
		r.logger.Debug().Str("id", frame.ID).Str("node_id", frame.NodeID).Msg("dropping stale or mismatched result frame")
		return false
	}
	delete(r.pending, frame.ID)
	r.decPendingLocked(p.nodeID)
	r.mu.Unlock()

	// Cancel before resolving so the timeout path can never fire afterwards.
	r.wheel.Cancel(frame.ID)
	p.done <- Result{
		OK:          frame.OK,
		Payload:     frame.Payload,
		PayloadJSON: frame.PayloadJSON,
		Error:       frame.Error,
	}
	return true
}

// SendEvent pushes a fire-and-forget notification to a node, outside the
// invoke/result protocol. Returns whether the send succeeded.
func (r *Registry) SendEvent(nodeID string, event string, payload any) bool {
	sess, ok := r.store.Get(nodeID)
	if !ok {
		return false
	}
	return sess.Send(protocol.Event{
		Type:    protocol.FrameEvent,
		Event:   event,
		Payload: payload,
	})
}

// Status is the operator-facing snapshot of registry and wheel state.
type Status struct {
	Nodes          int              `json:"nodes"`
	PendingTotal   int              `json:"pending_total"`
	PendingPerNode map[string]int   `json:"pending_per_node"`
	Wheel          timewheel.Stats  `json:"wheel"`
	IdempotencyLen int              `json:"idempotency_entries"`
}

func (r *Registry) Status() Status {
	r.mu.Lock()
	perNode := make(map[string]int, len(r.pendingPerNode))
	total := 0
	for nodeID, n := range r.pendingPerNode {
		perNode[nodeID] = n
		total += n
	}
	idemLen := len(r.idem)
	r.mu.Unlock()

	return Status{
		Nodes:          r.store.Count(),
		PendingTotal:   total,
		PendingPerNode: perNode,
		Wheel:          r.wheel.Stats(),
		IdempotencyLen: idemLen,
	}
}

// expire is the timer-wheel callback: it resolves a still-pending invoke
// with a timeout failure. A result that landed first already removed the
// entry, making this a no-op.
func (r *Registry) expire(id string) {
	p := r.take(id)
	if p == nil {
		return
	}
	p.done <- failure(CodeTimeout, fmt.Sprintf("invoke of %q timed out", p.command))
}

// take removes a pending entry and releases its admission slot. It returns
// nil when another path already completed the invoke, so the counter is
// decremented exactly once per entry.
func (r *Registry) take(id string) *pendingInvoke {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	r.decPendingLocked(p.nodeID)
	return p
}

func (r *Registry) decPendingLocked(nodeID string) {
	if n := r.pendingPerNode[nodeID]; n <= 1 {
		delete(r.pendingPerNode, nodeID)
	} else {
		r.pendingPerNode[nodeID] = n - 1
	}
}

// complete caches and records a terminal result. Results returned before a
// request frame was sent (NOT_CONNECTED, OVERLOADED) never reach here.
func (r *Registry) complete(id string, req Request, res Result, started time.Time) {
	r.idemPut(req.IdempotencyKey, res)
	if r.recorder == nil {
		return
	}
	code := ""
	if res.Error != nil {
		code = res.Error.Code
	}
	now := r.nowFn()
	r.recorder.Record(Record{
		ID:          id,
		NodeID:      req.NodeID,
		Command:     req.Command,
		OK:          res.OK,
		Code:        code,
		Duration:    now.Sub(started),
		CompletedAt: now,
	})
}

func failure(code string, message string) Result {
	return Result{
		OK:    false,
		Error: &protocol.ErrorShape{Code: code, Message: message},
	}
}

func encodeParams(params any) (*string, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}
