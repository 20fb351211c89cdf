package nodeauth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nodegate/nodegate/internal/protocol"
)

const maxNodeIDLength = 128

var (
	ErrUnknownNode    = errors.New("unknown node_id")
	ErrBadSignature   = errors.New("invalid signature")
	ErrStaleTimestamp = errors.New("timestamp is outside replay window")
	ErrNonceReplayed  = errors.New("nonce replay detected")
)

// Authenticator validates hello frames against a static node_id -> secret
// credential map.
type Authenticator struct {
	credentials  map[string]string
	replayWindow time.Duration
	nonces       *nonceCache
}

func NewAuthenticator(credentials map[string]string, replayWindow time.Duration) *Authenticator {
	creds := make(map[string]string, len(credentials))
	for nodeID, secret := range credentials {
		creds[nodeID] = secret
	}
	return &Authenticator{
		credentials:  creds,
		replayWindow: replayWindow,
		nonces:       newNonceCache(),
	}
}

// Authenticate checks a hello frame end to end: field validity, timestamp
// freshness, signature, and nonce uniqueness within the replay window. The
// nonce is consumed only after the signature verifies, so forged frames
// cannot burn a legitimate nonce.
func (a *Authenticator) Authenticate(hello protocol.Hello, now time.Time) error {
	if err := validateHello(hello); err != nil {
		return err
	}
	if !a.withinReplayWindow(now, hello.TimestampUnixMS) {
		return ErrStaleTimestamp
	}
	secret, ok := a.credentials[hello.NodeID]
	if !ok {
		return ErrUnknownNode
	}
	if !VerifySignature(hello.NodeID, hello.TimestampUnixMS, hello.Nonce, secret, hello.Signature) {
		return ErrBadSignature
	}
	return a.nonces.use(hello.NodeID, hello.Nonce, now, a.replayWindow)
}

func (a *Authenticator) withinReplayWindow(now time.Time, timestampUnixMS int64) bool {
	if timestampUnixMS <= 0 {
		return false
	}
	delta := now.Sub(time.UnixMilli(timestampUnixMS))
	if delta < 0 {
		delta = -delta
	}
	return delta <= a.replayWindow
}

func validateHello(hello protocol.Hello) error {
	nodeID := strings.TrimSpace(hello.NodeID)
	if nodeID == "" {
		return errors.New("node_id is required")
	}
	if len(nodeID) > maxNodeIDLength {
		return fmt.Errorf("node_id exceeds %d characters", maxNodeIDLength)
	}
	if hello.TimestampUnixMS <= 0 {
		return errors.New("timestamp_unix_ms is required")
	}
	if strings.TrimSpace(hello.Nonce) == "" {
		return errors.New("nonce is required")
	}
	if strings.TrimSpace(hello.Signature) == "" {
		return errors.New("signature is required")
	}
	return nil
}

// nonceCache remembers nonces per node for the duration of the replay
// window. Expired nonces are swept on every use.
type nonceCache struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time
}

func newNonceCache() *nonceCache {
	return &nonceCache{entries: make(map[string]map[string]time.Time)}
}

func (c *nonceCache) use(nodeID string, nonce string, now time.Time, window time.Duration) error {
	if window <= 0 {
		return errors.New("replay window must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, nonces := range c.entries {
		for value, seenAt := range nonces {
			if now.Sub(seenAt) > window {
				delete(nonces, value)
			}
		}
		if len(nonces) == 0 {
			delete(c.entries, id)
		}
	}

	nodeNonces, ok := c.entries[nodeID]
	if !ok {
		nodeNonces = make(map[string]time.Time)
		c.entries[nodeID] = nodeNonces
	}
	if _, exists := nodeNonces[nonce]; exists {
		return ErrNonceReplayed
	}
	nodeNonces[nonce] = now
	return nil
}
