// Package nodeauth authenticates node hello frames: a shared-secret
// HMAC-SHA256 signature over node id, timestamp and nonce, bounded by a
// replay window and a per-node nonce cache.
package nodeauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// signingPayload is the canonical byte layout both sides sign.
func signingPayload(nodeID string, timestampUnixMS int64, nonce string) string {
	return fmt.Sprintf("%s\n%d\n%s", nodeID, timestampUnixMS, nonce)
}

// Sign computes the lowercase hex HMAC-SHA256 signature a node puts in its
// hello frame. Node-side agents and tests share this helper.
func Sign(nodeID string, timestampUnixMS int64, nonce string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingPayload(nodeID, timestampUnixMS, nonce)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hello signature in constant time.
func VerifySignature(nodeID string, timestampUnixMS int64, nonce string, secret string, signature string) bool {
	decoded, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingPayload(nodeID, timestampUnixMS, nonce)))
	return hmac.Equal(decoded, mac.Sum(nil))
}
