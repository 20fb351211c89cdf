package nodeauth

import (
	"errors"
	"testing"
	"time"

	"github.com/nodegate/nodegate/internal/protocol"
)

const testSecret = "node-secret"

func signedHello(nodeID string, now time.Time, nonce string) protocol.Hello {
	ts := now.UnixMilli()
	return protocol.Hello{
		NodeID:          nodeID,
		TimestampUnixMS: ts,
		Nonce:           nonce,
		Signature:       Sign(nodeID, ts, nonce, testSecret),
	}
}

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(map[string]string{"n1": testSecret}, 2*time.Minute)
}

func TestAuthenticateAcceptsValidHello(t *testing.T) {
	a := newTestAuthenticator()
	now := time.Unix(1_700_000_000, 0)
	if err := a.Authenticate(signedHello("n1", now, "nonce-1"), now); err != nil {
		t.Fatalf("valid hello rejected: %v", err)
	}
}

func TestAuthenticateRejectsUnknownNode(t *testing.T) {
	a := newTestAuthenticator()
	now := time.Unix(1_700_000_000, 0)
	hello := signedHello("ghost", now, "nonce-1")
	if err := a.Authenticate(hello, now); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	a := newTestAuthenticator()
	now := time.Unix(1_700_000_000, 0)
	hello := signedHello("n1", now, "nonce-1")
	hello.Signature = Sign("n1", hello.TimestampUnixMS, "nonce-1", "wrong-secret")
	if err := a.Authenticate(hello, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	hello.Signature = "not-hex!"
	if err := a.Authenticate(hello, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for malformed hex, got %v", err)
	}
}

func TestAuthenticateRejectsStaleTimestamp(t *testing.T) {
	a := newTestAuthenticator()
	now := time.Unix(1_700_000_000, 0)
	past := now.Add(-3 * time.Minute)
	if err := a.Authenticate(signedHello("n1", past, "nonce-1"), now); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp for the past, got %v", err)
	}
	future := now.Add(3 * time.Minute)
	if err := a.Authenticate(signedHello("n1", future, "nonce-2"), now); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp for the future, got %v", err)
	}
}

func TestAuthenticateRejectsNonceReplay(t *testing.T) {
	a := newTestAuthenticator()
	now := time.Unix(1_700_000_000, 0)
	hello := signedHello("n1", now, "nonce-1")
	if err := a.Authenticate(hello, now); err != nil {
		t.Fatalf("first use should pass: %v", err)
	}
	if err := a.Authenticate(hello, now.Add(time.Second)); !errors.Is(err, ErrNonceReplayed) {
		t.Fatalf("expected ErrNonceReplayed, got %v", err)
	}
}

func TestNonceReusableAfterWindow(t *testing.T) {
	a := newTestAuthenticator()
	now := time.Unix(1_700_000_000, 0)
	if err := a.Authenticate(signedHello("n1", now, "nonce-1"), now); err != nil {
		t.Fatalf("first use should pass: %v", err)
	}

	later := now.Add(5 * time.Minute)
	if err := a.Authenticate(signedHello("n1", later, "nonce-1"), later); err != nil {
		t.Fatalf("nonce outside the window should be reusable: %v", err)
	}
}

func TestAuthenticateValidatesFields(t *testing.T) {
	a := newTestAuthenticator()
	now := time.Unix(1_700_000_000, 0)
	cases := []protocol.Hello{
		{NodeID: "", TimestampUnixMS: now.UnixMilli(), Nonce: "n", Signature: "s"},
		{NodeID: "n1", TimestampUnixMS: 0, Nonce: "n", Signature: "s"},
		{NodeID: "n1", TimestampUnixMS: now.UnixMilli(), Nonce: " ", Signature: "s"},
		{NodeID: "n1", TimestampUnixMS: now.UnixMilli(), Nonce: "n", Signature: ""},
	}
	for i, hello := range cases {
		if err := a.Authenticate(hello, now); err == nil {
			t.Fatalf("case %d: incomplete hello must be rejected", i)
		}
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	sig := Sign("n1", 1234, "nonce", "secret")
	if !VerifySignature("n1", 1234, "nonce", "secret", sig) {
		t.Fatalf("signature should verify")
	}
	if VerifySignature("n1", 1235, "nonce", "secret", sig) {
		t.Fatalf("changed timestamp must not verify")
	}
	if !VerifySignature("n1", 1234, "nonce", "secret", "  "+sig+" ") {
		t.Fatalf("surrounding whitespace should be tolerated")
	}
}
