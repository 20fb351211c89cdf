// Package protocol defines the JSON wire envelopes exchanged with nodes over
// their duplex connection. Every frame carries a type discriminator so the
// transport can route inbound frames without trial decoding.
package protocol

import "encoding/json"

const (
	FrameHello         = "hello"
	FrameConnectAck    = "connect-ack"
	FrameInvokeRequest = "invoke-request"
	FrameInvokeResult  = "invoke-result"
	FrameEvent         = "event"
	FramePing          = "ping"
	FramePong          = "pong"
)

// Envelope is the minimal decode used to pick a frame type before the full
// payload is parsed.
type Envelope struct {
	Type string `json:"type"`
}

// ErrorShape is the structured error carried by failed invoke results.
type ErrorShape struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Hello is the first frame a node must send after connecting. The signature
// is HMAC-SHA256 over "nodeId\n timestamp \n nonce" with the node's secret.
type Hello struct {
	Type            string          `json:"type"`
	NodeID          string          `json:"nodeId"`
	TimestampUnixMS int64           `json:"timestampUnixMs"`
	Nonce           string          `json:"nonce"`
	Signature       string          `json:"signature"`
	DisplayName     string          `json:"displayName,omitempty"`
	Platform        string          `json:"platform,omitempty"`
	Capabilities    []string        `json:"capabilities,omitempty"`
	Commands        []string        `json:"commands,omitempty"`
	Permissions     map[string]bool `json:"permissions,omitempty"`
}

// ConnectAck confirms a successful handshake and tells the node its conn id.
type ConnectAck struct {
	Type             string `json:"type"`
	ConnID           string `json:"connId"`
	ServerTimeUnixMS int64  `json:"serverTimeUnixMs"`
	PingIntervalSec  int    `json:"pingIntervalSec"`
}

// InvokeRequest is sent gateway → node for one correlated command.
type InvokeRequest struct {
	Type           string  `json:"type"`
	ID             string  `json:"id"`
	NodeID         string  `json:"nodeId"`
	Command        string  `json:"command"`
	ParamsJSON     *string `json:"paramsJSON"`
	TimeoutMS      int64   `json:"timeoutMs,omitempty"`
	IdempotencyKey string  `json:"idempotencyKey,omitempty"`
}

// InvokeResult is sent node → gateway, matched to its request by ID.
// Payload carries a decoded JSON value, PayloadJSON a pre-serialized string;
// nodes may use either. The gateway passes both through opaquely.
type InvokeResult struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	NodeID      string          `json:"nodeId"`
	OK          bool            `json:"ok"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PayloadJSON *string         `json:"payloadJSON,omitempty"`
	Error       *ErrorShape     `json:"error,omitempty"`
}

// Event is a fire-and-forget push gateway → node. No reply is expected.
type Event struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Ping is sent by nodes to keep the connection warm; the gateway answers
// with a Pong and refreshes the session's last-seen timestamp.
type Ping struct {
	Type         string `json:"type"`
	SentAtUnixMS int64  `json:"sentAtUnixMs,omitempty"`
}

type Pong struct {
	Type             string `json:"type"`
	ServerTimeUnixMS int64  `json:"serverTimeUnixMs"`
}
