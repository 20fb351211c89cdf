// Package wsgateway hosts the node-facing websocket endpoint: it runs the
// signed hello handshake, registers the session, pumps outbound frames, and
// routes inbound frames to the invocation registry.
package wsgateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodegate/nodegate/internal/invoke"
	"github.com/nodegate/nodegate/internal/nodeauth"
	"github.com/nodegate/nodegate/internal/protocol"
	"github.com/nodegate/nodegate/internal/registry"
)

const (
	helloTimeout = 10 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

type Gateway struct {
	registry        *invoke.Registry
	store           *registry.Store
	auth            *nodeauth.Authenticator
	pingIntervalSec int

	nowFn       func() time.Time
	newConnIDFn func() string
	logger      zerolog.Logger
}

func New(reg *invoke.Registry, store *registry.Store, auth *nodeauth.Authenticator, pingIntervalSec int, logger zerolog.Logger) *Gateway {
	return &Gateway{
		registry:        reg,
		store:           store,
		auth:            auth,
		pingIntervalSec: pingIntervalSec,
		nowFn:           time.Now,
		newConnIDFn:     uuid.NewString,
		logger:          logger.With().Str("component", "wsgateway").Logger(),
	}
}

// HandleNode upgrades the request and owns the connection for its lifetime.
// The first frame must be a valid signed hello; everything after that is a
// result, ping, or noise.
func (g *Gateway) HandleNode(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	ctx := r.Context()

	hello, err := g.readHello(ctx, conn)
	if err != nil {
		g.logger.Warn().Err(err).Msg("handshake failed")
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	if err := g.auth.Authenticate(*hello, g.nowFn()); err != nil {
		g.logger.Warn().Err(err).Str("node_id", hello.NodeID).Msg("node authentication failed")
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	connID := g.newConnIDFn()
	nc := newNodeConn(conn, g.logger.With().Str("node_id", hello.NodeID).Str("conn_id", connID).Logger())
	go nc.writePump(ctx)

	now := g.nowFn()
	sess := &registry.NodeSession{
		NodeID:       hello.NodeID,
		ConnID:       connID,
		Send:         nc.send,
		Capabilities: hello.Capabilities,
		Commands:     hello.Commands,
		Permissions:  hello.Permissions,
		DisplayName:  hello.DisplayName,
		Platform:     hello.Platform,
		ConnectedAt:  now,
		LastSeenAt:   now,
	}
	if err := g.registry.Register(sess); err != nil {
		g.logger.Error().Err(err).Msg("register failed")
		_ = conn.Close(websocket.StatusInternalError, "register failed")
		return
	}

	nc.send(protocol.ConnectAck{
		Type:             protocol.FrameConnectAck,
		ConnID:           connID,
		ServerTimeUnixMS: now.UnixMilli(),
		PingIntervalSec:  g.pingIntervalSec,
	})

	g.readLoop(r, conn, nc, hello.NodeID, connID)

	// Unregister is keyed by conn id: if this connection was displaced by a
	// reconnect, the replacement session stays untouched.
	g.registry.Unregister(connID)
	nc.close()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

var errFirstFrameNotHello = errors.New("first frame must be hello")

func (g *Gateway) readHello(ctx context.Context, conn *websocket.Conn) (*protocol.Hello, error) {
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var hello protocol.Hello
	if err := wsjson.Read(helloCtx, conn, &hello); err != nil {
		return nil, err
	}
	if hello.Type != protocol.FrameHello {
		return nil, errFirstFrameNotHello
	}
	return &hello, nil
}

func (g *Gateway) readLoop(r *http.Request, conn *websocket.Conn, nc *nodeConn, nodeID string, connID string) {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(r.Context(), conn, &raw); err != nil {
			g.logger.Info().Err(err).Str("node_id", nodeID).Msg("connection closed")
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			g.logger.Debug().Str("node_id", nodeID).Msg("dropping unparseable frame")
			continue
		}

		switch env.Type {
		case protocol.FrameInvokeResult:
			var result protocol.InvokeResult
			if err := json.Unmarshal(raw, &result); err != nil {
				g.logger.Debug().Err(err).Str("node_id", nodeID).Msg("dropping malformed result frame")
				continue
			}
			g.registry.HandleResult(result)
		case protocol.FramePing:
			g.store.Touch(connID, g.nowFn())
			nc.send(protocol.Pong{
				Type:             protocol.FramePong,
				ServerTimeUnixMS: g.nowFn().UnixMilli(),
			})
		default:
			g.logger.Debug().Str("node_id", nodeID).Str("frame_type", env.Type).Msg("dropping unexpected frame")
		}
	}
}
