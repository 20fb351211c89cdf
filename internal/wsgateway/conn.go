package wsgateway

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

// nodeConn serializes outbound frames through a single write pump so the
// invoke path, event pushes, and pong replies never interleave writes on the
// websocket.
type nodeConn struct {
	conn      *websocket.Conn
	outbound  chan any
	closed    chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func newNodeConn(conn *websocket.Conn, logger zerolog.Logger) *nodeConn {
	return &nodeConn{
		conn:     conn,
		outbound: make(chan any, sendBuffer),
		closed:   make(chan struct{}),
		logger:   logger,
	}
}

// send enqueues a frame for the write pump. It reports false when the
// connection is closed or the buffer is full; a full buffer means the node
// is not draining its socket and the frame is treated as undeliverable.
func (c *nodeConn) send(frame any) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.outbound <- frame:
		return true
	case <-c.closed:
		return false
	default:
		c.logger.Warn().Msg("outbound buffer full, dropping frame")
		return false
	}
}

func (c *nodeConn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *nodeConn) writePump(ctx context.Context) {
	defer c.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case frame := <-c.outbound:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, frame)
			cancel()
			if err != nil {
				c.logger.Info().Err(err).Msg("write failed, closing outbound pump")
				return
			}
		}
	}
}
