package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/arena-backend/internal/transport"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Conn adapts a gorilla connection to transport.Conn and keeps it alive with pings.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn) *Conn {
	that := &Conn{ws: ws, done: make(chan struct{})}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go that.keepalive()

	return that
}

func (that *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = that.ws.SetReadDeadline(deadline)
		defer func() { _ = that.ws.SetReadDeadline(time.Now().Add(pongWait)) }()
	}

	for {
		kind, data, err := that.ws.ReadMessage()
		if err != nil {
			return nil, that.readError(err)
		}

		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (that *Conn) WriteMessage(ctx context.Context, data []byte) error {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = that.ws.SetWriteDeadline(deadline)

	if err := that.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (that *Conn) Close(reason string) error {
	var err error

	that.closeOnce.Do(func() {
		close(that.done)

		code := websocket.CloseNormalClosure
		if reason != "" {
			code = websocket.ClosePolicyViolation
		}

		// close frames are limited to 125 bytes
		if len(reason) > 120 {
			reason = reason[:120]
		}

		msg := websocket.FormatCloseMessage(code, reason)
		_ = that.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))

		err = that.ws.Close()
	})

	return err
}

func (that *Conn) RemoteAddr() string {
	return that.ws.RemoteAddr().String()
}

func (that *Conn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := that.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-that.done:
			return
		}
	}
}

func (that *Conn) readError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}

	return fmt.Errorf("failed to read message: %w", err)
}
