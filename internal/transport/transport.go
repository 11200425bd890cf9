// Package transport hides how frames reach a client. Every listener yields Conns that
// carry one JSON message per frame.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by a Conn once it was closed by either side.
var ErrClosed = errors.New("connection closed")

// Conn is a full-duplex message connection. ReadMessage and WriteMessage may run
// concurrently with each other, Close may be called from any goroutine.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	// Close tells the peer why the connection ends, when the transport allows it.
	Close(reason string) error
	RemoteAddr() string
}

// Handler serves one accepted connection until it ends.
type Handler interface {
	ServeConn(ctx context.Context, conn Conn)
}

type HandlerFunc func(ctx context.Context, conn Conn)

func (that HandlerFunc) ServeConn(ctx context.Context, conn Conn) {
	that(ctx, conn)
}
