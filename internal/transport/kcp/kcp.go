// Package kcp serves arena clients over KCP, a reliable protocol on top of UDP that
// suits bots running next to the server. Messages are newline-delimited JSON.
//
// KCP never tells a peer that the other side went away, so both ends send an empty
// line as a heartbeat and a read that sees nothing for the idle timeout fails.
package kcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/rocketscienceinc/arena-backend/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024

	DefaultHeartbeat   = 5 * time.Second
	DefaultIdleTimeout = 15 * time.Second
)

var ErrIdle = errors.New("peer idle")

type Option func(*Conn)

// WithHeartbeat sets how often an empty line is sent and how long a read waits for
// any line before the peer is considered dead. Zero disables either of them.
func WithHeartbeat(period, idle time.Duration) Option {
	return func(that *Conn) {
		that.heartbeat = period
		that.idle = idle
	}
}

// Listen binds addr. The caller serves the listener with Serve.
func Listen(addr string) (net.Listener, error) {
	listener, err := kcp.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return listener, nil
}

// Dial connects to a KCP arena listener.
func Dial(addr string, opts ...Option) (*Conn, error) {
	conn, err := kcp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return NewConn(conn, opts...), nil
}

// Serve accepts connections until the listener is closed and runs handler for each.
func Serve(ctx context.Context, logger *slog.Logger, listener net.Listener, handler transport.Handler, opts ...Option) error {
	log := logger.With("component", "kcp", "method", "Serve", "addr", listener.Addr().String())
	log.Info("listening")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			c := NewConn(conn, opts...)
			// KCP has no close handshake, so cancellation is the only way to unblock reads
			stop := context.AfterFunc(ctx, func() { _ = c.Close("") })
			defer stop()

			handler.ServeConn(ctx, c)
		}()
	}
}

// Conn frames messages as lines on a stream connection.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	heartbeat time.Duration
	idle      time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewConn(conn net.Conn, opts ...Option) *Conn {
	c := &Conn{
		conn:      conn,
		reader:    bufio.NewReaderSize(conn, 4096),
		heartbeat: DefaultHeartbeat,
		idle:      DefaultIdleTimeout,
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.heartbeat > 0 {
		go c.beat()
	}

	return c
}

// beat writes an empty line every heartbeat period until the connection is closed.
func (that *Conn) beat() {
	ticker := time.NewTicker(that.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-that.done:
			return
		case <-ticker.C:
			if err := that.write([]byte{'\n'}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (that *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		deadline, idle := that.readDeadline(ctx)
		_ = that.conn.SetReadDeadline(deadline)

		line, err := that.readLine()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe):
				return nil, fmt.Errorf("%w: %w", transport.ErrClosed, err)
			case idle && !time.Now().Before(deadline):
				// kcp-go reports an expired deadline as a plain timeout error
				return nil, fmt.Errorf("%w: %w after %s", transport.ErrClosed, ErrIdle, that.idle)
			}
			return nil, fmt.Errorf("failed to read message: %w", err)
		}

		if len(line) > 0 {
			return line, nil
		}
	}
}

// readDeadline is the earlier of the idle timeout and the context deadline. It
// reports whether the idle timeout was the one picked.
func (that *Conn) readDeadline(ctx context.Context) (time.Time, bool) {
	deadline, ok := ctx.Deadline()
	if that.idle <= 0 {
		return deadline, false
	}

	idle := time.Now().Add(that.idle)
	if ok && deadline.Before(idle) {
		return deadline, false
	}

	return idle, true
}

func (that *Conn) readLine() ([]byte, error) {
	var line []byte

	for {
		chunk, isPrefix, err := that.reader.ReadLine()
		if err != nil {
			return nil, err
		}

		line = append(line, chunk...)
		if len(line) > maxMessageSize {
			return nil, fmt.Errorf("message exceeds %d bytes", maxMessageSize)
		}

		if !isPrefix {
			return line, nil
		}
	}
}

func (that *Conn) WriteMessage(ctx context.Context, data []byte) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')

	return that.write(buf, deadline)
}

func (that *Conn) write(buf []byte, deadline time.Time) error {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	_ = that.conn.SetWriteDeadline(deadline)

	if _, err := that.conn.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// Close ends the stream. KCP has no close frame, the reason is only logged by the caller.
func (that *Conn) Close(string) error {
	var err error

	that.closeOnce.Do(func() {
		close(that.done)
		err = that.conn.Close()
	})

	return err
}

func (that *Conn) RemoteAddr() string {
	return that.conn.RemoteAddr().String()
}
