package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/arena-backend/internal/transport"
)

func serve(t *testing.T, handler transport.HandlerFunc) string {
	t.Helper()

	router := httprouter.New()
	New(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), handler).Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + Path
}

func TestServer_Echo(t *testing.T) {
	// Given: a server echoing the first message back
	url := serve(t, func(ctx context.Context, conn transport.Conn) {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(ctx, msg)
		_ = conn.Close("")
	})

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// When: the client sends a message
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"log"}`)))

	// Then: it comes back and the connection closes normally
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"log"}`, string(data))

	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestConn_CloseWithReason(t *testing.T) {
	// Given: a server that hangs up with a reason
	long := strings.Repeat("x", 200)
	url := serve(t, func(_ context.Context, conn transport.Conn) {
		_ = conn.Close(long)
	})

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// When: the client reads
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = ws.ReadMessage()

	// Then: it sees a policy violation carrying the truncated reason
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Len(t, closeErr.Text, 120)
}

func TestConn_ReadAfterPeerClose(t *testing.T) {
	// Given: a server waiting for messages
	result := make(chan error, 1)
	url := serve(t, func(ctx context.Context, conn transport.Conn) {
		_, err := conn.ReadMessage(ctx)
		result <- err
	})

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	// When: the client closes cleanly
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = ws.Close()

	// Then: the server reads ErrClosed
	select {
	case err := <-result:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not notice the close")
	}
}
