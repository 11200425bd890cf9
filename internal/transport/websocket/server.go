// Package websocket serves arena clients over WebSocket.
package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/rocketscienceinc/arena-backend/internal/transport"
)

const Path = "/game"

// Server upgrades requests on Path and hands every connection to a transport.Handler.
type Server struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  transport.Handler

	// ctx outlives single requests so sessions are not tied to the upgrade request
	ctx context.Context
}

func New(ctx context.Context, logger *slog.Logger, handler transport.Handler) *Server {
	return &Server{
		logger: logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// bots and the viewer connect from anywhere
			CheckOrigin: func(*http.Request) bool { return true },
		},
		handler: handler,
		ctx:     ctx,
	}
}

func (that *Server) Register(router *httprouter.Router) {
	router.GET(Path, that.upgrade)
}

func (that *Server) upgrade(writer http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	log := that.logger.With("method", "upgrade", "remote", req.RemoteAddr)

	ws, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", "error", err)
		return
	}

	log.Debug("connection upgraded")

	that.handler.ServeConn(that.ctx, newConn(ws))
}
