// Package rest exposes read-only diagnostics of a running arena over HTTP.
package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/rocketscienceinc/arena-backend/internal/apperror"
	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/session"
	"github.com/rocketscienceinc/arena-backend/internal/store"
)

type registry interface {
	List() []entity.ClientInfo
	Sessions() []session.Info
	Session(id string) (*session.Session, bool)
}

type states interface {
	Snapshot(sessionID string) (*store.Snapshot, bool)
	History(sessionID string) ([]entity.HistoryEntry, error)
	Replays() []store.ReplaySummary
	Replay(sessionID string) (*store.Replay, bool)
}

var errBadVersion = errors.New("version must be an integer")

type Handlers struct {
	logger   *slog.Logger
	registry registry
	states   states
}

func NewHandlers(logger *slog.Logger, registry registry, states states) *Handlers {
	return &Handlers{
		logger:   logger.With("component", "rest"),
		registry: registry,
		states:   states,
	}
}

// Register mounts the diagnostics routes and, when staticDir is set, the viewer.
func (that *Handlers) Register(router *httprouter.Router, staticDir string) {
	router.GET("/ping", that.Ping)
	router.GET("/clients", that.Clients)
	router.GET("/sessions", that.Sessions)
	router.GET("/sessions/:id", that.Session)
	router.GET("/sessions/:id/history", that.History)
	router.GET("/sessions/:id/time", that.Time)
	router.GET("/replays", that.Replays)
	router.GET("/replays/:id", that.Replay)
	router.GET("/replays/:id/:version", that.ReplayFrame)

	if staticDir != "" {
		router.ServeFiles("/viewer/*filepath", http.Dir(staticDir))
	}
}

func (that *Handlers) Clients(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	that.writeJSON(w, http.StatusOK, that.registry.List())
}

func (that *Handlers) Sessions(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	that.writeJSON(w, http.StatusOK, that.registry.Sessions())
}

type sessionResponse struct {
	session.Info
	Public   entity.PublicGameState `json:"public,omitempty"`
	Terminal bool                   `json:"terminal"`
	Result   json.RawMessage        `json:"result,omitempty"`
}

// Session returns the public side of a session. Private state never leaves through HTTP.
func (that *Handlers) Session(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	sess, ok := that.registry.Session(params.ByName("id"))
	if !ok {
		that.writeError(w, apperror.ErrSessionNotFound)
		return
	}

	resp := sessionResponse{Info: sess.Info()}
	if snap, ok := that.states.Snapshot(sess.ID()); ok {
		resp.Public = snap.Public
		resp.Terminal = snap.Terminal
		resp.Result = snap.Result
	}

	that.writeJSON(w, http.StatusOK, resp)
}

func (that *Handlers) History(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	if _, ok := that.registry.Session(id); !ok {
		that.writeError(w, apperror.ErrSessionNotFound)
		return
	}

	history, err := that.states.History(id)
	if err != nil {
		if errors.Is(err, apperror.ErrSessionNotFound) {
			// the game has not started yet
			history = []entity.HistoryEntry{}
		} else {
			that.writeError(w, err)
			return
		}
	}

	that.writeJSON(w, http.StatusOK, history)
}

type timeResponse struct {
	CurrentPlayer entity.PlayerID           `json:"current_player,omitempty"`
	TimeRemaining map[entity.PlayerID]int64 `json:"time_remaining_ms"`
}

func (that *Handlers) Time(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	sess, ok := that.registry.Session(params.ByName("id"))
	if !ok {
		that.writeError(w, apperror.ErrSessionNotFound)
		return
	}

	times, current := sess.Times()

	resp := timeResponse{CurrentPlayer: current, TimeRemaining: make(map[entity.PlayerID]int64, len(times))}
	for player, left := range times {
		resp.TimeRemaining[player] = left.Milliseconds()
	}

	that.writeJSON(w, http.StatusOK, resp)
}

func (that *Handlers) Replays(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	that.writeJSON(w, http.StatusOK, that.states.Replays())
}

type replayResponse struct {
	store.ReplaySummary
	LastVersion uint64 `json:"last_version"`
}

func (that *Handlers) Replay(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	replay, ok := that.states.Replay(params.ByName("id"))
	if !ok {
		that.writeError(w, apperror.ErrReplayNotFound)
		return
	}

	that.writeJSON(w, http.StatusOK, replayResponse{ReplaySummary: replay.Summary(), LastVersion: replay.Last()})
}

// replayFrameResponse links to its neighbours, so a viewer steps through a game with
// previous and next. Both are absent at the ends.
type replayFrameResponse struct {
	store.ReplayFrame
	Previous *uint64 `json:"previous,omitempty"`
	Next     *uint64 `json:"next,omitempty"`
	Last     uint64  `json:"last_version"`
}

// ReplayFrame returns one version of a finished game. Versions outside the game are
// clamped to its first or last version.
func (that *Handlers) ReplayFrame(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	replay, ok := that.states.Replay(params.ByName("id"))
	if !ok {
		that.writeError(w, apperror.ErrReplayNotFound)
		return
	}

	version, err := strconv.ParseInt(params.ByName("version"), 10, 64)
	if err != nil {
		that.writeError(w, errBadVersion)
		return
	}

	frame := replay.Seek(version)
	resp := replayFrameResponse{ReplayFrame: frame, Last: replay.Last()}
	if frame.Version > 0 {
		prev := frame.Version - 1
		resp.Previous = &prev
	}
	if frame.Version < replay.Last() {
		next := frame.Version + 1
		resp.Next = &next
	}

	that.writeJSON(w, http.StatusOK, resp)
}

func (that *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		that.logger.Error("failed to write response", "error", err)
	}
}

func (that *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrSessionNotFound), errors.Is(err, apperror.ErrReplayNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadVersion):
		status = http.StatusBadRequest
	}

	that.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ResolveStaticDir returns configured when set, which must then exist, or the first of
// candidates that exists. An empty result means there is nothing to serve.
func ResolveStaticDir(configured string, candidates ...string) (string, error) {
	if configured != "" {
		if !isDir(configured) {
			return "", &os.PathError{Op: "stat", Path: configured, Err: os.ErrNotExist}
		}
		return configured, nil
	}

	for _, dir := range candidates {
		if isDir(dir) {
			return dir, nil
		}
	}

	return "", nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
