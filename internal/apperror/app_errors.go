package apperror

import "errors"

// protocol errors close the offending connection only.
var (
	ErrHandshakeRequired = errors.New("handshake required")
	ErrProtocolVersion   = errors.New("unsupported protocol version")
	ErrMalformedIdentity = errors.New("malformed identity")
	ErrUnknownRole       = errors.New("unknown role")
	ErrMalformedMessage  = errors.New("malformed message")
	ErrUnknownMessage    = errors.New("unknown message type")
)

// gameplay errors are reported to the submitting client, the session is unchanged.
var (
	ErrGameFinished     = errors.New("game is already finished")
	ErrGameIsNotStarted = errors.New("game is not started")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrIllegalMove      = errors.New("illegal move")
	ErrStaleSequence    = errors.New("stale sequence number")
	ErrSessionPaused    = errors.New("session is paused")
	ErrNotAPlayer       = errors.New("spectators cannot submit moves")
	ErrSeatTaken        = errors.New("seat is held by another connection")
)

// resource errors surface at build or attach time.
var (
	ErrSessionLimit          = errors.New("session limit reached")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionFull           = errors.New("session is full")
	ErrSessionClosed         = errors.New("session is closed")
	ErrIdentityInUse         = errors.New("identity already connected")
	ErrSpectatorNeedsSession = errors.New("spectators must join an existing session")
	ErrClientNotFound        = errors.New("client not found")
	ErrReplayNotFound        = errors.New("replay not found")
)
