// Package transport defines the WebSocket endpoint contract the session
// core forwards frames through, and a gorilla/websocket-backed
// implementation of it.
package transport

import (
	"context"
	"net/http"
	"net/url"
)

// State mirrors the lifecycle states a Transport can report. Only
// Closing and Closed are consulted by the session core (to tell whether
// a leg is still alive); the others exist so implementations have
// somewhere to put "not yet connected" and "connected".
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// ErrorCondition classifies why a Transport's error signal fired, in the
// coarse buckets the handshake state machine distinguishes between.
type ErrorCondition int

const (
	ErrNone ErrorCondition = iota
	ErrConnect
	ErrConnectTimeout
	ErrTLS
	ErrRejected
	ErrOther
)

// EventKind tags a value delivered on a Transport's Events channel.
type EventKind int

const (
	EventConnected EventKind = iota
	EventReadyRead
	EventFramesWritten
	EventPeerClosed
	EventClosed
	EventError
)

// Event is one signal emitted by a Transport. Only the field relevant to
// Kind is populated (FramesWritten for EventFramesWritten, otherwise
// zero).
type Event struct {
	Kind          EventKind
	FramesWritten int
}

// Transport is the contract both the client-facing and origin-facing
// legs of a Session are built on. Implementations own their underlying
// connection and are responsible for framing, TLS, and delivering
// Events serially (a Transport must not emit two Events concurrently;
// the session core relies on this to avoid locking, per the
// single-threaded event-loop model).
type Transport interface {
	// Start begins connecting to uri (origin transports). Client
	// transports are never dialed this way — they exist bound to a
	// pending HTTP upgrade from construction and only actually connect
	// via RespondSuccess — so uri/headers are ignored and Start is a
	// no-op returning nil for them.
	Start(ctx context.Context, uri *url.URL, headers http.Header) error

	// WriteFrame enqueues a frame for writing. It does not block on the
	// network write completing; completion is reported later via an
	// EventFramesWritten event carrying the count flushed.
	WriteFrame(f Frame) error

	// ReadFrame pops the oldest buffered, unread frame. ok is false if
	// none is currently available; callers should wait for
	// EventReadyRead before retrying.
	ReadFrame() (Frame, bool)

	// FramesAvailable reports how many frames ReadFrame can currently
	// return without blocking.
	FramesAvailable() int

	Close() error

	// RespondSuccess completes a pending client-side handshake with a
	// 101 Switching Protocols equivalent. Only meaningful for client
	// transports mid-upgrade.
	RespondSuccess(reason string, headers http.Header) error

	// RespondError rejects a pending client-side handshake with an
	// HTTP error response instead of upgrading.
	RespondError(code int, reason string, headers http.Header, body []byte) error

	State() State
	ErrorCondition() ErrorCondition

	ResponseCode() int
	ResponseReason() string
	ResponseHeaders() http.Header
	ResponseBody() []byte

	RequestURI() *url.URL
	RequestHeaders() http.Header
	PeerAddress() string

	SetConnectHostPort(host string, port int)
	SetIgnorePolicies(ignore bool)
	SetIgnoreTLSErrors(ignore bool)

	// Events delivers connection lifecycle and I/O-readiness signals.
	// The channel is never closed; the session core stops receiving from
	// it once the leg reports EventClosed or EventError.
	Events() <-chan Event
}
