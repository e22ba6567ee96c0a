// Package session implements the core of the WebSocket reverse-proxy
// session: the handshake/failover state machine, the bidirectional
// frame-forwarding engine with backpressure, GRIP control-channel
// interception, and detach/teardown semantics.
//
// Grounded on _examples/panyam-servicekit/http/{ws.go,baseconn.go} for
// the connection lifecycle shape, and on
// _examples/original_source/proxy/src/wsproxysession.cpp (Pushpin's
// wsproxysession.cpp) for the exact state-machine semantics being
// reproduced.
package session

import (
	"net/http"

	"github.com/lattice-run/wsproxy/control"
	"github.com/lattice-run/wsproxy/router"
)

// State is the session's top-level lifecycle state (spec.md §3).
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// frameKind is outReadInProgress's sum type (Design Notes §9: "represent
// as a sum type {None, InMessage(Text|Binary)}").
type frameKind int

const (
	kindNone frameKind = iota
	kindText
	kindBinary
)

// routeDecision records, for the message currently being relayed from
// origin to client, which of the three atomic outcomes spec.md §3/§5
// requires all of its fragments to share.
type routeDecision int

const (
	routeUndecided routeDecision = iota
	routeToClient
	routeDropped
)

// DefaultPendingMax is the ceiling on frames written but not yet
// acknowledged as flushed, in either direction (spec.md §3,
// PENDING_MAX), that New uses when Config.PendingMax is not positive.
const DefaultPendingMax = 100

// Config carries the process-wide defaults and collaborators a Session
// needs; one Config is shared by every Session a server creates.
type Config struct {
	Router      router.Router
	ControlMgr  control.Manager
	Audit       AuditStore
	PendingMax  int

	DefaultUpstreamKey    string
	DefaultSigIss         string
	DefaultSigKey         string
	UseXForwardedProtocol bool
	XFFHeader             string
	XFFTrustedHeader      string
	OrigHeadersNeedMark   []string
}

// AuditStore is the subset of store.AuditStore the session core depends
// on, declared locally so session/ doesn't import store/ (which pulls in
// gorm) directly — matching the teacher's practice of depending on small
// local interfaces (see http.Codec) rather than concrete types.
type AuditStore interface {
	Record(r AuditRecord) error
}

// AuditRecord mirrors store.Record's fields except StartedAt and
// FinishedAt, which it does not carry; kept as a separate type so
// session/ has no compile-time dependency on store/'s schema.
type AuditRecord struct {
	ID               string
	ClientAddr       string
	Host             string
	Path             string
	TargetsAttempted int
	GripActive       bool
	Detached         bool
	TerminalReason   string
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
