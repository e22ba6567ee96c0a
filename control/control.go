// Package control defines the pub/sub control-session collaborator
// (spec.md §6, "Control session") and a Redis-backed implementation of
// its wire contract.
package control

import "context"

// EventKind tags a value delivered on a Session's Events channel.
type EventKind int

const (
	// EventSend carries a message the origin published for direct
	// delivery to the client (spec.md §4.3, sendEvent).
	EventSend EventKind = iota
	// EventDetach requests the detach handoff (spec.md §4.3,
	// detachEvent).
	EventDetach
)

// Event is one signal emitted by a control Session.
type Event struct {
	Kind        EventKind
	ContentType string // "text" or "binary"; only set for EventSend
	Message     []byte // only set for EventSend
}

// Session is a session on the pub/sub control bus. One is created per
// proxy Session once GRIP activates (spec.md §4.3).
type Session interface {
	Start(ctx context.Context) error

	// SendGripMessage delivers a GRIP message to the control bus, as if
	// it had arrived inline from the origin (used both for real "c:"
	// frames and the synthesized subscribe request).
	SendGripMessage(payload []byte) error

	Events() <-chan Event

	Close() error
}

// Manager creates control Sessions for a given channel prefix, the Go
// analogue of spec.md §2's "external control manager".
type Manager interface {
	NewSession(channelPrefix string) Session
}
