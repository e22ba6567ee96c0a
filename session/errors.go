package session

import "errors"

// Sentinel errors returned by Start, distinguishing the terminal
// handshake outcomes spec.md §4.1 enumerates. All of them mean the
// client's HTTP response has already been written; callers should not
// attempt to write to the ResponseWriter again.
var (
	ErrNoRoute          = errors.New("session: no route for request")
	ErrTargetsExhausted = errors.New("session: all targets failed to connect")
	ErrOriginRejected   = errors.New("session: origin rejected the handshake")
	ErrFatalHandshake   = errors.New("session: fatal error contacting origin")
)
