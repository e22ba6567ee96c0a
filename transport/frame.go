package transport

import "github.com/gorilla/websocket"

// FrameType mirrors the WebSocket frame opcodes the session core cares
// about. Control opcodes (ping/pong/close) and content opcodes
// (text/binary/continuation) are both represented so the forwarding
// engine can apply prefix routing only to content frames.
type FrameType int

const (
	Text FrameType = iota
	Binary
	Continuation
	Ping
	Pong
	Close
)

func (t FrameType) String() string {
	switch t {
	case Text:
		return "text"
	case Binary:
		return "binary"
	case Continuation:
		return "continuation"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	case Close:
		return "close"
	default:
		return "unknown"
	}
}

// IsContent reports whether the frame type carries application data
// subject to GRIP prefix routing, as opposed to a protocol frame that is
// always relayed unconditionally.
func (t FrameType) IsContent() bool {
	return t == Text || t == Binary || t == Continuation
}

// Frame is a single WebSocket frame as read from or written to a
// Transport. More is false on the final fragment of a message; for
// non-fragmented messages every frame has More == false.
type Frame struct {
	Type FrameType
	Data []byte
	More bool
}

func gorillaOpcode(t FrameType) int {
	switch t {
	case Text:
		return websocket.TextMessage
	case Binary:
		return websocket.BinaryMessage
	case Ping:
		return websocket.PingMessage
	case Pong:
		return websocket.PongMessage
	case Close:
		return websocket.CloseMessage
	default:
		// gorilla/websocket's high-level API has no continuation
		// opcode, so a Continuation frame is written as a complete
		// binary message.
		return websocket.BinaryMessage
	}
}
