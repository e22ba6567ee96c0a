package session

import (
	"bytes"

	"github.com/lattice-run/wsproxy/control"
	"github.com/lattice-run/wsproxy/obs"
	"github.com/lattice-run/wsproxy/transport"
)

// loop is the session's sole state-mutating goroutine, started once the
// handshake succeeds. It serially drains whichever of inSock/outSock/
// control currently exist, so nothing here needs a lock (spec.md §5).
func (s *Session) loop() {
	for {
		var inEvents <-chan transport.Event
		if s.inSock != nil {
			inEvents = s.inSock.Events()
		}
		var outEvents <-chan transport.Event
		if s.outSock != nil {
			outEvents = s.outSock.Events()
		}
		var ctrlEvents <-chan control.Event
		if s.control != nil {
			ctrlEvents = s.control.Events()
		}

		select {
		case ev := <-inEvents:
			s.handleInEvent(ev)
		case ev := <-outEvents:
			s.handleOutEvent(ev)
		case ev := <-ctrlEvents:
			s.handleControlEvent(ev)
		case <-s.doneCh:
			return
		}

		if s.finished {
			return
		}
	}
}

func (s *Session) handleInEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventReadyRead:
		s.tryReadIn()
	case transport.EventFramesWritten:
		s.inPending -= ev.FramesWritten
		obs.PendingFrames.WithLabelValues("in").Set(float64(s.inPending))
		s.tryReadOut()
	case transport.EventPeerClosed, transport.EventClosed, transport.EventError:
		s.releaseIn(ev.Kind)
	}
}

func (s *Session) handleOutEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventReadyRead:
		s.tryReadOut()
	case transport.EventFramesWritten:
		s.outPending -= ev.FramesWritten
		obs.PendingFrames.WithLabelValues("out").Set(float64(s.outPending))
		s.tryReadIn()
	case transport.EventPeerClosed, transport.EventClosed, transport.EventError:
		s.releaseOut(ev.Kind)
	}
}

func (s *Session) handleControlEvent(ev control.Event) {
	switch ev.Kind {
	case control.EventSend:
		s.deliverControlSend(ev)
	case control.EventDetach:
		s.doDetach()
	}
}

// deliverControlSend writes a message the origin published on the
// control bus directly to the client, as if it had arrived inline
// (spec.md §4.3, sendEvent).
func (s *Session) deliverControlSend(ev control.Event) {
	if s.inSock == nil || s.state == Closing {
		return
	}
	ft := transport.Text
	if ev.ContentType == "binary" {
		ft = transport.Binary
	}
	if err := s.inSock.WriteFrame(transport.Frame{Type: ft, Data: ev.Message}); err != nil {
		s.log.Warn().Err(err).Msg("failed to deliver control sendEvent to client")
		return
	}
	s.inPending++
	obs.PendingFrames.WithLabelValues("in").Set(float64(s.inPending))
}

// tryReadIn pumps frames client -> origin while there's room in the
// outbound pending budget (spec.md §3/§5).
func (s *Session) tryReadIn() {
	if s.inSock == nil || s.outSock == nil || s.state != Connected {
		return
	}
	for s.inSock.FramesAvailable() > 0 && s.outPending < s.cfg.PendingMax {
		f, ok := s.inSock.ReadFrame()
		if !ok {
			return
		}
		if s.detached {
			obs.FramesDroppedTotal.WithLabelValues("detached").Inc()
			continue
		}
		if err := s.outSock.WriteFrame(f); err != nil {
			s.log.Warn().Err(err).Msg("write to origin failed")
			return
		}
		s.outPending++
		obs.PendingFrames.WithLabelValues("out").Set(float64(s.outPending))
		obs.FramesForwardedTotal.WithLabelValues("in").Inc()
	}
}

// tryReadOut pumps frames origin -> client, applying GRIP prefix routing
// to content frames when a control session is attached (spec.md §3/§4.3).
func (s *Session) tryReadOut() {
	if s.outSock == nil {
		return
	}
	for s.outSock.FramesAvailable() > 0 && s.inPending < s.cfg.PendingMax {
		f, ok := s.outSock.ReadFrame()
		if !ok {
			return
		}
		if s.detached {
			obs.FramesDroppedTotal.WithLabelValues("detached").Inc()
			continue
		}
		s.routeOutFrame(f)
	}
}

func (s *Session) routeOutFrame(f transport.Frame) {
	if !f.Type.IsContent() {
		// Ping/Pong/Close relay unconditionally.
		s.deliverToClient(f)
		return
	}

	if f.Type == transport.Continuation && s.outReadInProgress == kindNone {
		// Stray continuation with no message in progress: drop.
		obs.FramesDroppedTotal.WithLabelValues("stray_continuation").Inc()
		return
	}

	if f.Type != transport.Continuation {
		s.outReadInProgress = kindFromFrameType(f.Type)
		s.outRoute = routeUndecided
	}

	switch {
	case s.control == nil:
		s.deliverToClient(f)

	case f.Type != transport.Continuation && f.Type == transport.Text && bytes.HasPrefix(f.Data, []byte("c:")):
		if !f.More {
			if err := s.control.SendGripMessage(f.Data[len("c:"):]); err != nil {
				s.log.Warn().Err(err).Msg("failed to publish control frame")
			}
		} else {
			// Multi-fragment control messages are invalid; drop the
			// head and every continuation that follows it.
			obs.FramesDroppedTotal.WithLabelValues("multi_fragment_control").Inc()
		}
		s.outReadInProgress = kindNone
		s.outRoute = routeUndecided

	case f.Type != transport.Continuation && bytes.HasPrefix(f.Data, []byte(s.messagePrefix)):
		s.outRoute = routeToClient
		s.deliverToClient(f)

	case f.Type == transport.Continuation:
		if s.outRoute == routeToClient {
			s.deliverToClient(f)
		} else {
			obs.FramesDroppedTotal.WithLabelValues("grip_no_prefix").Inc()
		}

	default:
		// Head frame with a control session attached but no "c:" or
		// message-prefix match: drop it and every continuation of it.
		s.outRoute = routeDropped
		obs.FramesDroppedTotal.WithLabelValues("grip_no_prefix").Inc()
	}

	if !f.More {
		s.outReadInProgress = kindNone
		s.outRoute = routeUndecided
	}
}

func (s *Session) deliverToClient(f transport.Frame) {
	if s.inSock == nil {
		return
	}
	if err := s.inSock.WriteFrame(f); err != nil {
		s.log.Warn().Err(err).Msg("write to client failed")
		return
	}
	s.inPending++
	obs.PendingFrames.WithLabelValues("in").Set(float64(s.inPending))
	obs.FramesForwardedTotal.WithLabelValues("out").Inc()
}

func kindFromFrameType(t transport.FrameType) frameKind {
	if t == transport.Binary {
		return kindBinary
	}
	return kindText
}
