package session

import (
	"github.com/lattice-run/wsproxy/obs"
	"github.com/lattice-run/wsproxy/transport"
)

func alive(t transport.Transport) bool {
	if t == nil {
		return false
	}
	st := t.State()
	return st != transport.StateClosing && st != transport.StateClosed
}

// releaseIn handles a terminal event on the client leg (spec.md §4.4).
func (s *Session) releaseIn(kind transport.EventKind) {
	switch kind {
	case transport.EventPeerClosed:
		// Client sent a close frame; close our half too (its EventClosed
		// arrives on a later loop iteration and does the actual
		// release) and, unless detached, tear down the origin leg in
		// lockstep.
		if s.inSock != nil {
			_ = s.inSock.Close()
		}
		if !s.detached && alive(s.outSock) {
			_ = s.outSock.Close()
		}
	case transport.EventClosed:
		s.inSock = nil
		if !s.detached && alive(s.outSock) {
			_ = s.outSock.Close()
		}
		s.tryFinish()
	case transport.EventError:
		s.terminalReason = firstNonEmpty(s.terminalReason, "client_error")
		s.inSock = nil
		if !s.detached && alive(s.outSock) {
			_ = s.outSock.Close()
		}
		s.tryFinish()
	}
}

// releaseOut handles a terminal event on the origin leg. Once detached,
// this path never touches the client leg again — the whole point of
// detach.
func (s *Session) releaseOut(kind transport.EventKind) {
	switch kind {
	case transport.EventPeerClosed:
		if s.outSock != nil {
			_ = s.outSock.Close()
		}
		if !s.detached && alive(s.inSock) {
			_ = s.inSock.Close()
		}
	case transport.EventClosed:
		s.outSock = nil
		if !s.detached && alive(s.inSock) {
			_ = s.inSock.Close()
		}
		s.tryFinish()
	case transport.EventError:
		s.terminalReason = firstNonEmpty(s.terminalReason, "origin_error")
		s.outSock = nil
		if !s.detached && alive(s.inSock) {
			_ = s.inSock.Close()
		}
		s.tryFinish()
	}
}

// tryFinish closes out the session once both transport legs are gone,
// writing the audit record and signaling Done exactly once.
func (s *Session) tryFinish() {
	if s.finished || s.inSock != nil || s.outSock != nil {
		return
	}
	s.finished = true
	s.state = Closing

	reason := s.terminalReason
	if reason == "" {
		if s.detached {
			reason = "detached"
		} else {
			reason = "closed"
		}
	}
	obs.SessionsActive.Dec()
	obs.SessionsFinishedTotal.WithLabelValues(reason).Inc()

	if s.cfg.Audit != nil {
		if err := s.cfg.Audit.Record(AuditRecord{
			ID:               s.id,
			ClientAddr:       s.peerAddr,
			Host:             s.host,
			Path:             s.path,
			TargetsAttempted: s.targetsAttempted,
			GripActive:       s.gripActive,
			Detached:         s.detached,
			TerminalReason:   reason,
		}); err != nil {
			s.log.Warn().Err(err).Msg("failed to write audit record")
		}
	}

	if s.control != nil {
		_ = s.control.Close()
		s.control = nil
	}

	close(s.doneCh)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
