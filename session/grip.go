package session

import "github.com/lattice-run/wsproxy/obs"

// doDetach implements the one-shot detach handoff (spec.md §4.3/§4.4):
// the origin leg is closed and from this point on the core discards
// every frame it still reads from it (tryReadOut already checks
// s.detached), while the client leg keeps running normally, fed only by
// control sendEvents.
func (s *Session) doDetach() {
	if s.detached {
		return
	}
	s.detached = true
	obs.DetachTotal.Inc()

	if alive(s.outSock) {
		_ = s.outSock.Close()
	}
}
