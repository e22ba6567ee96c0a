package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lattice-run/wsproxy/control"
	"github.com/lattice-run/wsproxy/obs"
	"github.com/lattice-run/wsproxy/reqmod"
	"github.com/lattice-run/wsproxy/router"
	"github.com/lattice-run/wsproxy/transport"
	"github.com/lattice-run/wsproxy/wsext"
)

// Session is one client<->origin WebSocket proxy connection. Fields
// under "loop-owned state" are mutated only from the loop goroutine
// started at the end of a successful Start, per spec.md §5's
// no-internal-locking invariant; fields above them are set once during
// the (single-threaded, synchronous) handshake and never written again
// afterward.
type Session struct {
	id  string
	cfg Config
	log zerolog.Logger

	// set once during Start, read-only afterward
	host       string
	path       string
	peerAddr   string
	targets    []router.Target
	channelPrefix string
	sigIss     string
	sigKey     string
	gripActive bool

	// loop-owned state
	state             State
	inSock            transport.Transport
	outSock           transport.Transport
	control           control.Session
	messagePrefix     string
	subChannel        string
	inPending         int
	outPending        int
	outReadInProgress frameKind
	outRoute          routeDecision
	detached          bool
	passToUpstream    bool
	targetsAttempted  int
	terminalReason    string

	finished bool
	doneCh   chan struct{}
}

// New creates a Session bound to cfg's collaborators. id should be
// unique per connection (a request ID or generated token); it tags
// every log line and the eventual audit record.
func New(id string, cfg Config) *Session {
	if cfg.PendingMax <= 0 {
		cfg.PendingMax = DefaultPendingMax
	}
	return &Session{
		id:            id,
		cfg:           cfg,
		log:           obs.SessionLogger(id),
		messagePrefix: "m:",
		doneCh:        make(chan struct{}),
	}
}

// Done is closed exactly once, after the session has fully torn down and
// its audit record (if any) has been written.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// Start runs the handshake synchronously on the calling goroutine (which
// in the wsproxy binary is the HTTP handler goroutine for r): it resolves
// a route, applies request-header manipulation, dials targets in order
// until one accepts or all are exhausted, and then either upgrades the
// client connection and starts the forwarding loop, or writes an error
// response and returns without ever upgrading.
//
// This collapses spec.md §4.1's asynchronous, event-driven handshake
// (dial → wait for connected/error signal → retry) into a single
// blocking call: net/http's handler model already lets a handler take
// as long as it needs before writing to w, so there is no need to
// reproduce the signal-based retry loop from the C++ original — a
// synchronous for loop over targets does the same work with far less
// machinery, and remains single-threaded up to the point the forwarding
// loop goroutine takes over.
func (s *Session) Start(ctx context.Context, w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader) error {
	s.state = Connecting
	s.peerAddr = r.RemoteAddr
	s.host = r.Host
	s.path = r.URL.Path
	isSecure := r.TLS != nil

	// inSock exists for the whole Idle/Connecting phase (spec.md §3): it
	// wraps the pending client upgrade and doesn't actually upgrade until
	// RespondSuccess is called below, once a target has been dialed.
	s.inSock = transport.NewClientTransport(w, r, upgrader)

	entry, err := s.cfg.Router.Entry(ctx, router.WebSocket, isSecure, s.host, s.path)
	if err != nil {
		s.log.Error().Err(err).Msg("router lookup failed")
		_ = s.inSock.RespondError(http.StatusBadGateway, "Bad Gateway", nil, []byte("Bad Gateway\n"))
		return fmt.Errorf("session: route lookup: %w", err)
	}
	if entry == nil {
		_ = s.inSock.RespondError(http.StatusBadGateway, "Bad Gateway", nil, []byte(fmt.Sprintf("No route for host: %s\n", s.host)))
		return ErrNoRoute
	}

	s.channelPrefix = entry.Prefix
	s.targets = entry.Targets
	s.sigIss = entry.SigIss
	s.sigKey = entry.SigKey
	if s.sigIss == "" {
		s.sigIss = s.cfg.DefaultSigIss
	}
	if s.sigKey == "" {
		s.sigKey = s.cfg.DefaultSigKey
	}

	headers := cloneHeader(r.Header)
	s.passToUpstream = reqmod.ManipulateRequestHeaders(headers, reqmod.Params{
		LogTag:                s.id,
		DefaultUpstreamKey:    s.cfg.DefaultUpstreamKey,
		Entry:                 entry,
		SigIss:                s.sigIss,
		SigKey:                s.sigKey,
		UseXForwardedProtocol: s.cfg.UseXForwardedProtocol,
		XFFTrustedRule:        reqmod.XFFRule{HeaderName: s.cfg.XFFTrustedHeader},
		XFFRule:               reqmod.XFFRule{HeaderName: s.cfg.XFFHeader},
		OrigHeadersNeedMark:   s.cfg.OrigHeadersNeedMark,
		PeerAddress:           s.peerAddr,
		RequestIsSecure:       isSecure,
	})

	headers.Del("Sec-WebSocket-Extensions")
	headers.Set("Sec-WebSocket-Extensions", "grip")
	headers.Del("Sec-WebSocket-Key")
	headers.Del("Sec-WebSocket-Version")
	headers.Del("Connection")
	headers.Del("Upgrade")

	origin, err := s.dialTargets(ctx, r, headers)
	if err != nil {
		return err
	}
	s.outSock = origin

	s.activateGrip(ctx, origin.ResponseHeaders())

	cleanedResponseHeaders := cloneHeader(origin.ResponseHeaders())
	cleanedResponseHeaders.Del("Sec-WebSocket-Extensions")
	cleanedResponseHeaders.Del("Sec-WebSocket-Accept")
	cleanedResponseHeaders.Del("Upgrade")
	cleanedResponseHeaders.Del("Connection")

	if err := s.inSock.RespondSuccess("", cleanedResponseHeaders); err != nil {
		s.log.Error().Err(err).Msg("client upgrade failed after origin connected")
		_ = origin.Close()
		return fmt.Errorf("session: client upgrade: %w", err)
	}

	s.state = Connected
	obs.SessionsActive.Inc()

	go s.loop()
	return nil
}

// dialTargets tries each candidate target in order, synchronously,
// returning the first one that completes a WebSocket handshake. On
// failure it rejects the pending client upgrade via s.inSock itself (a
// Rejected origin's response is relayed verbatim; anything else becomes
// a 502) and returns a sentinel error.
func (s *Session) dialTargets(ctx context.Context, r *http.Request, headers http.Header) (transport.Transport, error) {
	for len(s.targets) > 0 {
		target := s.targets[0]
		s.targets = s.targets[1:]
		s.targetsAttempted++
		s.subChannel = target.SubChannel

		dialURI := s.buildDialURI(r, target)

		origin := transport.NewOriginTransport(dialURI, headers)
		origin.SetConnectHostPort(target.ConnectHost, target.ConnectPort)
		origin.SetIgnorePolicies(target.Trusted)
		origin.SetIgnoreTLSErrors(target.Insecure)

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := origin.Start(dialCtx, dialURI, headers)
		cancel()
		if err == nil {
			return origin, nil
		}

		switch origin.ErrorCondition() {
		case transport.ErrConnect, transport.ErrConnectTimeout, transport.ErrTLS:
			obs.TargetFailoverTotal.Inc()
			s.log.Warn().Err(err).Str("target", target.ConnectHost).Msg("target failed, trying next")
			continue
		case transport.ErrRejected:
			s.terminalReason = "origin_rejected"
			s.relayRejection(origin)
			return nil, ErrOriginRejected
		default:
			s.terminalReason = "fatal_handshake"
			_ = s.inSock.RespondError(http.StatusBadGateway, "Bad Gateway", nil, []byte("Bad Gateway\nError while proxying to origin.\n"))
			return nil, ErrFatalHandshake
		}
	}
	s.terminalReason = "targets_exhausted"
	_ = s.inSock.RespondError(http.StatusBadGateway, "Bad Gateway", nil, []byte("Bad Gateway\nError while proxying to origin.\n"))
	return nil, ErrTargetsExhausted
}

// relayRejection surfaces an origin's non-101 handshake response back to
// the client verbatim, spec.md §4.1's "surface origin's response
// verbatim" rule, via s.inSock.RespondError so the pending client
// upgrade is rejected through the same path as every other failure.
func (s *Session) relayRejection(origin transport.Transport) {
	code := origin.ResponseCode()
	if code == 0 {
		code = http.StatusBadGateway
	}
	_ = s.inSock.RespondError(code, origin.ResponseReason(), origin.ResponseHeaders(), origin.ResponseBody())
}

// buildDialURI derives the outbound URI from the incoming request,
// applying the target's authority override when present (spec.md §3:
// "host optionally overrides the request URI authority"). The
// connect-level host/port used for the actual TCP dial is set
// separately via SetConnectHostPort.
func (s *Session) buildDialURI(r *http.Request, target router.Target) *url.URL {
	scheme := "ws"
	if target.SSL {
		scheme = "wss"
	}
	host := r.Host
	if target.Host != "" {
		host = target.Host
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
}

// activateGrip inspects the origin's handshake response for a "grip"
// Sec-WebSocket-Extensions offer (or a route-configured sub_channel) and,
// if present, stands up the control-channel session and issues the
// synthesized subscribe request (spec.md §4.1/§4.3).
func (s *Session) activateGrip(ctx context.Context, originResponseHeaders http.Header) {
	exts := wsext.SplitHeaderValues(originResponseHeaders.Values("Sec-WebSocket-Extensions"))
	gripExt := wsext.Find(exts, "grip")

	if gripExt.IsNull() && s.subChannel == "" {
		return
	}

	if mp, ok := gripExt.Params["message-prefix"]; ok && mp != "" {
		s.messagePrefix = mp
	}

	s.gripActive = true
	s.control = s.cfg.ControlMgr.NewSession(s.channelPrefix)
	if err := s.control.Start(ctx); err != nil {
		s.log.Error().Err(err).Msg("control session failed to start; GRIP routing disabled for this session")
		s.control = nil
		s.gripActive = false
		return
	}
	obs.GripActivatedTotal.Inc()

	if s.subChannel != "" {
		payload := []byte(fmt.Sprintf(`{"type":"subscribe","channel":%q}`, s.subChannel))
		if err := s.control.SendGripMessage(payload); err != nil {
			s.log.Warn().Err(err).Msg("failed to publish synthesized subscribe request")
		}
	}
}
