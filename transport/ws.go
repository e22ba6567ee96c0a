package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport implements Transport over a real gorilla/websocket
// connection. One instance serves either the client leg (constructed
// bound to a pending HTTP upgrade request, and not actually upgraded
// until RespondSuccess is called) or the origin leg (constructed empty
// and driven to a connection by Start).
//
// gorilla/websocket's ReadMessage/WriteMessage API reassembles
// fragmented messages internally and does not expose per-frame
// boundaries, so frames produced by WSTransport always carry More =
// false; the session core's fragmentation state machine is still fully
// exercised against transport.Transport, just not against this
// particular implementation. See DESIGN.md.
type WSTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	dialer *websocket.Dialer

	state   State
	errCond ErrorCondition
	inbound []Frame
	closed  bool
	events  chan Event

	requestURI     *url.URL
	requestHeaders http.Header
	peerAddress    string

	respCode    int
	respReason  string
	respHeaders http.Header
	respBody    []byte

	connectHost string
	connectPort int
	ignorePol   bool
	ignoreTLS   bool

	writeCh chan Frame

	pendingW http.ResponseWriter
	pendingR *http.Request
	upgrader websocket.Upgrader
}

// NewClientTransport binds a client-leg transport to a pending HTTP
// upgrade request. It exists (State() == StateIdle) from construction,
// through the whole handshake/failover phase, without a live connection
// underneath — matching spec.md §3's invariant that inSock exists
// throughout Idle/Connecting. The actual 101 upgrade only happens when
// RespondSuccess is called; RespondError instead writes an HTTP error
// response and never upgrades.
func NewClientTransport(w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader) *WSTransport {
	return &WSTransport{
		state:          StateIdle,
		events:         make(chan Event, 32),
		requestURI:     r.URL,
		requestHeaders: r.Header.Clone(),
		peerAddress:    r.RemoteAddr,
		writeCh:        make(chan Frame, 256),
		pendingW:       w,
		pendingR:       r,
		upgrader:       upgrader,
	}
}

// NewOriginTransport creates an unconnected origin-leg transport. Start
// dials the given URI.
func NewOriginTransport(requestURI *url.URL, headers http.Header) *WSTransport {
	return &WSTransport{
		dialer:         &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		state:          StateIdle,
		events:         make(chan Event, 32),
		requestURI:     requestURI,
		requestHeaders: headers.Clone(),
		writeCh:        make(chan Frame, 256),
	}
}

func (t *WSTransport) SetConnectHostPort(host string, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectHost = host
	t.connectPort = port
}

func (t *WSTransport) SetIgnorePolicies(ignore bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignorePol = ignore
}

func (t *WSTransport) SetIgnoreTLSErrors(ignore bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignoreTLS = ignore
}

// Start dials the origin. uri's authority (Host header / SNI / URL sent
// on the wire) is whatever the caller built it as (spec.md §3's
// target.host indirection is applied by the caller, before Start is
// called). connectHost/connectPort, set via SetConnectHostPort, instead
// retarget only the TCP address actually dialed — the
// Target.connectHost/connectPort indirection — so a route can send a
// virtual-host Host header while dialing a different address.
func (t *WSTransport) Start(ctx context.Context, uri *url.URL, headers http.Header) error {
	if t.dialer == nil {
		// Client leg: connecting happens via RespondSuccess, not Start.
		return nil
	}

	t.mu.Lock()
	dialer := *t.dialer
	if t.ignoreTLS {
		tlsCfg := &tls.Config{InsecureSkipVerify: true}
		dialer.TLSClientConfig = tlsCfg
	}
	host := t.connectHost
	port := t.connectPort
	t.state = StateConnecting
	t.mu.Unlock()

	if host != "" {
		connectAddr := host
		if port != 0 {
			connectAddr = fmt.Sprintf("%s:%d", host, port)
		}
		netDialer := &net.Dialer{}
		dialer.NetDialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
			return netDialer.DialContext(ctx, network, connectAddr)
		}
	}

	conn, resp, err := dialer.DialContext(ctx, uri.String(), headers)
	t.mu.Lock()
	if resp != nil {
		t.respCode = resp.StatusCode
		t.respReason = resp.Status
		t.respHeaders = resp.Header.Clone()
		if resp.Body != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			t.respBody = body
			resp.Body.Close()
		}
	}
	if err != nil {
		t.errCond = classifyDialError(err)
		t.state = StateClosed
		t.mu.Unlock()
		t.emit(Event{Kind: EventError})
		return err
	}
	t.conn = conn
	t.state = StateConnected
	t.mu.Unlock()

	t.startPumps()
	t.emit(Event{Kind: EventConnected})
	return nil
}

func classifyDialError(err error) ErrorCondition {
	if err == websocket.ErrBadHandshake {
		return ErrRejected
	}
	if _, ok := err.(*tls.CertificateVerificationError); ok {
		return ErrTLS
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return ErrConnectTimeout
	}
	if _, ok := err.(*net.OpError); ok {
		return ErrConnect
	}
	return ErrOther
}

func (t *WSTransport) startPumps() {
	go t.readPump()
	go t.writePump()
}

func (t *WSTransport) readPump() {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			already := t.closed
			t.mu.Unlock()
			if already {
				return
			}
			if ce, ok := err.(*websocket.CloseError); ok && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				t.emit(Event{Kind: EventPeerClosed})
				return
			}
			t.emit(Event{Kind: EventError})
			return
		}

		ft := Text
		if msgType == websocket.BinaryMessage {
			ft = Binary
		}
		t.mu.Lock()
		t.inbound = append(t.inbound, Frame{Type: ft, Data: data, More: false})
		t.mu.Unlock()
		t.emit(Event{Kind: EventReadyRead})
	}
}

func (t *WSTransport) writePump() {
	for f := range t.writeCh {
		var err error
		switch f.Type {
		case Ping, Pong, Close:
			err = t.conn.WriteControl(gorillaOpcode(f.Type), f.Data, time.Now().Add(5*time.Second))
		default:
			err = t.conn.WriteMessage(gorillaOpcode(f.Type), f.Data)
		}
		if err != nil {
			t.emit(Event{Kind: EventError})
			return
		}
		t.emit(Event{Kind: EventFramesWritten, FramesWritten: 1})
	}
}

func (t *WSTransport) WriteFrame(f Frame) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return net.ErrClosed
	}
	t.mu.Unlock()
	t.writeCh <- f
	return nil
}

func (t *WSTransport) ReadFrame() (Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inbound) == 0 {
		return Frame{}, false
	}
	f := t.inbound[0]
	t.inbound = t.inbound[1:]
	return f, true
}

func (t *WSTransport) FramesAvailable() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inbound)
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = StateClosing
	conn := t.conn
	t.mu.Unlock()

	close(t.writeCh)
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		err := conn.Close()
		t.mu.Lock()
		t.state = StateClosed
		t.mu.Unlock()
		t.emit(Event{Kind: EventClosed})
		return err
	}
	t.emit(Event{Kind: EventClosed})
	return nil
}

// RespondSuccess performs the actual 101 upgrade on the pending client
// request, using headers as the response headers alongside the
// upgrade. reason is unused; gorilla/websocket's Upgrader has no
// separate reason-phrase hook for a successful upgrade.
func (t *WSTransport) RespondSuccess(reason string, headers http.Header) error {
	t.mu.Lock()
	w, r, upgrader := t.pendingW, t.pendingR, t.upgrader
	t.state = StateConnecting
	t.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, headers)
	if err != nil {
		t.mu.Lock()
		t.state = StateClosed
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.state = StateConnected
	t.mu.Unlock()

	t.startPumps()
	t.emit(Event{Kind: EventConnected})
	return nil
}

// RespondError rejects the pending client request with an HTTP error
// response instead of upgrading; the transport never becomes connected.
func (t *WSTransport) RespondError(code int, reason string, headers http.Header, body []byte) error {
	t.mu.Lock()
	w := t.pendingW
	t.state = StateClosed
	t.mu.Unlock()

	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(code)
	_, err := w.Write(body)
	t.emit(Event{Kind: EventError})
	return err
}

func (t *WSTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WSTransport) ErrorCondition() ErrorCondition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errCond
}

func (t *WSTransport) ResponseCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.respCode
}

func (t *WSTransport) ResponseReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.respReason
}

func (t *WSTransport) ResponseHeaders() http.Header {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.respHeaders
}

func (t *WSTransport) ResponseBody() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.respBody
}

func (t *WSTransport) RequestURI() *url.URL {
	return t.requestURI
}

func (t *WSTransport) RequestHeaders() http.Header {
	return t.requestHeaders
}

func (t *WSTransport) PeerAddress() string {
	return t.peerAddress
}

func (t *WSTransport) Events() <-chan Event {
	return t.events
}

// emit delivers an event to the session loop. The channel is buffered
// generously; the session loop drains it continuously until both legs
// report closed, so a blocking send here only ever waits on a live
// consumer.
func (t *WSTransport) emit(ev Event) {
	t.events <- ev
}
