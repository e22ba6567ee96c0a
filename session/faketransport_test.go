package session

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/lattice-run/wsproxy/control"
	"github.com/lattice-run/wsproxy/transport"
)

// fakeTransport is an in-memory transport.Transport double, driven
// entirely by test code pushing frames/events rather than by a real
// network connection. Grounded on the same "hand-rolled fake collaborator
// behind a small interface" pattern used throughout
// _examples/panyam-servicekit/http's tests.
type fakeTransport struct {
	mu      sync.Mutex
	state   transport.State
	errCond transport.ErrorCondition
	inbound []transport.Frame
	written []transport.Frame
	events  chan transport.Event
	closed  bool

	startErr    error
	respCode    int
	respReason  string
	respHeaders http.Header
	respBody    []byte

	reqURI     *url.URL
	reqHeaders http.Header
	peerAddr   string

	// manualAck, when true, makes WriteFrame withhold the
	// EventFramesWritten ack it would otherwise fire synchronously;
	// tests drive acknowledgement themselves via ackWrites, so writes
	// actually accumulate against a session's pending budget instead of
	// draining before the next frame is even considered.
	manualAck bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:       transport.StateIdle,
		events:      make(chan transport.Event, 64),
		reqURI:      &url.URL{Scheme: "ws", Host: "client.example", Path: "/ws"},
		reqHeaders:  http.Header{},
		respHeaders: http.Header{},
	}
}

func (f *fakeTransport) Start(ctx context.Context, uri *url.URL, headers http.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		f.state = transport.StateClosed
		return f.startErr
	}
	f.state = transport.StateConnected
	return nil
}

func (f *fakeTransport) WriteFrame(fr transport.Frame) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return context.Canceled
	}
	f.written = append(f.written, fr)
	manual := f.manualAck
	f.mu.Unlock()
	if !manual {
		f.events <- transport.Event{Kind: transport.EventFramesWritten, FramesWritten: 1}
	}
	return nil
}

// ackWrites manually fires n EventFramesWritten acks, one at a time, for
// tests exercising manualAck mode.
func (f *fakeTransport) ackWrites(n int) {
	for i := 0; i < n; i++ {
		f.events <- transport.Event{Kind: transport.EventFramesWritten, FramesWritten: 1}
	}
}

func (f *fakeTransport) ReadFrame() (transport.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return transport.Frame{}, false
	}
	fr := f.inbound[0]
	f.inbound = f.inbound[1:]
	return fr, true
}

func (f *fakeTransport) FramesAvailable() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbound)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.state = transport.StateClosing
	f.mu.Unlock()
	f.events <- transport.Event{Kind: transport.EventClosed}
	f.mu.Lock()
	f.state = transport.StateClosed
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) RespondSuccess(reason string, headers http.Header) error { return nil }
func (f *fakeTransport) RespondError(code int, reason string, headers http.Header, body []byte) error {
	return nil
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) ErrorCondition() transport.ErrorCondition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errCond
}

func (f *fakeTransport) ResponseCode() int         { return f.respCode }
func (f *fakeTransport) ResponseReason() string    { return f.respReason }
func (f *fakeTransport) ResponseHeaders() http.Header { return f.respHeaders }
func (f *fakeTransport) ResponseBody() []byte      { return f.respBody }

func (f *fakeTransport) RequestURI() *url.URL       { return f.reqURI }
func (f *fakeTransport) RequestHeaders() http.Header { return f.reqHeaders }
func (f *fakeTransport) PeerAddress() string        { return f.peerAddr }

func (f *fakeTransport) SetConnectHostPort(host string, port int) {}
func (f *fakeTransport) SetIgnorePolicies(ignore bool)             {}
func (f *fakeTransport) SetIgnoreTLSErrors(ignore bool)            {}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

// pushInbound simulates a frame arriving from the remote peer, waking the
// session loop's tryReadIn/tryReadOut via EventReadyRead.
func (f *fakeTransport) pushInbound(fr transport.Frame) {
	f.mu.Lock()
	f.inbound = append(f.inbound, fr)
	f.mu.Unlock()
	f.events <- transport.Event{Kind: transport.EventReadyRead}
}

func (f *fakeTransport) writtenFrames() []transport.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Frame, len(f.written))
	copy(out, f.written)
	return out
}

var _ transport.Transport = (*fakeTransport)(nil)

// fakeControlSession is an in-memory control.Session double.
type fakeControlSession struct {
	mu        sync.Mutex
	events    chan control.Event
	published [][]byte
	closed    bool
}

func newFakeControlSession() *fakeControlSession {
	return &fakeControlSession{events: make(chan control.Event, 16)}
}

func (c *fakeControlSession) Start(ctx context.Context) error { return nil }

func (c *fakeControlSession) SendGripMessage(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), payload...)
	c.published = append(c.published, cp)
	return nil
}

func (c *fakeControlSession) Events() <-chan control.Event { return c.events }

func (c *fakeControlSession) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeControlSession) publishedMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.published))
	copy(out, c.published)
	return out
}

var _ control.Session = (*fakeControlSession)(nil)

// fakeControlManager hands out a single pre-built fakeControlSession so
// tests can reach into it after Session.Start activates GRIP.
type fakeControlManager struct {
	session *fakeControlSession
}

func (m *fakeControlManager) NewSession(channelPrefix string) control.Session {
	return m.session
}

var _ control.Manager = (*fakeControlManager)(nil)

// noopAudit discards every record, for tests that don't assert on it.
type noopAudit struct{}

func (noopAudit) Record(AuditRecord) error { return nil }
