package session

import (
	"testing"
	"time"

	"github.com/lattice-run/wsproxy/control"
	"github.com/lattice-run/wsproxy/transport"
)

// newTestSession builds a Session already past the handshake (state
// Connected, both fake legs wired) and starts its loop goroutine,
// exercising the forwarding/GRIP/detach/teardown machinery directly
// without going through the real HTTP-upgrade path in Start.
func newTestSession(t *testing.T, ctrl *fakeControlSession) (*Session, *fakeTransport, *fakeTransport) {
	t.Helper()
	in := newFakeTransport()
	out := newFakeTransport()
	s := New("test-session", Config{PendingMax: 4, Audit: noopAudit{}})
	s.inSock = in
	s.outSock = out
	s.state = Connected
	if ctrl != nil {
		s.control = ctrl
		s.gripActive = true
	}
	go s.loop()
	t.Cleanup(func() {
		select {
		case <-s.doneCh:
		default:
			_ = in.Close()
			_ = out.Close()
		}
	})
	return s, in, out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestForwardClientToOrigin(t *testing.T) {
	_, in, out := newTestSession(t, nil)
	in.pushInbound(transport.Frame{Type: transport.Text, Data: []byte("hello")})
	waitFor(t, func() bool { return len(out.writtenFrames()) == 1 })
	got := out.writtenFrames()[0]
	if string(got.Data) != "hello" {
		t.Fatalf("got %q", got.Data)
	}
}

func TestForwardOriginToClientNoControl(t *testing.T) {
	_, in, out := newTestSession(t, nil)
	out.pushInbound(transport.Frame{Type: transport.Binary, Data: []byte("payload")})
	waitFor(t, func() bool { return len(in.writtenFrames()) == 1 })
	got := in.writtenFrames()[0]
	if string(got.Data) != "payload" {
		t.Fatalf("got %q", got.Data)
	}
}

func TestGripMessagePrefixDeliveredVerbatim(t *testing.T) {
	ctrl := newFakeControlSession()
	_, in, out := newTestSession(t, ctrl)
	out.pushInbound(transport.Frame{Type: transport.Text, Data: []byte("m:hello there")})
	waitFor(t, func() bool { return len(in.writtenFrames()) == 1 })
	if got := string(in.writtenFrames()[0].Data); got != "m:hello there" {
		t.Fatalf("expected prefix to survive delivery, got %q", got)
	}
}

func TestGripControlFrameRoutedToControlNotClient(t *testing.T) {
	ctrl := newFakeControlSession()
	_, in, out := newTestSession(t, ctrl)
	out.pushInbound(transport.Frame{Type: transport.Text, Data: []byte("c:{\"type\":\"ping\"}")})
	waitFor(t, func() bool { return len(ctrl.publishedMessages()) == 1 })
	if got := string(ctrl.publishedMessages()[0]); got != `{"type":"ping"}` {
		t.Fatalf("got %q", got)
	}
	if len(in.writtenFrames()) != 0 {
		t.Fatalf("control frame must not reach the client, got %d frames", len(in.writtenFrames()))
	}
}

func TestGripFrameWithoutPrefixDropped(t *testing.T) {
	ctrl := newFakeControlSession()
	_, in, out := newTestSession(t, ctrl)
	out.pushInbound(transport.Frame{Type: transport.Text, Data: []byte("unrelated")})
	// Give the loop a moment to process; nothing should show up anywhere.
	time.Sleep(20 * time.Millisecond)
	if len(in.writtenFrames()) != 0 {
		t.Fatalf("expected frame to be dropped, got %d delivered", len(in.writtenFrames()))
	}
	if len(ctrl.publishedMessages()) != 0 {
		t.Fatalf("expected frame not published to control, got %d", len(ctrl.publishedMessages()))
	}
}

func TestGripContinuationFollowsHeadRouting(t *testing.T) {
	ctrl := newFakeControlSession()
	_, in, out := newTestSession(t, ctrl)

	// Head matches message-prefix: delivered, so its continuation must
	// also be delivered even though the continuation frame itself
	// carries no prefix.
	out.pushInbound(transport.Frame{Type: transport.Text, Data: []byte("m:frag1"), More: true})
	out.pushInbound(transport.Frame{Type: transport.Continuation, Data: []byte("frag2"), More: false})
	waitFor(t, func() bool { return len(in.writtenFrames()) == 2 })
	if string(in.writtenFrames()[0].Data) != "m:frag1" || string(in.writtenFrames()[1].Data) != "frag2" {
		t.Fatalf("unexpected frames: %+v", in.writtenFrames())
	}
}

func TestGripStrayContinuationDropped(t *testing.T) {
	ctrl := newFakeControlSession()
	_, in, out := newTestSession(t, ctrl)
	out.pushInbound(transport.Frame{Type: transport.Continuation, Data: []byte("orphan")})
	time.Sleep(20 * time.Millisecond)
	if len(in.writtenFrames()) != 0 {
		t.Fatalf("stray continuation should be dropped, got %d", len(in.writtenFrames()))
	}
}

func TestBackpressureBlocksUntilAck(t *testing.T) {
	s, in, out := newTestSession(t, nil)
	s.cfg.PendingMax = 2
	out.manualAck = true

	for i := 0; i < 5; i++ {
		in.pushInbound(transport.Frame{Type: transport.Text, Data: []byte("x")})
	}

	// With acks withheld, tryReadIn must stop pulling once outPending
	// reaches PendingMax, however many client frames are already queued.
	waitFor(t, func() bool { return len(out.writtenFrames()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := len(out.writtenFrames()); got != 2 {
		t.Fatalf("tryReadIn wrote past PendingMax before any ack: got %d frames, want 2", got)
	}
	waitFor(t, func() bool { return s.outPending == 2 })

	// One ack frees exactly one slot: exactly one more frame goes out,
	// not the rest of the backlog.
	out.ackWrites(1)
	waitFor(t, func() bool { return len(out.writtenFrames()) == 3 })
	time.Sleep(20 * time.Millisecond)
	if got := len(out.writtenFrames()); got != 3 {
		t.Fatalf("tryReadIn wrote past PendingMax after a single ack: got %d frames, want 3", got)
	}

	// Acking the rest drains the remaining backlog.
	out.ackWrites(3)
	waitFor(t, func() bool { return len(out.writtenFrames()) == 5 })
}

func TestDetachClosesOriginKeepsClient(t *testing.T) {
	ctrl := newFakeControlSession()
	s, in, out := newTestSession(t, ctrl)

	ctrl.events <- control.Event{Kind: control.EventDetach}
	waitFor(t, func() bool { return s.detached })
	waitFor(t, func() bool { return out.State() == transport.StateClosed })

	if in.State() == transport.StateClosed {
		t.Fatal("client leg must survive detach")
	}

	// Further origin-bound frames from the client are silently dropped.
	in.pushInbound(transport.Frame{Type: transport.Text, Data: []byte("after-detach")})
	time.Sleep(20 * time.Millisecond)
	if len(out.writtenFrames()) != 0 {
		t.Fatalf("frames must not reach a detached origin, got %d", len(out.writtenFrames()))
	}
}

func TestClientPeerClosedPropagatesToOrigin(t *testing.T) {
	s, in, out := newTestSession(t, nil)
	in.events <- transport.Event{Kind: transport.EventPeerClosed}
	waitFor(t, func() bool { return out.State() == transport.StateClosed })
	waitFor(t, func() bool {
		select {
		case <-s.doneCh:
			return true
		default:
			return false
		}
	})
}

func TestControlSendEventDeliveredToClient(t *testing.T) {
	ctrl := newFakeControlSession()
	_, in, _ := newTestSession(t, ctrl)
	ctrl.events <- control.Event{Kind: control.EventSend, ContentType: "text", Message: []byte("push")}
	waitFor(t, func() bool { return len(in.writtenFrames()) == 1 })
	if string(in.writtenFrames()[0].Data) != "push" {
		t.Fatalf("got %q", in.writtenFrames()[0].Data)
	}
}
