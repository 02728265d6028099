package proxyback

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/oferbear/HTTP-proxy/internal/cache"
	"github.com/oferbear/HTTP-proxy/internal/domain"
	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/netio"
	"github.com/oferbear/HTTP-proxy/internal/stats"
	"github.com/oferbear/HTTP-proxy/internal/wire"
)

type fakeFront struct {
	received []byte
	room     bool
	notified bool
}

func (f *fakeFront) EnqueueToClient(p []byte) { f.received = append(f.received, p...) }
func (f *fakeFront) ClientHasRoom() bool       { return f.room }
func (f *fakeFront) NotifyBackDone()           { f.notified = true }

func testLogger(t *testing.T) *logger.StyledLogger {
	t.Helper()
	_, styled, cleanup, err := logger.New(logger.Config{Level: "ERROR", LogFile: "/dev/null"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(cleanup)
	return styled
}

func newTestBack(t *testing.T) (pb *ProxyBack, originPeer int, front *fakeFront) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })

	c, err := cache.New(t.TempDir(), testLogger(t))
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	front = &fakeFront{room: true}
	ctx := domain.NewRequestContext(stats.New())
	ctx.URI = "http://example.com/a"

	pb = &ProxyBack{
		sock:    netio.New(fds[0]),
		front:   front,
		ctx:     ctx,
		cache:   c,
		log:     testLogger(t),
		headers: wire.NewHeaders(),
	}
	return pb, fds[1], front
}

func TestProxyBackForwardsStatusLineToFront(t *testing.T) {
	pb, originPeer, front := newTestBack(t)

	if _, err := unix.Write(originPeer, []byte("HTTP/1.1 200 OK\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if remove := pb.OnReadable(nil); remove {
		t.Fatalf("OnReadable() = true, want false while awaiting headers")
	}
	if string(front.received) != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("front received %q, want the status line", front.received)
	}
	if pb.state != stateHeaders {
		t.Fatalf("state = %d, want stateHeaders", pb.state)
	}
}

func TestProxyBackEndsContentOnContentLength(t *testing.T) {
	pb, originPeer, front := newTestBack(t)

	msg := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	if _, err := unix.Write(originPeer, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if remove := pb.OnReadable(nil); !remove {
		t.Fatalf("OnReadable() = false, want true once Content-Length bytes are all received")
	}
	if pb.state != stateClosing {
		t.Fatalf("state = %d, want stateClosing", pb.state)
	}
	if !front.notified {
		t.Fatalf("front.NotifyBackDone was not called")
	}
	if string(front.received) != "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello" {
		t.Fatalf("front received %q", front.received)
	}
}

func TestProxyBackEndsContentOnPeerCloseWithoutContentLength(t *testing.T) {
	pb, originPeer, front := newTestBack(t)

	if _, err := unix.Write(originPeer, []byte("HTTP/1.1 200 OK\r\n\r\nbody")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if remove := pb.OnReadable(nil); remove {
		t.Fatalf("OnReadable() = true on first read, want false (still draining)")
	}
	unix.Close(originPeer)

	if remove := pb.OnReadable(nil); !remove {
		t.Fatalf("OnReadable() after peer close = false, want true")
	}
	if pb.state != stateClosing {
		t.Fatalf("state = %d, want stateClosing", pb.state)
	}
	if !front.notified {
		t.Fatalf("front.NotifyBackDone was not called on peer close")
	}
}

func TestProxyBackMarkFrontGoneSuppressesFurtherWork(t *testing.T) {
	pb, _, _ := newTestBack(t)
	pb.MarkFrontGone()

	if e := pb.Events(); e != 0 {
		t.Fatalf("Events() = %v, want 0 once front is gone", e)
	}
	if remove := pb.OnWritable(nil); !remove {
		t.Fatalf("OnWritable() after MarkFrontGone = false, want true")
	}
}
