package proxyfront

import (
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oferbear/HTTP-proxy/internal/cache"
	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/reactor"
	"github.com/oferbear/HTTP-proxy/internal/stats"
)

func testLogger(t *testing.T) *logger.StyledLogger {
	t.Helper()
	_, styled, cleanup, err := logger.New(logger.Config{Level: "ERROR", LogFile: "/dev/null"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(cleanup)
	return styled
}

func socketPair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func newTestFront(t *testing.T) (pf *ProxyFront, clientPeer int, r *reactor.Reactor) {
	t.Helper()
	clientFD, clientPeerFD := socketPair(t)
	c, err := cache.New(t.TempDir(), testLogger(t))
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	r, err = reactor.New(testLogger(t))
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	pf = New(clientFD, c, stats.New(), r, testLogger(t))
	return pf, clientPeerFD, r
}

func TestProxyFrontBadRequestLineRepliesWithError(t *testing.T) {
	pf, peer, r := newTestFront(t)

	if _, err := unix.Write(peer, []byte("garbage\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if remove := pf.OnReadable(r); remove {
		t.Fatalf("OnReadable() = true, want false (still flushing the error)")
	}
	if pf.state != stateClosing {
		t.Fatalf("state = %d, want stateClosing", pf.state)
	}

	if done, err := pf.sock.Flush(); err != nil || !done {
		t.Fatalf("Flush() = (%v, %v), want (true, nil)", done, err)
	}
	buf := make([]byte, 256)
	n, err := unix.Read(peer, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got[:15] != "HTTP/1.1 500 Un" {
		t.Fatalf("response = %q, want a 500 error", got)
	}
}

func TestProxyFrontCacheHitServesStoredBody(t *testing.T) {
	pf, peer, r := newTestFront(t)

	pf.ctx.URI = "http://example.com/cached"
	if err := pf.cache.OpenWriter(pf.ctx, 60); err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	pf.cache.Append(pf.ctx, []byte("HTTP/1.1 200 OK\r\n\r\ncached-body"))
	pf.cache.CloseWriter(pf.ctx)
	pf.ctx.URI = ""

	req := "GET http://example.com/cached HTTP/1.1\r\n\r\n"
	if _, err := unix.Write(peer, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if remove := pf.OnReadable(r); remove {
		t.Fatalf("OnReadable() = true, want false")
	}
	if !pf.servingFromCache {
		t.Fatalf("servingFromCache = false, want true on a cache hit")
	}
	if pf.state != stateClosing {
		t.Fatalf("state = %d, want stateClosing", pf.state)
	}

	if remove := pf.OnWritable(r); !remove {
		t.Fatalf("OnWritable() = false, want true once the cached body is fully flushed")
	}

	buf := make([]byte, 256)
	n, err := unix.Read(peer, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "HTTP/1.1 200 OK\r\n\r\ncached-body" {
		t.Fatalf("client received %q, want the cached body", got)
	}
}

func TestProxyFrontCacheMissStreamsOriginResponse(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf) //nolint:errcheck
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")) //nolint:errcheck
	}()

	pf, peer, r := newTestFront(t)
	req := "GET http://127.0.0.1:" + strconv.Itoa(port) + "/x HTTP/1.1\r\n\r\n"
	if _, err := unix.Write(peer, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if remove := pf.OnReadable(r); remove {
		t.Fatalf("OnReadable() = true, want false (request forwarded, awaiting response)")
	}
	if pf.back == nil {
		t.Fatalf("pf.back is nil, want a ProxyBack created on a cache miss")
	}

	// Drive the backend connection to completion: connect, send the
	// request, read the response, forward it to the front.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pf.back.OnWritable(r)
		if remove := pf.back.OnReadable(r); remove {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	<-done

	if remove := pf.OnWritable(r); !remove {
		t.Fatalf("front OnWritable() = false, want true once the response is fully flushed")
	}

	buf := make([]byte, 256)
	n, rerr := unix.Read(peer, buf)
	if rerr != nil {
		t.Fatalf("read: %v", rerr)
	}
	if got := string(buf[:n]); got != "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello" {
		t.Fatalf("client received %q, want the forwarded origin response", got)
	}
}

func TestProxyFrontConnectPromotesToTunnel(t *testing.T) {
	pf, peer, r := newTestFront(t)

	req := "CONNECT 127.0.0.1:1 HTTP/1.1\r\n\r\n"
	if _, err := unix.Write(peer, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if remove := pf.OnReadable(r); remove {
		t.Fatalf("OnReadable() = true, want false once promoted")
	}
	if !pf.promoted {
		t.Fatalf("promoted = false, want true after a CONNECT request")
	}
	if pf.sock.FD() != -1 {
		t.Fatalf("sock.FD() = %d, want -1 (detached after handing the fd to TunnelUp)", pf.sock.FD())
	}
}
