package adminfront

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/oferbear/HTTP-proxy/internal/cache"
	"github.com/oferbear/HTTP-proxy/internal/domain"
	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/stats"
)

func ctxFor(uri string) *domain.RequestContext {
	ctx := domain.NewRequestContext(stats.New())
	ctx.URI = uri
	return ctx
}

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

func newTestAdmin(t *testing.T, base string) (a *AdminFront, peer int) {
	t.Helper()
	fd, peerFD := socketPair(t)
	c, err := cache.New(t.TempDir(), testLogger(t))
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	a = New(fd, c, stats.New(), base, testLogger(t))
	return a, peerFD
}

func drainUntilClosing(t *testing.T, a *AdminFront, peer int, request string) string {
	t.Helper()
	if _, err := unix.Write(peer, []byte(request)); err != nil {
		t.Fatalf("write: %v", err)
	}

	for i := 0; i < 4 && a.state != stateClosing && a.state != stateRespContent; i++ {
		a.OnReadable(nil)
	}
	for i := 0; i < 64 && a.state != stateClosing; i++ {
		a.OnWritable(nil)
	}
	if a.state != stateClosing {
		t.Fatalf("AdminFront never reached stateClosing")
	}
	for a.sock.SendLen() > 0 {
		if _, err := a.sock.Flush(); err != nil {
			t.Fatalf("flush: %v", err)
		}
	}

	var out strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(peer, buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil || n == 0 || n < len(buf) {
			break
		}
	}
	return out.String()
}

func TestAdminFrontServesManagePage(t *testing.T) {
	a, peer := newTestAdmin(t, t.TempDir())

	got := drainUntilClosing(t, a, peer, "GET /manage HTTP/1.1\r\n\r\n")
	if !strings.Contains(got, "200 OK") {
		t.Fatalf("response %q, want a 200 status line", got)
	}
	if !strings.Contains(got, "Throughput") {
		t.Fatalf("response %q, want the throughput block", got)
	}
	if !strings.Contains(got, "Cache size") {
		t.Fatalf("response %q, want the cache size block", got)
	}
}

func TestAdminFrontServesStaticFile(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "index.html"), []byte("<h1>hi</h1>"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	a, peer := newTestAdmin(t, base)

	got := drainUntilClosing(t, a, peer, "GET /index.html HTTP/1.1\r\n\r\n")
	if !strings.Contains(got, "200 OK") {
		t.Fatalf("response %q, want a 200 status line", got)
	}
	if !strings.HasSuffix(got, "<h1>hi</h1>") {
		t.Fatalf("response %q, want it to end with the file body", got)
	}
}

func TestAdminFrontMissingFileIs404(t *testing.T) {
	a, peer := newTestAdmin(t, t.TempDir())

	got := drainUntilClosing(t, a, peer, "GET /nope.txt HTTP/1.1\r\n\r\n")
	if !strings.Contains(got, "404") {
		t.Fatalf("response %q, want a 404 status", got)
	}
}

func TestAdminFrontDeleteAllClearsCache(t *testing.T) {
	a, peer := newTestAdmin(t, t.TempDir())

	if err := a.cache.OpenWriter(ctxFor("http://example.com/z"), 60); err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	a.cache.Append(ctxFor("http://example.com/z"), []byte("body"))
	a.cache.CloseWriter(ctxFor("http://example.com/z"))

	count, _, err := a.cache.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 before delete", count)
	}

	drainUntilClosing(t, a, peer, "GET /manage?url=all HTTP/1.1\r\n\r\n")

	count, _, err = a.cache.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0 after url=all", count)
	}
}
