package listener

import (
	"net"
	"strconv"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/netio"
	"github.com/oferbear/HTTP-proxy/internal/reactor"
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

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestBindWithRetrySucceeds(t *testing.T) {
	port := freePort(t)
	fd, err := BindWithRetry("127.0.0.1", port, testLogger(t))
	if err != nil {
		t.Fatalf("BindWithRetry: %v", err)
	}
	defer unix.Close(fd)
	if fd < 0 {
		t.Fatalf("fd = %d, want non-negative", fd)
	}
}

func TestListenerAcceptsAndDispatches(t *testing.T) {
	port := freePort(t)
	fd, err := netio.ListenNonblocking("127.0.0.1", port)
	if err != nil {
		t.Fatalf("ListenNonblocking: %v", err)
	}
	defer unix.Close(fd)

	var accepted []int
	l := New(fd, func(clientFD int, r *reactor.Reactor) {
		accepted = append(accepted, clientFD)
	}, testLogger(t))

	conn, err := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if remove := l.OnReadable(nil); remove {
		t.Fatalf("OnReadable() = true, want false (listener never removes itself)")
	}
	if len(accepted) != 1 {
		t.Fatalf("accepted %d connections, want 1", len(accepted))
	}
	unix.Close(accepted[0])
}
