package netio

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// DialNonblocking resolves host, opens a non-blocking TCP socket and issues
// connect(2). inProgress is true when connect returned EINPROGRESS — the
// only connect error spec.md §4.5 treats as non-fatal; any other error
// closes fd itself and returns it as err.
func DialNonblocking(host string, port int) (fd int, inProgress bool, err error) {
	ipAddr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return -1, false, fmt.Errorf("resolve %s: %w", host, err)
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, false, fmt.Errorf("socket: %w", err)
	}

	var addr [4]byte
	copy(addr[:], ipAddr.IP.To4())
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}

	err = unix.Connect(fd, sa)
	if err == nil {
		return fd, false, nil
	}
	if err == unix.EINPROGRESS {
		return fd, true, nil
	}
	unix.Close(fd) //nolint:errcheck
	return -1, false, fmt.Errorf("connect %s:%d: %w", host, port, err)
}

// ListenNonblocking binds and listens on address:port, returning a
// non-blocking listening socket. Callers retry on EADDRINUSE per spec.md
// §6's "listening recovery".
func ListenNonblocking(address string, port int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd) //nolint:errcheck
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	ip := net.ParseIP(address)
	if ip == nil {
		unix.Close(fd) //nolint:errcheck
		return -1, fmt.Errorf("invalid bind address %q", address)
	}
	var addr [4]byte
	copy(addr[:], ip.To4())
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd) //nolint:errcheck
		return -1, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd) //nolint:errcheck
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// AcceptNonblocking accepts one pending connection, returning a non-blocking
// client socket. ErrWouldBlock is returned when no connection is pending.
func AcceptNonblocking(listenFD int) (fd int, err error) {
	fd, _, err = unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if isRetryable(err) {
			return -1, ErrWouldBlock
		}
		return -1, err
	}
	return fd, nil
}
