// Package listener implements spec.md's Listener component: a non-blocking
// listening socket that accepts connections and hands each one to a
// caller-supplied constructor, plus the "listening recovery" retry spec.md
// §6 requires on EADDRINUSE.
package listener

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/netio"
	"github.com/oferbear/HTTP-proxy/internal/reactor"
)

// RetryInterval is how long BindWithRetry waits between bind attempts after
// EADDRINUSE (spec.md §6).
const RetryInterval = 5 * time.Second

// BindWithRetry binds and listens on address:port, retrying indefinitely
// every RetryInterval on EADDRINUSE. Any other bind error is returned.
func BindWithRetry(address string, port int, log *logger.StyledLogger) (int, error) {
	for {
		fd, err := netio.ListenNonblocking(address, port)
		if err == nil {
			return fd, nil
		}
		if errors.Is(err, unix.EADDRINUSE) {
			log.Warn("address in use, retrying", "address", address, "port", port)
			time.Sleep(RetryInterval)
			continue
		}
		return -1, err
	}
}

// Listener accepts connections on a bound, listening fd and hands each
// accepted client fd to onAccept.
type Listener struct {
	fd       int
	onAccept func(clientFD int, r *reactor.Reactor)
	log      *logger.StyledLogger
}

// New wraps an already-bound, listening, non-blocking fd.
func New(fd int, onAccept func(clientFD int, r *reactor.Reactor), log *logger.StyledLogger) *Listener {
	return &Listener{fd: fd, onAccept: onAccept, log: log}
}

// FD implements reactor.Pollable.
func (l *Listener) FD() int { return l.fd }

// Events implements reactor.Pollable: a listener always wants to know about
// pending connections.
func (l *Listener) Events() reactor.Events { return reactor.Readable }

// OnReadable implements reactor.Pollable. Accepts every connection pending
// right now — level-triggered epoll will report it again immediately if one
// is left, but draining the backlog in one pass keeps iteration count down
// under a connection burst.
func (l *Listener) OnReadable(r *reactor.Reactor) bool {
	for {
		fd, err := netio.AcceptNonblocking(l.fd)
		if err != nil {
			if err == netio.ErrWouldBlock {
				return false
			}
			l.log.Warn("accept failed", "error", err)
			return false
		}
		l.onAccept(fd, r)
	}
}

// OnWritable implements reactor.Pollable; a listening socket is never
// writable-interested.
func (l *Listener) OnWritable(r *reactor.Reactor) bool { return false }

// OnError implements reactor.Pollable.
func (l *Listener) OnError(r *reactor.Reactor) bool {
	l.log.Error("listener socket error", "fd", l.fd)
	return true
}

// OnHangup implements reactor.Pollable.
func (l *Listener) OnHangup(r *reactor.Reactor) bool { return true }

// Close implements reactor.Pollable.
func (l *Listener) Close() { unix.Close(l.fd) } //nolint:errcheck
