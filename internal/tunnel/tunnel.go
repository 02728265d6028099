// Package tunnel implements spec.md §4.5: the CONNECT tunnel. TunnelUp
// wraps the accepted client socket after ProxyFront promotes it; TunnelDown
// is a freshly dialed connection to the requested origin. Once the 200
// handshake is queued, both endpoints simply shuttle opaque bytes to each
// other's send buffer — no parsing, no cache interaction.
package tunnel

import (
	"golang.org/x/sys/unix"

	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/netio"
	"github.com/oferbear/HTTP-proxy/internal/reactor"
)

var okResponse = []byte("HTTP/1.1 200 Connection established\r\n\r\n")
var forbiddenResponse = []byte("HTTP/1.1 403 Forbidden\r\n\r\n")

// Up is the client-facing side of a CONNECT tunnel.
type Up struct {
	sock     *netio.Socket
	down     *Down
	log      *logger.StyledLogger
	peerGone bool
}

// Down is the origin-facing side of a CONNECT tunnel.
type Down struct {
	sock           *netio.Socket
	up             *Up
	log            *logger.StyledLogger
	connectPending bool
	peerGone       bool
}

// NewUp takes ownership of clientFD (already accepted, non-blocking) and
// attempts to dial host:port. If the origin connect fails synchronously
// (anything other than EINPROGRESS), Up queues 403 Forbidden instead of 200
// and never creates a Down — exactly spec.md §4.5's exception to the usual
// handshake.
func NewUp(clientFD int, host string, port int, r *reactor.Reactor, log *logger.StyledLogger) *Up {
	up := &Up{sock: netio.New(clientFD), log: log}

	downFD, inProgress, err := netio.DialNonblocking(host, port)
	if err != nil {
		log.Warn("tunnel origin connect failed", "host", host, "port", port, "error", err)
		up.sock.Enqueue(forbiddenResponse)
		up.peerGone = true
		return up
	}

	down := &Down{sock: netio.New(downFD), up: up, log: log, connectPending: inProgress}
	up.down = down
	r.Register(down)
	up.sock.Enqueue(okResponse)
	return up
}

// FD implements reactor.Pollable.
func (u *Up) FD() int { return u.sock.FD() }

// Events implements reactor.Pollable.
func (u *Up) Events() reactor.Events {
	var e reactor.Events
	if u.sock.SendLen() > 0 {
		e |= reactor.Writable
	}
	if !u.peerGone && u.down != nil && u.down.sock.HasRoom() {
		e |= reactor.Readable
	}
	return e
}

// OnReadable implements reactor.Pollable.
func (u *Up) OnReadable(r *reactor.Reactor) bool {
	n, err := u.sock.Recv()
	switch {
	case err == nil:
		if u.down != nil {
			u.down.sock.Enqueue(u.sock.RecvBuf()[:n])
			u.sock.Consume(n)
		}
		return false
	case err == netio.ErrWouldBlock:
		return false
	default:
		return u.teardown(r)
	}
}

// OnWritable implements reactor.Pollable.
func (u *Up) OnWritable(r *reactor.Reactor) bool {
	if _, err := u.sock.Flush(); err != nil {
		return u.teardown(r)
	}
	if u.peerGone && u.sock.SendLen() == 0 {
		return true
	}
	return false
}

// OnError implements reactor.Pollable.
func (u *Up) OnError(r *reactor.Reactor) bool { return u.teardown(r) }

// OnHangup implements reactor.Pollable.
func (u *Up) OnHangup(r *reactor.Reactor) bool { return u.teardown(r) }

// Close implements reactor.Pollable.
func (u *Up) Close() { u.sock.Close() }

// teardown marks the origin side gone (if any) and, when it has nothing left
// to flush, removes it immediately — it may otherwise never be scheduled
// again, the same reasoning as proxyfront's forced-removal notifications.
func (u *Up) teardown(r *reactor.Reactor) bool {
	u.peerGone = true
	if u.down != nil {
		u.down.peerGone = true
		if u.down.sock.SendLen() == 0 {
			r.Remove(u.down.FD())
		}
	}
	return u.sock.SendLen() == 0
}

// FD implements reactor.Pollable.
func (d *Down) FD() int { return d.sock.FD() }

// Events implements reactor.Pollable.
func (d *Down) Events() reactor.Events {
	var e reactor.Events
	if d.connectPending || d.sock.SendLen() > 0 {
		e |= reactor.Writable
	}
	if !d.peerGone && d.up.sock.HasRoom() {
		e |= reactor.Readable
	}
	return e
}

// OnWritable implements reactor.Pollable.
func (d *Down) OnWritable(r *reactor.Reactor) bool {
	if d.connectPending {
		errno, gerr := unix.GetsockoptInt(d.sock.FD(), unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil || errno != 0 {
			d.log.Warn("tunnel origin connect failed after registration", "errno", errno)
			return d.teardown(r)
		}
		d.connectPending = false
	}
	if _, err := d.sock.Flush(); err != nil {
		return d.teardown(r)
	}
	if d.peerGone && d.sock.SendLen() == 0 {
		return true
	}
	return false
}

// OnReadable implements reactor.Pollable.
func (d *Down) OnReadable(r *reactor.Reactor) bool {
	n, err := d.sock.Recv()
	switch {
	case err == nil:
		d.up.sock.Enqueue(d.sock.RecvBuf()[:n])
		d.sock.Consume(n)
		return false
	case err == netio.ErrWouldBlock:
		return false
	default:
		return d.teardown(r)
	}
}

// OnError implements reactor.Pollable.
func (d *Down) OnError(r *reactor.Reactor) bool { return d.teardown(r) }

// OnHangup implements reactor.Pollable.
func (d *Down) OnHangup(r *reactor.Reactor) bool { return d.teardown(r) }

// Close implements reactor.Pollable.
func (d *Down) Close() { d.sock.Close() }

func (d *Down) teardown(r *reactor.Reactor) bool {
	d.peerGone = true
	d.up.peerGone = true
	if d.up.sock.SendLen() == 0 {
		r.Remove(d.up.FD())
	}
	return d.sock.SendLen() == 0
}
