// Package proxyback implements spec.md §4.4: the origin-facing half of a
// plain HTTP request. A ProxyBack is created by ProxyFront on a cache miss,
// connects to the origin, forwards the rewritten request, parses the
// response status line and headers, seeds the cache when the response is
// cacheable, and streams the body to both its front peer and the cache.
package proxyback

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/oferbear/HTTP-proxy/internal/cache"
	"github.com/oferbear/HTTP-proxy/internal/domain"
	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/netio"
	"github.com/oferbear/HTTP-proxy/internal/reactor"
	"github.com/oferbear/HTTP-proxy/internal/wire"
)

type state int

const (
	stateStatus state = iota
	stateHeaders
	stateContent
	stateClosing
)

// FrontPeer is what ProxyBack needs from the ProxyFront that created it.
// Declared here (rather than importing package proxyfront) so ProxyFront can
// implement it without a cyclic import.
type FrontPeer interface {
	EnqueueToClient(p []byte)
	ClientHasRoom() bool
	NotifyBackDone()
}

// ProxyBack is the origin-facing endpoint of one proxied GET request.
type ProxyBack struct {
	sock  *netio.Socket
	front FrontPeer
	ctx   *domain.RequestContext
	cache *cache.Cache
	log   *logger.StyledLogger

	state          state
	connectPending bool
	frontDone      bool

	headers           *wire.Headers
	statusLine        string
	haveContentLength bool
	remaining         int
	cachingEnabled    bool
}

// New dials host:port non-blocking and returns a ProxyBack ready to
// register with the Reactor. A synchronous connect failure (anything other
// than EINPROGRESS) is returned as err so the caller can respond to its
// client directly instead of registering a dead endpoint.
func New(front FrontPeer, ctx *domain.RequestContext, c *cache.Cache, host string, port int, log *logger.StyledLogger) (*ProxyBack, error) {
	fd, inProgress, err := netio.DialNonblocking(host, port)
	if err != nil {
		return nil, err
	}
	return &ProxyBack{
		sock:           netio.New(fd),
		front:          front,
		ctx:            ctx,
		cache:          c,
		log:            log,
		connectPending: inProgress,
		headers:        wire.NewHeaders(),
	}, nil
}

// FD implements reactor.Pollable.
func (pb *ProxyBack) FD() int { return pb.sock.FD() }

// EnqueueUpstream queues p to be written to the origin connection.
func (pb *ProxyBack) EnqueueUpstream(p []byte) { pb.sock.Enqueue(p) }

// UpstreamHasRoom reports whether the origin-bound send buffer still has
// room — ProxyFront gates reading the client's request body on this.
func (pb *ProxyBack) UpstreamHasRoom() bool { return pb.sock.HasRoom() }

// MarkFrontGone tells ProxyBack its front peer is already tearing down
// (e.g. a parse error on the client side) — further response bytes have
// nowhere to go.
func (pb *ProxyBack) MarkFrontGone() { pb.frontDone = true }

// Events implements reactor.Pollable.
func (pb *ProxyBack) Events() reactor.Events {
	var e reactor.Events
	if pb.frontDone {
		return e
	}
	if pb.connectPending || pb.sock.SendLen() > 0 {
		e |= reactor.Writable
	}
	if pb.state != stateClosing && pb.front.ClientHasRoom() {
		e |= reactor.Readable
	}
	return e
}

// OnWritable implements reactor.Pollable.
func (pb *ProxyBack) OnWritable(r *reactor.Reactor) bool {
	if pb.frontDone {
		return true
	}
	if pb.connectPending {
		errno, gerr := unix.GetsockoptInt(pb.sock.FD(), unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			pb.log.Warn("origin connect status unavailable", "error", gerr)
			return pb.finishResponse()
		}
		if errno != 0 {
			pb.log.Warn("origin connect failed", "errno", errno)
			return pb.finishResponse()
		}
		pb.connectPending = false
	}
	if _, err := pb.sock.Flush(); err != nil {
		pb.log.Warn("origin send failed", "error", err)
		return pb.finishResponse()
	}
	return false
}

// OnReadable implements reactor.Pollable.
func (pb *ProxyBack) OnReadable(r *reactor.Reactor) bool {
	if pb.frontDone {
		return true
	}
	_, err := pb.sock.Recv()
	switch {
	case err == nil:
		return pb.advance(r)
	case err == netio.ErrWouldBlock:
		return false
	case err == netio.ErrPeerClosed:
		if pb.state == stateContent && !pb.haveContentLength {
			return pb.finishResponse()
		}
		pb.log.Warn("origin closed mid-response", "uri", pb.ctx.URI)
		return pb.finishResponse()
	default:
		pb.log.Warn("origin recv failed", "error", err)
		return pb.finishResponse()
	}
}

// OnError implements reactor.Pollable.
func (pb *ProxyBack) OnError(r *reactor.Reactor) bool { return pb.finishResponse() }

// OnHangup implements reactor.Pollable.
func (pb *ProxyBack) OnHangup(r *reactor.Reactor) bool { return pb.finishResponse() }

// Close implements reactor.Pollable.
func (pb *ProxyBack) Close() { pb.sock.Close() }

func (pb *ProxyBack) advance(r *reactor.Reactor) bool {
	for {
		var cont bool
		switch pb.state {
		case stateStatus:
			cont = pb.handleStatus()
		case stateHeaders:
			cont = pb.handleHeaders()
		case stateContent:
			cont = pb.handleContent()
		default:
			return true
		}
		if !cont {
			return pb.state == stateClosing
		}
	}
}

func (pb *ProxyBack) handleStatus() bool {
	line, rest, ok := wire.NextLine(pb.sock.RecvBuf())
	if !ok {
		return false
	}
	pb.sock.ReplaceRecvBuf(rest)

	sl, err := wire.ParseStatusLine(string(line))
	if err != nil {
		pb.log.Warn("bad status line from origin", "line", string(line), "error", err)
		pb.finishResponse()
		return false
	}
	pb.statusLine = fmt.Sprintf("%s %s %s", sl.Signature, sl.Code, sl.Reason)
	pb.front.EnqueueToClient([]byte(pb.statusLine + wire.CRLF))
	pb.state = stateHeaders
	return true
}

func (pb *ProxyBack) handleHeaders() bool {
	line, rest, ok := wire.NextLine(pb.sock.RecvBuf())
	if !ok {
		return false
	}
	pb.sock.ReplaceRecvBuf(rest)

	if len(line) == 0 {
		pb.finishHeaders()
		pb.state = stateContent
		return true
	}

	if err := wire.AddHeaderLine(string(line), pb.headers); err != nil {
		pb.log.Warn("header overflow from origin", "uri", pb.ctx.URI, "error", err)
		pb.finishResponse()
		return false
	}
	return true
}

func (pb *ProxyBack) finishHeaders() {
	if _, ok := pb.headers.Get("Content-Length"); ok {
		if n, err := pb.headers.ContentLength(); err == nil {
			pb.haveContentLength = true
			pb.remaining = n
		}
	}

	if maxAge, ok := cache.IsCacheableResponse(pb.headers); ok {
		if err := pb.cache.OpenWriter(pb.ctx, maxAge); err != nil {
			pb.log.Warn("cache open_writer failed", "uri", pb.ctx.URI, "error", err)
		} else {
			pb.cachingEnabled = true
			pb.cache.Append(pb.ctx, []byte(pb.statusLine+wire.CRLF))
		}
	}

	pb.headers.Each(func(name, value string) {
		line := []byte(name + ": " + value + wire.CRLF)
		pb.front.EnqueueToClient(line)
		if pb.cachingEnabled {
			pb.cache.Append(pb.ctx, line)
		}
	})
	pb.front.EnqueueToClient([]byte(wire.CRLF))
	if pb.cachingEnabled {
		pb.cache.Append(pb.ctx, []byte(wire.CRLF))
	}
}

func (pb *ProxyBack) handleContent() bool {
	buf := pb.sock.RecvBuf()
	if len(buf) == 0 {
		return false
	}
	take := len(buf)
	if pb.haveContentLength && take > pb.remaining {
		take = pb.remaining
	}
	if take > 0 {
		pb.front.EnqueueToClient(buf[:take])
		if pb.cachingEnabled {
			pb.cache.Append(pb.ctx, buf[:take])
		}
		pb.sock.Consume(take)
		if pb.haveContentLength {
			pb.remaining -= take
		}
	}
	if pb.haveContentLength && pb.remaining <= 0 {
		pb.finishResponse()
		return false
	}
	return true
}

// finishResponse closes any open cache writer, moves to CLOSING and notifies
// the front peer that no more response bytes are coming — whether this is a
// clean end of body or a fatal socket condition (spec.md §7 classes 3/4 both
// land here; a response truncated mid-stream still leaves a valid-looking,
// if short, cache entry, which spec.md §9's open question tolerates).
func (pb *ProxyBack) finishResponse() bool {
	if pb.cachingEnabled {
		pb.cache.CloseWriter(pb.ctx)
		pb.cachingEnabled = false
	}
	pb.state = stateClosing
	if !pb.frontDone {
		pb.front.NotifyBackDone()
	}
	return true
}
