// Package proxyfront implements spec.md §4.3: the client-facing half of
// every connection accepted on the proxy port. It parses the request line
// and headers, decides cache hit/miss/CONNECT, and either streams a cached
// body back directly or creates a ProxyBack and forwards the request.
package proxyfront

import (
	"fmt"

	"github.com/oferbear/HTTP-proxy/internal/cache"
	"github.com/oferbear/HTTP-proxy/internal/domain"
	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/netio"
	"github.com/oferbear/HTTP-proxy/internal/proxyback"
	"github.com/oferbear/HTTP-proxy/internal/reactor"
	"github.com/oferbear/HTTP-proxy/internal/stats"
	"github.com/oferbear/HTTP-proxy/internal/tunnel"
	"github.com/oferbear/HTTP-proxy/internal/wire"
)

type state int

const (
	stateRequest state = iota
	stateHeaders
	stateContent
	stateClosing
)

// ProxyFront is the client-facing endpoint of one proxy-port connection.
type ProxyFront struct {
	sock    *netio.Socket
	cache   *cache.Cache
	stats   *stats.Statistics
	ctx     *domain.RequestContext
	reactor *reactor.Reactor
	log     *logger.StyledLogger

	state state
	back  *proxyback.ProxyBack

	path      string
	remaining int

	servingFromCache bool
	cacheDone        bool
	peerDone         bool
	promoted         bool
}

// New wraps an accepted client socket as a ProxyFront in the REQUEST state.
func New(fd int, c *cache.Cache, st *stats.Statistics, r *reactor.Reactor, log *logger.StyledLogger) *ProxyFront {
	return &ProxyFront{
		sock:    netio.New(fd),
		cache:   c,
		stats:   st,
		ctx:     domain.NewRequestContext(st),
		reactor: r,
		log:     log,
		state:   stateRequest,
	}
}

// FD implements reactor.Pollable.
func (pf *ProxyFront) FD() int { return pf.sock.FD() }

// EnqueueToClient implements proxyback.FrontPeer: ProxyBack calls this for
// every status/header/body byte it forwards from the origin.
func (pf *ProxyFront) EnqueueToClient(p []byte) { pf.sock.Enqueue(p) }

// ClientHasRoom implements proxyback.FrontPeer.
func (pf *ProxyFront) ClientHasRoom() bool { return pf.sock.HasRoom() }

// NotifyBackDone implements proxyback.FrontPeer. ProxyBack calls this once,
// whether the response completed cleanly or ended on a fatal condition. If
// ProxyFront has nothing left to flush it must remove itself immediately —
// it will not otherwise be dispatched again, since its own event mask can
// already be empty at this point.
func (pf *ProxyFront) NotifyBackDone() {
	pf.peerDone = true
	if pf.maybeFinished() {
		pf.reactor.Remove(pf.sock.FD())
	}
}

// Events implements reactor.Pollable.
func (pf *ProxyFront) Events() reactor.Events {
	var e reactor.Events
	if pf.state != stateClosing && (pf.back == nil || pf.back.UpstreamHasRoom()) {
		e |= reactor.Readable
	}
	if pf.sock.SendLen() > 0 {
		e |= reactor.Writable
	}
	if pf.state == stateClosing && pf.servingFromCache && !pf.cacheDone {
		e |= reactor.Writable
	}
	return e
}

// OnReadable implements reactor.Pollable.
func (pf *ProxyFront) OnReadable(r *reactor.Reactor) bool {
	_, err := pf.sock.Recv()
	switch {
	case err == nil:
		return pf.advance(r)
	case err == netio.ErrWouldBlock:
		return false
	default:
		pf.enterClosing(true)
		return pf.maybeFinished()
	}
}

// OnWritable implements reactor.Pollable.
func (pf *ProxyFront) OnWritable(r *reactor.Reactor) bool {
	if pf.state == stateClosing && pf.servingFromCache && !pf.cacheDone {
		pf.pumpCache()
	}
	before := pf.sock.SendLen()
	_, err := pf.sock.Flush()
	sent := before - pf.sock.SendLen()
	if sent > 0 {
		pf.stats.AddDelivered(sent)
	}
	if err != nil {
		pf.enterClosing(true)
		return true
	}
	return pf.maybeFinished()
}

// OnError implements reactor.Pollable.
func (pf *ProxyFront) OnError(r *reactor.Reactor) bool {
	pf.enterClosing(true)
	return true
}

// OnHangup implements reactor.Pollable.
func (pf *ProxyFront) OnHangup(r *reactor.Reactor) bool {
	pf.enterClosing(true)
	return pf.maybeFinished()
}

// Close implements reactor.Pollable.
func (pf *ProxyFront) Close() { pf.sock.Close() }

func (pf *ProxyFront) maybeFinished() bool {
	if pf.state != stateClosing {
		return false
	}
	if pf.sock.SendLen() > 0 {
		return false
	}
	if pf.servingFromCache {
		return pf.cacheDone
	}
	return pf.peerDone
}

// enterClosing transitions to CLOSING. peerGoneAlready marks that there is
// no response in flight to wait for (a parse error found before any
// ProxyBack produced anything, or a fatal recv/send error on the client
// socket itself).
func (pf *ProxyFront) enterClosing(peerGoneAlready bool) {
	pf.state = stateClosing
	if peerGoneAlready {
		pf.peerDone = true
	}
	if pf.back != nil {
		pf.back.MarkFrontGone()
	}
}

func (pf *ProxyFront) sendError(code int, msg string) {
	pf.sock.Enqueue(wire.ReturnStatus(code, msg))
	pf.enterClosing(true)
}

func (pf *ProxyFront) advance(r *reactor.Reactor) bool {
	for {
		var cont bool
		switch pf.state {
		case stateRequest:
			cont = pf.handleRequest(r)
		case stateHeaders:
			cont = pf.handleHeaders()
		case stateContent:
			cont = pf.handleContent()
		default:
			return pf.maybeFinished()
		}
		if pf.promoted {
			// fd now belongs to the TunnelUp that replaced us; never ask the
			// reactor to remove it.
			return false
		}
		if !cont {
			return pf.maybeFinished()
		}
	}
}

func (pf *ProxyFront) handleRequest(r *reactor.Reactor) bool {
	if pf.sock.RecvLen() > wire.MaxRequestSize {
		pf.sendError(500, "Internal Error")
		return false
	}
	line, rest, ok := wire.NextLine(pf.sock.RecvBuf())
	if !ok {
		return false
	}
	pf.sock.ReplaceRecvBuf(rest)

	rl, err := wire.ParseRequestLine(string(line))
	if err != nil {
		pf.sendError(500, "Unsupported http request")
		return false
	}
	pf.ctx.Method = rl.Method
	pf.ctx.URI = rl.URI

	if rl.Method == "CONNECT" {
		pf.promoteToTunnel(r, rl.URI)
		return false
	}

	host, port, path, err := wire.SplitAbsoluteURI(rl.URI)
	if err != nil {
		pf.sendError(400, "Bad request")
		return false
	}
	pf.path = path

	if hit, err := pf.cache.Lookup(pf.ctx); err != nil {
		pf.log.Warn("cache lookup failed", "uri", rl.URI, "error", err)
	} else if hit {
		if err := pf.cache.OpenReader(pf.ctx); err != nil {
			pf.log.Warn("cache open_reader failed", "uri", rl.URI, "error", err)
		} else {
			pf.log.InfoCacheHit(rl.URI, 0)
			pf.servingFromCache = true
			pf.state = stateClosing
			pf.pumpCache()
			return false
		}
	}
	pf.log.InfoCacheMiss(rl.URI)

	back, err := proxyback.New(pf, pf.ctx, pf.cache, host, port, pf.log)
	if err != nil {
		pf.log.Warn("origin connect failed", "host", host, "port", port, "error", err)
		pf.sendError(500, "Internal Error")
		return false
	}
	pf.back = back
	r.Register(back)
	back.EnqueueUpstream([]byte(fmt.Sprintf("%s %s %s%s", rl.Method, path, wire.HTTPSignature, wire.CRLF)))

	pf.state = stateHeaders
	return true
}

func (pf *ProxyFront) handleHeaders() bool {
	if pf.sock.RecvLen() > wire.MaxRequestSize {
		pf.sendError(500, "Internal Error")
		return false
	}
	line, rest, ok := wire.NextLine(pf.sock.RecvBuf())
	if !ok {
		return false
	}
	pf.sock.ReplaceRecvBuf(rest)

	if len(line) == 0 {
		pf.ctx.Headers.Each(func(name, value string) {
			pf.back.EnqueueUpstream([]byte(name + ": " + value + wire.CRLF))
		})
		pf.back.EnqueueUpstream([]byte(wire.CRLF))

		n, err := pf.ctx.Headers.ContentLength()
		if err != nil {
			pf.sendError(500, "Internal Error")
			return false
		}
		pf.remaining = n
		if pf.remaining == 0 {
			pf.state = stateClosing
			return false
		}
		pf.state = stateContent
		return true
	}

	if err := wire.AddHeaderLine(string(line), pf.ctx.Headers); err != nil {
		pf.sendError(500, "Internal Error")
		return false
	}
	return true
}

func (pf *ProxyFront) handleContent() bool {
	buf := pf.sock.RecvBuf()
	if len(buf) == 0 {
		return false
	}
	take := len(buf)
	if take > pf.remaining {
		take = pf.remaining
	}
	if take > 0 {
		pf.back.EnqueueUpstream(buf[:take])
		pf.sock.Consume(take)
		pf.remaining -= take
	}
	if pf.remaining == 0 {
		pf.state = stateClosing
		return false
	}
	return true
}

func (pf *ProxyFront) pumpCache() {
	chunk, err := pf.cache.LoadChunk(pf.ctx, pf.sock.SendLen())
	if err != nil {
		pf.log.Warn("cache load_chunk failed", "uri", pf.ctx.URI, "error", err)
		pf.cacheDone = true
		return
	}
	if len(chunk) == 0 {
		pf.cacheDone = true
		return
	}
	pf.sock.Enqueue(chunk)
}

func (pf *ProxyFront) promoteToTunnel(r *reactor.Reactor, target string) {
	host, port, err := wire.SplitHostPort(target, 443)
	if err != nil {
		pf.sendError(400, "Bad request")
		return
	}
	fd := pf.sock.FD()
	up := tunnel.NewUp(fd, host, port, r, pf.log)
	r.Replace(fd, up)
	// The accepted socket now belongs to the TunnelUp endpoint; detach it
	// from ProxyFront so Close() never touches it, and never let this
	// ProxyFront be scheduled again.
	pf.sock = netio.New(-1)
	pf.promoted = true
}
