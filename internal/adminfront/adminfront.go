// Package adminfront implements spec.md §4.7: the seven-state machine on
// the management port. Request parsing mirrors ProxyFront's first three
// states; the four response states render the /manage HTML page or stream
// a static file from the configured base directory.
package adminfront

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/oferbear/HTTP-proxy/internal/cache"
	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/mime"
	"github.com/oferbear/HTTP-proxy/internal/netio"
	"github.com/oferbear/HTTP-proxy/internal/reactor"
	"github.com/oferbear/HTTP-proxy/internal/stats"
	"github.com/oferbear/HTTP-proxy/internal/wire"
)

type state int

const (
	stateRequest state = iota
	stateHeaders
	stateContent
	stateRespStatus
	stateRespHeader
	stateRespContent
	stateClosing
)

type bodySource interface {
	next(max int) (chunk []byte, done bool, err error)
	close()
}

type memBody struct {
	data []byte
	pos  int
}

func (m *memBody) next(max int) ([]byte, bool, error) {
	if m.pos >= len(m.data) {
		return nil, true, nil
	}
	end := m.pos + max
	if end > len(m.data) {
		end = len(m.data)
	}
	chunk := m.data[m.pos:end]
	m.pos = end
	return chunk, m.pos >= len(m.data), nil
}

func (m *memBody) close() {}

type fileBody struct{ f *os.File }

func (fb *fileBody) next(max int) ([]byte, bool, error) {
	buf := make([]byte, max)
	n, err := fb.f.Read(buf)
	if n == 0 {
		return nil, true, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return buf[:n], false, err
	}
	return buf[:n], false, nil
}

func (fb *fileBody) close() { fb.f.Close() }

// AdminFront is one connection accepted on the management port.
type AdminFront struct {
	sock  *netio.Socket
	cache *cache.Cache
	stats *stats.Statistics
	base  string
	log   *logger.StyledLogger

	headers   *wire.Headers
	state     state
	uri       string
	remaining int

	statusLine string
	headerBlk  []byte
	body       bodySource
}

// New wraps an accepted admin-port socket.
func New(fd int, c *cache.Cache, st *stats.Statistics, base string, log *logger.StyledLogger) *AdminFront {
	return &AdminFront{
		sock:    netio.New(fd),
		cache:   c,
		stats:   st,
		base:    base,
		log:     log,
		headers: wire.NewHeaders(),
		state:   stateRequest,
	}
}

// FD implements reactor.Pollable.
func (a *AdminFront) FD() int { return a.sock.FD() }

// Events implements reactor.Pollable.
func (a *AdminFront) Events() reactor.Events {
	var e reactor.Events
	switch a.state {
	case stateRequest, stateHeaders, stateContent:
		e |= reactor.Readable
	}
	if a.sock.SendLen() > 0 {
		e |= reactor.Writable
	}
	if a.state == stateRespContent && a.body != nil {
		e |= reactor.Writable
	}
	return e
}

// OnReadable implements reactor.Pollable.
func (a *AdminFront) OnReadable(r *reactor.Reactor) bool {
	_, err := a.sock.Recv()
	switch {
	case err == nil:
		return a.advance()
	case err == netio.ErrWouldBlock:
		return false
	default:
		return true
	}
}

// OnWritable implements reactor.Pollable.
func (a *AdminFront) OnWritable(r *reactor.Reactor) bool {
	if a.state == stateRespContent {
		a.advance()
	}
	if _, err := a.sock.Flush(); err != nil {
		return true
	}
	return a.finished()
}

// OnError implements reactor.Pollable.
func (a *AdminFront) OnError(r *reactor.Reactor) bool { return true }

// OnHangup implements reactor.Pollable.
func (a *AdminFront) OnHangup(r *reactor.Reactor) bool { return true }

// Close implements reactor.Pollable.
func (a *AdminFront) Close() {
	if a.body != nil {
		a.body.close()
	}
	a.sock.Close()
}

func (a *AdminFront) finished() bool {
	return a.state == stateClosing && a.sock.SendLen() == 0
}

func (a *AdminFront) advance() bool {
	for {
		var cont bool
		switch a.state {
		case stateRequest:
			cont = a.handleRequest()
		case stateHeaders:
			cont = a.handleHeaders()
		case stateContent:
			cont = a.handleContent()
		case stateRespStatus:
			cont = a.handleRespStatus()
		case stateRespHeader:
			cont = a.handleRespHeader()
		case stateRespContent:
			cont = a.handleRespContent()
		default:
			return a.finished()
		}
		if !cont {
			return a.finished()
		}
	}
}

func (a *AdminFront) handleRequest() bool {
	if a.sock.RecvLen() > wire.MaxRequestSize {
		a.sendError(500, "Internal Error")
		return false
	}
	line, rest, ok := wire.NextLine(a.sock.RecvBuf())
	if !ok {
		return false
	}
	a.sock.ReplaceRecvBuf(rest)

	rl, err := wire.ParseRequestLine(string(line))
	if err != nil || rl.Method != "GET" {
		a.sendError(500, "Unsupported http request")
		return false
	}
	a.uri = rl.URI
	a.state = stateHeaders
	return true
}

func (a *AdminFront) handleHeaders() bool {
	if a.sock.RecvLen() > wire.MaxRequestSize {
		a.sendError(500, "Internal Error")
		return false
	}
	line, rest, ok := wire.NextLine(a.sock.RecvBuf())
	if !ok {
		return false
	}
	a.sock.ReplaceRecvBuf(rest)

	if len(line) == 0 {
		n, err := a.headers.ContentLength()
		if err != nil {
			a.sendError(500, "Internal Error")
			return false
		}
		a.remaining = n
		if a.remaining == 0 {
			a.decideResponse()
			return true
		}
		a.state = stateContent
		return true
	}

	if err := wire.AddHeaderLine(string(line), a.headers); err != nil {
		a.sendError(500, "Internal Error")
		return false
	}
	return true
}

func (a *AdminFront) handleContent() bool {
	buf := a.sock.RecvBuf()
	if len(buf) == 0 {
		return false
	}
	take := len(buf)
	if take > a.remaining {
		take = a.remaining
	}
	a.sock.Consume(take)
	a.remaining -= take
	if a.remaining == 0 {
		a.decideResponse()
		return true
	}
	return true
}

func (a *AdminFront) decideResponse() {
	path, query, _ := strings.Cut(a.uri, "?")
	if path == "/manage" {
		a.renderManage(query)
		return
	}
	// original_source skips the access-log line for style.css to avoid log
	// spam from the management page's auto-refresh.
	if path != "/style.css" {
		a.log.Info("admin request", "uri", a.uri)
	}
	a.serveStatic(path)
}

func (a *AdminFront) renderManage(query string) {
	if values, err := url.ParseQuery(query); err == nil {
		if target := values.Get("url"); target != "" {
			if target == "all" {
				if err := a.cache.DeleteAll(); err != nil {
					a.log.Warn("delete_all failed", "error", err)
				}
			} else if err := a.cache.Delete(target); err != nil {
				a.log.Warn("delete failed", "uri", target, "error", err)
			}
		}
	}

	rows, err := a.cache.ListCached()
	if err != nil {
		a.log.Warn("list_cached failed", "error", err)
	}
	throughput := a.stats.Throughput(wire.StatsWindow)
	entryCount, totalBytes, err := a.cache.Stats()
	if err != nil {
		a.log.Warn("cache stats failed", "error", err)
	}

	var html strings.Builder
	html.WriteString("<html><body>")
	fmt.Fprintf(&html, "<p>Throughput: %.2f bytes/sec</p>", throughput)
	fmt.Fprintf(&html, "<p>Cache size: %d entries, %d bytes</p>", entryCount, totalBytes)
	html.WriteString(wire.BuildCacheTable(rows))
	html.WriteString(wire.DeleteAllForm())
	html.WriteString(wire.RefreshForm())
	html.WriteString("</body></html>")

	a.setResponse(200, "OK", "text/html", []byte(html.String()))
}

func (a *AdminFront) serveStatic(uriPath string) {
	clean := filepath.Clean("/" + uriPath)
	full := filepath.Join(a.base, clean)

	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		a.sendError(404, "File Not Found")
		return
	}
	if err != nil {
		a.sendError(500, "Internal Error")
		return
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		a.sendError(500, "Internal Error")
		return
	}
	if info.IsDir() {
		f.Close()
		a.sendError(404, "File Not Found")
		return
	}

	a.statusLine = fmt.Sprintf("%s 200 OK", wire.HTTPSignature)
	a.headerBlk = []byte(fmt.Sprintf(
		"Content-Type: %s\r\nContent-Length: %d\r\n\r\n",
		mime.ForPath(full), info.Size(),
	))
	a.body = &fileBody{f: f}
	a.state = stateRespStatus
}

func (a *AdminFront) setResponse(code int, reason, contentType string, body []byte) {
	a.statusLine = fmt.Sprintf("%s %d %s", wire.HTTPSignature, code, reason)
	a.headerBlk = []byte(fmt.Sprintf(
		"Content-Type: %s\r\nContent-Length: %d\r\n\r\n",
		contentType, len(body),
	))
	a.body = &memBody{data: body}
	a.state = stateRespStatus
}

func (a *AdminFront) sendError(code int, msg string) {
	a.sock.Enqueue(wire.ReturnStatus(code, msg))
	a.state = stateClosing
}

func (a *AdminFront) handleRespStatus() bool {
	a.sock.Enqueue([]byte(a.statusLine + wire.CRLF))
	a.state = stateRespHeader
	return true
}

func (a *AdminFront) handleRespHeader() bool {
	a.sock.Enqueue(a.headerBlk)
	a.state = stateRespContent
	return true
}

func (a *AdminFront) handleRespContent() bool {
	if a.body == nil {
		a.state = stateClosing
		return false
	}
	room := wire.ToSendMaxSize - a.sock.SendLen()
	if room <= 0 {
		return false
	}
	chunk, done, err := a.body.next(room)
	if err != nil {
		a.log.Warn("static file read failed", "error", err)
		a.body.close()
		a.body = nil
		a.state = stateClosing
		return false
	}
	a.sock.Enqueue(chunk)
	if done {
		a.body.close()
		a.body = nil
		a.state = stateClosing
		return false
	}
	return false
}
