// Package wire implements the line, header and status primitives shared by
// the proxy and admin protocol state machines: CRLF extraction, header
// accumulation, request/status line validation and the management page's
// HTML fragments.
package wire

import "time"

const (
	// BlockSize is the chunk size used for every non-blocking recv/read.
	BlockSize = 1024
	// CRLF is the HTTP/1.1 line terminator.
	CRLF = "\r\n"
	// HTTPSignature is the only protocol version this proxy speaks.
	HTTPSignature = "HTTP/1.1"
	// MaxHeaderLength is a length limit for a single header line. No parser
	// in this package checks it; the front ends bound request lines and
	// headers only through MaxRequestSize, and origin response headers are
	// not length-bounded.
	MaxHeaderLength = 4096
	// MaxHeaderCount bounds the number of headers a request/response may carry.
	MaxHeaderCount = 100
	// ToSendMaxSize is the backpressure ceiling for a send buffer.
	ToSendMaxSize = 4096
	// MaxRequestSize bounds the accumulated receive buffer before REQUEST/HEADERS
	// give up and reply with a synthetic error.
	MaxRequestSize = 1000

	// StatsWindow is the sliding window the admin throughput block reports over.
	StatsWindow = 10 * time.Second
)

var crlfBytes = []byte(CRLF)
