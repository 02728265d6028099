package wire

import (
	"fmt"
	"strings"
)

// RequestLine is a parsed "METHOD URI HTTP/1.1" line.
type RequestLine struct {
	Method    string
	URI       string
	Signature string
}

// ParseRequestLine validates and splits a client request line. Only GET and
// CONNECT are accepted methods — anything else is a protocol violation per
// spec.md §4.3.
func ParseRequestLine(line string) (RequestLine, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return RequestLine{}, fmt.Errorf("incomplete request line %q", line)
	}
	method, uri, signature := parts[0], parts[1], parts[2]
	if signature != HTTPSignature {
		return RequestLine{}, fmt.Errorf("not HTTP/1.1: %q", line)
	}
	if method != "GET" && method != "CONNECT" {
		return RequestLine{}, fmt.Errorf("unsupported method %q", method)
	}
	if uri == "" {
		return RequestLine{}, fmt.Errorf("invalid URI")
	}
	return RequestLine{Method: method, URI: uri, Signature: signature}, nil
}

// StatusLine is a parsed "HTTP/1.1 <code> <reason>" line.
type StatusLine struct {
	Signature string
	Code      string
	Reason    string
}

// ParseStatusLine validates and splits an origin's response status line.
func ParseStatusLine(line string) (StatusLine, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return StatusLine{}, fmt.Errorf("incomplete status line %q", line)
	}
	if parts[0] != HTTPSignature {
		return StatusLine{}, fmt.Errorf("not HTTP/1.1: %q", line)
	}
	return StatusLine{Signature: parts[0], Code: parts[1], Reason: parts[2]}, nil
}

// ReturnStatus builds a synthetic plain-text error response, as spec.md §7
// requires for parse failures detected on either protocol's front end.
func ReturnStatus(code int, message string) []byte {
	body := fmt.Sprintf(
		"%s %d %s\r\nContent-Type: text/plain\r\n\r\nError %d %s\r\n",
		HTTPSignature, code, message, code, message,
	)
	return []byte(body)
}
