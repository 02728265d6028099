// Package netio wraps the raw non-blocking socket operations every protocol
// state machine needs: a bounded send buffer enforcing spec.md's
// TO_SEND_MAXSIZE backpressure, a receive buffer accumulating bytes between
// parses, and the recv/send wrappers that turn EWOULDBLOCK/EAGAIN/EINPROGRESS
// into the benign "try again later" spec.md §7 calls for.
package netio

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/oferbear/HTTP-proxy/internal/wire"
)

// ErrWouldBlock signals a transient condition the caller should treat as "no
// progress this round" rather than an error.
var ErrWouldBlock = errors.New("netio: would block")

// ErrPeerClosed signals recv returning zero bytes: an orderly peer shutdown.
var ErrPeerClosed = errors.New("netio: peer closed")

func isRetryable(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// Socket is a non-blocking file descriptor plus the append-only send buffer
// and raw receive buffer spec.md's Endpoint attributes describe.
type Socket struct {
	fd      int
	sendBuf []byte
	recvBuf []byte
	closed  bool
}

// New wraps an already-non-blocking fd.
func New(fd int) *Socket {
	return &Socket{fd: fd}
}

// FD returns the underlying file descriptor.
func (s *Socket) FD() int { return s.fd }

// SendLen reports how many bytes are queued to write.
func (s *Socket) SendLen() int { return len(s.sendBuf) }

// RecvLen reports how many unparsed bytes are buffered.
func (s *Socket) RecvLen() int { return len(s.recvBuf) }

// RecvBuf exposes the accumulated receive buffer for parsing. Callers that
// consume a prefix must call Consume with the number of bytes used.
func (s *Socket) RecvBuf() []byte { return s.recvBuf }

// Consume drops the first n bytes of the receive buffer, e.g. after a parser
// extracts a complete line or chunk.
func (s *Socket) Consume(n int) {
	s.recvBuf = append(s.recvBuf[:0], s.recvBuf[n:]...)
}

// ReplaceRecvBuf installs rest as the new receive buffer — used after
// wire.NextLine returns the remainder of the original slice.
func (s *Socket) ReplaceRecvBuf(rest []byte) {
	buf := make([]byte, len(rest))
	copy(buf, rest)
	s.recvBuf = buf
}

// Enqueue appends p to the send buffer.
func (s *Socket) Enqueue(p []byte) {
	s.sendBuf = append(s.sendBuf, p...)
}

// HasRoom reports whether the send buffer is still below
// wire.ToSendMaxSize — the backpressure test spec.md §4.2 describes.
func (s *Socket) HasRoom() bool {
	return len(s.sendBuf) < wire.ToSendMaxSize
}

// Recv reads up to wire.BlockSize bytes into the receive buffer. It returns
// ErrWouldBlock for EAGAIN/EWOULDBLOCK/EINTR (the caller should simply wait
// for the next readiness event), ErrPeerClosed for an orderly zero-byte
// read, or any other error as fatal (spec.md §7 taxonomy classes 2 and 3).
func (s *Socket) Recv() (n int, err error) {
	buf := make([]byte, wire.BlockSize)
	n, err = unix.Read(s.fd, buf)
	if err != nil {
		if isRetryable(err) {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("recv: %w", err)
	}
	if n == 0 {
		return 0, ErrPeerClosed
	}
	s.recvBuf = append(s.recvBuf, buf[:n]...)
	return n, nil
}

// Flush writes as much of the send buffer as the socket will currently
// accept. done reports whether the buffer fully drained.
func (s *Socket) Flush() (done bool, err error) {
	for len(s.sendBuf) > 0 {
		n, werr := unix.Write(s.fd, s.sendBuf)
		if werr != nil {
			if isRetryable(werr) {
				return false, nil
			}
			return false, fmt.Errorf("send: %w", werr)
		}
		s.sendBuf = s.sendBuf[n:]
	}
	return true, nil
}

// Close releases the descriptor. Safe to call at most once.
func (s *Socket) Close() {
	if s.closed {
		return
	}
	s.closed = true
	unix.Close(s.fd) //nolint:errcheck
}
