// Package reactor implements the single-threaded, level-triggered I/O
// multiplexer described in spec.md §4.1: one goroutine owns an epoll
// instance, every registered Pollable is a non-blocking file descriptor, and
// each ready descriptor gets exactly one of error/readable/hangup/writable
// dispatched per iteration, in that priority order.
package reactor

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/oferbear/HTTP-proxy/internal/logger"
)

// Events is the bitset a Pollable requests to be woken up for.
type Events uint32

const (
	Readable Events = 1 << iota
	Writable
	ErrorEvent
)

func (e Events) toEpoll() uint32 {
	var m uint32
	if e&Readable != 0 {
		m |= unix.EPOLLIN
	}
	if e&Writable != 0 {
		m |= unix.EPOLLOUT
	}
	// EPOLLERR and EPOLLHUP are always reported by the kernel regardless of
	// the requested mask; ErrorEvent exists only for Pollable.Events() to
	// express "I still want errors", mirroring select.POLLERR always being
	// OR'd in by the original poller.
	return m
}

// Pollable is the capability contract every reactor-managed endpoint
// implements (spec.md §4.2). A handler may mutate internal state, enqueue
// bytes to a peer, Register a new endpoint with the Reactor, or return true
// to request its own removal.
type Pollable interface {
	FD() int
	Events() Events
	OnReadable(r *Reactor) (remove bool)
	OnWritable(r *Reactor) (remove bool)
	OnError(r *Reactor) (remove bool)
	OnHangup(r *Reactor) (remove bool)
	// Close releases the underlying file descriptor. Called by the Reactor
	// exactly once: after the handler that requested removal returns, or
	// from Remove when another endpoint tears this one down.
	Close()
}

// Reactor owns the epoll fd and the registration set. It is not safe for
// concurrent use except for Stop, which may be called from any goroutine.
type Reactor struct {
	epfd      int
	wakeR     int
	wakeW     int
	pollables map[int]Pollable
	known     map[int]uint32 // fd -> last epoll_ctl mask, to decide ADD vs MOD
	log       *logger.StyledLogger
}

// New creates a Reactor. log (which may be nil) receives epoll_ctl failures
// and handler-exception reports (spec.md §7.5).
func New(log *logger.StyledLogger) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	var wakeFDs [2]int
	if err := unix.Pipe2(wakeFDs[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("pipe2: %w", err)
	}
	r := &Reactor{
		epfd:      epfd,
		wakeR:     wakeFDs[0],
		wakeW:     wakeFDs[1],
		pollables: make(map[int]Pollable),
		known:     make(map[int]uint32),
		log:       log,
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(r.wakeR),
	}); err != nil {
		r.closeAll()
		return nil, fmt.Errorf("epoll_ctl wake: %w", err)
	}
	return r, nil
}

// Register adds p to the registration set, arming its fd with its current
// event mask immediately.
func (r *Reactor) Register(p Pollable) {
	fd := p.FD()
	r.pollables[fd] = p
	r.rearm(fd, p.Events())
}

func (r *Reactor) rearm(fd int, ev Events) {
	mask := ev.toEpoll()
	op := unix.EPOLL_CTL_MOD
	if _, known := r.known[fd]; !known {
		op = unix.EPOLL_CTL_ADD
	}
	if m, known := r.known[fd]; known && m == mask {
		return
	}
	if err := unix.EpollCtl(r.epfd, op, fd, &unix.EpollEvent{Events: mask, Fd: int32(fd)}); err != nil {
		if r.log != nil {
			r.log.Warn("epoll_ctl failed", "fd", fd, "op", op, "error", err)
		}
		return
	}
	r.known[fd] = mask
}

func (r *Reactor) deregister(fd int) {
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil) //nolint:errcheck
	delete(r.pollables, fd)
	delete(r.known, fd)
}

// Replace swaps the Pollable registered at fd for replacement without
// closing fd — used when one endpoint hands its file descriptor to another
// (ProxyFront promoting an accepted socket into a TunnelUp on CONNECT). The
// old Pollable's handler must return false (no removal) after calling this;
// the slot now belongs to replacement.
func (r *Reactor) Replace(fd int, replacement Pollable) {
	delete(r.pollables, fd)
	r.Register(replacement)
}

// Remove closes and deregisters the Pollable at fd immediately, rather than
// waiting for it to be scheduled by its own next readiness event. Peer
// notifications (one endpoint telling another "I'm done") can leave a
// Pollable with an empty event mask that would otherwise never be dispatched
// again; callers use Remove from that notification to tear it down on the
// spot. Safe to call for an fd that is not (or no longer) registered.
func (r *Reactor) Remove(fd int) {
	if p, ok := r.pollables[fd]; ok {
		p.Close()
	}
	r.deregister(fd)
}

// Stop unblocks a running Run loop so it can observe ctx cancellation and
// return. Safe to call from any goroutine, any number of times.
func (r *Reactor) Stop() {
	unix.Write(r.wakeW, []byte{0}) //nolint:errcheck
}

func (r *Reactor) closeAll() {
	for fd := range r.pollables {
		unix.Close(fd) //nolint:errcheck
	}
	unix.Close(r.wakeR) //nolint:errcheck
	unix.Close(r.wakeW) //nolint:errcheck
	unix.Close(r.epfd)  //nolint:errcheck
}

const maxEventsPerWait = 256

// Run drives the reactor loop until ctx is cancelled or Stop is called.
// Every iteration rebuilds each registered Pollable's desired event mask,
// waits for readiness, then dispatches exactly one handler per ready fd in
// the priority order error > readable > hangup > writable (spec.md §4.1).
// A handler panic (equivalent to the original's uncaught exception) is
// logged and the offending endpoint is scheduled for removal; the loop
// itself never stops because of it.
func (r *Reactor) Run(ctx context.Context) error {
	defer r.closeAll()
	events := make([]unix.EpollEvent, maxEventsPerWait)

	for {
		if ctx.Err() != nil {
			return nil
		}

		for fd, p := range r.pollables {
			r.rearm(fd, p.Events())
		}

		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		var toRemove []int
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakeR {
				drainWake(r.wakeR)
				continue
			}
			p, ok := r.pollables[fd]
			if !ok {
				continue
			}
			mask := events[i].Events
			remove := r.dispatch(p, mask)
			if remove {
				toRemove = append(toRemove, fd)
			}
		}

		for _, fd := range toRemove {
			if p, ok := r.pollables[fd]; ok {
				p.Close()
			}
			r.deregister(fd)
		}
	}
}

func drainWake(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// dispatch runs exactly one handler for a ready fd, in priority order, and
// recovers from a handler panic the way spec.md §7.5 requires: log it,
// remove the endpoint, keep the loop alive.
func (r *Reactor) dispatch(p Pollable, mask uint32) (remove bool) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.log != nil {
				r.log.Error("reactor handler panicked", "fd", p.FD(), "panic", rec)
			}
			remove = true
		}
	}()

	switch {
	case mask&unix.EPOLLERR != 0:
		return p.OnError(r)
	case mask&unix.EPOLLIN != 0:
		return p.OnReadable(r)
	case mask&unix.EPOLLHUP != 0:
		return p.OnHangup(r)
	case mask&unix.EPOLLOUT != 0:
		return p.OnWritable(r)
	}
	return false
}
