package reactor

import (
	"context"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// readOnce is a minimal Pollable that reports one byte read, then asks to
// be removed.
type readOnce struct {
	fd      int
	f       *os.File
	got     chan byte
	removed bool
}

func (p *readOnce) FD() int    { return p.fd }
func (p *readOnce) Events() Events {
	if p.removed {
		return 0
	}
	return Readable | ErrorEvent
}
func (p *readOnce) OnReadable(r *Reactor) bool {
	buf := make([]byte, 1)
	n, _ := p.f.Read(buf)
	if n == 1 {
		p.got <- buf[0]
	}
	p.removed = true
	return true
}
func (p *readOnce) OnWritable(r *Reactor) bool { return false }
func (p *readOnce) OnError(r *Reactor) bool    { return true }
func (p *readOnce) OnHangup(r *Reactor) bool   { return true }
func (p *readOnce) Close()                     { p.f.Close() }

func TestReactorDispatchesReadable(t *testing.T) {
	rd, wr, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer wr.Close()

	if err := unix.SetNonblock(int(rd.Fd()), true); err != nil {
		t.Fatal(err)
	}

	re, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}

	p := &readOnce{fd: int(rd.Fd()), f: rd, got: make(chan byte, 1)}
	re.Register(p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- re.Run(ctx) }()

	if _, err := wr.Write([]byte{42}); err != nil {
		t.Fatal(err)
	}

	select {
	case b := <-p.got:
		if b != 42 {
			t.Fatalf("got %d want 42", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readable dispatch")
	}

	cancel()
	re.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not stop")
	}
}
