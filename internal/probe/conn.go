package probe

import (
	"errors"
	"net"
	"net/http/httptrace"
	"sync"
	"time"
)

var errPoolTimeout = errors.New("timed out waiting for a connection")

// deadlineConn refreshes the read or write deadline before every I/O call,
// so Read and Write bound each socket operation rather than the request.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.write > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.write)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// phase records how far the current request hop got.
type phase struct {
	connected bool
	wrote     bool
}

// phaseTracker follows a request through httptrace hooks. It fires
// onPoolTimeout if a connection request is not picked up within pool, and
// remembers the phase so timeouts can be attributed. Hooks may run on
// transport goroutines.
type phaseTracker struct {
	pool          time.Duration
	onPoolTimeout func()

	mu    sync.Mutex
	timer *time.Timer
	cur   phase
}

func newPhaseTracker(pool time.Duration, onPoolTimeout func()) *phaseTracker {
	return &phaseTracker{pool: pool, onPoolTimeout: onPoolTimeout}
}

func (t *phaseTracker) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) {
			t.startWait()
		},
		DNSStart: func(httptrace.DNSStartInfo) {
			t.endWait()
		},
		ConnectStart: func(string, string) {
			t.endWait()
		},
		GotConn: func(httptrace.GotConnInfo) {
			t.endWait()
			t.mu.Lock()
			t.cur.connected = true
			t.mu.Unlock()
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			t.mu.Lock()
			t.cur.wrote = info.Err == nil
			t.mu.Unlock()
		},
	}
}

// startWait begins a new hop: redirects ask for a fresh connection.
func (t *phaseTracker) startWait() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cur = phase{}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.pool > 0 && t.onPoolTimeout != nil {
		t.timer = time.AfterFunc(t.pool, t.onPoolTimeout)
	}
}

func (t *phaseTracker) endWait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *phaseTracker) stop() {
	t.endWait()
}

func (t *phaseTracker) snapshot() phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}
