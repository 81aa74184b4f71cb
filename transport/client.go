package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
)

// ClientTransport owns one logical connection's HTTP/2 session from the
// client's side: dialing, the ConnectivityState machine, reconnect
// backoff, max-idle closing, and graceful shutdown (spec.md §4.4). It
// issues RPCs as *http.Request/*http.Response pairs over an
// *http2.Transport dialed directly against the target address, the same
// "own the transport, don't go through net/http's default dialer" posture
// gateway.NewHTTP2Transport takes for the server side.
type ClientTransport struct {
	addr string
	opts Options

	state   *StateMachine
	backoff *Backoff
	window  *Window
	keep    *ackTracker

	mu        sync.Mutex
	http2Tr   *http2.Transport
	client    *http.Client
	pingConn  *http2.ClientConn
	lastUse   time.Time
	inflight  int64
	closeOnce sync.Once

	shuttingDown atomic.Bool
}

// NewClientTransport creates a ClientTransport targeting addr. Dialing is
// lazy: the session is established on the first RPC, or by calling
// WaitForReady explicitly to pre-warm it.
func NewClientTransport(addr string, opts Options) *ClientTransport {
	return &ClientTransport{
		addr:    addr,
		opts:    opts,
		state:   NewStateMachine(),
		backoff: NewBackoff(opts.Backoff),
		window:  NewWindow(effectiveWindowSize(opts.InitialWindowSize)),
		keep:    newAckTracker(),
		lastUse: time.Now(),
	}
}

func effectiveWindowSize(n int64) int64 {
	if n <= 0 {
		return defaultInitialWindowSize
	}
	return n
}

// State returns the current ConnectivityState.
func (c *ClientTransport) State() ConnectivityState {
	return c.state.Current()
}

// WaitForReady blocks until the connection reaches Ready or ctx is done,
// implementing the waitForReady suspension point (spec.md §5d).
func (c *ClientTransport) WaitForReady(ctx context.Context) error {
	c.ensureDialing()
	got := c.state.WaitFor(Ready, ctx.Done())
	if got != Ready {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrConnectionShutdown
	}
	return nil
}

// ensureDialing kicks off a connect attempt if the machine is Idle.
func (c *ClientTransport) ensureDialing() {
	if c.state.Current() != Idle {
		return
	}
	if err := c.state.Transition(Connecting); err != nil {
		return
	}
	go c.dial()
}

// dial establishes the HTTP/2 session, retrying with backoff on failure
// until it succeeds or the transport is shut down.
func (c *ClientTransport) dial() {
	for {
		if c.shuttingDown.Load() {
			_ = c.state.Transition(Shutdown)
			return
		}

		tr := &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		}

		conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
		if err != nil {
			c.opts.logf("transport: dial %s failed: %v", c.addr, err)
			_ = c.state.Transition(TransientFailure)
			c.waitBackoff()
			_ = c.state.Transition(Connecting)
			continue
		}

		// A dedicated ClientConn over this probe connection gives the
		// keepalive loop a real wire-level PING to drive (c.sendKeepalivePing);
		// http2.Transport dials its own separate conns per request through
		// DialTLSContext, the same split gateway.HTTP2Transport's dial probe
		// and its request path use.
		cc, err := tr.NewClientConn(conn)
		if err != nil {
			_ = conn.Close()
			c.opts.logf("transport: http2 handshake with %s failed: %v", c.addr, err)
			_ = c.state.Transition(TransientFailure)
			c.waitBackoff()
			_ = c.state.Transition(Connecting)
			continue
		}

		c.mu.Lock()
		c.http2Tr = tr
		c.client = &http.Client{Transport: tr}
		c.pingConn = cc
		c.mu.Unlock()

		c.backoff.Reset()
		_ = c.state.Transition(Ready)
		go c.keepaliveLoop()
		return
	}
}

// keepaliveLoop sends a PING every KeepaliveParams.Time and relies on
// ackTracker to notice a missing ack (spec.md §4.4: "if no PING-ACK within
// keepalive.timeout, close the connection with unavailable"). The interval
// is a fixed ticker: recent traffic does not postpone a ping, and a tick
// with no RPC in flight sends nothing unless PermitWithoutStream is set.
// A zero Time
// disables keepalive entirely, matching DefaultKeepaliveParams' 2h-or-off
// posture.
func (c *ClientTransport) keepaliveLoop() {
	params := c.opts.KeepaliveParams
	if params.Time <= 0 {
		return
	}

	ticker := time.NewTicker(params.Time)
	defer ticker.Stop()
	for range ticker.C {
		if c.shuttingDown.Load() || c.state.Current() != Ready {
			return
		}
		if atomic.LoadInt64(&c.inflight) == 0 && !params.PermitWithoutStream {
			continue
		}
		c.sendKeepalivePing(params.Timeout)
	}
}

// sendKeepalivePing issues one PING over the dedicated ping connection and
// arms ackTracker to close the transport if the ack never arrives.
func (c *ClientTransport) sendKeepalivePing(timeout time.Duration) {
	c.mu.Lock()
	cc := c.pingConn
	c.mu.Unlock()
	if cc == nil {
		return
	}

	c.keep.sentPing(timeout, func() {
		c.opts.logf("transport: keepalive ping to %s timed out after %s", c.addr, timeout)
		_ = c.state.Transition(TransientFailure)
		c.closeNow()
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := cc.Ping(ctx); err != nil {
		c.opts.logf("transport: keepalive ping to %s failed: %v", c.addr, err)
		return // ackTracker's own timer closes the transport shortly.
	}
	c.keep.receivedAck()
}

func (c *ClientTransport) waitBackoff() {
	time.Sleep(c.backoff.Next())
}

// RoundTrip issues one HTTP/2 request and returns its response, used by
// the calls package's transport-facing glue to open a stream. It returns
// ErrConnectionShutdown if graceful shutdown has begun, matching spec.md
// §4.4: "stop accepting new RPCs; fail with unavailable".
func (c *ClientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if c.shuttingDown.Load() {
		return nil, ErrConnectionShutdown
	}

	c.ensureDialing()
	if err := c.WaitForReady(req.Context()); err != nil {
		return nil, err
	}

	// Request credit from the connection window before writing, the same
	// "streams request credit from the Window they are bound to" discipline
	// spec.md §4.4 requires of outbound DATA; an unknown (streaming)
	// ContentLength reserves a full window's worth conservatively.
	size := effectiveWindowSize(c.opts.InitialWindowSize)
	if req.ContentLength > 0 && req.ContentLength < size {
		size = req.ContentLength
	}
	if err := c.window.Acquire(req.Context(), size); err != nil {
		return nil, err
	}
	defer c.window.Replenish(size)

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	atomic.AddInt64(&c.inflight, 1)
	defer atomic.AddInt64(&c.inflight, -1)
	c.mu.Lock()
	c.lastUse = time.Now()
	c.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		_ = c.state.Transition(TransientFailure)
		return nil, err
	}
	return resp, nil
}

// Shutdown begins graceful shutdown: no new RPCs are admitted, and
// Shutdown blocks until every in-flight RPC completes or ctx expires, then
// closes the session (spec.md §4.4 client graceful shutdown).
func (c *ClientTransport) Shutdown(ctx context.Context) error {
	c.shuttingDown.Store(true)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if atomic.LoadInt64(&c.inflight) == 0 {
			c.closeNow()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *ClientTransport) closeNow() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		tr := c.http2Tr
		cc := c.pingConn
		c.mu.Unlock()
		if cc != nil {
			_ = cc.Close()
		}
		if tr != nil {
			tr.CloseIdleConnections()
		}
		_ = c.state.Transition(Shutdown)
	})
}

// CheckMaxIdle closes the connection if it has had no stream open for
// longer than opts.MaxIdleTime, reopening lazily on the next RPC (spec.md
// §4.4: "if no stream has been open for idle.maxTime, close the
// connection; reopen on next RPC"). A caller should invoke this
// periodically (e.g. from a ticker).
func (c *ClientTransport) CheckMaxIdle() {
	if c.opts.MaxIdleTime <= 0 {
		return
	}
	if atomic.LoadInt64(&c.inflight) > 0 {
		return
	}
	if c.state.Current() != Ready {
		return
	}

	c.mu.Lock()
	idleFor := time.Since(c.lastUse)
	tr := c.http2Tr
	cc := c.pingConn
	c.mu.Unlock()

	if idleFor < c.opts.MaxIdleTime {
		return
	}
	if cc != nil {
		_ = cc.Close()
	}
	if tr != nil {
		tr.CloseIdleConnections()
	}
	_ = c.state.Transition(Idle)
}
