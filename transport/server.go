package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const defaultReadHeaderTimeout = 10 * time.Second // slowloris mitigation

// ServerTransport owns one listener's HTTP/2 session lifecycle: it wraps
// inbound connections in h2c, checks keepalive signals against the
// server-side policy through ObservePing, tracks active streams for
// keepalive enforcement and graceful shutdown, and
// stops admitting new streams once Shutdown is called. Grounded on
// gateway.HTTP2Transport (gateway/http2_transport.go), generalized from a
// single shared enforcer to the same per-listener scope the teacher uses
// and extended with the graceful-drain spec.md §4.4 requires that the
// teacher's version does not implement.
type ServerTransport struct {
	opts     Options
	http2Srv *http2.Server
	enforcer *pingEnforcer
	window   *Window

	activeStreams sync.Map // streamKey -> struct{}
	streamCount   atomic.Int64
	wg            sync.WaitGroup

	shuttingDown atomic.Bool
}

// NewServerTransport creates a ServerTransport from opts, applying
// defaults for any zero-valued field.
func NewServerTransport(opts Options) *ServerTransport {
	if opts.MaxConcurrentStreams == 0 {
		opts.MaxConcurrentStreams = defaultMaxConcurrentStreams
	}
	return &ServerTransport{
		opts:     opts,
		enforcer: newPingEnforcer(opts.KeepaliveEnforcementPolicy),
		window:   NewWindow(effectiveWindowSize(opts.InitialWindowSize)),
		http2Srv: &http2.Server{
			MaxConcurrentStreams: opts.MaxConcurrentStreams,
			IdleTimeout:          opts.MaxIdleTime,
		},
	}
}

// Handler wraps next (the RPC dispatch handler) with h2c upgrade, stream
// tracking, flow-control metering, and shutdown rejection. Keepalive
// enforcement is not applied here; it runs only through ObservePing.
func (t *ServerTransport) Handler(next http.Handler) http.Handler {
	// windowedNext sits between h2c/http2.Server and the RPC dispatch
	// handler so every write next makes is metered against the connection's
	// flow-control Window (spec.md §4.4), without touching the outer
	// ResponseWriter h2c itself hijacks to perform the protocol upgrade.
	windowedNext := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&windowedResponseWriter{ResponseWriter: w, window: t.window, ctx: r.Context()}, r)
	})
	h2cHandler := h2c.NewHandler(windowedNext, t.http2Srv)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.shuttingDown.Load() {
			// spec.md §4.4: stop accepting new streams once shutdown begins.
			w.Header().Set("Grpc-Status", "14") // Unavailable
			w.Header().Set("Grpc-Message", "server is shutting down")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		key := fmt.Sprintf("%s-%d", r.RemoteAddr, time.Now().UnixNano())
		t.activeStreams.Store(key, struct{}{})
		t.streamCount.Add(1)
		t.wg.Add(1)
		defer func() {
			t.activeStreams.Delete(key)
			t.streamCount.Add(-1)
			t.wg.Done()
		}()

		h2cHandler.ServeHTTP(w, r)
	})
}

// ObservePing should be called by the dispatch handler whenever an
// application-level keepalive signal is observed (this package does not
// intercept raw HTTP/2 PING frames, which golang.org/x/net/http2 handles
// internally; it enforces the policy at the granularity the net/http
// handler model exposes, exactly as gateway.enforceKeepalive does).
func (t *ServerTransport) ObservePing() error {
	return t.enforcer.observePing(time.Now(), t.streamCount.Load() > 0)
}

// Shutdown marks the transport as draining: new streams are rejected with
// unavailable, and Shutdown blocks until every in-flight stream finishes
// or ctx is done (spec.md §4.4 server graceful shutdown). The underlying
// *http.Server's own Shutdown, called by the caller that owns it, is what
// actually emits GOAWAY — this method only governs this package's view of
// "still draining".
func (t *ServerTransport) Shutdown(ctx context.Context) error {
	t.shuttingDown.Store(true)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveStreamCount reports the number of in-flight streams.
func (t *ServerTransport) ActiveStreamCount() int64 {
	return t.streamCount.Load()
}

// windowedResponseWriter meters outbound DATA against the connection's
// Window before each write reaches the wire, requesting and immediately
// returning credit per chunk — once a chunk is handed to the underlying
// http2.Server it is the wire layer's own flow control that paces delivery,
// so this package's book-keeping only needs to bound how much is in flight
// through this handler at once. It forwards Flush so streaming RPCs that
// rely on incremental delivery keep working through h2c.
type windowedResponseWriter struct {
	http.ResponseWriter
	window *Window
	ctx    context.Context
}

func (w *windowedResponseWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return w.ResponseWriter.Write(p)
	}
	n := int64(len(p))
	if err := w.window.Acquire(w.ctx, n); err != nil {
		return 0, err
	}
	defer w.window.Replenish(n)
	return w.ResponseWriter.Write(p)
}

func (w *windowedResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// NewServer builds an *http.Server configured for h2c on addr, serving
// handler through this transport's Handler (stream tracking, flow-control
// metering, shutdown rejection). Mirrors gateway.NewHTTP2Server (gateway/http2_transport.go).
func (t *ServerTransport) NewServer(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           t.Handler(handler),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       t.opts.MaxIdleTime,
	}
	if err := http2.ConfigureServer(srv, t.http2Srv); err != nil {
		panic(fmt.Sprintf("transport: failed to configure HTTP/2: %v", err))
	}
	return srv
}

// ListenAndServe starts the server on addr. It blocks until the listener
// errors or the server is shut down.
func (t *ServerTransport) ListenAndServe(addr string, handler http.Handler) error {
	srv := t.NewServer(addr, handler)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return srv.Serve(lis)
}
