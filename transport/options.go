package transport

import (
	"log"
	"time"
)

// Options configures a Transport Manager, client or server side. It plays
// the role gateway.Options (gateway/gateway.go) plays for the teacher's
// HTTP/2 wrapper, narrowed to the concerns spec.md §4.4 assigns this
// package — protocol surface concerns (CORS, OpenAPI, reflection) stay out
// of scope here.
type Options struct {
	// KeepaliveParams configures client-side keepalive pings.
	KeepaliveParams KeepaliveParameters
	// KeepaliveEnforcementPolicy configures server-side tolerance for
	// client pings.
	KeepaliveEnforcementPolicy KeepaliveEnforcementPolicy
	// Backoff configures client reconnect backoff.
	Backoff BackoffConfig
	// MaxConcurrentStreams bounds concurrent streams per connection,
	// mirroring gateway.defaultMaxConcurrentStreams.
	MaxConcurrentStreams uint32
	// MaxIdleTime closes a client connection after this long with no open
	// stream (spec.md §4.4).
	MaxIdleTime time.Duration
	// InitialWindowSize seeds the transport's single flow-control credit
	// Window (one per ClientTransport or ServerTransport; see Window).
	InitialWindowSize int64
	// Logger receives lifecycle events; nil means silent, matching
	// calls.LoggingInterceptor's convention.
	Logger *log.Logger
}

const (
	defaultMaxConcurrentStreams = 100
	defaultMaxIdleTime          = 5 * time.Minute
	defaultInitialWindowSize    = 64 * 1024
)

// DefaultOptions returns the options a connection uses absent overrides.
func DefaultOptions() Options {
	return Options{
		KeepaliveParams:            DefaultKeepaliveParams(),
		KeepaliveEnforcementPolicy: DefaultKeepaliveEnforcementPolicy(),
		Backoff:                    DefaultBackoffConfig(),
		MaxConcurrentStreams:       defaultMaxConcurrentStreams,
		MaxIdleTime:                defaultMaxIdleTime,
		InitialWindowSize:          defaultInitialWindowSize,
	}
}

func (o *Options) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}
