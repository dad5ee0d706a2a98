package httptransport

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Gateway using the functional options pattern
type Option func(*Gateway)

// WithHTTPClient sets a custom HTTP client. The client is used as given; it is not
// wrapped for tracing.
func WithHTTPClient(cl *http.Client) Option {
	return func(g *Gateway) {
		g.http = cl
		g.base = nil
	}
}

// WithProbeTimeout bounds the liveness probe. Defaults to 2s.
func WithProbeTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.probeTimeout = d
		}
	}
}

// WithRequestTimeout bounds every non-probe request. Defaults to 10s.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.requestTimeout = d
		}
	}
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxBodyBytes = n
		}
	}
}

// WithCascadeConcurrency limits how many model deletes run at once during a
// cascading manufacturer delete.
func WithCascadeConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.cascadeLimit = n
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}
