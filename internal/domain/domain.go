// Package domain holds the small set of types shared across the proxy's
// protocol state machines and the cache — spec.md's RequestContext.
package domain

import (
	"github.com/oferbear/HTTP-proxy/internal/stats"
	"github.com/oferbear/HTTP-proxy/internal/wire"
)

// RequestContext is the per client-facing connection record spec.md's data
// model defines: method, parsed URI, accumulated headers and a reference to
// the shared statistics record. It is mutated only by the owning ProxyFront.
type RequestContext struct {
	Method  string
	URI     string
	Headers *wire.Headers
	Stats   *stats.Statistics
}

// NewRequestContext returns an empty context ready for the REQUEST state.
func NewRequestContext(stats *stats.Statistics) *RequestContext {
	return &RequestContext{Headers: wire.NewHeaders(), Stats: stats}
}
