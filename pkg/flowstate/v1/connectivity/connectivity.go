// Package connectivity defines the checker consumed by internet-gated actions.
package connectivity

import (
	"context"
	"net"
	"time"
)

// Checker reports whether the host currently has network connectivity.
// Implementations must be safe for concurrent use. The store consults the
// checker before executing internet-gated actions; it never caches results.
type Checker interface {
	Online(ctx context.Context) bool
}

// Func adapts an ordinary function to the Checker interface.
type Func func(ctx context.Context) bool

func (f Func) Online(ctx context.Context) bool { return f(ctx) }

// Always returns a Checker that always reports connectivity. It is the
// store's default, making internet gating a no-op unless a real checker is
// configured.
func Always() Checker {
	return Func(func(context.Context) bool { return true })
}

// TCPProbe returns a Checker that reports connectivity by dialing the given
// TCP address (host:port) with the given timeout. A non-positive timeout
// defaults to one second.
func TCPProbe(addr string, timeout time.Duration) Checker {
	if timeout <= 0 {
		timeout = time.Second
	}
	return Func(func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})
}
