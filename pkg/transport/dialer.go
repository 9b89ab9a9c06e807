package transport

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
)

// Dialer opens one channel connection to a box's guest agent. A box
// picks a Dialer once at start time (vsock in production, Unix-domain
// in tests and A3S_DEPS_STUB mode) and reuses it for every exec, PTY,
// or attestation operation.
type Dialer interface {
	DialChannel(ctx context.Context, port int) (net.Conn, error)
}

// UnixDialer dials a per-box, per-port Unix-domain socket under Dir,
// used for tests and non-VM modes per spec.md §4.6's "Unix-domain
// fallback". Sockets are expected at Dir/<BoxID>/<port>.sock.
type UnixDialer struct {
	Dir   string
	BoxID string
}

func (d UnixDialer) DialChannel(ctx context.Context, port int) (net.Conn, error) {
	path := filepath.Join(d.Dir, d.BoxID, fmt.Sprintf("%d.sock", port))
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: dial unix channel %s: %w", path, err)
	}
	return conn, nil
}
