package transport

import (
	"net"
	"sync"
	"time"
)

// Conn wraps a net.Conn with the shared frame codec and serializes
// writes, since a channel handler may write from more than one
// goroutine at once (e.g. the PTY output pump and the final Exit
// frame). Reads are not serialized: per spec.md's concurrency model,
// each connection is owned by exactly one reader.
type Conn struct {
	nc      net.Conn
	writeMu sync.Mutex
}

// NewConn wraps an established net.Conn.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// WriteFrame writes one frame, serialized against concurrent writers.
func (c *Conn) WriteFrame(t FrameType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.nc, t, payload)
}

// ReadFrame reads the next frame.
func (c *Conn) ReadFrame() (Frame, error) {
	return ReadFrame(c.nc)
}

// SetDeadline forwards to the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.nc.SetDeadline(t)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}
