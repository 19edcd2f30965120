package server

import "net"

// countedConn wraps one accepted connection with byte counters for metrics.
// Connections are served one at a time by a single goroutine, so plain
// counters are safe.
type countedConn struct {
	net.Conn
	read    uint64
	written uint64
}

func (c *countedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.read += uint64(n)
	}
	return n, err
}

func (c *countedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.written += uint64(n)
	}
	return n, err
}

// echoed is the payload output count: everything written minus the greeting.
func (c *countedConn) echoed() uint64 {
	if c.written == 0 {
		return 0
	}
	return c.written - 1
}
