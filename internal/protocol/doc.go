// Package protocol owns the caret wire protocol for one connection.
//
// Ownership boundary:
// - greeting handshake
// - message framing state machine
// - per-byte increment echo
//
// The package never accepts or closes connections; the server accept loop
// owns the connection lifecycle on every exit path.
package protocol
