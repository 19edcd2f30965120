package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Caret protocol control bytes.
const (
	Greeting     byte = '*'
	MessageStart byte = '^'
	MessageEnd   byte = '$'
)

// readChunkSize bounds one read from the peer; framing is byte-wise, so the
// chunk boundary never affects output.
const readChunkSize = 1024

var (
	ErrHandshake  = errors.New("protocol: greeting byte not accepted")
	ErrShortWrite = errors.New("protocol: short write to peer")
)

// State is the framing position within one connection's byte stream.
type State int

const (
	// WaitingForMessage discards everything until a MessageStart byte.
	WaitingForMessage State = iota
	// InMessage echoes each payload byte incremented until a MessageEnd byte.
	InMessage
)

func (s State) String() string {
	switch s {
	case WaitingForMessage:
		return "waiting_for_message"
	case InMessage:
		return "in_message"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Serve runs the caret protocol over one established connection: it writes
// the single Greeting byte, then echoes every byte found between a
// MessageStart and the next MessageEnd back to the peer incremented by one
// (wrapping at 255), one byte per write, in arrival order. Bytes outside a
// message and the two delimiters themselves are consumed silently.
//
// Serve returns nil when the peer closes the stream, ErrHandshake (wrapped)
// when the greeting cannot be sent, and a wrapped I/O error for any other
// read or write failure. It never closes the connection; the caller owns
// that on every exit path.
func Serve(conn io.ReadWriter) error {
	n, err := conn.Write([]byte{Greeting})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if n < 1 {
		return ErrHandshake
	}

	state := WaitingForMessage
	buf := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			next, perr := run(conn, state, buf[:n])
			if perr != nil {
				return perr
			}
			state = next
		}
		if errors.Is(err, io.EOF) {
			// Orderly close. An open message is simply dropped.
			return nil
		}
		if err != nil {
			return fmt.Errorf("protocol: read: %w", err)
		}
	}
}

// run advances the state machine over one received chunk, writing echo bytes
// as it goes. On a write failure the rest of the chunk is abandoned.
func run(w io.Writer, state State, chunk []byte) (State, error) {
	var out [1]byte
	for _, b := range chunk {
		switch state {
		case WaitingForMessage:
			if b == MessageStart {
				state = InMessage
			}
		case InMessage:
			if b == MessageEnd {
				state = WaitingForMessage
				continue
			}
			out[0] = b + 1
			n, err := w.Write(out[:])
			if err != nil {
				return state, fmt.Errorf("protocol: write: %w", err)
			}
			if n < 1 {
				return state, ErrShortWrite
			}
		}
	}
	return state, nil
}
