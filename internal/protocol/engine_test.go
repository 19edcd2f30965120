package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/caretd/internal/testutil/testlog"
)

// scriptConn replays scripted read chunks and records every write. After the
// chunks drain, reads report finalErr (io.EOF unless overridden).
type scriptConn struct {
	chunks   [][]byte
	out      bytes.Buffer
	finalErr error

	writeBudget int // writes allowed before failure; <0 means unlimited
}

func newScriptConn(chunks ...[]byte) *scriptConn {
	return &scriptConn{chunks: chunks, finalErr: io.EOF, writeBudget: -1}
}

func (c *scriptConn) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, c.finalErr
	}
	n := copy(p, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

var errWriteRefused = errors.New("write refused")

func (c *scriptConn) Write(p []byte) (int, error) {
	if c.writeBudget == 0 {
		return 0, errWriteRefused
	}
	if c.writeBudget > 0 {
		c.writeBudget--
	}
	return c.out.Write(p)
}

// echoed returns everything written after the greeting byte.
func (c *scriptConn) echoed(t *testing.T) []byte {
	t.Helper()
	raw := c.out.Bytes()
	if len(raw) == 0 || raw[0] != Greeting {
		t.Fatalf("greeting byte missing, wrote %q", raw)
	}
	return raw[1:]
}

func TestServeGreetingIsFirstByte(t *testing.T) {
	testlog.Start(t)
	conn := newScriptConn([]byte("^hi$"))
	if err := Serve(conn); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if got := conn.out.Bytes(); len(got) == 0 || got[0] != '*' {
		t.Fatalf("first byte = %q, want '*'", got)
	}
}

func TestServeEchoesSpanIncremented(t *testing.T) {
	testlog.Start(t)
	conn := newScriptConn([]byte("a^bc$d^e"))
	if err := Serve(conn); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if got := conn.echoed(t); string(got) != "cdf" {
		t.Fatalf("echoed %q, want %q", got, "cdf")
	}
}

func TestServeFragmentationInvariance(t *testing.T) {
	testlog.Start(t)
	input := []byte("junk^hello$more^wor")
	whole := newScriptConn(input)
	if err := Serve(whole); err != nil {
		t.Fatalf("serve whole: %v", err)
	}

	split := make([][]byte, 0, len(input))
	for i := range input {
		split = append(split, input[i:i+1])
	}
	bytewise := newScriptConn(split...)
	if err := Serve(bytewise); err != nil {
		t.Fatalf("serve bytewise: %v", err)
	}

	if !bytes.Equal(whole.echoed(t), bytewise.echoed(t)) {
		t.Fatalf("chunking changed output: %q vs %q", whole.echoed(t), bytewise.echoed(t))
	}
	if got := whole.echoed(t); string(got) != "ifmmpxps" {
		t.Fatalf("echoed %q, want %q", got, "ifmmpxps")
	}
}

func TestServeEmptyMessageEchoesNothing(t *testing.T) {
	testlog.Start(t)
	conn := newScriptConn([]byte("^$"))
	if err := Serve(conn); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if got := conn.echoed(t); len(got) != 0 {
		t.Fatalf("echoed %q, want nothing", got)
	}
}

func TestServeByteIncrementWrapsAround(t *testing.T) {
	testlog.Start(t)
	conn := newScriptConn([]byte{MessageStart, 0xFF, MessageEnd})
	if err := Serve(conn); err != nil {
		t.Fatalf("serve: %v", err)
	}
	got := conn.echoed(t)
	if len(got) != 1 || got[0] != 0x00 {
		t.Fatalf("echoed %v, want [0x00]", got)
	}
}

func TestServeCaretInsideMessageIsPayload(t *testing.T) {
	testlog.Start(t)
	conn := newScriptConn([]byte("^^a$"))
	if err := Serve(conn); err != nil {
		t.Fatalf("serve: %v", err)
	}
	// The second '^' (0x5E) is payload once a message is open.
	want := []byte{'^' + 1, 'b'}
	if got := conn.echoed(t); !bytes.Equal(got, want) {
		t.Fatalf("echoed %q, want %q", got, want)
	}
}

func TestServeStrayDollarIsNoise(t *testing.T) {
	testlog.Start(t)
	conn := newScriptConn([]byte("$$x$^y$"))
	if err := Serve(conn); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if got := conn.echoed(t); string(got) != "z" {
		t.Fatalf("echoed %q, want %q", got, "z")
	}
}

func TestServeUnterminatedMessageDroppedAtClose(t *testing.T) {
	testlog.Start(t)
	conn := newScriptConn([]byte("^ab"))
	if err := Serve(conn); err != nil {
		t.Fatalf("serve: %v", err)
	}
	// Everything after the caret is echoed until close, with no final flush.
	if got := conn.echoed(t); string(got) != "bc" {
		t.Fatalf("echoed %q, want %q", got, "bc")
	}
}

func TestServeHandshakeFailure(t *testing.T) {
	testlog.Start(t)
	conn := newScriptConn([]byte("^a$"))
	conn.writeBudget = 0
	err := Serve(conn)
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
	if conn.out.Len() != 0 {
		t.Fatalf("wrote %q after failed handshake", conn.out.Bytes())
	}
}

func TestServeWriteFailureAbandonsChunk(t *testing.T) {
	testlog.Start(t)
	conn := newScriptConn([]byte("^abc$"))
	conn.writeBudget = 2 // greeting plus one echo byte
	err := Serve(conn)
	if err == nil || !errors.Is(err, errWriteRefused) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
	if got := conn.echoed(t); string(got) != "b" {
		t.Fatalf("echoed %q before failure, want %q", got, "b")
	}
}

func TestServeReadFailure(t *testing.T) {
	testlog.Start(t)
	readErr := errors.New("connection reset")
	conn := newScriptConn([]byte("^a"))
	conn.finalErr = readErr
	err := Serve(conn)
	if !errors.Is(err, readErr) {
		t.Fatalf("expected wrapped read error, got %v", err)
	}
	// Bytes received before the failure were still processed in order.
	if got := conn.echoed(t); string(got) != "b" {
		t.Fatalf("echoed %q, want %q", got, "b")
	}
}

func TestStateString(t *testing.T) {
	testlog.Start(t)
	if WaitingForMessage.String() != "waiting_for_message" {
		t.Fatalf("unexpected name %q", WaitingForMessage.String())
	}
	if InMessage.String() != "in_message" {
		t.Fatalf("unexpected name %q", InMessage.String())
	}
}
