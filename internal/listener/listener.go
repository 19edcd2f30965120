// Package listener owns bootstrap of the caret service listening endpoint.
//
// Ownership boundary:
// - wildcard candidate resolution for the fixed service port
// - socket creation with address reuse
// - first-success candidate selection
//
// Accepting and serving connections belongs to the server package.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	// ServicePort is the fixed caret protocol port. It is not configurable.
	ServicePort = 8080

	// ConnectionBacklog is the intended accept queue depth. Go's net package
	// hands the listen backlog to the kernel, so this is the documented
	// intent rather than an enforced value.
	ConnectionBacklog = 10
)

var (
	ErrResolve   = errors.New("listener: candidate address resolution failed")
	ErrBootstrap = errors.New("listener: no candidate address could be bound")
)

// candidate is one resolved passive bind target.
type candidate struct {
	network string
	addr    *net.TCPAddr
}

// Create resolves the wildcard bind candidates for ServicePort and returns a
// listener on the first candidate for which socket creation, address reuse,
// and bind all succeed. Candidates that fail are closed and skipped; when
// every candidate fails the accumulated reasons are wrapped in ErrBootstrap.
func Create(ctx context.Context) (net.Listener, error) {
	return create(ctx, ServicePort)
}

func create(ctx context.Context, port int) (net.Listener, error) {
	candidates, err := resolveCandidates(port)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{Control: reuseAddr}
	var attempts []error
	for _, cand := range candidates {
		ln, err := lc.Listen(ctx, cand.network, cand.addr.String())
		if err != nil {
			attempts = append(attempts, fmt.Errorf("%s %s: %w", cand.network, cand.addr, err))
			continue
		}
		return ln, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrBootstrap, errors.Join(attempts...))
}

// resolveCandidates mirrors a passive getaddrinfo lookup: the wildcard
// address for each stream family, in family preference order.
func resolveCandidates(port int) ([]candidate, error) {
	laddr := net.JoinHostPort("", strconv.Itoa(port))
	var (
		candidates []candidate
		failures   []error
	)
	for _, network := range []string{"tcp6", "tcp4"} {
		addr, err := net.ResolveTCPAddr(network, laddr)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", network, err))
			continue
		}
		candidates = append(candidates, candidate{network: network, addr: addr})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrResolve, errors.Join(failures...))
	}
	return candidates, nil
}

// reuseAddr enables SO_REUSEADDR on the candidate socket before bind.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
