// Package server owns the caret service runtime: the strictly sequential
// accept loop around the protocol engine, and the optional admin plane.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/caretd/internal/listener"
	"github.com/danmuck/caretd/internal/observability"
	"github.com/danmuck/caretd/internal/protocol"
)

// Config carries the ambient runtime settings. The protocol port itself is
// fixed at listener.ServicePort and is deliberately absent here.
type Config struct {
	AdminListenAddr string
	CorsOrigins     []string
}

func DefaultConfig() Config {
	return Config{}
}

// Service runs the caret accept loop and, when configured, the admin plane.
type Service struct {
	cfg     Config
	started time.Time
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultConfig())
}

func NewServiceWithConfig(cfg Config) *Service {
	return &Service{
		cfg:     cfg,
		started: time.Now(),
	}
}

// Run bootstraps the listening endpoint and blocks until signal shutdown.
// A bootstrap failure is fatal; per-connection failures never are.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := listener.Create(ctx)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("waiting for connections")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, addr)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

// Serve accepts connections on ln and serves each one to completion before
// accepting the next. A failed accept is logged and the loop continues; the
// loop only exits when ctx is done or the listener is closed.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("cannot accept connection")
			continue
		}
		s.serveConn(conn)
	}
}

// serveConn runs the protocol engine over one accepted connection and closes
// it on every exit path. Engine failures stay local to the connection.
func (s *Service) serveConn(conn net.Conn) {
	defer conn.Close()
	remote := remoteAddr(conn)
	log.Info().Str("remote", remote).Msg("new connection")

	counted := &countedConn{Conn: conn}
	err := protocol.Serve(counted)
	observability.RecordConnection(connectionOutcome(err), counted.read, counted.echoed())

	switch {
	case errors.Is(err, protocol.ErrHandshake):
		log.Error().Str("remote", remote).Err(err).Msg("cannot send server confirmation")
	case err != nil:
		log.Error().Str("remote", remote).Err(err).Msg("connection failed")
	default:
		log.Info().Str("remote", remote).Msg("connection done")
	}
}

func connectionOutcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.Is(err, protocol.ErrHandshake):
		return observability.OutcomeHandshake
	default:
		return observability.OutcomeIO
	}
}

// remoteAddr renders the peer address best-effort; a connection with no
// usable address is still served.
func remoteAddr(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return "unknown"
	}
	return addr.String()
}
