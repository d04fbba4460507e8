// File: server/server.go
// Package server provides the hioload-echo WebSocket server: accept loop,
// one goroutine per connection, and graceful shutdown.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/op/go-logging"

	"github.com/momentics/hioload-echo/protocol"
	"github.com/momentics/hioload-echo/transport/tcp"
)

var logger = logging.MustGetLogger("server")

const maxAcceptDelay = time.Second

// Server accepts WebSocket connections and hands each one to its handler.
type Server struct {
	cfg     *Config
	handler ConnHandler
	wg      sync.WaitGroup // live connection goroutines, for shutdown drain
}

// NewServer constructs a Server with the given Config and options.
func NewServer(cfg *Config, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	s := &Server{cfg: &c, handler: EchoHandler{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds host:port and echoes on it until the process exits.
// It returns a *tcp.BindError when the address cannot be acquired.
func Start(host string, port int) error {
	return NewServer(nil, WithAddr(host, port)).ListenAndServe(context.Background())
}

// Config returns a copy of the effective configuration.
func (s *Server) Config() Config {
	return *s.cfg
}

// Listen binds the configured address.
func (s *Server) Listen(ctx context.Context) (*tcp.Listener, error) {
	return tcp.Listen(ctx, s.cfg.Addr())
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or ln is closed, then
// asks every live connection to close and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln *tcp.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, tcp.ErrListenerClosed) {
				break
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			logger.Warningf("%v; retrying in %v", err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go s.handleConn(ctx, nc)
	}

	cancel()
	s.wg.Wait()
	logger.Infof("server on %s stopped", ln.Addr())
	return nil
}

// handleConn upgrades nc and runs the handler on it. It owns nc.
func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	id := uuid.New()
	defer s.wg.Done()
	defer nc.Close()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[%s] panic in connection: %v", id, r)
		}
	}()

	if s.cfg.HandshakeTimeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}
	lim := protocol.NewHandshakeLimiter(nc, protocol.MaxHandshakeRequestSize)
	conn, req, err := protocol.Upgrade(nc, bufio.NewReader(lim))
	if err != nil {
		logger.Debugf("[%s] handshake with %s failed: %v", id, nc.RemoteAddr(), err)
		return
	}
	lim.Release()
	_ = nc.SetDeadline(time.Time{})
	logger.Infof("[%s] connected %s %s", id, nc.RemoteAddr(), req.URL.Path)

	stop := context.AfterFunc(ctx, func() {
		if s.cfg.ShutdownGrace > 0 {
			_ = nc.SetDeadline(time.Now().Add(s.cfg.ShutdownGrace))
		}
		if err := conn.WriteClose(protocol.CloseGoingAway, "server shutting down"); err != nil {
			logger.Debugf("[%s] shutdown close: %v", id, err)
		}
		if s.cfg.ShutdownGrace <= 0 {
			_ = nc.SetReadDeadline(time.Now())
		}
	})
	defer stop()

	if err := s.handler.Run(conn); err != nil {
		if ctx.Err() != nil {
			logger.Debugf("[%s] ended during shutdown: %v", id, err)
		} else {
			logger.Warningf("[%s] %v", id, err)
		}
	}
	logger.Infof("[%s] disconnected %s", id, nc.RemoteAddr())
}
