// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp provides a minimal TCP listener/acceptor for hioload-echo.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"

	logging "github.com/op/go-logging"
)

var logger = logging.MustGetLogger("tcp")

// ErrListenerClosed is returned by Accept once the listener has been closed.
var ErrListenerClosed = errors.New("listener closed")

// BindReason classifies why the listening address could not be acquired.
type BindReason string

const (
	ReasonInUse       BindReason = "in-use"
	ReasonPermission  BindReason = "permission"
	ReasonUnavailable BindReason = "unavailable"
	ReasonOther       BindReason = "other"
)

// BindError reports that the listening address could not be acquired.
type BindError struct {
	Addr   string
	Reason BindReason
	Err    error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s (%s): %v", e.Addr, e.Reason, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// InUse reports whether another socket already holds the address.
func (e *BindError) InUse() bool {
	return e.Reason == ReasonInUse
}

// Listener wraps the process's single listening socket.
type Listener struct {
	ln net.Listener
}

// Listen binds addr ("host:port"). Any failure is returned as *BindError.
func Listen(ctx context.Context, addr string) (*Listener, error) {
	lc := net.ListenConfig{Control: controlSocket}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Reason: classifyBindError(err), Err: err}
	}
	logger.Infof("listening on %s", ln.Addr())
	return &Listener{ln: ln}, nil
}

// Accept waits for the next TCP connection and enables TCP_NODELAY on it.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, fmt.Errorf("accept connection: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			logger.Debugf("set TCP_NODELAY on %s: %v", conn.RemoteAddr(), err)
		}
	}
	return conn, nil
}

// Close releases the listening socket; pending and future Accept calls fail
// with ErrListenerClosed.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func classifyBindError(err error) BindReason {
	if r, ok := errnoReason(err); ok {
		return r
	}
	var addrErr *net.AddrError
	var dnsErr *net.DNSError
	if errors.As(err, &addrErr) || errors.As(err, &dnsErr) {
		return ReasonUnavailable
	}
	return ReasonOther
}
