// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "time"

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithAddr overrides the bind host and port.
func WithAddr(host string, port int) ServerOption {
	return func(s *Server) {
		s.cfg.Host = host
		s.cfg.Port = port
	}
}

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.cfg.HandshakeTimeout = d
	}
}

// WithShutdownGrace sets how long peers get to complete the close handshake
// once the server is shutting down.
func WithShutdownGrace(d time.Duration) ServerOption {
	return func(s *Server) {
		s.cfg.ShutdownGrace = d
	}
}

// WithHandler replaces the per-connection handler.
func WithHandler(h ConnHandler) ServerOption {
	return func(s *Server) {
		s.handler = h
	}
}
