// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"net"
	"strconv"
	"time"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Host             string        // bind host, loopback by default
	Port             int           // bind port
	HandshakeTimeout time.Duration // deadline for the opening handshake (0 = none)
	ShutdownGrace    time.Duration // time a peer gets to answer the shutdown close frame
}

// DefaultConfig returns the fixed service address and lifecycle defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:             "localhost",
		Port:             5151,
		HandshakeTimeout: 5 * time.Second,
		ShutdownGrace:    5 * time.Second,
	}
}

// Addr returns the "host:port" bind address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
