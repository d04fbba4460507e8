// File: server/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"io"

	"github.com/momentics/hioload-echo/protocol"
)

// ConnHandler owns one upgraded connection for its whole life.
type ConnHandler interface {
	// Run returns nil when the peer ends the session cleanly.
	Run(conn *protocol.Conn) error
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(conn *protocol.Conn) error

// Run calls f(conn).
func (f ConnHandlerFunc) Run(conn *protocol.Conn) error {
	return f(conn)
}

// EchoHandler writes every received message back unchanged, one message at
// a time, until the connection ends.
type EchoHandler struct{}

// Run implements ConnHandler.
func (EchoHandler) Run(conn *protocol.Conn) error {
	for {
		msg, err := conn.ReadMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		logger.Debugf("echo %s message (%d bytes) to %s", msg.Type, len(msg.Payload), conn.RemoteAddr())
		if err := conn.WriteMessage(msg); err != nil {
			// Closing: drop the echo and keep reading for the peer's close reply.
			if errors.Is(err, protocol.ErrCloseSent) {
				continue
			}
			return err
		}
	}
}
