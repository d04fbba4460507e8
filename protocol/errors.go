// File: protocol/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

// Transport operations reported in TransportError.Op.
const (
	OpReceive = "receive"
	OpSend    = "send"
)

var (
	// ErrProtocol marks a peer violation of RFC 6455 framing rules.
	ErrProtocol = errors.New("websocket protocol violation")

	// ErrCloseSent is returned by writes issued after the close frame went out.
	ErrCloseSent = errors.New("websocket close already sent")

	// ErrInvalidMessageType is returned when a message is neither text nor binary.
	ErrInvalidMessageType = errors.New("invalid message type")
)

// TransportError reports a failure to receive or send on an established
// connection. It is local to that connection.
type TransportError struct {
	Op  string // OpReceive or OpSend
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("websocket %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
