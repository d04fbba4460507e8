// File: protocol/conn.go
// Package protocol implements the message-level WebSocket connection.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn encapsulates one server-side, full-duplex WebSocket session. It exposes
// whole messages: control frames are answered inline and fragmented messages
// are reassembled before ReadMessage returns.

package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"
	logging "github.com/op/go-logging"
)

var logger = logging.MustGetLogger("protocol")

// Conn is a server-side WebSocket connection. ReadMessage must be called from
// a single goroutine; writes may come from any goroutine.
type Conn struct {
	nc net.Conn
	br *bufio.Reader

	// Fragmented message in progress.
	frags    *queue.Queue
	fragType MessageType
	fragLen  int
	inMsg    bool

	wmu       sync.Mutex
	wbuf      []byte
	closeSent bool
}

// NewConn wraps an upgraded net.Conn. br must be the reader the handshake was
// read through; a nil br reads nc directly.
func NewConn(nc net.Conn, br *bufio.Reader) *Conn {
	if br == nil {
		br = bufio.NewReader(nc)
	}
	return &Conn{
		nc:    nc,
		br:    br,
		frags: queue.New(),
	}
}

// ReadMessage returns the next complete data message.
//
// It returns io.EOF when the peer completes the close handshake or closes the
// stream cleanly between frames. Every other failure is a *TransportError.
func (c *Conn) ReadMessage() (Message, error) {
	for {
		f, err := ReadFrame(c.br)
		if err != nil {
			if err == io.EOF {
				if !c.inMsg {
					return Message{}, io.EOF
				}
				err = io.ErrUnexpectedEOF
			}
			return Message{}, c.receiveFailed(err)
		}
		if err := validateFrame(f); err != nil {
			return Message{}, c.receiveFailed(err)
		}

		switch f.Opcode {
		case OpcodePing:
			if err := c.writeFrame(OpcodePong, f.Payload); err != nil && !errors.Is(err, ErrCloseSent) {
				return Message{}, &TransportError{Op: OpSend, Err: err}
			}
		case OpcodePong:
		case OpcodeClose:
			return Message{}, c.handleClose(f.Payload)
		case OpcodeText, OpcodeBinary:
			if c.inMsg {
				return Message{}, c.receiveFailed(fmt.Errorf("%w: data frame inside fragmented message", ErrProtocol))
			}
			if f.Fin {
				return Message{Type: MessageType(f.Opcode), Payload: f.Payload}, nil
			}
			c.inMsg = true
			c.fragType = MessageType(f.Opcode)
			c.pushFragment(f.Payload)
		case OpcodeContinuation:
			if !c.inMsg {
				return Message{}, c.receiveFailed(fmt.Errorf("%w: continuation frame without a message", ErrProtocol))
			}
			c.pushFragment(f.Payload)
			if f.Fin {
				return c.assemble(), nil
			}
		default:
			return Message{}, c.receiveFailed(fmt.Errorf("%w: reserved opcode 0x%x", ErrProtocol, f.Opcode))
		}
	}
}

// WriteMessage sends m as a single unmasked frame.
func (c *Conn) WriteMessage(m Message) error {
	if m.Type != TextMessage && m.Type != BinaryMessage {
		return &TransportError{Op: OpSend, Err: ErrInvalidMessageType}
	}
	if err := c.writeFrame(byte(m.Type), m.Payload); err != nil {
		return &TransportError{Op: OpSend, Err: err}
	}
	return nil
}

// WriteClose starts (or answers) the close handshake. Only the first close
// frame is sent; later calls are no-ops.
func (c *Conn) WriteClose(code uint16, reason string) error {
	payload := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	payload = append(payload, reason...)
	if len(payload) > MaxControlPayloadLen {
		payload = payload[:MaxControlPayloadLen]
	}
	if err := c.writeFrame(OpcodeClose, payload); err != nil {
		if errors.Is(err, ErrCloseSent) {
			return nil
		}
		return &TransportError{Op: OpSend, Err: err}
	}
	return nil
}

// Close closes the underlying network connection without a close handshake.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// SetReadDeadline sets the deadline for the underlying network reads.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.nc.SetReadDeadline(t)
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.nc.LocalAddr()
}

// writeFrame encodes and writes one FIN frame. Once a close frame has been
// written nothing else is.
func (c *Conn) writeFrame(opcode byte, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closeSent {
		return ErrCloseSent
	}
	if opcode == OpcodeClose {
		c.closeSent = true
	}
	c.wbuf = AppendFrame(c.wbuf[:0], &Frame{Fin: true, Opcode: opcode, Payload: payload})
	_, err := c.nc.Write(c.wbuf)
	return err
}

// handleClose answers a peer close frame and reports the clean end of stream.
func (c *Conn) handleClose(payload []byte) error {
	code := uint16(CloseNormalClosure)
	switch {
	case len(payload) == 1:
		return c.receiveFailed(fmt.Errorf("%w: close frame with 1-byte payload", ErrProtocol))
	case len(payload) >= 2:
		code = binary.BigEndian.Uint16(payload)
		if !validCloseCode(code) {
			return c.receiveFailed(fmt.Errorf("%w: invalid close code %d", ErrProtocol, code))
		}
	}
	logger.Debugf("peer %s sent close %d", c.nc.RemoteAddr(), code)
	if err := c.WriteClose(code, ""); err != nil {
		logger.Debugf("close reply to %s: %v", c.nc.RemoteAddr(), err)
	}
	return io.EOF
}

// validCloseCode reports whether a peer may send code in a close frame.
// 1005, 1006 and 1015 are reserved for local use and never go on the wire.
func validCloseCode(code uint16) bool {
	switch {
	case code >= 3000 && code <= 4999:
		return true
	case code >= CloseNormalClosure && code <= CloseUnsupportedData:
		return true
	case code >= CloseInvalidPayloadData && code <= 1014:
		return true
	}
	return false
}

// receiveFailed wraps a receive error and, for protocol violations, fails
// the connection with close 1002.
func (c *Conn) receiveFailed(err error) error {
	if errors.Is(err, ErrProtocol) {
		logger.Debugf("failing connection %s: %v", c.nc.RemoteAddr(), err)
		_ = c.WriteClose(CloseProtocolError, "protocol error")
	}
	return &TransportError{Op: OpReceive, Err: err}
}

func (c *Conn) pushFragment(p []byte) {
	c.frags.Add(p)
	c.fragLen += len(p)
}

// assemble joins the queued fragments, in arrival order, into one message.
func (c *Conn) assemble() Message {
	payload := make([]byte, 0, c.fragLen)
	for c.frags.Length() > 0 {
		payload = append(payload, c.frags.Remove().([]byte)...)
	}
	m := Message{Type: c.fragType, Payload: payload}
	c.inMsg = false
	c.fragLen = 0
	return m
}

// validateFrame enforces the per-frame rules for client-to-server frames.
func validateFrame(f *Frame) error {
	switch {
	case f.Rsv != 0:
		return fmt.Errorf("%w: reserved bits set without a negotiated extension", ErrProtocol)
	case !f.Masked:
		return fmt.Errorf("%w: client frame is not masked", ErrProtocol)
	case isControl(f.Opcode) && !f.Fin:
		return fmt.Errorf("%w: fragmented control frame", ErrProtocol)
	case isControl(f.Opcode) && len(f.Payload) > MaxControlPayloadLen:
		return fmt.Errorf("%w: control frame payload of %d bytes", ErrProtocol, len(f.Payload))
	}
	return nil
}
