// File: protocol/message.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import "strconv"

// MessageType is the kind of a data message. Values match the wire opcodes.
type MessageType int

const (
	// TextMessage denotes a text WebSocket message.
	TextMessage MessageType = OpcodeText
	// BinaryMessage denotes a binary WebSocket message.
	BinaryMessage MessageType = OpcodeBinary
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "MessageType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Message is one complete application message, reassembled from its frames.
type Message struct {
	Type    MessageType
	Payload []byte
}
