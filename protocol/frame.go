// File: protocol/frame.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket frame encoding/decoding and masking logic.
//
// Frames are decoded straight from a buffered stream so that bytes pipelined
// behind the opening handshake are never lost.

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// payloadChunk is the largest payload allocated up front from the header.
const payloadChunk = 64 << 10

// Frame represents a single decoded WebSocket frame.
type Frame struct {
	Fin     bool    // FIN bit
	Rsv     byte    // RSV1..RSV3 as they appear in the first header byte
	Opcode  byte    // Operation code
	Masked  bool    // Whether the payload is (or is to be) masked
	MaskKey [4]byte // Masking key, valid when Masked
	Payload []byte  // Unmasked application data
}

// ReadFrame decodes the next frame from r and unmasks its payload.
//
// It returns io.EOF only when r ends cleanly before the first header byte.
// A stream ending inside a frame yields io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	f := &Frame{
		Fin:    hdr[0]&FinBit != 0,
		Rsv:    hdr[0] & RsvBits,
		Opcode: hdr[0] & OpcodeMsk,
		Masked: hdr[1]&MaskBit != 0,
	}
	length := uint64(hdr[1] & LenMask)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, unexpected(err)
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, unexpected(err)
		}
		length = binary.BigEndian.Uint64(ext[:])
		if length&(1<<63) != 0 {
			return nil, fmt.Errorf("%w: payload length has the most significant bit set", ErrProtocol)
		}
	}
	if length > math.MaxInt {
		return nil, fmt.Errorf("%w: payload length %d overflows int", ErrProtocol, length)
	}

	if f.Masked {
		if _, err := io.ReadFull(r, f.MaskKey[:]); err != nil {
			return nil, unexpected(err)
		}
	}

	payload, err := readPayload(r, int64(length))
	if err != nil {
		return nil, err
	}
	f.Payload = payload
	if f.Masked {
		maskBytes(f.MaskKey, f.Payload)
	}
	return f, nil
}

// AppendFrame serializes f onto dst and returns the extended slice.
// When f.Masked is set the payload is masked with f.MaskKey in the output;
// f.Payload itself is left untouched.
func AppendFrame(dst []byte, f *Frame) []byte {
	b0 := f.Rsv&RsvBits | f.Opcode&OpcodeMsk
	if f.Fin {
		b0 |= FinBit
	}
	var maskBit byte
	if f.Masked {
		maskBit = MaskBit
	}

	plen := len(f.Payload)
	switch {
	case plen <= 125:
		dst = append(dst, b0, byte(plen)|maskBit)
	case plen <= 0xFFFF:
		dst = append(dst, b0, 126|maskBit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, 127|maskBit)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if f.Masked {
		dst = append(dst, f.MaskKey[:]...)
	}
	start := len(dst)
	dst = append(dst, f.Payload...)
	if f.Masked {
		maskBytes(f.MaskKey, dst[start:])
	}
	return dst
}

// readPayload reads exactly n payload bytes. Small payloads are read into an
// exact-size slice; larger ones grow with the bytes that actually arrive, so
// the declared length alone never drives an allocation.
func readPayload(r io.Reader, n int64) ([]byte, error) {
	if n <= payloadChunk {
		p := make([]byte, n)
		if _, err := io.ReadFull(r, p); err != nil {
			return nil, unexpected(err)
		}
		return p, nil
	}
	var buf bytes.Buffer
	buf.Grow(payloadChunk)
	if _, err := io.CopyN(&buf, r, n); err != nil {
		return nil, unexpected(err)
	}
	return buf.Bytes(), nil
}

// maskBytes applies the RFC 6455 XOR mask in place. Masking and unmasking
// are the same operation.
func maskBytes(key [4]byte, buf []byte) {
	for i := range buf {
		buf[i] ^= key[i&3]
	}
}

// unexpected converts a clean EOF in the middle of a frame into ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
