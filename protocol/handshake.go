// File: protocol/handshake.go
// Package protocol implements the server side of the WebSocket opening handshake.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The request is parsed with net/http, validated per RFC 6455 section 4.2.1,
// and answered with 101 Switching Protocols. The caller's bufio.Reader is kept
// so any frame bytes sent right behind the request are preserved.

package protocol

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// Constants used for handshake processing.
const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	RequiredWebSocketVersion = "13"
	MaxHandshakeHeadersSize  = 8192
	// MaxHandshakeRequestSize caps the raw request bytes read before the
	// upgrade completes: request line, header framing and headers.
	MaxHandshakeRequestSize = 2 * MaxHandshakeHeadersSize
)

// Errors for handshake validation.
var (
	ErrMethodNotAllowed      = errors.New("websocket upgrade requires GET")
	ErrInvalidUpgradeHeaders = errors.New("invalid WebSocket upgrade headers")
	ErrMissingWebSocketKey   = errors.New("missing Sec-WebSocket-Key header")
	ErrBadWebSocketVersion   = errors.New("unsupported WebSocket version; only '13' is supported")
	ErrHeadersTooLarge       = errors.New("handshake headers too large")
)

// ReadHandshake reads one HTTP/1.1 upgrade request from br, validates it and
// returns the headers for the 101 response. The request is returned even on
// validation failure when it could be parsed.
func ReadHandshake(br *bufio.Reader) (*http.Request, http.Header, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake read request: %w", err)
	}

	total := 0
	for k, vs := range req.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
	}
	if total > MaxHandshakeHeadersSize {
		return req, nil, ErrHeadersTooLarge
	}

	if req.Method != http.MethodGet {
		return req, nil, ErrMethodNotAllowed
	}
	if !headerContainsToken(req.Header, HeaderConnection, "upgrade") ||
		!headerContainsToken(req.Header, HeaderUpgrade, "websocket") {
		return req, nil, ErrInvalidUpgradeHeaders
	}
	if req.Header.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		return req, nil, ErrBadWebSocketVersion
	}
	key := strings.TrimSpace(req.Header.Get(HeaderSecWebSocketKey))
	if key == "" {
		return req, nil, ErrMissingWebSocketKey
	}

	hdr := make(http.Header)
	hdr.Set(HeaderUpgrade, "websocket")
	hdr.Set(HeaderConnection, "Upgrade")
	hdr.Set(HeaderSecWebSocketAccept, ComputeAcceptKey(key))
	return req, hdr, nil
}

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
func ComputeAcceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// WriteHandshakeResponse writes the HTTP/1.1 101 Switching Protocols response
// with the provided headers to w.
func WriteHandshakeResponse(w io.Writer, hdr http.Header) error {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	if err := hdr.Write(&sb); err != nil {
		return err
	}
	sb.WriteString("\r\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteHandshakeError answers a rejected upgrade with a bodiless HTTP error.
func WriteHandshakeError(w io.Writer, cause error) error {
	status := HandshakeStatus(cause)
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	sb.WriteString("Connection: close\r\nContent-Length: 0\r\n")
	if status == http.StatusUpgradeRequired {
		sb.WriteString(HeaderSecWebSocketVer + ": " + RequiredWebSocketVersion + "\r\n")
	}
	sb.WriteString("\r\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// HandshakeStatus maps a handshake error to the HTTP status sent back.
func HandshakeStatus(err error) int {
	switch {
	case errors.Is(err, ErrBadWebSocketVersion):
		return http.StatusUpgradeRequired
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrHeadersTooLarge):
		return http.StatusRequestHeaderFieldsTooLarge
	default:
		return http.StatusBadRequest
	}
}

// Upgrade performs the opening handshake on nc, reading through br, and
// returns the established connection. On failure an HTTP error response is
// written; closing nc is left to the caller.
func Upgrade(nc net.Conn, br *bufio.Reader) (*Conn, *http.Request, error) {
	req, hdr, err := ReadHandshake(br)
	if err != nil {
		_ = WriteHandshakeError(nc, err)
		return nil, req, err
	}
	if err := WriteHandshakeResponse(nc, hdr); err != nil {
		return nil, req, fmt.Errorf("handshake write response: %w", err)
	}
	return NewConn(nc, br), req, nil
}

// HandshakeLimiter caps the bytes read from a connection until Release is
// called. It sits under the bufio.Reader passed to Upgrade so an endless
// request is cut off while it is still being read.
type HandshakeLimiter struct {
	r        io.Reader
	remain   int
	released bool
}

// NewHandshakeLimiter returns a reader that yields at most limit bytes of r
// before failing with ErrHeadersTooLarge.
func NewHandshakeLimiter(r io.Reader, limit int) *HandshakeLimiter {
	return &HandshakeLimiter{r: r, remain: limit}
}

// Read implements io.Reader.
func (l *HandshakeLimiter) Read(p []byte) (int, error) {
	if l.released {
		return l.r.Read(p)
	}
	if l.remain <= 0 {
		return 0, ErrHeadersTooLarge
	}
	if len(p) > l.remain {
		p = p[:l.remain]
	}
	n, err := l.r.Read(p)
	l.remain -= n
	return n, err
}

// Release lifts the cap once the handshake is done. Frames are unbounded.
func (l *HandshakeLimiter) Release() {
	l.released = true
}

// headerContainsToken checks if headerName contains the given token (case-insensitive).
func headerContainsToken(h http.Header, headerName, token string) bool {
	for _, v := range h.Values(headerName) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
