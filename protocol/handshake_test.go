package protocol

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleKey = "dGhlIHNhbXBsZSBub25jZQ=="

func upgradeRequest(headers map[string]string) string {
	var sb strings.Builder
	sb.WriteString("GET /chat HTTP/1.1\r\nHost: localhost:5151\r\n")
	base := map[string]string{
		"Upgrade":               "websocket",
		"Connection":            "keep-alive, Upgrade",
		"Sec-WebSocket-Key":     sampleKey,
		"Sec-WebSocket-Version": "13",
	}
	for k, v := range headers {
		base[k] = v
	}
	for k, v := range base {
		if v == "" {
			continue
		}
		sb.WriteString(k + ": " + v + "\r\n")
	}
	sb.WriteString("\r\n")
	return sb.String()
}

func TestComputeAcceptKey(t *testing.T) {
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", ComputeAcceptKey(sampleKey))
}

func TestReadHandshake(t *testing.T) {
	tests := []struct {
		name    string
		request string
		wantErr error
		status  int
	}{
		{"valid", upgradeRequest(nil), nil, 0},
		{"missing upgrade", upgradeRequest(map[string]string{"Upgrade": ""}), ErrInvalidUpgradeHeaders, http.StatusBadRequest},
		{"connection without upgrade token", upgradeRequest(map[string]string{"Connection": "keep-alive"}), ErrInvalidUpgradeHeaders, http.StatusBadRequest},
		{"bad version", upgradeRequest(map[string]string{"Sec-WebSocket-Version": "8"}), ErrBadWebSocketVersion, http.StatusUpgradeRequired},
		{"missing key", upgradeRequest(map[string]string{"Sec-WebSocket-Key": ""}), ErrMissingWebSocketKey, http.StatusBadRequest},
		{"post", strings.Replace(upgradeRequest(nil), "GET", "POST", 1), ErrMethodNotAllowed, http.StatusMethodNotAllowed},
		{"oversized headers", upgradeRequest(map[string]string{"X-Padding": strings.Repeat("a", MaxHandshakeHeadersSize)}), ErrHeadersTooLarge, http.StatusRequestHeaderFieldsTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, hdr, err := ReadHandshake(bufio.NewReader(strings.NewReader(tt.request)))
			require.NotNil(t, req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.status, HandshakeStatus(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "/chat", req.URL.Path)
			assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", hdr.Get(HeaderSecWebSocketAccept))
			assert.Equal(t, "websocket", hdr.Get(HeaderUpgrade))
		})
	}
}

func TestReadHandshakeGarbage(t *testing.T) {
	_, _, err := ReadHandshake(bufio.NewReader(strings.NewReader("not http at all\r\n\r\n")))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, HandshakeStatus(err))
}

func TestUpgradePreservesPipelinedFrame(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	frame := AppendFrame(nil, &Frame{Fin: true, Opcode: OpcodeText, Masked: true, MaskKey: [4]byte{9, 8, 7, 6}, Payload: []byte("early")})
	go func() {
		_, _ = cli.Write(append([]byte(upgradeRequest(nil)), frame...))
	}()

	type result struct {
		conn *Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, _, err := Upgrade(srv, bufio.NewReader(srv))
		done <- result{c, err}
	}()

	resp, err := http.ReadResponse(bufio.NewReader(cli), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", resp.Header.Get(HeaderSecWebSocketAccept))

	r := <-done
	require.NoError(t, r.err)
	msg, err := r.conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, Message{Type: TextMessage, Payload: []byte("early")}, msg)
}

func TestUpgradeRejectsBadVersion(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	go func() {
		_, _ = cli.Write([]byte(upgradeRequest(map[string]string{"Sec-WebSocket-Version": "7"})))
	}()
	errc := make(chan error, 1)
	go func() {
		_, _, err := Upgrade(srv, bufio.NewReader(srv))
		errc <- err
	}()

	resp, err := http.ReadResponse(bufio.NewReader(cli), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	assert.Equal(t, "13", resp.Header.Get(HeaderSecWebSocketVer))
	assert.ErrorIs(t, <-errc, ErrBadWebSocketVersion)
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestHandshakeLimiterStopsEndlessHeaders(t *testing.T) {
	filler := strings.Repeat("X-Filler: "+strings.Repeat("a", 64)+"\r\n", 10000)
	src := &countingReader{r: strings.NewReader("GET / HTTP/1.1\r\nHost: localhost\r\n" + filler)}

	lim := NewHandshakeLimiter(src, MaxHandshakeRequestSize)
	_, _, err := ReadHandshake(bufio.NewReader(lim))
	require.ErrorIs(t, err, ErrHeadersTooLarge)
	assert.Equal(t, http.StatusRequestHeaderFieldsTooLarge, HandshakeStatus(err))
	assert.LessOrEqual(t, src.n, MaxHandshakeRequestSize)
}

func TestHandshakeLimiterRelease(t *testing.T) {
	frame := AppendFrame(nil, &Frame{Fin: true, Opcode: OpcodeBinary, Masked: true, Payload: make([]byte, 2*MaxHandshakeRequestSize)})
	raw := append([]byte(upgradeRequest(nil)), frame...)

	lim := NewHandshakeLimiter(bytes.NewReader(raw), MaxHandshakeRequestSize)
	br := bufio.NewReader(lim)
	_, _, err := ReadHandshake(br)
	require.NoError(t, err)

	lim.Release()
	f, err := ReadFrame(br)
	require.NoError(t, err)
	assert.Len(t, f.Payload, 2*MaxHandshakeRequestSize)
}
