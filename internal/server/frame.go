package server

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/gobwas/ws"
)

const (
	// SocketPrefix marks upgrade requests; the rest of the target is the channel.
	SocketPrefix = "/socket/"

	handshakeGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	keyHeader     = "sec-websocket-key"
)

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + handshakeGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// EncodeFrame returns one unmasked, final text frame carrying payload.
func EncodeFrame(payload []byte) []byte {
	h := ws.Header{
		Fin:    true,
		OpCode: ws.OpText,
		Length: int64(len(payload)),
	}
	var buf bytes.Buffer
	buf.Grow(ws.HeaderSize(h) + len(payload))
	// Writes into a bytes.Buffer cannot fail.
	_ = ws.WriteHeader(&buf, h)
	buf.Write(payload)
	return buf.Bytes()
}

// readHandshakeKey consumes header lines until the key header and returns
// its value. Every other header is ignored. Reaching the blank line or the
// end of the stream first is a protocol error.
func readHandshakeKey(r *bufio.Reader) (string, error) {
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		name, value, found := strings.Cut(line, ":")
		if found && strings.EqualFold(strings.TrimSpace(name), keyHeader) {
			if key := strings.TrimSpace(value); key != "" {
				return key, nil
			}
		}
		if err != nil {
			if err == io.EOF {
				err = ErrMissingKey
			}
			return "", &ProtocolError{Err: err}
		}
		if line == "" {
			return "", &ProtocolError{Err: ErrMissingKey}
		}
	}
}

// writeHandshake sends the 101 response for a derived accept key.
func writeHandshake(w io.Writer, accept string) error {
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n\r\n",
		accept)
	return err
}
