package listener

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ProtocolVersion is compared against the version in the client's Hello
// request; a non-empty version that differs is answered with an Error
// response and the handshake fails (spec §6.2).
const ProtocolVersion = "0.1.0+oj"

const maxFrameBytesDefault = 16 << 20

// reqEnvelope peels off just the "type" tag so the dispatcher can decide
// which concrete request struct to decode the rest into (spec §6.1
// "tagged unions everywhere").
type reqEnvelope struct {
	Type string `json:"type"`
}

// readFrame reads one 4-byte-big-endian-length-prefixed JSON message,
// closing the connection (by returning an error) if it exceeds maxBytes
// (spec §4.7, §6.1).
func readFrame(r io.Reader, maxBytes int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if maxBytes > 0 && int(n) > maxBytes {
		return nil, fmt.Errorf("listener: frame size %d exceeds max %d", n, maxBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("listener: reading frame body: %w", err)
	}
	return buf, nil
}

// writeFrame writes payload with its 4-byte big-endian length prefix.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("listener: writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("listener: writing frame body: %w", err)
	}
	return nil
}

// writeResponse marshals resp (which must carry its own "type" field via an
// embedded/explicit Type string) and frames it onto w.
func writeResponse(w io.Writer, resp any) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("listener: marshaling response: %w", err)
	}
	return writeFrame(w, data)
}

// errorResponse is the canonical Response::Error{message} shape (spec §7).
type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errResp(format string, args ...any) errorResponse {
	return errorResponse{Type: "Error", Message: fmt.Sprintf(format, args...)}
}

// okResponse is the canonical bare mutation acknowledgement.
type okResponse struct {
	Type string `json:"type"`
}

func ok() okResponse { return okResponse{Type: "Ok"} }

// helloRequest/helloOkResponse implement the version+auth handshake that
// must be the first frame on every connection (spec §6.2).
type helloRequest struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Token   string `json:"token"`
}

type helloOkResponse struct {
	Type string `json:"type"`
}
