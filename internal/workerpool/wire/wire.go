// Package wire implements the length-prefixed JSON framing used on the
// control channel between the host and each worker child process
// (spec.md §6). Framing is deliberately stdlib-only — see DESIGN.md's
// workerpool entry — so that a worker written in any language needs
// nothing more than "read 4 bytes, read that many more bytes, parse
// JSON" to speak it.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"

	"github.com/zommehq/buntime/internal/errors"
)

// Type tags the kind of frame carried over the control channel.
type Type string

const (
	TypeReady     Type = "READY"
	TypeRequest   Type = "REQUEST"
	TypeResponse  Type = "RESPONSE"
	TypeIdle      Type = "IDLE"
	TypeError     Type = "ERROR"
	TypeTerminate Type = "TERMINATE"
	TypeBodyChunk Type = "BODY_CHUNK"
	TypeBodyEnd   Type = "BODY_END"
)

// Frame is the envelope written on the wire: a type tag plus a raw JSON
// payload whose shape depends on Type.
type Frame struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ready is the child's first message, announcing its worker id.
type Ready struct {
	WorkerID string `json:"workerId"`
}

// Request is sent host→child to start serving one HTTP request.
type Request struct {
	ID         string      `json:"id"`
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	Headers    http.Header `json:"headers"`
	RemoteAddr string      `json:"remoteAddr"`
	// HasBody indicates further TypeBodyChunk / TypeBodyEnd frames
	// carrying the request body will follow this frame.
	HasBody bool `json:"hasBody"`
}

// Response is sent child→host once status and headers are known; the
// body streams afterward as BodyChunk/BodyEnd frames.
type Response struct {
	ID      string      `json:"id"`
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
}

// BodyChunk carries one slice of a streamed request or response body.
type BodyChunk struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// BodyEnd marks the end of a streamed body.
type BodyEnd struct {
	ID string `json:"id"`
}

// Idle is a periodic child→host heartbeat sent while READY and unused.
type Idle struct {
	WorkerID string `json:"workerId"`
}

// Error carries a failure in either direction. ID is empty for
// connection-level errors not tied to one request.
type Error struct {
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Terminate asks the child to exit gracefully; host→child only.
type Terminate struct {
	Reason string `json:"reason,omitempty"`
}

// maxFrameSize bounds a single frame to guard against a misbehaving
// child sending a runaway length prefix.
const maxFrameSize = 32 << 20 // 32 MiB

// Encode writes one frame to w as a 4-byte big-endian length prefix
// followed by the JSON-encoded Frame.
func Encode(w io.Writer, typ Type, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrapf(err, "wire: failed to marshal %s payload", typ)
		}
		raw = data
	}

	data, err := json.Marshal(Frame{Type: typ, Payload: raw})
	if err != nil {
		return errors.Wrapf(err, "wire: failed to marshal frame %s", typ)
	}
	if len(data) > maxFrameSize {
		return errors.Newf("wire: frame %s exceeds max size %d bytes", typ, maxFrameSize)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "wire: failed to write length prefix")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "wire: failed to write frame body")
	}
	return nil
}

// Decode reads one length-prefixed frame from r.
func Decode(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err // callers check errors.Is(err, io.EOF)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return Frame{}, errors.Newf("wire: incoming frame size %d exceeds max %d bytes", n, maxFrameSize)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, errors.Wrap(err, "wire: failed to read frame body")
	}

	var f Frame
	if err := json.Unmarshal(buf, &f); err != nil {
		return Frame{}, errors.Wrap(err, "wire: failed to unmarshal frame")
	}
	return f, nil
}

// DecodePayload unmarshals a frame's payload into dst.
func DecodePayload(f Frame, dst interface{}) error {
	if len(f.Payload) == 0 {
		return errors.Newf("wire: frame %s has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		return errors.Wrapf(err, "wire: failed to unmarshal %s payload", f.Type)
	}
	return nil
}
