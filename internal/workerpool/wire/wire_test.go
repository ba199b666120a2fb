package wire

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{
		ID:         "req-1",
		Method:     "GET",
		URL:        "/hello/index.html",
		Headers:    http.Header{"Accept": []string{"text/html"}},
		RemoteAddr: "127.0.0.1:1234",
	}
	require.NoError(t, Encode(&buf, TypeRequest, req))

	frame, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeRequest, frame.Type)

	var decoded Request
	require.NoError(t, DecodePayload(frame, &decoded))
	assert.Equal(t, req, decoded)
}

func TestEncodeDecodeMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, TypeReady, Ready{WorkerID: "w-1"}))
	require.NoError(t, Encode(&buf, TypeIdle, Idle{WorkerID: "w-1"}))

	first, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeReady, first.Type)

	second, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeIdle, second.Type)
}

func TestEncodeFrameWithoutPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, TypeTerminate, nil))

	frame, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeTerminate, frame.Type)
	assert.Empty(t, frame.Payload)
}

func TestDecodeEmptyReaderReturnsEOF(t *testing.T) {
	_, err := Decode(&bytes.Buffer{})
	require.ErrorIs(t, err, io.EOF)
}

func TestDecodeRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := Decode(&buf)
	require.Error(t, err)
}

func TestDecodePayloadMissingPayload(t *testing.T) {
	err := DecodePayload(Frame{Type: TypeIdle}, &Idle{})
	require.Error(t, err)
}

func TestErrorFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	wireErr := Error{ID: "req-2", Kind: "WorkerCrash", Message: "panic: oops"}
	require.NoError(t, Encode(&buf, TypeError, wireErr))

	frame, err := Decode(&buf)
	require.NoError(t, err)
	var decoded Error
	require.NoError(t, DecodePayload(frame, &decoded))
	assert.Equal(t, wireErr, decoded)
}

func TestResponseAndBodyChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{ID: "req-3", Status: 200, Headers: http.Header{"Content-Type": []string{"text/plain"}}}
	require.NoError(t, Encode(&buf, TypeResponse, resp))
	require.NoError(t, Encode(&buf, TypeBodyChunk, BodyChunk{ID: "req-3", Data: []byte("hi")}))
	require.NoError(t, Encode(&buf, TypeBodyEnd, BodyEnd{ID: "req-3"}))

	f1, err := Decode(&buf)
	require.NoError(t, err)
	var gotResp Response
	require.NoError(t, DecodePayload(f1, &gotResp))
	assert.Equal(t, resp, gotResp)

	f2, err := Decode(&buf)
	require.NoError(t, err)
	var gotChunk BodyChunk
	require.NoError(t, DecodePayload(f2, &gotChunk))
	assert.Equal(t, []byte("hi"), gotChunk.Data)

	f3, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeBodyEnd, f3.Type)
}
