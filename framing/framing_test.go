package framing

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: TypeMessage, Payload: []byte("hi")},
		{Type: TypeMessage, Payload: []byte("")},
		{Type: TypeMessage, Payload: bytes.Repeat([]byte("x"), 255)},
		{Type: TypeMessage, Payload: bytes.Repeat([]byte("y"), 257)},
		{Type: "PING", Payload: nil},
	}

	for _, frame := range cases {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, frame))

		decoded, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, frame.Type, decoded.Type)
		assert.Equal(t, len(frame.Payload), len(decoded.Payload))
		assert.True(t, bytes.Equal(frame.Payload, decoded.Payload))
	}
}

func TestEncode_RejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	frame := Frame{Type: TypeMessage, Payload: make([]byte, MaxPayloadSize+1)}
	assert.Error(t, Encode(&buf, frame))
}

func TestEncode_RejectsOversizeType(t *testing.T) {
	var buf bytes.Buffer
	frame := Frame{Type: strings.Repeat("a", 0x10000), Payload: []byte("x")}
	assert.Error(t, Encode(&buf, frame))
}

func TestDecode_RejectsOversizeDeclaredPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x03})
	buf.WriteString("MSG")
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // declares ~4GB payload
	_, err := Decode(&buf)
	assert.Error(t, err)
}

func TestDecode_TruncatedStreamErrors(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x03})
	buf.WriteString("MS") // short, missing a byte
	_, err := Decode(&buf)
	assert.Error(t, err)
}

func TestDecode_EmptyStreamErrors(t *testing.T) {
	_, err := Decode(&bytes.Buffer{})
	assert.Error(t, err)
}
