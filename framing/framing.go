// Package framing encodes and decodes the inner plaintext carried inside
// each AEAD-sealed record on a peer channel: a type tag followed by an
// opaque payload. The outer length-prefix-plus-ciphertext envelope is
// assembled by the channel package around the AEAD boundary, since the
// length prefix covers ciphertext and tag, not this plaintext.
package framing

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPayloadSize bounds a single frame's payload so a malformed or hostile
// peer cannot force unbounded memory allocation while decoding.
const MaxPayloadSize = 1 << 20 // 1 MiB, matching the outer frame's length cap.

// TypeMessage is the only frame type this module defines: a UTF-8 chat
// message body.
const TypeMessage = "MSG"

// Frame is one inner plaintext record: a short type tag plus an opaque
// payload.
type Frame struct {
	Type    string
	Payload []byte
}

// Encode writes type_len|type|payload_len|payload to w.
func Encode(w io.Writer, frame Frame) error {
	if len(frame.Type) > 0xFFFF {
		return fmt.Errorf("framing: type %q too long", frame.Type)
	}
	if len(frame.Payload) > MaxPayloadSize {
		return fmt.Errorf("framing: payload of %d bytes exceeds max %d", len(frame.Payload), MaxPayloadSize)
	}

	var typeLen [2]byte
	binary.BigEndian.PutUint16(typeLen[:], uint16(len(frame.Type)))
	if _, err := w.Write(typeLen[:]); err != nil {
		return fmt.Errorf("framing: write type length: %w", err)
	}
	if _, err := io.WriteString(w, frame.Type); err != nil {
		return fmt.Errorf("framing: write type: %w", err)
	}

	var payloadLen [4]byte
	binary.BigEndian.PutUint32(payloadLen[:], uint32(len(frame.Payload)))
	if _, err := w.Write(payloadLen[:]); err != nil {
		return fmt.Errorf("framing: write payload length: %w", err)
	}
	if _, err := w.Write(frame.Payload); err != nil {
		return fmt.Errorf("framing: write payload: %w", err)
	}

	return nil
}

// Decode reads a Frame from r. Oversize payloads are rejected without
// reading the full declared length into memory.
func Decode(r io.Reader) (Frame, error) {
	var typeLen [2]byte
	if _, err := io.ReadFull(r, typeLen[:]); err != nil {
		return Frame{}, fmt.Errorf("framing: read type length: %w", err)
	}
	tLen := binary.BigEndian.Uint16(typeLen[:])

	typeBuf := make([]byte, tLen)
	if _, err := io.ReadFull(r, typeBuf); err != nil {
		return Frame{}, fmt.Errorf("framing: read type: %w", err)
	}

	var payloadLen [4]byte
	if _, err := io.ReadFull(r, payloadLen[:]); err != nil {
		return Frame{}, fmt.Errorf("framing: read payload length: %w", err)
	}
	pLen := binary.BigEndian.Uint32(payloadLen[:])
	if pLen > MaxPayloadSize {
		return Frame{}, fmt.Errorf("framing: payload of %d bytes exceeds max %d", pLen, MaxPayloadSize)
	}

	payload := make([]byte, pLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("framing: read payload: %w", err)
	}

	return Frame{Type: string(typeBuf), Payload: payload}, nil
}
