// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame kinds. Each frame on a peer connection is tagged with one of
// these. The zero value is invalid so an all-zero header is never a
// valid frame.
const (
	// FrameHandshake1 is the initiator's opening handshake message.
	// Payload: CBOR HandshakeHello.
	FrameHandshake1 byte = 0x01

	// FrameHandshake2 is the responder's reply. Payload: CBOR
	// HandshakeHello.
	FrameHandshake2 byte = 0x02

	// FrameHandshake3 is the initiator's confirmation. Payload: CBOR
	// HandshakeConfirm.
	FrameHandshake3 byte = 0x03

	// FrameRequest carries an encrypted Request envelope. Payload:
	// AEAD ciphertext whose plaintext is a CBOR Request.
	FrameRequest byte = 0x04

	// FrameResponse carries an encrypted Response envelope. Payload:
	// AEAD ciphertext whose plaintext is a CBOR Response.
	FrameResponse byte = 0x05

	// FrameClose announces an orderly shutdown of the connection.
	// Payload: empty.
	FrameClose byte = 0x06
)

// MaxPayloadLength caps a single frame payload at 16 MiB. A peer
// announcing a larger payload is either broken or hostile; the reader
// fails before allocating.
const MaxPayloadLength = 16 * 1024 * 1024

// frameHeaderLength is the fixed header size: 1 byte kind followed by
// a 4 byte big-endian payload length.
const frameHeaderLength = 5

// Frame is a single unit on the peer byte stream.
type Frame struct {
	Kind    byte
	Payload []byte
}

// WriteFrame writes a frame to w: kind byte, big-endian uint32 payload
// length, then the payload.
func WriteFrame(w io.Writer, frame Frame) error {
	if len(frame.Payload) > MaxPayloadLength {
		return fmt.Errorf("wire: payload length %d exceeds maximum %d", len(frame.Payload), MaxPayloadLength)
	}

	var header [frameHeaderLength]byte
	header[0] = frame.Kind
	binary.BigEndian.PutUint32(header[1:], uint32(len(frame.Payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if len(frame.Payload) > 0 {
		if _, err := w.Write(frame.Payload); err != nil {
			return fmt.Errorf("wire: write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads a single frame from r. It returns io.EOF unwrapped
// when the stream ends cleanly at a frame boundary, so callers can
// distinguish orderly disconnects from torn frames.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("wire: read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxPayloadLength {
		return Frame{}, fmt.Errorf("wire: payload length %d exceeds maximum %d", length, MaxPayloadLength)
	}

	frame := Frame{Kind: header[0]}
	if length > 0 {
		frame.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, frame.Payload); err != nil {
			return Frame{}, fmt.Errorf("wire: read frame payload: %w", err)
		}
	}
	return frame, nil
}
