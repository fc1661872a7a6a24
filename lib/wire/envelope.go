// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cordon-foundation/cordon/lib/ref"
)

// ProtocolVersion is the current wire protocol version. The initiator
// announces it in HandshakeHello and every Request repeats it;
// responders reject any other version during the handshake.
const ProtocolVersion = 1

const (
	// EphemeralKeySize is the length of an X25519 ephemeral public
	// key.
	EphemeralKeySize = 32

	// ConfirmMACSize is the length of the keyed-BLAKE3 confirmation
	// MAC in HandshakeConfirm.
	ConfirmMACSize = 32
)

// Request is the plaintext of a FrameRequest payload. Requests carry
// no identity of their own: the caller's identity and attributes are
// properties of the session the frame arrived on.
type Request struct {
	// Version is the protocol version, always ProtocolVersion.
	Version uint64 `cbor:"1,keyasint"`

	// SessionID names the secure channel session. Both sides derive
	// the same value from the handshake transcript.
	SessionID uint64 `cbor:"2,keyasint"`

	// CorrelationID pairs the response to this request. Unique per
	// in-flight request within a session; the caller assigns it.
	CorrelationID uint64 `cbor:"3,keyasint"`

	// Method names the operation to invoke.
	Method ref.Method `cbor:"4,keyasint"`

	// Payload is the method's opaque argument bytes.
	Payload []byte `cbor:"5,keyasint,omitempty"`
}

// Response is the plaintext of a FrameResponse payload.
type Response struct {
	SessionID     uint64 `cbor:"1,keyasint"`
	CorrelationID uint64 `cbor:"2,keyasint"`
	Status        Status `cbor:"3,keyasint"`

	// Payload is the handler's result when Status is StatusOk and a
	// short diagnostic string for StatusMethodNotFound and
	// StatusHandlerError. StatusDenied responses never carry a
	// payload: a denied caller learns the decision, not the reason.
	Payload []byte `cbor:"4,keyasint,omitempty"`
}

// Status is the outcome of a dispatched request. The zero value is
// invalid so a response that lost its status field cannot read as
// success.
type Status uint8

const (
	// StatusOk means policy allowed the request and the handler
	// produced the payload.
	StatusOk Status = 1

	// StatusDenied means policy refused the request.
	StatusDenied Status = 2

	// StatusMethodNotFound means no handler is registered for the
	// method.
	StatusMethodNotFound Status = 3

	// StatusHandlerError means the handler ran and returned an error.
	StatusHandlerError Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusDenied:
		return "denied"
	case StatusMethodNotFound:
		return "method_not_found"
	case StatusHandlerError:
		return "handler_error"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// HandshakeHello is the payload of FrameHandshake1 and FrameHandshake2.
// Each side introduces itself with its long-term identity key, a fresh
// X25519 ephemeral, and an Ed25519 proof signature over the handshake
// transcript so far, binding the ephemeral to the identity.
type HandshakeHello struct {
	// Version is the protocol version. The initiator announces it;
	// the responder echoes it back.
	Version uint64 `cbor:"1,keyasint"`

	// IdentityKey is the sender's long-term Ed25519 public key.
	IdentityKey []byte `cbor:"2,keyasint"`

	// EphemeralKey is the sender's X25519 ephemeral public key.
	EphemeralKey []byte `cbor:"3,keyasint"`

	// Proof is the sender's Ed25519 signature over the transcript up
	// to and including EphemeralKey.
	Proof []byte `cbor:"4,keyasint"`

	// CredentialChain is the sender's encoded credential chain, leaf
	// first. Empty when the sender holds no credential yet, as during
	// enrollment.
	CredentialChain [][]byte `cbor:"5,keyasint,omitempty"`
}

// Validate checks field lengths. It does not verify the proof; that
// requires the handshake transcript.
func (h *HandshakeHello) Validate() error {
	if h.Version != ProtocolVersion {
		return fmt.Errorf("wire: protocol version %d, want %d", h.Version, ProtocolVersion)
	}
	if len(h.IdentityKey) != ed25519.PublicKeySize {
		return fmt.Errorf("wire: identity key has %d bytes, want %d", len(h.IdentityKey), ed25519.PublicKeySize)
	}
	if len(h.EphemeralKey) != EphemeralKeySize {
		return fmt.Errorf("wire: ephemeral key has %d bytes, want %d", len(h.EphemeralKey), EphemeralKeySize)
	}
	if len(h.Proof) != ed25519.SignatureSize {
		return fmt.Errorf("wire: proof has %d bytes, want %d", len(h.Proof), ed25519.SignatureSize)
	}
	return nil
}

// HandshakeConfirm is the payload of FrameHandshake3: the initiator's
// keyed MAC over the final transcript hash, proving it derived the
// same keys.
type HandshakeConfirm struct {
	ConfirmMAC []byte `cbor:"1,keyasint"`
}

// Validate checks field lengths.
func (h *HandshakeConfirm) Validate() error {
	if len(h.ConfirmMAC) != ConfirmMACSize {
		return fmt.Errorf("wire: confirm MAC has %d bytes, want %d", len(h.ConfirmMAC), ConfirmMACSize)
	}
	return nil
}
