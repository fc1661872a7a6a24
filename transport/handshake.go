// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/secret"
	"github.com/cordon-foundation/cordon/lib/wire"
)

// ErrHandshakeFailed wraps every error that moves a handshake into
// HandshakeFailed. The state is terminal: the ephemeral key is gone,
// and retrying requires a fresh Handshake with a fresh ephemeral.
var ErrHandshakeFailed = errors.New("transport: handshake failed")

// DefaultHandshakeTimeout bounds the whole exchange. A peer that
// connects and then stalls mid-handshake is cut off at the next event.
const DefaultHandshakeTimeout = 10 * time.Second

// Domain separation labels. Changing either invalidates all sessions
// between old and new builds.
var (
	transcriptLabel = []byte("cordon.handshake.v1")
	hkdfInfoSession = []byte("cordon.session.keys.v1")
)

// sessionKeyMaterial is the total HKDF output: two 32-byte direction
// keys, a 32-byte confirmation key, and 8 bytes of session ID.
const sessionKeyMaterial = 3*keySize + 8

// keySize is the size of every symmetric key in the session schedule.
const keySize = 32

// HandshakeState tracks progress through the exchange.
type HandshakeState uint8

const (
	// HandshakeIdle is the initial state on both sides.
	HandshakeIdle HandshakeState = iota

	// HandshakeInitiatorSent means the initiator has emitted its hello
	// and is waiting for the responder's.
	HandshakeInitiatorSent

	// HandshakeResponderAcked means the responder has verified the
	// initiator's hello, replied with its own, and holds provisional
	// keys pending the confirmation MAC.
	HandshakeResponderAcked

	// HandshakeEstablished means both sides hold session keys.
	HandshakeEstablished

	// HandshakeFailed is terminal: verification, decoding, or the
	// deadline failed, and all key material has been zeroized.
	HandshakeFailed
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeIdle:
		return "idle"
	case HandshakeInitiatorSent:
		return "initiator_sent"
	case HandshakeResponderAcked:
		return "responder_acked"
	case HandshakeEstablished:
		return "established"
	case HandshakeFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// HandshakeConfig carries what both roles need to run the exchange.
type HandshakeConfig struct {
	// Identity signs the transcript proof. Required.
	Identity *identity.PrivateIdentity

	// Chain is the local credential chain presented to the peer,
	// subject credential first. Nil is valid: an identity that has
	// not enrolled yet presents nothing and gets a semi-trusted
	// session on the far side.
	Chain [][]byte

	// Trust is the issuer set used to validate the peer's chain at
	// establishment. An empty set trusts no issuer, so every peer
	// comes out semi-trusted.
	Trust credential.TrustedIssuers

	// ExpectedKey pins the peer's identity key. A hello presenting any
	// other key fails the handshake before key derivation. Nil accepts
	// whichever identity proves possession of its key.
	ExpectedKey ed25519.PublicKey

	// Clock drives the handshake deadline. Defaults to clock.Real().
	Clock clock.Clock

	// Timeout bounds the whole exchange. Defaults to
	// DefaultHandshakeTimeout.
	Timeout time.Duration
}

// Handshake is one side of the secure channel exchange. It is a pure
// state machine: the caller reads frames off the conn, feeds them to
// Handle, and writes whatever frame comes back. No goroutines, no
// locking; one Handshake belongs to one connection loop.
//
// The protocol is three messages:
//
//  1. Initiator sends its identity key, a fresh X25519 ephemeral, an
//     Ed25519 proof signature over the transcript so far (binding the
//     ephemeral to the identity), and its credential chain.
//  2. Responder verifies the proof, replies with the same shape, and
//     derives provisional session keys.
//  3. Initiator verifies, derives keys, and sends a keyed-BLAKE3 MAC
//     over the transcript hash. The responder checks the MAC and the
//     session is established on both sides.
//
// Both sides absorb every field into a running BLAKE3 transcript hash.
// The key schedule is X25519(eph_i, eph_r) through HKDF-SHA256 with
// the final transcript hash as salt, yielding one key per direction, a
// confirmation key, and the session ID. Ephemeral private keys are
// zeroized the moment the shared secret exists.
//
// A frame that does not fit the current state is discarded without
// changing state. Any verification failure is terminal.
type Handshake struct {
	local       *identity.PrivateIdentity
	localChain  [][]byte
	trust       credential.TrustedIssuers
	expectedKey ed25519.PublicKey
	clock       clock.Clock
	deadline    time.Time

	initiator bool
	state     HandshakeState

	transcript *blake3.Hasher

	ephemeralPrivate []byte
	ephemeralPublic  []byte

	// Populated as the exchange progresses.
	peer           identity.Identity
	peerChain      [][]byte
	transcriptHash []byte
	sendKey        []byte
	recvKey        []byte
	confirmKey     []byte
	sessionID      uint64
	attrs          credential.VerifiedAttributes
	trustErr       error
	establishedAt  time.Time
}

// NewInitiator creates the dialing side of a handshake. Call Start to
// produce the opening frame.
func NewInitiator(cfg HandshakeConfig) (*Handshake, error) {
	return newHandshake(cfg, true)
}

// NewResponder creates the accepting side of a handshake. Feed it the
// peer's frames with Handle.
func NewResponder(cfg HandshakeConfig) (*Handshake, error) {
	return newHandshake(cfg, false)
}

func newHandshake(cfg HandshakeConfig, initiator bool) (*Handshake, error) {
	if cfg.Identity == nil {
		return nil, errors.New("transport: handshake requires an identity")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	private := make([]byte, wire.EphemeralKeySize)
	if _, err := rand.Read(private); err != nil {
		return nil, fmt.Errorf("transport: generating ephemeral key: %w", err)
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		secret.Zero(private)
		return nil, fmt.Errorf("transport: deriving ephemeral public key: %w", err)
	}

	transcript := blake3.New()
	transcript.Write(transcriptLabel)

	return &Handshake{
		local:            cfg.Identity,
		localChain:       cfg.Chain,
		trust:            cfg.Trust,
		expectedKey:      cfg.ExpectedKey,
		clock:            clk,
		deadline:         clk.Now().Add(timeout),
		initiator:        initiator,
		state:            HandshakeIdle,
		transcript:       transcript,
		ephemeralPrivate: private,
		ephemeralPublic:  public,
	}, nil
}

// State returns the current handshake state.
func (h *Handshake) State() HandshakeState { return h.state }

// Start emits the opening hello frame. Initiator only, from
// HandshakeIdle only.
func (h *Handshake) Start() (wire.Frame, error) {
	if !h.initiator {
		return wire.Frame{}, errors.New("transport: only the initiator starts a handshake")
	}
	if h.state != HandshakeIdle {
		return wire.Frame{}, fmt.Errorf("transport: handshake already started (state %s)", h.state)
	}
	if h.clock.Now().After(h.deadline) {
		return wire.Frame{}, h.fail(errors.New("deadline exceeded"))
	}

	hello := h.buildHello()
	payload, err := codec.Marshal(hello)
	if err != nil {
		return wire.Frame{}, h.fail(fmt.Errorf("encoding hello: %w", err))
	}
	h.state = HandshakeInitiatorSent
	return wire.Frame{Kind: wire.FrameHandshake1, Payload: payload}, nil
}

// Handle feeds one inbound frame to the state machine. It returns the
// frame to send back, if any. A nil reply with a nil error means the
// frame was discarded (stray or out of order) or the handshake
// finished without needing a reply. A non-nil error means the
// handshake is Failed and the connection should be dropped.
func (h *Handshake) Handle(frame wire.Frame) (*wire.Frame, error) {
	if h.state == HandshakeEstablished || h.state == HandshakeFailed {
		return nil, nil
	}
	if h.clock.Now().After(h.deadline) {
		return nil, h.fail(errors.New("deadline exceeded"))
	}

	switch {
	case !h.initiator && h.state == HandshakeIdle && frame.Kind == wire.FrameHandshake1:
		return h.handleInitiatorHello(frame.Payload)
	case h.initiator && h.state == HandshakeInitiatorSent && frame.Kind == wire.FrameHandshake2:
		return h.handleResponderHello(frame.Payload)
	case !h.initiator && h.state == HandshakeResponderAcked && frame.Kind == wire.FrameHandshake3:
		return h.handleConfirm(frame.Payload)
	default:
		// Stray or out-of-order frame. Discard without reset.
		return nil, nil
	}
}

// handleInitiatorHello runs on the responder when message 1 arrives:
// verify the initiator's proof, reply with our own hello, derive
// provisional keys.
func (h *Handshake) handleInitiatorHello(payload []byte) (*wire.Frame, error) {
	hello, err := h.absorbHello(payload)
	if err != nil {
		return nil, h.fail(err)
	}

	reply := h.buildHello()
	replyPayload, err := codec.Marshal(reply)
	if err != nil {
		return nil, h.fail(fmt.Errorf("encoding hello: %w", err))
	}

	if err := h.deriveKeys(hello.EphemeralKey); err != nil {
		return nil, h.fail(err)
	}

	h.state = HandshakeResponderAcked
	return &wire.Frame{Kind: wire.FrameHandshake2, Payload: replyPayload}, nil
}

// handleResponderHello runs on the initiator when message 2 arrives:
// verify the responder's proof, derive keys, and emit the
// confirmation MAC. The initiator is established once the MAC is on
// the wire.
func (h *Handshake) handleResponderHello(payload []byte) (*wire.Frame, error) {
	hello, err := h.absorbHello(payload)
	if err != nil {
		return nil, h.fail(err)
	}

	if err := h.deriveKeys(hello.EphemeralKey); err != nil {
		return nil, h.fail(err)
	}

	confirm := wire.HandshakeConfirm{ConfirmMAC: h.confirmMAC()}
	confirmPayload, err := codec.Marshal(confirm)
	if err != nil {
		return nil, h.fail(fmt.Errorf("encoding confirmation: %w", err))
	}

	h.establish()
	return &wire.Frame{Kind: wire.FrameHandshake3, Payload: confirmPayload}, nil
}

// handleConfirm runs on the responder when message 3 arrives: check
// the initiator's MAC against our own derivation.
func (h *Handshake) handleConfirm(payload []byte) (*wire.Frame, error) {
	var confirm wire.HandshakeConfirm
	if err := codec.Unmarshal(payload, &confirm); err != nil {
		return nil, h.fail(fmt.Errorf("decoding confirmation: %w", err))
	}
	if err := confirm.Validate(); err != nil {
		return nil, h.fail(err)
	}
	if !secret.Equal(confirm.ConfirmMAC, h.confirmMAC()) {
		return nil, h.fail(errors.New("confirmation MAC mismatch"))
	}

	h.establish()
	return nil, nil
}

// buildHello assembles the local hello and absorbs it into the
// transcript. The proof signs the transcript hash taken after the
// identity and ephemeral keys are absorbed but before the proof
// itself, so both sides compute the signed digest at the same point.
func (h *Handshake) buildHello() wire.HandshakeHello {
	identityKey := h.local.Public().PublicKey()

	h.absorbUint(wire.ProtocolVersion)
	h.absorb(identityKey)
	h.absorb(h.ephemeralPublic)
	proof := h.local.Sign(h.digest())
	h.absorb(proof)
	h.absorbChain(h.localChain)

	return wire.HandshakeHello{
		Version:         wire.ProtocolVersion,
		IdentityKey:     identityKey,
		EphemeralKey:    h.ephemeralPublic,
		Proof:           proof,
		CredentialChain: h.localChain,
	}
}

// absorbHello decodes and verifies a peer hello, absorbing its fields
// into the transcript in the same order buildHello does.
func (h *Handshake) absorbHello(payload []byte) (*wire.HandshakeHello, error) {
	var hello wire.HandshakeHello
	if err := codec.Unmarshal(payload, &hello); err != nil {
		return nil, fmt.Errorf("decoding hello: %w", err)
	}
	if err := hello.Validate(); err != nil {
		return nil, err
	}
	if len(h.expectedKey) != 0 && !bytes.Equal(hello.IdentityKey, h.expectedKey) {
		return nil, errors.New("peer identity key does not match pinned key")
	}

	h.absorbUint(hello.Version)
	h.absorb(hello.IdentityKey)
	h.absorb(hello.EphemeralKey)
	if !identity.VerifySignature(hello.IdentityKey, h.digest(), hello.Proof) {
		return nil, errors.New("peer proof rejected")
	}
	h.absorb(hello.Proof)
	h.absorbChain(hello.CredentialChain)

	peer, err := identity.FromPublicKey(hello.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("peer identity key: %w", err)
	}
	h.peer = peer
	h.peerChain = hello.CredentialChain
	return &hello, nil
}

// deriveKeys computes the shared secret and runs the key schedule.
// The ephemeral private key is destroyed here; after this the
// handshake can complete or fail but never re-derive.
func (h *Handshake) deriveKeys(peerEphemeral []byte) error {
	shared, err := curve25519.X25519(h.ephemeralPrivate, peerEphemeral)
	secret.Zero(h.ephemeralPrivate)
	if err != nil {
		return fmt.Errorf("X25519: %w", err)
	}
	defer secret.Zero(shared)

	h.transcriptHash = h.digest()

	reader := hkdf.New(sha256.New, shared, h.transcriptHash, hkdfInfoSession)
	material := make([]byte, sessionKeyMaterial)
	if _, err := io.ReadFull(reader, material); err != nil {
		secret.Zero(material)
		return fmt.Errorf("HKDF key derivation failed: %w", err)
	}

	initiatorToResponder := material[0:keySize]
	responderToInitiator := material[keySize : 2*keySize]
	h.confirmKey = material[2*keySize : 3*keySize]
	h.sessionID = binary.BigEndian.Uint64(material[3*keySize:])

	if h.initiator {
		h.sendKey = initiatorToResponder
		h.recvKey = responderToInitiator
	} else {
		h.sendKey = responderToInitiator
		h.recvKey = initiatorToResponder
	}
	return nil
}

// confirmMAC computes the keyed-BLAKE3 MAC over the transcript hash.
// Both sides derive the same confirmation key, so the MAC proves the
// initiator reached the same key schedule.
func (h *Handshake) confirmMAC() []byte {
	hasher, err := blake3.NewKeyed(h.confirmKey)
	if err != nil {
		panic("transport: BLAKE3 keyed hash initialization failed (key must be 32 bytes): " + err.Error())
	}
	hasher.Write(h.transcriptHash)
	return hasher.Sum(nil)
}

// establish snapshots the peer's trust standing and moves to
// HandshakeEstablished. Chain validation happens exactly once, here:
// structural validity, signatures, and issuer trust are fixed for the
// session's lifetime, while expiry is re-derived per request from the
// retained window. A chain about some other identity than the one the
// proof demonstrated is refused outright.
func (h *Handshake) establish() {
	attrs, err := credential.ValidateChain(h.peerChain, h.trust, h.clock.Now())
	if err == nil && attrs.Subject() != h.peer.PeerID() {
		err = fmt.Errorf("%w: chain subject %s is not the connected peer %s",
			credential.ErrMalformed, attrs.Subject(), h.peer.PeerID())
		attrs = credential.VerifiedAttributes{}
	}
	h.attrs = attrs
	h.trustErr = err
	h.establishedAt = h.clock.Now()
	h.state = HandshakeEstablished
}

// fail zeroizes all key material and moves to the terminal Failed
// state.
func (h *Handshake) fail(cause error) error {
	secret.Zero(h.ephemeralPrivate)
	secret.Zero(h.sendKey)
	secret.Zero(h.recvKey)
	secret.Zero(h.confirmKey)
	h.sendKey = nil
	h.recvKey = nil
	h.confirmKey = nil
	h.state = HandshakeFailed
	return fmt.Errorf("%w: %v", ErrHandshakeFailed, cause)
}

// Peer returns the verified peer identity. Valid once established.
func (h *Handshake) Peer() identity.Identity { return h.peer }

// SessionID returns the session identifier both sides derived from
// the key schedule. Valid once established.
func (h *Handshake) SessionID() uint64 { return h.sessionID }

func (h *Handshake) absorb(data []byte) {
	h.transcript.Write(data)
}

func (h *Handshake) absorbUint(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.transcript.Write(buf[:])
}

// absorbChain absorbs a credential chain with length prefixes so that
// distinct chains can never produce the same transcript bytes.
func (h *Handshake) absorbChain(chain [][]byte) {
	h.absorbUint(uint64(len(chain)))
	for _, link := range chain {
		h.absorbUint(uint64(len(link)))
		h.absorb(link)
	}
}

func (h *Handshake) digest() []byte {
	return h.transcript.Sum(nil)
}
