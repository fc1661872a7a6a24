// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/lib/secret"
	"github.com/cordon-foundation/cordon/lib/wire"
)

// ErrChannelClosed is returned by channel operations after Close, and
// by ReadFrame when the peer announces an orderly shutdown.
var ErrChannelClosed = errors.New("transport: channel closed")

// MaxPlaintextLength is the largest plaintext Seal accepts: the frame
// payload cap minus the Poly1305 tag.
const MaxPlaintextLength = wire.MaxPayloadLength - chacha20poly1305.Overhead

// Session is the trust snapshot taken when a secure channel is
// established. It is immutable for the channel's lifetime: identity
// and chain validity are fixed at establishment, and only expiry is
// re-derived per request via Attributes.ExpiredAt.
type Session struct {
	// ID is the session identifier both sides derived from the
	// handshake key schedule.
	ID uint64

	// Local is the peer ID of this side of the channel.
	Local ref.PeerID

	// Peer is the remote identity proven during the handshake. Always
	// set: a channel never exists without a verified identity.
	Peer identity.Identity

	// Attributes is the verified attribute set from the peer's
	// credential chain. The zero value when TrustError is non-nil.
	Attributes credential.VerifiedAttributes

	// TrustError records why chain validation failed at
	// establishment, or nil when Attributes is usable. A session with
	// a TrustError is semi-trusted: the identity is known, but the
	// peer carries no attributes and only policy that requires none
	// can let its requests through.
	TrustError error

	// EstablishedAt is when the handshake completed.
	EstablishedAt time.Time
}

// PeerID returns the remote peer's ID.
func (s Session) PeerID() ref.PeerID { return s.Peer.PeerID() }

// Trusted reports whether the peer presented a chain that validated
// at establishment.
func (s Session) Trusted() bool { return s.TrustError == nil }

// SecureChannel is an established encrypted session over a net.Conn.
// Every frame after the handshake is sealed with ChaCha20-Poly1305
// under a per-direction key and a strictly incrementing nonce
// counter, so frames cannot be replayed, reordered, or dropped
// without the next Open failing. Any AEAD failure closes the channel.
//
// WriteFrame and ReadFrame are each safe for one goroutine at a time;
// writes and reads may proceed concurrently with each other.
type SecureChannel struct {
	conn    net.Conn
	session Session
	clock   clock.Clock

	writeMu     sync.Mutex
	sealer      cipher.AEAD
	sendCounter uint64

	readMu      sync.Mutex
	opener      cipher.AEAD
	recvCounter uint64

	lastActivity atomic.Int64

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Channel consumes an established handshake and wraps the connection
// it ran over. The handshake's key material is destroyed in the
// process; a handshake builds exactly one channel.
func (h *Handshake) Channel(conn net.Conn) (*SecureChannel, error) {
	if h.state != HandshakeEstablished {
		return nil, fmt.Errorf("transport: channel requires an established handshake (state %s)", h.state)
	}

	sealer, err := chacha20poly1305.New(h.sendKey)
	if err != nil {
		return nil, fmt.Errorf("transport: creating send cipher: %w", err)
	}
	opener, err := chacha20poly1305.New(h.recvKey)
	if err != nil {
		return nil, fmt.Errorf("transport: creating receive cipher: %w", err)
	}
	secret.Zero(h.sendKey)
	secret.Zero(h.recvKey)
	secret.Zero(h.confirmKey)
	h.sendKey = nil
	h.recvKey = nil
	h.confirmKey = nil

	channel := &SecureChannel{
		conn: conn,
		session: Session{
			ID:            h.sessionID,
			Local:         h.local.PeerID(),
			Peer:          h.peer,
			Attributes:    h.attrs,
			TrustError:    h.trustErr,
			EstablishedAt: h.establishedAt,
		},
		clock:  h.clock,
		sealer: sealer,
		opener: opener,
	}
	channel.lastActivity.Store(h.establishedAt.UnixNano())
	return channel, nil
}

// Session returns the trust snapshot for this channel.
func (c *SecureChannel) Session() Session { return c.session }

// Seal encrypts plaintext into a frame of the given kind, consuming
// the next send nonce. Callers that seal without writing through
// WriteFrame own the obligation to put frames on the wire in seal
// order.
func (c *SecureChannel) Seal(kind byte, plaintext []byte) (wire.Frame, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sealLocked(kind, plaintext)
}

func (c *SecureChannel) sealLocked(kind byte, plaintext []byte) (wire.Frame, error) {
	if c.closed.Load() {
		return wire.Frame{}, ErrChannelClosed
	}
	if len(plaintext) > MaxPlaintextLength {
		return wire.Frame{}, fmt.Errorf("transport: plaintext length %d exceeds maximum %d", len(plaintext), MaxPlaintextLength)
	}
	if c.sendCounter == math.MaxUint64 {
		return wire.Frame{}, errors.New("transport: send nonce counter exhausted")
	}

	nonce := counterNonce(c.sendCounter)
	ciphertext := c.sealer.Seal(nil, nonce, plaintext, c.aad(kind))
	c.sendCounter++
	return wire.Frame{Kind: kind, Payload: ciphertext}, nil
}

// Open decrypts a frame sealed by the peer, consuming the next
// receive nonce. A frame that does not authenticate at the expected
// counter — tampered, replayed, reordered, or following a dropped
// frame — fails and closes the channel.
func (c *SecureChannel) Open(frame wire.Frame) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.openLocked(frame)
}

func (c *SecureChannel) openLocked(frame wire.Frame) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}

	nonce := counterNonce(c.recvCounter)
	plaintext, err := c.opener.Open(nil, nonce, frame.Payload, c.aad(frame.Kind))
	if err != nil {
		// The stream is compromised or desynchronized; a close notice
		// over it would be meaningless.
		c.closeWithoutNotice()
		return nil, fmt.Errorf("transport: frame %d failed authentication: %w", c.recvCounter, err)
	}
	c.recvCounter++
	return plaintext, nil
}

// WriteFrame seals plaintext and writes it to the connection. Sealing
// and writing happen under one lock so wire order always matches
// nonce order.
func (c *SecureChannel) WriteFrame(kind byte, plaintext []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frame, err := c.sealLocked(kind, plaintext)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(c.conn, frame); err != nil {
		return err
	}
	c.touch()
	return nil
}

// ReadFrame reads the next encrypted frame from the connection and
// returns its kind and plaintext. A FrameClose from the peer closes
// the channel and returns ErrChannelClosed; stray handshake frames on
// an established channel are discarded.
func (c *SecureChannel) ReadFrame() (byte, []byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.closed.Load() {
			return 0, nil, ErrChannelClosed
		}
		frame, err := wire.ReadFrame(c.conn)
		if err != nil {
			if c.closed.Load() {
				return 0, nil, ErrChannelClosed
			}
			return 0, nil, err
		}

		switch frame.Kind {
		case wire.FrameClose:
			c.closeWithoutNotice()
			return 0, nil, ErrChannelClosed
		case wire.FrameHandshake1, wire.FrameHandshake2, wire.FrameHandshake3:
			continue
		}

		plaintext, err := c.openLocked(frame)
		if err != nil {
			return 0, nil, err
		}
		c.touch()
		return frame.Kind, plaintext, nil
	}
}

// SetReadDeadline sets the read deadline on the underlying
// connection. The zero time clears it.
func (c *SecureChannel) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// LastActivity returns the time of the most recent successful read or
// write, for idle sweeps.
func (c *SecureChannel) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// closeNoticeTimeout bounds the best-effort close notice write so a
// stalled peer cannot pin Close.
const closeNoticeTimeout = time.Second

// Close announces shutdown to the peer with a best-effort FrameClose
// and closes the connection. Safe to call more than once.
func (c *SecureChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		// Plaintext close notice: it carries nothing and lets the
		// peer tell an orderly shutdown from a cut connection. Wall
		// clock, not the injected one: this deadline guards the
		// socket write, and the conn compares it against real time.
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeNoticeTimeout))
		_ = wire.WriteFrame(c.conn, wire.Frame{Kind: wire.FrameClose})
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// closeWithoutNotice tears down after the peer already announced the
// close; echoing a FrameClose back would race the dying connection.
func (c *SecureChannel) closeWithoutNotice() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
}

func (c *SecureChannel) touch() {
	c.lastActivity.Store(c.clock.Now().UnixNano())
}

// aad binds each frame's ciphertext to its kind and session, so a
// sealed Request can never be replayed as a Response and ciphertext
// cannot migrate between sessions.
func (c *SecureChannel) aad(kind byte) []byte {
	aad := make([]byte, 9)
	aad[0] = kind
	binary.BigEndian.PutUint64(aad[1:], c.session.ID)
	return aad
}

// counterNonce builds the 12-byte ChaCha20-Poly1305 nonce for a
// counter value: four zero bytes then the counter big-endian.
func counterNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}
