// Package crypto implements the cryptographic primitives the rest of
// otr4 builds on: Ed448-Goldilocks scalars and points, ECDH, 3072-bit
// finite-field Diffie-Hellman, the SHAKE-256 based KDF, the XSalsa20
// stream cipher, and deniable ring signatures.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/ecc/goldilocks"
	"golang.org/x/crypto/sha3"
)

// PointSize is the length in bytes of an encoded Ed448 point.
const PointSize = 57

// ScalarSize is the length in bytes of an encoded Ed448 scalar.
const ScalarSize = 57

// ErrInvalidPoint is returned when a point encoding does not decode to
// a valid curve point.
var ErrInvalidPoint = errors.New("crypto: invalid Ed448 point encoding")

// ErrInvalidScalar is returned when a scalar encoding is the wrong size.
var ErrInvalidScalar = errors.New("crypto: invalid Ed448 scalar encoding")

// Point is an Ed448-Goldilocks group element. Only the decoded form is
// stored; the 57-byte wire encoding is produced by Encode on demand.
type Point struct {
	p goldilocks.Point
}

// Scalar is an Ed448 scalar reduced modulo the group order.
type Scalar struct {
	s goldilocks.Scalar
}

// ECDHKeyPair is a fresh Ed448 point/scalar pair used by the double
// ratchet's asymmetric step. The secret scalar is "pruned" per
// RFC 8032 §5.2.5 (spec §3, "Ephemeral ECDH key pair").
type ECDHKeyPair struct {
	secret [ScalarSize]byte
	Public Point
	closed bool
}

// GenerateECDH creates a fresh, pruned Ed448 key pair.
func GenerateECDH(rnd io.Reader) (*ECDHKeyPair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	var seed [ScalarSize]byte
	if _, err := io.ReadFull(rnd, seed[:]); err != nil {
		return nil, fmt.Errorf("crypto: GenerateECDH: %w", err)
	}
	clamp(&seed)

	var sc goldilocks.Scalar
	sc.FromBytes(seed[:])

	pub := goldilocks.Curve{}.ScalarBaseMult(&sc)
	pair := &ECDHKeyPair{
		secret: seed,
		Public: Point{p: *pub},
	}
	return pair, nil
}

// clamp implements the Ed448 scalar pruning rule shared by RFC 8032 and
// the OTRv4 ephemeral ECDH key generation step (spec §3): the bottom
// two bits are cleared, the top bit of the second-highest byte is set,
// and the last byte is zeroed.
func clamp(b *[ScalarSize]byte) {
	b[0] &= 0xFC
	b[ScalarSize-2] |= 0x80
	b[ScalarSize-1] = 0x00
}

// Secret returns a copy of the raw clamped scalar bytes.
func (kp *ECDHKeyPair) Secret() [ScalarSize]byte {
	return kp.secret
}

// Close wipes the secret scalar. A closed key pair must not be used
// again; its Public point remains valid (it was already shared).
func (kp *ECDHKeyPair) Close() {
	if kp.closed {
		return
	}
	for i := range kp.secret {
		kp.secret[i] = 0
	}
	kp.closed = true
}

// Closed reports whether Close has been called.
func (kp *ECDHKeyPair) Closed() bool { return kp.closed }

// ECDH computes the Diffie-Hellman shared point between our secret
// scalar and the peer's public point, encoded to 57 bytes.
func ECDH(kp *ECDHKeyPair, peer Point) ([]byte, error) {
	if kp.closed {
		return nil, errors.New("crypto: ECDH: key pair already closed")
	}
	var sc goldilocks.Scalar
	sc.FromBytes(kp.secret[:])

	shared := goldilocks.Curve{}.ScalarMult(&sc, &peer.p)
	out := make([]byte, PointSize)
	if err := shared.ToBytes(out); err != nil {
		return nil, fmt.Errorf("crypto: ECDH: %w", err)
	}
	return out, nil
}

// DecodePoint decodes a 57-byte Ed448 point encoding.
func DecodePoint(b []byte) (Point, error) {
	if len(b) != PointSize {
		return Point{}, ErrInvalidPoint
	}
	p, err := goldilocks.FromBytes(b)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return Point{p: *p}, nil
}

// Encode returns the 57-byte encoding of the point.
func (p Point) Encode() ([]byte, error) {
	out := make([]byte, PointSize)
	if err := p.p.ToBytes(out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return out, nil
}

// DecodeScalar decodes a 57-byte little-endian Ed448 scalar.
func DecodeScalar(b []byte) (Scalar, error) {
	if len(b) != ScalarSize {
		return Scalar{}, ErrInvalidScalar
	}
	var s goldilocks.Scalar
	s.FromBytes(b)
	return Scalar{s: s}, nil
}

// Encode returns the 57-byte little-endian encoding of the scalar.
func (s Scalar) Encode() []byte {
	out := make([]byte, ScalarSize)
	s.s.ToBytes(out)
	return out
}

// ed448HashSize is the SHAKE-256 output length Ed448 key derivation
// hashes a seed to before clamping (2*ScalarSize, RFC 8032 §5.2.5).
const ed448HashSize = 2 * ScalarSize

// ScalarFromEd448Seed derives the secret scalar an Ed448 private key
// actually signs with from that key's 57-byte seed: h = SHAKE-256(seed,
// 114), clamp h[:57], reduce mod the group order. This is the same
// derivation circl's ed448 package performs internally in
// NewKeyFromSeed and at signing time, so the returned scalar's
// ScalarBaseMult matches the public key half of the same
// ed448.PrivateKey. Passing an ed448.PrivateKey's raw bytes (seed ||
// public key) directly to DecodeScalar does not produce this scalar.
func ScalarFromEd448Seed(seed []byte) (Scalar, error) {
	if len(seed) != ScalarSize {
		return Scalar{}, ErrInvalidScalar
	}
	var h [ed448HashSize]byte
	shake := sha3.NewShake256()
	_, _ = shake.Write(seed)
	_, _ = shake.Read(h[:])

	var clamped [ScalarSize]byte
	copy(clamped[:], h[:ScalarSize])
	clamp(&clamped)

	var sc goldilocks.Scalar
	sc.FromBytes(clamped[:])
	return Scalar{s: sc}, nil
}
