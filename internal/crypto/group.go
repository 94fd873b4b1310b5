package crypto

import (
	"crypto/rand"
	"io"

	"github.com/cloudflare/circl/ecc/goldilocks"
)

// Generator is the Ed448-Goldilocks base point, exported for callers
// (principally SMP, spec §4.5) that need to build their own generators
// and commitments rather than running a full ECDH exchange.
func Generator() Point {
	var one goldilocks.Scalar
	one.SetUint64(1)
	return Point{p: *goldilocks.Curve{}.ScalarBaseMult(&one)}
}

// ScalarBaseMult returns [s]G.
func ScalarBaseMult(s Scalar) Point {
	return Point{p: *goldilocks.Curve{}.ScalarBaseMult(&s.s)}
}

// ScalarMultPoint returns [s]P for an arbitrary group element P.
func ScalarMultPoint(s Scalar, p Point) Point {
	return Point{p: *goldilocks.Curve{}.ScalarMult(&s.s, &p.p)}
}

// AddPoints returns a+b.
func AddPoints(a, b Point) Point {
	sum := new(goldilocks.Point)
	*sum = a.p
	sum.Add(sum, &b.p)
	return Point{p: *sum}
}

// NegPoint returns -p.
func NegPoint(p Point) Point {
	n := p.p
	n.Neg()
	return Point{p: n}
}

// SubPoints returns a-b.
func SubPoints(a, b Point) Point {
	return AddPoints(a, NegPoint(b))
}

// RandomScalar draws a uniform, pruned scalar from rnd (or crypto/rand
// if nil).
func RandomScalar(rnd io.Reader) (Scalar, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	return randomScalar(rnd)
}

// AddScalars returns a+b mod order.
func AddScalars(a, b Scalar) Scalar {
	var out goldilocks.Scalar
	out.Add(&a.s, &b.s)
	return Scalar{s: out}
}

// SubScalars returns a-b mod order.
func SubScalars(a, b Scalar) Scalar {
	var out goldilocks.Scalar
	out.Sub(&a.s, &b.s)
	return Scalar{s: out}
}

// MulScalars returns a*b mod order.
func MulScalars(a, b Scalar) Scalar {
	var out goldilocks.Scalar
	out.Mul(&a.s, &b.s)
	return Scalar{s: out}
}

// ScalarFromBytes reduces an arbitrary-length big-endian byte string
// into a scalar via the KDF, used to turn an SMP secret (of whatever
// length the host supplies) into a group scalar.
func ScalarFromBytes(b []byte) Scalar {
	var buf [ScalarSize]byte
	copy(buf[:], KDF(0x20, b, ScalarSize))
	clamp(&buf)
	var s goldilocks.Scalar
	s.FromBytes(buf[:])
	return Scalar{s: s}
}

// PointsEqual reports whether a and b encode to the same value.
func PointsEqual(a, b Point) bool {
	ae, err1 := a.Encode()
	be, err2 := b.Encode()
	if err1 != nil || err2 != nil {
		return false
	}
	return ConstantTimeEquals(ae, be)
}

// ScalarsEqual reports whether a and b are the same scalar.
func ScalarsEqual(a, b Scalar) bool {
	return ConstantTimeEquals(a.Encode(), b.Encode())
}
