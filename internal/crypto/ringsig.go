package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/ecc/goldilocks"
)

// RingSignature is a deniable proof that the holder of one of three
// long-term or ephemeral secret scalars authored msg, without
// revealing which one (spec §4.3, §9 "Ring signatures"). It is a
// generalized Schnorr OR-proof (a 1-out-of-3 ring signature in the
// style of Abe-Ohkubo-Suzuki), built directly on the Ed448-Goldilocks
// group exposed by circl since the pack carries no ring-signature
// library.
type RingSignature struct {
	C1, R1 Scalar
	C2, R2 Scalar
	C3, R3 Scalar
}

// Ring is the three public points a RingSignature is verified against,
// in the fixed order the DAKE transcript uses: {responder H, initiator
// H, ephemeral}.
type Ring [3]Point

// ErrRingVerifyFailed is returned by RingVerify (and wraps into a
// Crypto-taxonomy error at the DAKE layer) when the signature does not
// verify under the given ring and message.
var ErrRingVerifyFailed = errors.New("crypto: ring signature verification failed")

// RingSign produces sigma proving that the holder of secret (whose
// public point is ring[signerIndex]) signed msg, without revealing
// signerIndex to a verifier.
//
// The two "other" branches are simulated: a fresh challenge/response
// pair is chosen for each, and the real branch's challenge is forced
// by the Fiat-Shamir hash to make the three challenges sum to a value
// derived from the commitments and msg. Because any ring member could
// have run this same simulation for either of the other two branches,
// no third party can distinguish who actually signed — this is what
// makes the DAKE transcript deniable (spec §4.3).
func RingSign(rnd io.Reader, ring Ring, signerIndex int, secret Scalar, msg []byte) (*RingSignature, error) {
	if signerIndex < 0 || signerIndex > 2 {
		return nil, errors.New("crypto: RingSign: signerIndex out of range")
	}
	if rnd == nil {
		rnd = rand.Reader
	}

	cs := make([]Scalar, 3)
	rs := make([]Scalar, 3)
	coms := make([]Point, 3)

	// Simulate the two branches the signer doesn't know the secret for:
	// pick (c, r) freely and derive the commitment that makes the
	// verification equation hold.
	for i := 0; i < 3; i++ {
		if i == signerIndex {
			continue
		}
		c, err := randomScalar(rnd)
		if err != nil {
			return nil, err
		}
		r, err := randomScalar(rnd)
		if err != nil {
			return nil, err
		}
		cs[i] = c
		rs[i] = r
		coms[i] = simulateCommitment(r, c, ring[i])
	}

	// Real branch: commit with a fresh nonce.
	k, err := randomScalar(rnd)
	if err != nil {
		return nil, err
	}
	coms[signerIndex] = scalarBaseMultPoint(k)

	total := fiatShamirChallenge(ring, coms, msg)
	// total = c0+c1+c2 (mod order); solve for the real branch's challenge.
	cReal := subScalar(total, sumOtherChallenges(cs, signerIndex))
	rReal := combineResponse(k, cReal, secret)
	cs[signerIndex] = cReal
	rs[signerIndex] = rReal

	return &RingSignature{
		C1: cs[0], R1: rs[0],
		C2: cs[1], R2: rs[1],
		C3: cs[2], R3: rs[2],
	}, nil
}

// RingVerify checks sigma against ring and msg.
func RingVerify(ring Ring, sigma *RingSignature, msg []byte) error {
	cs := [3]Scalar{sigma.C1, sigma.C2, sigma.C3}
	rs := [3]Scalar{sigma.R1, sigma.R2, sigma.R3}

	coms := make([]Point, 3)
	for i := 0; i < 3; i++ {
		coms[i] = simulateCommitment(rs[i], cs[i], ring[i])
	}

	total := fiatShamirChallenge(ring, coms, msg)
	sum := addScalarValues(cs[0], cs[1], cs[2])
	if !ConstantTimeEquals(total.Encode(), sum.Encode()) {
		return ErrRingVerifyFailed
	}
	return nil
}

// --- scalar/point helpers used only by the ring-signature construction ---

func randomScalar(rnd io.Reader) (Scalar, error) {
	var buf [ScalarSize]byte
	if _, err := io.ReadFull(rnd, buf[:]); err != nil {
		return Scalar{}, fmt.Errorf("crypto: randomScalar: %w", err)
	}
	clamp(&buf)
	var s goldilocks.Scalar
	s.FromBytes(buf[:])
	return Scalar{s: s}, nil
}

func scalarBaseMultPoint(k Scalar) Point {
	p := goldilocks.Curve{}.ScalarBaseMult(&k.s)
	return Point{p: *p}
}

// simulateCommitment returns [r]B + [c]P, i.e. the commitment that
// satisfies the branch's verification equation for a chosen (c, r)
// without knowing P's discrete log. For the real branch, where
// r = k - c*secret (combineResponse), this equals the nonce commitment
// [k]B.
func simulateCommitment(r, c Scalar, pub Point) Point {
	rb := goldilocks.Curve{}.ScalarBaseMult(&r.s)
	cp := goldilocks.Curve{}.ScalarMult(&c.s, &pub.p)
	rb.Add(rb, cp)
	return Point{p: *rb}
}

// combineResponse computes r = k - c*secret (mod order), the real
// branch's Schnorr response.
func combineResponse(k, c, secret Scalar) Scalar {
	var prod goldilocks.Scalar
	prod.Mul(&c.s, &secret.s)
	var out goldilocks.Scalar
	out.Sub(&k.s, &prod)
	return Scalar{s: out}
}

func subScalar(total Scalar, others Scalar) Scalar {
	var out goldilocks.Scalar
	out.Sub(&total.s, &others.s)
	return Scalar{s: out}
}

func sumOtherChallenges(cs []Scalar, skip int) Scalar {
	var out goldilocks.Scalar
	first := true
	for i, c := range cs {
		if i == skip {
			continue
		}
		if first {
			out = c.s
			first = false
			continue
		}
		out.Add(&out, &c.s)
	}
	return Scalar{s: out}
}

func addScalarValues(a, b, c Scalar) Scalar {
	var out goldilocks.Scalar
	out.Add(&a.s, &b.s)
	out.Add(&out, &c.s)
	return Scalar{s: out}
}

// fiatShamirChallenge hashes the ring, the three commitments, and msg
// down to a single scalar via the otr4 KDF, binding the proof to the
// exact transcript it's carried in (spec §4.3's transcript hash t).
func fiatShamirChallenge(ring Ring, coms []Point, msg []byte) Scalar {
	parts := make([][]byte, 0, 8)
	for _, p := range ring {
		b, _ := p.Encode()
		parts = append(parts, b)
	}
	for _, c := range coms {
		b, _ := c.Encode()
		parts = append(parts, b)
	}
	parts = append(parts, msg)
	var buf [ScalarSize]byte
	copy(buf[:], KDFMulti(0x10, ScalarSize, parts...))
	clamp(&buf)
	var s goldilocks.Scalar
	s.FromBytes(buf[:])
	return Scalar{s: s}
}
