// Package smp implements the Socialist Millionaire Protocol (spec
// §4.5): a four-message zero-knowledge equality test over a shared
// low-entropy secret, built on the same Ed448-Goldilocks group as the
// rest of otr4 via internal/crypto's exported scalar/point operations.
// Two peers each hold a secret (typically a human-entered passphrase,
// salted by the host with fingerprints and session material before
// reaching this package); SMP reveals only whether the two secrets are
// equal.
package smp

import (
	"errors"
	"fmt"

	otrcrypto "github.com/deniable-im/otr4/internal/crypto"
)

// Status is the state of one SMP run (spec §3 "SMP state").
type Status int

const (
	Expect1 Status = iota
	Expect2
	Expect3
	Expect4
	Succeeded
	Failed
	Aborted
)

// ErrWrongStatus is returned when a message arrives out of turn for
// the current Status.
var ErrWrongStatus = errors.New("smp: message received out of order")

// ErrProofFailed wraps any zero-knowledge proof that failed to
// verify — spec §7's SmpError taxonomy entry.
var ErrProofFailed = errors.New("smp: zero-knowledge proof verification failed")

// schnorr is a proof of knowledge of the discrete log of a point with
// respect to the base generator.
type schnorr struct {
	C otrcrypto.Scalar
	D otrcrypto.Scalar
}

func proveSchnorr(secret otrcrypto.Scalar, r otrcrypto.Scalar, tag byte) schnorr {
	commit := otrcrypto.ScalarBaseMult(r)
	c := challenge(tag, commit)
	d := otrcrypto.SubScalars(r, otrcrypto.MulScalars(secret, c))
	return schnorr{C: c, D: d}
}

func verifySchnorr(pub otrcrypto.Point, pi schnorr, tag byte) bool {
	lhs := otrcrypto.AddPoints(otrcrypto.ScalarBaseMult(pi.D), otrcrypto.ScalarMultPoint(pi.C, pub))
	return otrcrypto.ScalarsEqual(pi.C, challenge(tag, lhs))
}

// challenge reduces tag||point to a scalar via the shared KDF, the
// Fiat-Shamir transform for every Schnorr-style proof in this package.
func challenge(tag byte, points ...otrcrypto.Point) otrcrypto.Scalar {
	parts := make([][]byte, 0, len(points))
	for _, p := range points {
		b, _ := p.Encode()
		parts = append(parts, b)
	}
	return otrcrypto.ScalarFromBytes(joinWithTag(tag, parts))
}

func joinWithTag(tag byte, parts [][]byte) []byte {
	var buf []byte
	buf = append(buf, tag)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// coordProof is the composite Chaum-Pedersen-style proof attached to
// message 2 and message 3: knowledge of (r, secret) such that
// P = [r]g3 and Q = [r]G + [secret]g2.
type coordProof struct {
	C  otrcrypto.Scalar
	D5 otrcrypto.Scalar
	D6 otrcrypto.Scalar
}

func proveCoord(g2, g3 otrcrypto.Point, r, secret, r5, r6 otrcrypto.Scalar, tag byte) coordProof {
	t1 := otrcrypto.ScalarMultPoint(r5, g3)
	t2 := otrcrypto.AddPoints(otrcrypto.ScalarBaseMult(r5), otrcrypto.ScalarMultPoint(r6, g2))
	c := challenge(tag, t1, t2)
	d5 := otrcrypto.SubScalars(r5, otrcrypto.MulScalars(r, c))
	d6 := otrcrypto.SubScalars(r6, otrcrypto.MulScalars(secret, c))
	return coordProof{C: c, D5: d5, D6: d6}
}

func verifyCoord(g2, g3, p, q otrcrypto.Point, pi coordProof, tag byte) bool {
	t1 := otrcrypto.AddPoints(otrcrypto.ScalarMultPoint(pi.D5, g3), otrcrypto.ScalarMultPoint(pi.C, p))
	t2 := otrcrypto.AddPoints(
		otrcrypto.AddPoints(otrcrypto.ScalarBaseMult(pi.D5), otrcrypto.ScalarMultPoint(pi.D6, g2)),
		otrcrypto.ScalarMultPoint(pi.C, q),
	)
	return otrcrypto.ScalarsEqual(pi.C, challenge(tag, t1, t2))
}

// dleqProof is a proof of knowledge of the discrete log of a party's
// g3 public value with respect to G, equal to the exponent that maps
// (Qa-Qb) to that party's R value.
type dleqProof struct {
	C otrcrypto.Scalar
	D otrcrypto.Scalar
}

func proveDLEQ(secret, r otrcrypto.Scalar, diff otrcrypto.Point, tag byte) dleqProof {
	t1 := otrcrypto.ScalarBaseMult(r)
	t2 := otrcrypto.ScalarMultPoint(r, diff)
	c := challenge(tag, t1, t2)
	d := otrcrypto.SubScalars(r, otrcrypto.MulScalars(secret, c))
	return dleqProof{C: c, D: d}
}

func verifyDLEQ(pub, diff, result otrcrypto.Point, pi dleqProof, tag byte) bool {
	t1 := otrcrypto.AddPoints(otrcrypto.ScalarBaseMult(pi.D), otrcrypto.ScalarMultPoint(pi.C, pub))
	t2 := otrcrypto.AddPoints(otrcrypto.ScalarMultPoint(pi.D, diff), otrcrypto.ScalarMultPoint(pi.C, result))
	return otrcrypto.ScalarsEqual(pi.C, challenge(tag, t1, t2))
}

// Message1 is the first SMP message (spec §4.5).
type Message1 struct {
	G2A, G3A   otrcrypto.Point
	ProofG2A   schnorr
	ProofG3A   schnorr
	HasQuestion bool
	Question    string
}

// Message2 is SMP's second message.
type Message2 struct {
	G2B, G3B otrcrypto.Point
	ProofG2B schnorr
	ProofG3B schnorr
	Pb, Qb   otrcrypto.Point
	Coord    coordProof
}

// Message3 is SMP's third message.
type Message3 struct {
	Pa, Qa otrcrypto.Point
	Coord  coordProof
	Ra     otrcrypto.Point
	DLEQ   dleqProof
}

// Message4 is SMP's fourth and final message.
type Message4 struct {
	Rb   otrcrypto.Point
	DLEQ dleqProof
}

// State is one peer's in-progress or finished SMP run.
type State struct {
	Status Status

	secret otrcrypto.Scalar

	a2, a3 otrcrypto.Scalar // initiator secrets
	b2, b3 otrcrypto.Scalar // responder secrets

	g2, g3 otrcrypto.Point

	g3a otrcrypto.Point // initiator's g3, kept for the responder's DLEQ check
	g3b otrcrypto.Point

	pa, pb otrcrypto.Point
	qa, qb otrcrypto.Point
}

// New creates SMP state for a fresh run over secret (already combined
// with any question, peer fingerprints, and instance tags by the
// caller per spec §4.5).
func New(secret []byte) *State {
	return &State{Status: Expect1, secret: otrcrypto.ScalarFromBytes(secret)}
}

// Start produces message 1, run by whichever peer calls initiate_smp
// (spec §6 `initiate_smp`).
func (s *State) Start(question string) (Message1, error) {
	if s.Status != Expect1 {
		return Message1{}, fmt.Errorf("%w: Start requires Expect1, have %v", ErrWrongStatus, s.Status)
	}
	a2, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message1{}, err
	}
	a3, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message1{}, err
	}
	r2, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message1{}, err
	}
	r3, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message1{}, err
	}
	s.a2, s.a3 = a2, a3
	g2a := otrcrypto.ScalarBaseMult(a2)
	g3a := otrcrypto.ScalarBaseMult(a3)
	s.g3a = g3a

	msg := Message1{
		G2A:      g2a,
		G3A:      g3a,
		ProofG2A: proveSchnorr(a2, r2, 0x01),
		ProofG3A: proveSchnorr(a3, r3, 0x02),
	}
	if question != "" {
		msg.HasQuestion = true
		msg.Question = question
	}
	s.Status = Expect2
	return msg, nil
}

// ReceiveMessage1 processes message 1 as the responder (spec §6
// `respond_smp`) and produces message 2.
func (s *State) ReceiveMessage1(msg Message1) (Message2, error) {
	if s.Status != Expect1 {
		return Message2{}, fmt.Errorf("%w: ReceiveMessage1 requires Expect1, have %v", ErrWrongStatus, s.Status)
	}
	if !verifySchnorr(msg.G2A, msg.ProofG2A, 0x01) || !verifySchnorr(msg.G3A, msg.ProofG3A, 0x02) {
		s.Status = Failed
		return Message2{}, ErrProofFailed
	}
	s.g3a = msg.G3A

	b2, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message2{}, err
	}
	b3, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message2{}, err
	}
	r2, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message2{}, err
	}
	r3, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message2{}, err
	}
	r4, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message2{}, err
	}
	r5, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message2{}, err
	}
	r6, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message2{}, err
	}
	s.b2, s.b3 = b2, b3
	g2b := otrcrypto.ScalarBaseMult(b2)
	g3b := otrcrypto.ScalarBaseMult(b3)
	s.g3b = g3b

	s.g2 = otrcrypto.ScalarMultPoint(b2, msg.G2A)
	s.g3 = otrcrypto.ScalarMultPoint(b3, msg.G3A)

	pb := otrcrypto.ScalarMultPoint(r4, s.g3)
	qb := otrcrypto.AddPoints(otrcrypto.ScalarBaseMult(r4), otrcrypto.ScalarMultPoint(s.secret, s.g2))
	s.pb, s.qb = pb, qb

	out := Message2{
		G2B:      g2b,
		G3B:      g3b,
		ProofG2B: proveSchnorr(b2, r2, 0x03),
		ProofG3B: proveSchnorr(b3, r3, 0x04),
		Pb:       pb,
		Qb:       qb,
		Coord:    proveCoord(s.g2, s.g3, r4, s.secret, r5, r6, 0x05),
	}
	s.Status = Expect3
	return out, nil
}

// ReceiveMessage2 processes message 2 as the initiator and produces
// message 3.
func (s *State) ReceiveMessage2(msg Message2) (Message3, error) {
	if s.Status != Expect2 {
		return Message3{}, fmt.Errorf("%w: ReceiveMessage2 requires Expect2, have %v", ErrWrongStatus, s.Status)
	}
	if !verifySchnorr(msg.G2B, msg.ProofG2B, 0x03) || !verifySchnorr(msg.G3B, msg.ProofG3B, 0x04) {
		s.Status = Failed
		return Message3{}, ErrProofFailed
	}
	s.g3b = msg.G3B
	s.g2 = otrcrypto.ScalarMultPoint(s.a2, msg.G2B)
	s.g3 = otrcrypto.ScalarMultPoint(s.a3, msg.G3B)

	if !verifyCoord(s.g2, s.g3, msg.Pb, msg.Qb, msg.Coord, 0x05) {
		s.Status = Failed
		return Message3{}, ErrProofFailed
	}
	s.pb, s.qb = msg.Pb, msg.Qb

	r4, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message3{}, err
	}
	r5, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message3{}, err
	}
	r6, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message3{}, err
	}
	r7, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message3{}, err
	}

	pa := otrcrypto.ScalarMultPoint(r4, s.g3)
	qa := otrcrypto.AddPoints(otrcrypto.ScalarBaseMult(r4), otrcrypto.ScalarMultPoint(s.secret, s.g2))
	s.pa, s.qa = pa, qa

	diff := otrcrypto.SubPoints(qa, s.qb)
	ra := otrcrypto.ScalarMultPoint(s.a3, diff)

	out := Message3{
		Pa:    pa,
		Qa:    qa,
		Coord: proveCoord(s.g2, s.g3, r4, s.secret, r5, r6, 0x06),
		Ra:    ra,
		DLEQ:  proveDLEQ(s.a3, r7, diff, 0x07),
	}
	s.Status = Expect4
	return out, nil
}

// ReceiveMessage3 processes message 3 as the responder, determines
// whether the secrets matched, and produces message 4. The returned
// bool is true iff the secrets were equal.
func (s *State) ReceiveMessage3(msg Message3) (Message4, bool, error) {
	if s.Status != Expect3 {
		return Message4{}, false, fmt.Errorf("%w: ReceiveMessage3 requires Expect3, have %v", ErrWrongStatus, s.Status)
	}
	if !verifyCoord(s.g2, s.g3, msg.Pa, msg.Qa, msg.Coord, 0x06) {
		s.Status = Failed
		return Message4{}, false, ErrProofFailed
	}
	s.pa, s.qa = msg.Pa, msg.Qa

	diff := otrcrypto.SubPoints(msg.Qa, s.qb)
	if !verifyDLEQ(s.g3a, diff, msg.Ra, msg.DLEQ, 0x07) {
		s.Status = Failed
		return Message4{}, false, ErrProofFailed
	}

	r7, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		return Message4{}, false, err
	}
	rb := otrcrypto.ScalarMultPoint(s.b3, diff)
	proof := proveDLEQ(s.b3, r7, diff, 0x08)

	rab := otrcrypto.ScalarMultPoint(s.b3, msg.Ra)
	matched := otrcrypto.PointsEqual(rab, otrcrypto.SubPoints(msg.Pa, s.pb))

	if matched {
		s.Status = Succeeded
	} else {
		s.Status = Failed
	}
	return Message4{Rb: rb, DLEQ: proof}, matched, nil
}

// ReceiveMessage4 processes the final message as the initiator and
// reports whether the secrets matched.
func (s *State) ReceiveMessage4(msg Message4) (bool, error) {
	if s.Status != Expect4 {
		return false, fmt.Errorf("%w: ReceiveMessage4 requires Expect4, have %v", ErrWrongStatus, s.Status)
	}
	diff := otrcrypto.SubPoints(s.qa, s.qb)
	if !verifyDLEQ(s.g3b, diff, msg.Rb, msg.DLEQ, 0x08) {
		s.Status = Failed
		return false, ErrProofFailed
	}
	rab := otrcrypto.ScalarMultPoint(s.a3, msg.Rb)
	matched := otrcrypto.PointsEqual(rab, otrcrypto.SubPoints(s.pa, s.pb))
	if matched {
		s.Status = Succeeded
	} else {
		s.Status = Failed
	}
	return matched, nil
}

// Abort resets the run to Expect1 from any state, per spec §4.5 ("any
// round may be aborted by either side, which resets to EXPECT1").
func (s *State) Abort() {
	*s = State{Status: Expect1, secret: s.secret}
}
