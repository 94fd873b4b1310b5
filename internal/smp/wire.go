package smp

import (
	otrcrypto "github.com/deniable-im/otr4/internal/crypto"
	"github.com/deniable-im/otr4/internal/wire"
)

// This file carries SMP's four message types across the wire inside a
// data message's TLV payload (spec §4.5, §3 TLV registry). Points and
// scalars reuse internal/wire's fixed-size POINT/SCALAR fields; the
// proofs are just fixed sequences of those two primitives.

func encodePoint(w *wire.Writer, p otrcrypto.Point) error {
	b, err := p.Encode()
	if err != nil {
		return err
	}
	w.Point(b)
	return nil
}

func decodePoint(r *wire.Reader) (otrcrypto.Point, error) {
	b, err := r.Point()
	if err != nil {
		return otrcrypto.Point{}, err
	}
	return otrcrypto.DecodePoint(b)
}

func encodeScalar(w *wire.Writer, s otrcrypto.Scalar) {
	w.Scalar(s.Encode())
}

func decodeScalar(r *wire.Reader) (otrcrypto.Scalar, error) {
	b, err := r.Scalar()
	if err != nil {
		return otrcrypto.Scalar{}, err
	}
	return otrcrypto.DecodeScalar(b)
}

func encodeSchnorr(w *wire.Writer, pi schnorr) {
	encodeScalar(w, pi.C)
	encodeScalar(w, pi.D)
}

func decodeSchnorr(r *wire.Reader) (schnorr, error) {
	c, err := decodeScalar(r)
	if err != nil {
		return schnorr{}, err
	}
	d, err := decodeScalar(r)
	if err != nil {
		return schnorr{}, err
	}
	return schnorr{C: c, D: d}, nil
}

func encodeCoord(w *wire.Writer, pi coordProof) {
	encodeScalar(w, pi.C)
	encodeScalar(w, pi.D5)
	encodeScalar(w, pi.D6)
}

func decodeCoord(r *wire.Reader) (coordProof, error) {
	c, err := decodeScalar(r)
	if err != nil {
		return coordProof{}, err
	}
	d5, err := decodeScalar(r)
	if err != nil {
		return coordProof{}, err
	}
	d6, err := decodeScalar(r)
	if err != nil {
		return coordProof{}, err
	}
	return coordProof{C: c, D5: d5, D6: d6}, nil
}

func encodeDLEQ(w *wire.Writer, pi dleqProof) {
	encodeScalar(w, pi.C)
	encodeScalar(w, pi.D)
}

func decodeDLEQ(r *wire.Reader) (dleqProof, error) {
	c, err := decodeScalar(r)
	if err != nil {
		return dleqProof{}, err
	}
	d, err := decodeScalar(r)
	if err != nil {
		return dleqProof{}, err
	}
	return dleqProof{C: c, D: d}, nil
}

// Encode serializes message 1: G2A, G3A, their Schnorr proofs, and the
// optional question string.
func (m Message1) Encode() ([]byte, error) {
	w := wire.NewWriter()
	if err := encodePoint(w, m.G2A); err != nil {
		return nil, err
	}
	if err := encodePoint(w, m.G3A); err != nil {
		return nil, err
	}
	encodeSchnorr(w, m.ProofG2A)
	encodeSchnorr(w, m.ProofG3A)
	if m.HasQuestion {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
	w.Data([]byte(m.Question))
	return w.Bytes(), nil
}

// DecodeMessage1 parses the wire form Encode produces.
func DecodeMessage1(buf []byte) (Message1, error) {
	r := wire.NewReader(buf)
	g2a, err := decodePoint(r)
	if err != nil {
		return Message1{}, err
	}
	g3a, err := decodePoint(r)
	if err != nil {
		return Message1{}, err
	}
	p2, err := decodeSchnorr(r)
	if err != nil {
		return Message1{}, err
	}
	p3, err := decodeSchnorr(r)
	if err != nil {
		return Message1{}, err
	}
	hasQ, err := r.Byte()
	if err != nil {
		return Message1{}, err
	}
	q, err := r.Data()
	if err != nil {
		return Message1{}, err
	}
	return Message1{
		G2A: g2a, G3A: g3a,
		ProofG2A:    p2,
		ProofG3A:    p3,
		HasQuestion: hasQ != 0,
		Question:    string(q),
	}, nil
}

// Encode serializes message 2.
func (m Message2) Encode() ([]byte, error) {
	w := wire.NewWriter()
	if err := encodePoint(w, m.G2B); err != nil {
		return nil, err
	}
	if err := encodePoint(w, m.G3B); err != nil {
		return nil, err
	}
	encodeSchnorr(w, m.ProofG2B)
	encodeSchnorr(w, m.ProofG3B)
	if err := encodePoint(w, m.Pb); err != nil {
		return nil, err
	}
	if err := encodePoint(w, m.Qb); err != nil {
		return nil, err
	}
	encodeCoord(w, m.Coord)
	return w.Bytes(), nil
}

// DecodeMessage2 parses the wire form Encode produces.
func DecodeMessage2(buf []byte) (Message2, error) {
	r := wire.NewReader(buf)
	g2b, err := decodePoint(r)
	if err != nil {
		return Message2{}, err
	}
	g3b, err := decodePoint(r)
	if err != nil {
		return Message2{}, err
	}
	p2, err := decodeSchnorr(r)
	if err != nil {
		return Message2{}, err
	}
	p3, err := decodeSchnorr(r)
	if err != nil {
		return Message2{}, err
	}
	pb, err := decodePoint(r)
	if err != nil {
		return Message2{}, err
	}
	qb, err := decodePoint(r)
	if err != nil {
		return Message2{}, err
	}
	coord, err := decodeCoord(r)
	if err != nil {
		return Message2{}, err
	}
	return Message2{G2B: g2b, G3B: g3b, ProofG2B: p2, ProofG3B: p3, Pb: pb, Qb: qb, Coord: coord}, nil
}

// Encode serializes message 3.
func (m Message3) Encode() ([]byte, error) {
	w := wire.NewWriter()
	if err := encodePoint(w, m.Pa); err != nil {
		return nil, err
	}
	if err := encodePoint(w, m.Qa); err != nil {
		return nil, err
	}
	encodeCoord(w, m.Coord)
	if err := encodePoint(w, m.Ra); err != nil {
		return nil, err
	}
	encodeDLEQ(w, m.DLEQ)
	return w.Bytes(), nil
}

// DecodeMessage3 parses the wire form Encode produces.
func DecodeMessage3(buf []byte) (Message3, error) {
	r := wire.NewReader(buf)
	pa, err := decodePoint(r)
	if err != nil {
		return Message3{}, err
	}
	qa, err := decodePoint(r)
	if err != nil {
		return Message3{}, err
	}
	coord, err := decodeCoord(r)
	if err != nil {
		return Message3{}, err
	}
	ra, err := decodePoint(r)
	if err != nil {
		return Message3{}, err
	}
	dleq, err := decodeDLEQ(r)
	if err != nil {
		return Message3{}, err
	}
	return Message3{Pa: pa, Qa: qa, Coord: coord, Ra: ra, DLEQ: dleq}, nil
}

// Encode serializes message 4.
func (m Message4) Encode() ([]byte, error) {
	w := wire.NewWriter()
	if err := encodePoint(w, m.Rb); err != nil {
		return nil, err
	}
	encodeDLEQ(w, m.DLEQ)
	return w.Bytes(), nil
}

// DecodeMessage4 parses the wire form Encode produces.
func DecodeMessage4(buf []byte) (Message4, error) {
	r := wire.NewReader(buf)
	rb, err := decodePoint(r)
	if err != nil {
		return Message4{}, err
	}
	dleq, err := decodeDLEQ(r)
	if err != nil {
		return Message4{}, err
	}
	return Message4{Rb: rb, DLEQ: dleq}, nil
}
