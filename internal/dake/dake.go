// Package dake implements otr4's three-message Deniable Authenticated
// Key Exchange (spec §4.3): Identity, Auth-R, and Auth-I. It is built
// directly on internal/crypto's ring signatures and ECDH/DH
// primitives, internal/wire's message codec, and internal/profile's
// client-profile signing and validation.
package dake

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	otrcrypto "github.com/deniable-im/otr4/internal/crypto"
	"github.com/deniable-im/otr4/internal/profile"
	"github.com/deniable-im/otr4/internal/wire"
)

// Role distinguishes the two DAKE participants: the ring the Fiat-
// Shamir challenge and ring signatures are computed over is ordered
// {responder H, initiator H, ephemeral}, so both sides must agree on
// who is which (spec §4.3).
type Role int

const (
	Initiator Role = iota
	Responder
)

// ErrBadRingSignature wraps a failed deniable-signature check at the
// DAKE layer (spec §7 Crypto taxonomy).
var ErrBadRingSignature = errors.New("dake: ring signature verification failed")

// ErrUnexpectedMessage reports a DAKE message received out of
// sequence for the current State (spec §4.3, §7 Protocol taxonomy).
var ErrUnexpectedMessage = errors.New("dake: unexpected message for current state")

// ErrProfileInvalid wraps a client-profile validation failure
// encountered while processing a DAKE message.
var ErrProfileInvalid = errors.New("dake: client profile invalid")

// Phase names the DAKE's position in its three-message exchange.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseAwaitingAuthR
	PhaseAwaitingAuthI
	PhaseDone
)

// Result is everything a finished DAKE hands to the double ratchet:
// the initial 64-byte root key and the two ECDH/DH public values the
// ratchet seeds its first rotation from (spec §4.3 "-> Rk0", §4.4).
type Result struct {
	Rk0         []byte
	PeerECDH    otrcrypto.Point
	PeerDH      *big.Int
	SenderTag   uint32
	ReceiverTag uint32

	// IsInitiator reports which side of the DAKE produced this Result,
	// so the ratchet bootstrap can decide which peer owns the first
	// sending chain (spec §4.4's first rotation).
	IsInitiator bool
}

// State is one side's in-progress (or finished) DAKE.
type State struct {
	role Role
	tag  uint32

	ownProfile profile.Profile
	longTerm   []byte // Ed448 seed (PrivateKey.Seed()) for the long-term H key
	forging    []byte // Ed448 seed (PrivateKey.Seed()) for the forging key

	ephECDH *otrcrypto.ECDHKeyPair
	ephDH   *otrcrypto.DHKeyPair

	peerTag     uint32
	peerProfile profile.Profile
	peerECDH    otrcrypto.Point
	peerDH      *big.Int

	phase Phase
}

// NewInitiator begins a DAKE as the party that will send the Identity
// message. longTerm and forging are the 57-byte seeds
// (ed448.PrivateKey.Seed()) backing the profile's long-term and
// forging keys.
func NewInitiator(tag uint32, ownProfile profile.Profile, longTerm, forging []byte) (*State, error) {
	return newState(Initiator, tag, ownProfile, longTerm, forging)
}

// NewResponder begins a DAKE as the party that waits for an Identity
// message. longTerm and forging are the 57-byte seeds
// (ed448.PrivateKey.Seed()) backing the profile's long-term and
// forging keys.
func NewResponder(tag uint32, ownProfile profile.Profile, longTerm, forging []byte) (*State, error) {
	return newState(Responder, tag, ownProfile, longTerm, forging)
}

func newState(role Role, tag uint32, ownProfile profile.Profile, longTerm, forging []byte) (*State, error) {
	if !wire.ValidInstanceTag(tag) || tag < 256 {
		return nil, wire.ErrReservedInstanceTag
	}
	return &State{
		role:       role,
		tag:        tag,
		ownProfile: ownProfile,
		longTerm:   longTerm,
		forging:    forging,
		phase:      PhaseStart,
	}, nil
}

// StartIdentity generates the initiator's ephemeral keys and returns
// the Identity message to send (spec §4.3, message 1).
func (s *State) StartIdentity(receiverTag uint32) (wire.IdentityMessage, error) {
	if s.role != Initiator || s.phase != PhaseStart {
		return wire.IdentityMessage{}, ErrUnexpectedMessage
	}
	ecdhKP, err := otrcrypto.GenerateECDH(rand.Reader)
	if err != nil {
		return wire.IdentityMessage{}, fmt.Errorf("dake: StartIdentity: %w", err)
	}
	dhKP, err := otrcrypto.GenerateDH(rand.Reader)
	if err != nil {
		return wire.IdentityMessage{}, fmt.Errorf("dake: StartIdentity: %w", err)
	}
	s.ephECDH = ecdhKP
	s.ephDH = dhKP

	yBytes, err := ecdhKP.Public.Encode()
	if err != nil {
		return wire.IdentityMessage{}, fmt.Errorf("dake: StartIdentity: %w", err)
	}

	msg := wire.IdentityMessage{
		Header: wire.Header{
			Version:  4,
			Type:     wire.MsgTypeIdentity,
			Sender:   s.tag,
			Receiver: receiverTag,
		},
		Profile: profile.Encode(s.ownProfile),
		Y:       yBytes,
		B:       dhKP.Public.Bytes(),
	}
	s.phase = PhaseAwaitingAuthR
	return msg, nil
}

// ReceiveIdentity processes an incoming Identity message as the
// responder, validates the sender's profile, generates the
// responder's own ephemeral keys, computes the ring signature Sigma,
// and returns the Auth-R message to send (spec §4.3, message 2).
func (s *State) ReceiveIdentity(msg wire.IdentityMessage, now time.Time, dsaVerify func(pub, sig []byte) bool) (wire.AuthRMessage, error) {
	if s.role != Responder || s.phase != PhaseStart {
		return wire.AuthRMessage{}, ErrUnexpectedMessage
	}
	peerProfile, err := profile.Decode(msg.Profile)
	if err != nil {
		return wire.AuthRMessage{}, fmt.Errorf("%w: %v", ErrProfileInvalid, err)
	}
	if err := profile.Validate(peerProfile, now, dsaVerify); err != nil {
		return wire.AuthRMessage{}, fmt.Errorf("%w: %v", ErrProfileInvalid, err)
	}
	peerECDH, err := otrcrypto.DecodePoint(msg.Y)
	if err != nil {
		return wire.AuthRMessage{}, fmt.Errorf("dake: ReceiveIdentity: %w", err)
	}
	peerDH := new(big.Int).SetBytes(msg.B)

	ecdhKP, err := otrcrypto.GenerateECDH(rand.Reader)
	if err != nil {
		return wire.AuthRMessage{}, fmt.Errorf("dake: ReceiveIdentity: %w", err)
	}
	dhKP, err := otrcrypto.GenerateDH(rand.Reader)
	if err != nil {
		return wire.AuthRMessage{}, fmt.Errorf("dake: ReceiveIdentity: %w", err)
	}

	s.ephECDH = ecdhKP
	s.ephDH = dhKP
	s.peerTag = msg.Header.Sender
	s.peerProfile = peerProfile
	s.peerECDH = peerECDH
	s.peerDH = peerDH

	t, err := s.transcript(peerProfile, s.ownProfile, peerECDH, ecdhKP.Public, peerDH, dhKP.Public, msg.Header.Sender, s.tag)
	if err != nil {
		return wire.AuthRMessage{}, err
	}

	ring, err := s.ring(peerProfile, peerECDH)
	if err != nil {
		return wire.AuthRMessage{}, err
	}
	secret, err := otrcrypto.ScalarFromEd448Seed(s.longTerm)
	if err != nil {
		return wire.AuthRMessage{}, fmt.Errorf("dake: ReceiveIdentity: %w", err)
	}
	sigma, err := otrcrypto.RingSign(rand.Reader, ring, 0, secret, t)
	if err != nil {
		return wire.AuthRMessage{}, fmt.Errorf("dake: ReceiveIdentity: %w", err)
	}

	xBytes, err := ecdhKP.Public.Encode()
	if err != nil {
		return wire.AuthRMessage{}, fmt.Errorf("dake: ReceiveIdentity: %w", err)
	}
	out := wire.AuthRMessage{
		Header: wire.Header{
			Version:  4,
			Type:     wire.MsgTypeAuthR,
			Sender:   s.tag,
			Receiver: msg.Header.Sender,
		},
		Profile: profile.Encode(s.ownProfile),
		X:       xBytes,
		A:       dhKP.Public.Bytes(),
		Sigma:   encodeSigma(sigma),
	}
	s.phase = PhaseAwaitingAuthI
	return out, nil
}

// ReceiveAuthR processes the responder's Auth-R message as the
// initiator: validates the responder's profile, verifies Sigma,
// derives Rk0, and returns the Auth-I message to send (spec §4.3,
// message 3).
func (s *State) ReceiveAuthR(msg wire.AuthRMessage, now time.Time, dsaVerify func(pub, sig []byte) bool) (wire.AuthIMessage, Result, error) {
	if s.role != Initiator || s.phase != PhaseAwaitingAuthR {
		return wire.AuthIMessage{}, Result{}, ErrUnexpectedMessage
	}
	peerProfile, err := profile.Decode(msg.Profile)
	if err != nil {
		return wire.AuthIMessage{}, Result{}, fmt.Errorf("%w: %v", ErrProfileInvalid, err)
	}
	if err := profile.Validate(peerProfile, now, dsaVerify); err != nil {
		return wire.AuthIMessage{}, Result{}, fmt.Errorf("%w: %v", ErrProfileInvalid, err)
	}
	peerECDH, err := otrcrypto.DecodePoint(msg.X)
	if err != nil {
		return wire.AuthIMessage{}, Result{}, fmt.Errorf("dake: ReceiveAuthR: %w", err)
	}
	peerDH := new(big.Int).SetBytes(msg.A)

	t, err := s.transcript(s.ownProfile, peerProfile, s.ephECDH.Public, peerECDH, s.ephDH.Public, peerDH, s.tag, msg.Header.Sender)
	if err != nil {
		return wire.AuthIMessage{}, Result{}, err
	}

	ring, err := s.ring(peerProfile, s.ephECDH.Public)
	if err != nil {
		return wire.AuthIMessage{}, Result{}, err
	}
	sigma := decodeSigma(msg.Sigma)
	if err := otrcrypto.RingVerify(ring, sigma, t); err != nil {
		return wire.AuthIMessage{}, Result{}, fmt.Errorf("%w: %v", ErrBadRingSignature, err)
	}

	s.peerTag = msg.Header.Sender
	s.peerProfile = peerProfile
	s.peerECDH = peerECDH
	s.peerDH = peerDH

	ringForSign, err := s.ring(peerProfile, peerECDH)
	if err != nil {
		return wire.AuthIMessage{}, Result{}, err
	}
	secret, err := otrcrypto.ScalarFromEd448Seed(s.longTerm)
	if err != nil {
		return wire.AuthIMessage{}, Result{}, fmt.Errorf("dake: ReceiveAuthR: %w", err)
	}
	sigmaOut, err := otrcrypto.RingSign(rand.Reader, ringForSign, 1, secret, t)
	if err != nil {
		return wire.AuthIMessage{}, Result{}, fmt.Errorf("dake: ReceiveAuthR: %w", err)
	}

	result, err := s.deriveResult(peerECDH, peerDH, s.tag, msg.Header.Sender)
	if err != nil {
		return wire.AuthIMessage{}, Result{}, err
	}

	out := wire.AuthIMessage{
		Header: wire.Header{
			Version:  4,
			Type:     wire.MsgTypeAuthI,
			Sender:   s.tag,
			Receiver: msg.Header.Sender,
		},
		Sigma: encodeSigma(sigmaOut),
	}
	s.phase = PhaseDone
	return out, result, nil
}

// ReceiveAuthI processes the initiator's Auth-I message as the
// responder, verifies Sigma, and derives Rk0 (spec §4.3, end of
// message 3).
func (s *State) ReceiveAuthI(msg wire.AuthIMessage) (Result, error) {
	if s.role != Responder || s.phase != PhaseAwaitingAuthI {
		return Result{}, ErrUnexpectedMessage
	}
	t, err := s.transcript(s.peerProfile, s.ownProfile, s.peerECDH, s.ephECDH.Public, s.peerDH, s.ephDH.Public, s.peerTag, s.tag)
	if err != nil {
		return Result{}, err
	}
	ring, err := s.ring(s.peerProfile, s.ephECDH.Public)
	if err != nil {
		return Result{}, err
	}
	sigma := decodeSigma(msg.Sigma)
	if err := otrcrypto.RingVerify(ring, sigma, t); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadRingSignature, err)
	}

	result, err := s.deriveResult(s.peerECDH, s.peerDH, s.peerTag, s.tag)
	if err != nil {
		return Result{}, err
	}
	s.phase = PhaseDone
	return result, nil
}

// deriveResult computes K = SHAKE-256(ECDH(our eph, their eph) ||
// DH(our eph, their eph)) and Rk0 = KDF(0x02 || K, 64) (spec §4.3).
func (s *State) deriveResult(peerECDH otrcrypto.Point, peerDH *big.Int, senderTag, receiverTag uint32) (Result, error) {
	ecdhShared, err := otrcrypto.ECDH(s.ephECDH, peerECDH)
	if err != nil {
		return Result{}, fmt.Errorf("dake: deriveResult: %w", err)
	}
	dhShared, err := otrcrypto.DH(s.ephDH, peerDH)
	if err != nil {
		return Result{}, fmt.Errorf("dake: deriveResult: %w", err)
	}
	k := otrcrypto.KDFMulti(0x00, 64, ecdhShared, dhShared)
	rk0 := otrcrypto.KDF(0x02, k, 64)
	return Result{
		Rk0:         rk0,
		PeerECDH:    peerECDH,
		PeerDH:      peerDH,
		SenderTag:   senderTag,
		ReceiverTag: receiverTag,
		IsInitiator: s.role == Initiator,
	}, nil
}

// transcript computes t, the DAKE transcript hash the ring signatures
// are computed over (spec §4.3): KDF(0x00 || profile_init ||
// profile_resp || Y || X || B || A || sender_tag || receiver_tag, 64).
func (s *State) transcript(initProfile, respProfile profile.Profile, y, x otrcrypto.Point, b, a *big.Int, senderTag, receiverTag uint32) ([]byte, error) {
	yBytes, err := y.Encode()
	if err != nil {
		return nil, fmt.Errorf("dake: transcript: %w", err)
	}
	xBytes, err := x.Encode()
	if err != nil {
		return nil, fmt.Errorf("dake: transcript: %w", err)
	}
	var tags [8]byte
	tags[0], tags[1], tags[2], tags[3] = byte(senderTag>>24), byte(senderTag>>16), byte(senderTag>>8), byte(senderTag)
	tags[4], tags[5], tags[6], tags[7] = byte(receiverTag>>24), byte(receiverTag>>16), byte(receiverTag>>8), byte(receiverTag)
	return otrcrypto.KDFMulti(0x00, 64,
		profile.Encode(initProfile),
		profile.Encode(respProfile),
		yBytes,
		xBytes,
		b.Bytes(),
		a.Bytes(),
		tags[:],
	), nil
}

// ring assembles the fixed {responder H, initiator H, ephemeral}
// ordering the ring signature is always computed over (spec §4.3, §9
// "Ring signatures"). eph is the ECDH public point of the party that
// verifies the signature being built or checked (the initiator's Y
// for Auth-R's Sigma, the responder's X for Auth-I's) — sign and
// verify calls on the same Sigma must pass the identical value.
func (s *State) ring(peerProfile profile.Profile, eph otrcrypto.Point) (otrcrypto.Ring, error) {
	var respPub, initPub otrcrypto.Point
	var err error
	switch s.role {
	case Responder:
		respPub, err = pointFromLongTerm(s.ownProfile.LongTermPublic)
		if err != nil {
			return otrcrypto.Ring{}, err
		}
		initPub, err = pointFromLongTerm(peerProfile.LongTermPublic)
	case Initiator:
		initPub, err = pointFromLongTerm(s.ownProfile.LongTermPublic)
		if err != nil {
			return otrcrypto.Ring{}, err
		}
		respPub, err = pointFromLongTerm(peerProfile.LongTermPublic)
	}
	if err != nil {
		return otrcrypto.Ring{}, err
	}
	return otrcrypto.Ring{respPub, initPub, eph}, nil
}

func pointFromLongTerm(pub []byte) (otrcrypto.Point, error) {
	if len(pub) != otrcrypto.PointSize {
		return otrcrypto.Point{}, fmt.Errorf("dake: long-term key has wrong size %d", len(pub))
	}
	return otrcrypto.DecodePoint(pub)
}

func encodeSigma(sigma *otrcrypto.RingSignature) wire.RingSigBytes {
	return wire.RingSigBytes{
		C1: sigma.C1.Encode(), R1: sigma.R1.Encode(),
		C2: sigma.C2.Encode(), R2: sigma.R2.Encode(),
		C3: sigma.C3.Encode(), R3: sigma.R3.Encode(),
	}
}

func decodeSigma(b wire.RingSigBytes) *otrcrypto.RingSignature {
	dec := func(v []byte) otrcrypto.Scalar {
		s, _ := otrcrypto.DecodeScalar(v)
		return s
	}
	return &otrcrypto.RingSignature{
		C1: dec(b.C1), R1: dec(b.R1),
		C2: dec(b.C2), R2: dec(b.R2),
		C3: dec(b.C3), R3: dec(b.R3),
	}
}
