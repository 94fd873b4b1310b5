// Package ratchet implements the otr4 double ratchet: the
// post-handshake key-evolution engine described in spec §4.4. It is a
// direct descendant of the teacher package's dr.Session/dr.State
// design (root/sending/receiving chains, a Store for skipped keys),
// generalized from a single DH/ECDH asymmetric step to otr4's mixed
// ECDH-every-message / DH-every-third-message ratchet, and extended
// with the MAC-key reveal buffer spec §4.4 requires for deniability.
package ratchet

import (
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	otrcrypto "github.com/deniable-im/otr4/internal/crypto"
)

// MaxSkip bounds how many message keys a single Decrypt may skip (and
// stash) ahead within one receiving chain; a wider jump aborts with
// ErrSkipCapExceeded. skipToEnd stashes the same number of keys from a
// chain it abandons. The skipped-key buffer as a whole has no cap.
const MaxSkip = 1000

// ErrSkipCapExceeded is a Protocol-taxonomy error (spec §7) for a
// chain gap wider than MaxSkip.
var ErrSkipCapExceeded = errors.New("ratchet: skip cap exceeded")

// ErrOutOfOrderUnavailable is returned when a message key can no
// longer be retrieved: the chain has moved past it and it isn't (or
// is no longer) in the skipped-key buffer (spec §4.4, §7).
var ErrOutOfOrderUnavailable = errors.New("ratchet: message key unavailable")

// ErrMACMismatch is a Crypto-taxonomy error for a failed MAC check.
var ErrMACMismatch = errors.New("ratchet: MAC verification failed")

// skipKey identifies a stashed message key by the ratchet epoch and
// message index it belongs to (spec §3: "keyed by (i, k)").
type skipKey struct {
	i, k uint32
}

// chainPublic captures a peer's ECDH point plus, when present, their
// DH public value — otr4 only carries a DH public every third
// ratchet (spec §3 invariant: "present in a data message iff
// i mod 3 == 0").
type chainPublic struct {
	ecdh otrcrypto.Point
	dh   *big.Int // nil when absent
}

// State is the per-peer double-ratchet state (spec §3 "Double-ratchet
// state").
type State struct {
	Rk  []byte // 64 bytes
	I   uint32 // current ratchet id
	J   uint32 // sending message id within the current sending chain
	K   uint32 // receiving message id within the current receiving chain

	Cks []byte // 64 bytes, sending chain key
	Ckr []byte // 64 bytes, receiving chain key

	ecdhSend *otrcrypto.ECDHKeyPair
	dhSend   *otrcrypto.DHKeyPair // set by New and by sender rotations to an index divisible by 3; nil after any other sender rotation

	peer chainPublic

	skipped map[skipKey][]byte // stashed message keys, spec §3
	reveal  [][]byte           // spent MAC keys awaiting the next outbound message

	sentSinceRotation bool // "previous sending rotation's keys have been used at least once"
	receivedSinceSend bool // inbound messages verified since the last outbound send
}

// New creates the post-DAKE ratchet state. rk0 is Rk0 from spec §4.3;
// peerECDH/peerDH are the other party's first ECDH/DH public values
// from the handshake. New keys neither chain; the caller decides which
// side rotates its sending chain first (see state.CompleteDAKE).
func New(rk0 []byte, peerECDH otrcrypto.Point, peerDH *big.Int) (*State, error) {
	if len(rk0) != 64 {
		return nil, errors.New("ratchet: root key must be 64 bytes")
	}
	ecdhKP, err := otrcrypto.GenerateECDH(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ratchet: New: %w", err)
	}
	dhKP, err := otrcrypto.GenerateDH(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ratchet: New: %w", err)
	}
	s := &State{
		Rk:       append([]byte(nil), rk0...),
		ecdhSend: ecdhKP,
		dhSend:   dhKP,
		peer:     chainPublic{ecdh: peerECDH, dh: peerDH},
		skipped:  make(map[skipKey][]byte),
	}
	return s, nil
}

// Wipe overwrites every secret the state holds, per spec §4.4
// "Expiration and secure deletion".
func (s *State) Wipe() {
	otrcrypto.Wipe(s.Rk)
	otrcrypto.Wipe(s.Cks)
	otrcrypto.Wipe(s.Ckr)
	if s.ecdhSend != nil {
		s.ecdhSend.Close()
	}
	if s.dhSend != nil {
		s.dhSend.Close()
	}
	for k, v := range s.skipped {
		otrcrypto.Wipe(v)
		delete(s.skipped, k)
	}
	for _, v := range s.reveal {
		otrcrypto.Wipe(v)
	}
	s.reveal = nil
}

// mix derives the new 64-byte root key and chain key from the prior
// root key and the new ECDH (and, every third ratchet, DH) shared
// secrets (spec §3 "Shared-secret bundle", §4.4).
func mix(rk []byte, ecdhShared []byte, dhShared []byte) (newRk, chainKey []byte) {
	var mixed []byte
	if dhShared != nil {
		k := otrcrypto.KDFMulti(0x01, 64, ecdhShared, dhShared)
		mixed = k
	} else {
		mixed = otrcrypto.KDF(0x01, ecdhShared, 64)
	}
	both := otrcrypto.KDFMulti(0x02, 128, rk, mixed)
	return both[:64], both[64:]
}

// RotateSender advances the sending side of the ratchet (spec §4.4
// "Sender rotation"): generates a fresh ECDH pair (and, every third
// ratchet index, a fresh DH pair), mixes in the peer's current public
// keys, derives a new root + sending chain key, and resets J to 0.
func (s *State) RotateSender() error {
	newECDH, err := otrcrypto.GenerateECDH(rand.Reader)
	if err != nil {
		return fmt.Errorf("ratchet: RotateSender: %w", err)
	}
	ecdhShared, err := otrcrypto.ECDH(newECDH, s.peer.ecdh)
	if err != nil {
		return fmt.Errorf("ratchet: RotateSender: %w", err)
	}

	var dhShared []byte
	var newDH *otrcrypto.DHKeyPair
	nextIndex := s.I + 1
	if nextIndex%3 == 0 {
		newDH, err = otrcrypto.GenerateDH(rand.Reader)
		if err != nil {
			return fmt.Errorf("ratchet: RotateSender: %w", err)
		}
		if s.peer.dh != nil {
			dhShared, err = otrcrypto.DH(newDH, s.peer.dh)
			if err != nil {
				return fmt.Errorf("ratchet: RotateSender: %w", err)
			}
		}
	}

	newRk, chainKey := mix(s.Rk, ecdhShared, dhShared)

	if s.ecdhSend != nil {
		s.ecdhSend.Close()
	}
	if s.dhSend != nil {
		s.dhSend.Close()
	}

	otrcrypto.Wipe(s.Rk)
	otrcrypto.Wipe(s.Cks)
	s.Rk = newRk
	s.Cks = chainKey
	s.ecdhSend = newECDH
	s.dhSend = newDH
	s.J = 0
	s.I = nextIndex
	s.sentSinceRotation = false
	return nil
}

// RotateReceiver advances the receiving side, consuming the peer's new
// public keys (spec §4.4 "Receiver rotation"). It replaces Ckr without
// stashing anything; Decrypt calls skipToEnd first to stash the
// abandoned receiving chain's remaining keys.
func (s *State) RotateReceiver(theirECDH otrcrypto.Point, theirDH *big.Int) error {
	if s.ecdhSend == nil {
		return errors.New("ratchet: RotateReceiver: no sending key pair")
	}
	ecdhShared, err := otrcrypto.ECDH(s.ecdhSend, theirECDH)
	if err != nil {
		return fmt.Errorf("ratchet: RotateReceiver: %w", err)
	}

	var dhShared []byte
	nextIndex := s.I + 1
	if nextIndex%3 == 0 && theirDH != nil && s.dhSend != nil {
		dhShared, err = otrcrypto.DH(s.dhSend, theirDH)
		if err != nil {
			return fmt.Errorf("ratchet: RotateReceiver: %w", err)
		}
	}

	newRk, chainKey := mix(s.Rk, ecdhShared, dhShared)

	otrcrypto.Wipe(s.Rk)
	otrcrypto.Wipe(s.Ckr)
	s.Rk = newRk
	s.Ckr = chainKey
	s.peer = chainPublic{ecdh: theirECDH, dh: theirDH}
	s.K = 0
	s.I = nextIndex
	return nil
}

// chainStep advances a 64-byte chain key, returning the next chain key
// and a 32-byte message key (spec §4.4: Ck_{k+1}=KDF(0x17||Ck_k,64),
// Mk_k=KDF(0x18||Ck_k,32)).
func chainStep(ck []byte) (nextCk, mk []byte) {
	return otrcrypto.KDF(0x17, ck, 64), otrcrypto.KDF(0x18, ck, 32)
}

// macKeyFor derives the 64-byte MAC key for a message key (spec §4.4:
// MAC_k=KDF(0x19||Mk_k,64)).
func macKeyFor(mk []byte) []byte {
	return otrcrypto.KDF(0x19, mk, 64)
}

// Encrypted is everything Encrypt produces for one outbound message.
type Encrypted struct {
	RatchetID    uint32
	MessageID    uint32
	ECDHPublic   []byte
	DHPublic     []byte // nil unless RatchetID % 3 == 0
	Nonce        [otrcrypto.NonceSize]byte
	Ciphertext   []byte
	RevealedMACs [][]byte
	MAC          []byte // 64 bytes, HMAC-like authenticator over the rest
}

// Encrypt derives the next sending message key, encrypts plaintext
// with XSalsa20, authenticates the message, and attaches (then
// clears) any MAC keys pending reveal.
func (s *State) Encrypt(plaintext, additionalData []byte) (*Encrypted, error) {
	if s.Cks == nil {
		// Either side may send first: the peer that didn't eagerly
		// bootstrap at DAKE completion (spec §4.4's first rotation)
		// rotates here, on its own first send, instead.
		if err := s.RotateSender(); err != nil {
			return nil, fmt.Errorf("ratchet: Encrypt: %w", err)
		}
	}
	nextCk, mk := chainStep(s.Cks)

	var key [32]byte
	copy(key[:], mk)
	nonce := otrcrypto.DataNonce(s.I, s.J)
	ciphertext := otrcrypto.XSalsa20(&key, nonce, plaintext)

	pub, err := s.ecdhSend.Public.Encode()
	if err != nil {
		return nil, fmt.Errorf("ratchet: Encrypt: %w", err)
	}
	var dhPub []byte
	if s.I%3 == 0 && s.dhSend != nil {
		dhPub = s.dhSend.Public.Bytes()
	}

	macKey := macKeyFor(mk)
	mac := authenticate(macKey, s.I, s.J, pub, dhPub, nonce, ciphertext, additionalData)

	out := &Encrypted{
		RatchetID:    s.I,
		MessageID:    s.J,
		ECDHPublic:   pub,
		DHPublic:     dhPub,
		Nonce:        nonce,
		Ciphertext:   ciphertext,
		RevealedMACs: s.reveal,
		MAC:          mac,
	}
	s.reveal = nil
	s.sentSinceRotation = true
	s.receivedSinceSend = false

	otrcrypto.Wipe(s.Cks)
	s.Cks = nextCk
	s.J++
	return out, nil
}

// authenticate computes the 64-byte authenticator spec §4.4 calls
// "MAC_k" applied over the message fields, using HMAC-SHA3-512-style
// keyed hashing via the otr4 KDF primitive (KDF is SHAKE-256; keying
// it with the MAC key and hashing the transcript gives the same
// keyed-MAC property HMAC would, and keeps the module to one hash
// primitive as the real OTRv4 spec does).
func authenticate(macKey []byte, i, j uint32, ecdhPub, dhPub []byte, nonce [otrcrypto.NonceSize]byte, ciphertext, ad []byte) []byte {
	var ij [8]byte
	ij[0], ij[1], ij[2], ij[3] = byte(i>>24), byte(i>>16), byte(i>>8), byte(i)
	ij[4], ij[5], ij[6], ij[7] = byte(j>>24), byte(j>>16), byte(j>>8), byte(j)
	return otrcrypto.KDFMulti(0x19, 64, macKey, ij[:], ecdhPub, dhPub, nonce[:], ciphertext, ad)
}

// DHFromBytes parses a big-endian DH public MPI, returning nil for an
// empty slice (meaning "absent", i.e. RatchetID % 3 != 0).
func DHFromBytes(b []byte) *big.Int {
	if len(b) == 0 {
		return nil
	}
	return new(big.Int).SetBytes(b)
}

// Decrypt implements spec §4.4's decision tree for (i', k'):
//
//   - stashed key available -> consume it, delete it
//   - i' > i_recv           -> RotateReceiver, then skip-and-stash to k'
//   - i' == i_recv, k' > k_recv -> skip-and-stash to k'
//   - otherwise             -> ErrOutOfOrderUnavailable
func (s *State) Decrypt(msg *Encrypted, additionalData []byte) ([]byte, error) {
	key := skipKey{i: msg.RatchetID, k: msg.MessageID}
	if mk, ok := s.skipped[key]; ok {
		delete(s.skipped, key)
		return s.open(mk, msg, additionalData)
	}

	theirECDH, err := otrcrypto.DecodePoint(msg.ECDHPublic)
	if err != nil {
		return nil, fmt.Errorf("ratchet: Decrypt: %w", err)
	}
	theirDH := DHFromBytes(msg.DHPublic)

	switch {
	case msg.RatchetID > s.I:
		// Spec §9's resolution for an inbound message from a future
		// ratchet whose first message was lost: tolerate a single
		// ratchet gap (the ordinary one-rotation-per-message case),
		// fail anything wider rather than replaying the root-key
		// chain through epochs we never saw a message for.
		if msg.RatchetID-s.I > 1 {
			return nil, ErrOutOfOrderUnavailable
		}
		if err := s.skipToEnd(); err != nil {
			return nil, err
		}
		if err := s.RotateReceiver(theirECDH, theirDH); err != nil {
			return nil, err
		}
		if err := s.skipUntil(msg.MessageID); err != nil {
			return nil, err
		}
	case msg.RatchetID == s.I && msg.MessageID > s.K:
		if err := s.skipUntil(msg.MessageID); err != nil {
			return nil, err
		}
	default:
		return nil, ErrOutOfOrderUnavailable
	}

	if s.Ckr == nil {
		return nil, ErrOutOfOrderUnavailable
	}
	nextCk, mk := chainStep(s.Ckr)
	otrcrypto.Wipe(s.Ckr)
	s.Ckr = nextCk
	s.K++
	return s.open(mk, msg, additionalData)
}

// skipToEnd stashes every remaining key in the current receiving
// chain before a rotation abandons it, so a late-arriving message from
// the old chain can still be decrypted (spec §3: "map of previous-
// chain message keys held for out-of-order delivery").
//
// There is no explicit "last message id" for the abandoned chain to
// stop at, so this stashes up to MaxSkip keys ahead of k_recv — the
// same bound skipUntil enforces within a chain, so an old-chain
// message can never buy more skip-buffer room than a same-chain one.
func (s *State) skipToEnd() error {
	if s.Ckr == nil {
		return nil
	}
	for n := uint32(0); n < MaxSkip; n++ {
		nextCk, mk := chainStep(s.Ckr)
		s.skipped[skipKey{i: s.I, k: s.K}] = mk
		otrcrypto.Wipe(s.Ckr)
		s.Ckr = nextCk
		s.K++
	}
	otrcrypto.Wipe(s.Ckr)
	s.Ckr = nil
	return nil
}

// skipUntil advances the receiving chain key, stashing each derived
// message key, until K equals target.
func (s *State) skipUntil(target uint32) error {
	if s.Ckr == nil {
		return nil
	}
	if target < s.K {
		return ErrOutOfOrderUnavailable
	}
	if target-s.K > MaxSkip {
		return ErrSkipCapExceeded
	}
	for s.K < target {
		nextCk, mk := chainStep(s.Ckr)
		s.skipped[skipKey{i: s.I, k: s.K}] = mk
		otrcrypto.Wipe(s.Ckr)
		s.Ckr = nextCk
		s.K++
	}
	return nil
}

func (s *State) open(mk []byte, msg *Encrypted, additionalData []byte) ([]byte, error) {
	macKey := macKeyFor(mk)
	expected := authenticate(macKey, msg.RatchetID, msg.MessageID, msg.ECDHPublic, msg.DHPublic, msg.Nonce, msg.Ciphertext, additionalData)
	if !hmac.Equal(expected, msg.MAC) {
		return nil, ErrMACMismatch
	}
	var key [32]byte
	copy(key[:], mk)
	plaintext := otrcrypto.XSalsa20(&key, msg.Nonce, msg.Ciphertext)
	s.reveal = append(s.reveal, macKey)
	s.receivedSinceSend = true
	return plaintext, nil
}

// ShouldRevealOnNextSend reports whether the next call to Encrypt
// after a sender rotation must carry a non-empty reveal buffer (spec
// §4.4's deniability rule and §8 invariant).
func (s *State) ShouldRevealOnNextSend() bool {
	return s.receivedSinceSend
}
