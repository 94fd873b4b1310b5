// Package ake3 implements the version-3 backward-compatible
// authenticated key exchange (spec §3 "ENCRYPTED_V3", §4.6
// "AKE_IN_PROGRESS (sub-machine of v3)"): the four-message
// DH-Commit/DH-Key/Reveal-Signature/Signature handshake, adapted from
// OTRv3 to the otr4 stack — 3072-bit DH for the shared secret (the
// same primitive internal/crypto already provides for the v4 DH
// rotation), HKDF-SHA256 key derivation directly grounded on the
// teacher's own djb.KDFrk, and XChaCha20-Poly1305 (also the teacher's
// djb.Seal/Open cipher) in place of v3's original AES-CTR for
// encrypting the signature payload. Authentication uses the party's
// Ed448 long-term key rather than the original protocol's DSA key,
// consistent with the client profile carrying DSA only as an optional
// transitional field (spec §3).
package ake3

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/cloudflare/circl/sign/ed448"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	otrcrypto "github.com/deniable-im/otr4/internal/crypto"
)

// ErrUnexpectedMessage reports a v3 AKE message received out of
// sequence.
var ErrUnexpectedMessage = errors.New("ake3: unexpected message for current state")

// ErrCommitMismatch reports that a revealed DH-Commit key doesn't hash
// to the value committed to in DH-Commit.
var ErrCommitMismatch = errors.New("ake3: revealed key does not match commitment")

// ErrBadSignature reports a failed Ed448 verification over the v3
// transcript.
var ErrBadSignature = errors.New("ake3: signature verification failed")

// Phase tracks the four-message exchange.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseAwaitingDHKey
	PhaseAwaitingRevealSig
	PhaseAwaitingSig
	PhaseDone
)

// Result carries what the v3 AKE hands the session state machine:
// the shared secret material used to seed a ratchet-style v3 chain.
type Result struct {
	SSID []byte // 8 bytes, for the host's fingerprint UI
	C    []byte // 32-byte symmetric key for v3 data messages
	M1   []byte
	M2   []byte
}

// State is one side's in-progress or finished v3 AKE.
type State struct {
	longTerm ed448.PrivateKey
	longPub  ed448.PublicKey

	x, y  *otrcrypto.DHKeyPair
	gy    *big.Int
	gx    *big.Int
	r     [32]byte // the DH-Commit reveal key
	phase Phase
}

// New creates v3 AKE state for a party holding the given long-term
// Ed448 key pair.
func New(longTerm ed448.PrivateKey, longPub ed448.PublicKey) *State {
	return &State{longTerm: longTerm, longPub: longPub, phase: PhaseStart}
}

// DHCommit is the first v3 message.
type DHCommit struct {
	EncryptedGX []byte
	HashedGX    [32]byte
}

// DHKey is the second v3 message.
type DHKey struct {
	GY *big.Int
}

// RevealSig is the third v3 message.
type RevealSig struct {
	RevealedKey   [32]byte
	EncryptedSig  []byte
	MAC           [32]byte
}

// Sig is the fourth and final v3 message.
type Sig struct {
	EncryptedSig []byte
	MAC          [32]byte
}

// StartDHCommit generates the initiator's ephemeral DH key and the
// random reveal key r, encrypting g^x under r so it can be revealed
// later without binding the responder to x prematurely.
func (s *State) StartDHCommit(rnd io.Reader) (DHCommit, error) {
	if s.phase != PhaseStart {
		return DHCommit{}, ErrUnexpectedMessage
	}
	x, err := otrcrypto.GenerateDH(rnd)
	if err != nil {
		return DHCommit{}, fmt.Errorf("ake3: StartDHCommit: %w", err)
	}
	s.x = x
	s.gx = x.Public

	if rnd == nil {
		rnd = rand.Reader
	}
	if _, err := io.ReadFull(rnd, s.r[:]); err != nil {
		return DHCommit{}, fmt.Errorf("ake3: StartDHCommit: %w", err)
	}
	gxBytes := x.Public.Bytes()
	enc, err := sealWithKey(s.r[:], gxBytes)
	if err != nil {
		return DHCommit{}, fmt.Errorf("ake3: StartDHCommit: %w", err)
	}
	s.phase = PhaseAwaitingDHKey
	return DHCommit{EncryptedGX: enc, HashedGX: sha256.Sum256(gxBytes)}, nil
}

// ReceiveDHCommit processes the initiator's DH-Commit as the
// responder and produces DH-Key. The responder does not learn g^x
// yet — only its commitment.
func (s *State) ReceiveDHCommit(rnd io.Reader, msg DHCommit) (DHKey, error) {
	if s.phase != PhaseStart {
		return DHKey{}, ErrUnexpectedMessage
	}
	y, err := otrcrypto.GenerateDH(rnd)
	if err != nil {
		return DHKey{}, fmt.Errorf("ake3: ReceiveDHCommit: %w", err)
	}
	s.y = y
	s.gy = y.Public
	s.phase = PhaseAwaitingRevealSig
	// The commitment (msg) is retained implicitly by the caller
	// replaying it into ReceiveRevealSig, mirroring v3's design where
	// the responder has nothing else to store from DH-Commit.
	_ = msg
	return DHKey{GY: y.Public}, nil
}

// ReceiveDHKey processes the responder's DH-Key as the initiator,
// computes the shared secret, signs the transcript, and produces
// Reveal-Signature.
func (s *State) ReceiveDHKey(msg DHKey, peerProfile []byte) (RevealSig, Result, error) {
	if s.phase != PhaseAwaitingDHKey {
		return RevealSig{}, Result{}, ErrUnexpectedMessage
	}
	s.gy = msg.GY
	result, err := s.deriveResult(s.x, msg.GY)
	if err != nil {
		return RevealSig{}, Result{}, err
	}

	sigPayload := append(append([]byte{}, s.longPub...), peerProfile...)
	sig := ed448.Sign(s.longTerm, transcript(s.gx, s.gy, sigPayload), "")
	encSig, err := sealWithKey(result.C, append(sigPayload, sig...))
	if err != nil {
		return RevealSig{}, Result{}, fmt.Errorf("ake3: ReceiveDHKey: %w", err)
	}
	mac := hmacSHA256(result.M2, encSig)

	s.phase = PhaseAwaitingSig
	return RevealSig{RevealedKey: s.r, EncryptedSig: encSig, MAC: mac}, result, nil
}

// ReceiveRevealSig processes Reveal-Signature as the responder:
// checks the revealed key against the original commitment, verifies
// the initiator's signature, and produces Sig.
func (s *State) ReceiveRevealSig(commit DHCommit, msg RevealSig, initiatorLongPub ed448.PublicKey) (Sig, Result, error) {
	if s.phase != PhaseAwaitingRevealSig {
		return Sig{}, Result{}, ErrUnexpectedMessage
	}
	gxBytes, err := openWithKey(msg.RevealedKey[:], commit.EncryptedGX)
	if err != nil {
		return Sig{}, Result{}, fmt.Errorf("ake3: ReceiveRevealSig: %w", err)
	}
	if sha256.Sum256(gxBytes) != commit.HashedGX {
		return Sig{}, Result{}, ErrCommitMismatch
	}
	s.gx = new(big.Int).SetBytes(gxBytes)

	result, err := s.deriveResult(s.y, s.gx)
	if err != nil {
		return Sig{}, Result{}, err
	}
	if hmacSHA256(result.M2, msg.EncryptedSig) != msg.MAC {
		return Sig{}, Result{}, ErrBadSignature
	}
	plain, err := openWithKey(result.C, msg.EncryptedSig)
	if err != nil {
		return Sig{}, Result{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(plain) < ed448.SignatureSize {
		return Sig{}, Result{}, ErrBadSignature
	}
	sigPayload := plain[:len(plain)-ed448.SignatureSize]
	sig := plain[len(plain)-ed448.SignatureSize:]
	if !ed448.Verify(initiatorLongPub, transcript(s.gx, s.gy, sigPayload), sig, "") {
		return Sig{}, Result{}, ErrBadSignature
	}

	respSig := ed448.Sign(s.longTerm, transcript(s.gy, s.gx, s.longPub), "")
	encSig, err := sealWithKey(result.C, append(append([]byte{}, s.longPub...), respSig...))
	if err != nil {
		return Sig{}, Result{}, fmt.Errorf("ake3: ReceiveRevealSig: %w", err)
	}
	mac := hmacSHA256(result.M2, encSig)
	s.phase = PhaseDone
	return Sig{EncryptedSig: encSig, MAC: mac}, result, nil
}

// ReceiveSig processes the final Sig message as the initiator,
// completing the v3 handshake.
func (s *State) ReceiveSig(msg Sig, result Result, responderLongPub ed448.PublicKey) error {
	if s.phase != PhaseAwaitingSig {
		return ErrUnexpectedMessage
	}
	if hmacSHA256(result.M2, msg.EncryptedSig) != msg.MAC {
		return ErrBadSignature
	}
	plain, err := openWithKey(result.C, msg.EncryptedSig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(plain) < ed448.SignatureSize {
		return ErrBadSignature
	}
	sigPayload := plain[:len(plain)-ed448.SignatureSize]
	sig := plain[len(plain)-ed448.SignatureSize:]
	if !ed448.Verify(responderLongPub, transcript(s.gy, s.gx, sigPayload), sig, "") {
		return ErrBadSignature
	}
	s.phase = PhaseDone
	return nil
}

// deriveResult computes the DH shared secret and stretches it into
// (ssid, c, m1, m2) via HKDF-SHA256, the same construction as the
// teacher's djb.KDFrk (hkdf.New(sha256.New, ikm, salt, info)),
// generalized from one root-key/chain-key pair to the four v3
// session-key fields.
func (s *State) deriveResult(kp *otrcrypto.DHKeyPair, peerPublic *big.Int) (Result, error) {
	shared, err := otrcrypto.DH(kp, peerPublic)
	if err != nil {
		return Result{}, fmt.Errorf("ake3: deriveResult: %w", err)
	}
	buf := make([]byte, 8+32+32+32)
	r := hkdf.New(sha256.New, shared, nil, []byte("otr4 v3 AKE"))
	if _, err := io.ReadFull(r, buf); err != nil {
		return Result{}, fmt.Errorf("ake3: deriveResult: %w", err)
	}
	return Result{
		SSID: buf[0:8:8],
		C:    buf[8:40:40],
		M1:   buf[40:72:72],
		M2:   buf[72:104:104],
	}, nil
}

func transcript(a, b *big.Int, payload []byte) []byte {
	var buf []byte
	buf = append(buf, a.Bytes()...)
	buf = append(buf, b.Bytes()...)
	buf = append(buf, payload...)
	return sha256Sum(buf)
}

func sha256Sum(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

func hmacSHA256(key, data []byte) [32]byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	var out [32]byte
	copy(out[:], m.Sum(nil))
	return out
}

func sealWithKey(key32 []byte, plaintext []byte) ([]byte, error) {
	var key [chacha20poly1305.KeySize]byte
	copy(key[:], key32)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func openWithKey(key32 []byte, sealed []byte) ([]byte, error) {
	var key [chacha20poly1305.KeySize]byte
	copy(key[:], key32)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("ake3: sealed payload too short")
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, nil)
}
