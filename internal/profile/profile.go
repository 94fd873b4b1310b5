// Package profile implements the OTRv4 client profile: a versioned,
// signed payload binding a user's long-term keys, supported protocol
// versions, and an expiration (spec §3, §4.2).
package profile

import (
	"errors"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign/ed448"

	"github.com/deniable-im/otr4/internal/wire"
)

// ErrExpired is returned when a profile's expiration has passed.
var ErrExpired = errors.New("profile: expired")

// ErrBadSignature is returned when the Ed448 (or transitional DSA)
// signature does not verify.
var ErrBadSignature = errors.New("profile: signature verification failed")

// ErrBadInstanceTag is returned when the owner instance tag violates
// the tag rules (spec §3 invariant iii: "instance tag ≥ 256").
var ErrBadInstanceTag = errors.New("profile: instance tag must be >= 256")

// ErrNoVersions is returned for an empty or unrecognised version list
// (spec §3 invariant iv).
var ErrNoVersions = errors.New("profile: version list empty or unrecognised")

// ErrDanglingDSAKey is returned when a transitional DSA public key is
// present without its corresponding signature (spec §9, open
// question 3: "treats this as a validation failure").
var ErrDanglingDSAKey = errors.New("profile: DSA key present without transitional signature")

// SupportedVersions lists the protocol versions the codec recognises.
var SupportedVersions = []uint16{3, 4}

// Profile is the decoded, in-memory form of a client profile.
type Profile struct {
	InstanceTag    uint32
	LongTermPublic ed448.PublicKey // "H"
	ForgingPublic  ed448.PublicKey
	Versions       []uint16
	Expiration     time.Time
	DSAPublic      []byte // optional transitional DSA public key, DER-ish opaque blob
	Signature      []byte // Ed448 signature over the preceding fields, by LongTermPublic
	DSASignature   []byte // optional transitional signature over LongTermPublic's encoding
}

// signedBytes reproduces the exact byte sequence that is signed and
// later re-verified (spec §4.2): every profile field in order, before
// either signature.
func (p Profile) signedBytes() []byte {
	w := wire.NewWriter()
	w.Int(p.InstanceTag)
	w.Data(p.LongTermPublic)
	w.Data(p.ForgingPublic)
	w.Int(uint32(len(p.Versions)))
	for _, v := range p.Versions {
		w.Short(v)
	}
	w.Int(uint32(p.Expiration.Unix()))
	w.Data(p.DSAPublic)
	return w.Bytes()
}

// Sign produces the Ed448 signature (and, if dsaSign is non-nil, the
// transitional DSA signature over H's own encoding) and stores both on
// the profile.
func Sign(p Profile, longTermPriv ed448.PrivateKey, dsaSign func([]byte) ([]byte, error)) (Profile, error) {
	p.Signature = ed448.Sign(longTermPriv, p.signedBytes(), "")
	if dsaSign != nil {
		sig, err := dsaSign(p.LongTermPublic)
		if err != nil {
			return Profile{}, fmt.Errorf("profile: Sign: transitional signature: %w", err)
		}
		p.DSASignature = sig
	}
	return p, nil
}

// Validate checks all invariants from spec §3/§4.2 against now:
//
//	(i)   the Ed448 signature verifies under H
//	(ii)  expiration > now
//	(iii) instance tag >= 256
//	(iv)  version list is non-empty and only contains recognised values
//	      (plus SPEC_FULL open-question 3: a dangling DSA key is a failure)
func Validate(p Profile, now time.Time, dsaVerify func(pub, sig []byte) bool) error {
	if !wire.ValidInstanceTag(p.InstanceTag) || p.InstanceTag < 256 {
		return ErrBadInstanceTag
	}
	if len(p.Versions) == 0 {
		return ErrNoVersions
	}
	for _, v := range p.Versions {
		if !isSupported(v) {
			return fmt.Errorf("%w: %d", ErrNoVersions, v)
		}
	}
	if !p.Expiration.After(now) {
		return ErrExpired
	}
	if !ed448.Verify(p.LongTermPublic, p.signedBytes(), p.Signature, "") {
		return ErrBadSignature
	}
	if len(p.DSAPublic) > 0 {
		if len(p.DSASignature) == 0 {
			return ErrDanglingDSAKey
		}
		if dsaVerify == nil || !dsaVerify(p.DSAPublic, p.DSASignature) {
			return ErrBadSignature
		}
	}
	return nil
}

func isSupported(v uint16) bool {
	for _, s := range SupportedVersions {
		if s == v {
			return true
		}
	}
	return false
}

// Encode serializes the profile, including both signatures, for
// transport inside an Identity/Auth-R message's opaque profile field.
func Encode(p Profile) []byte {
	w := wire.NewWriter()
	w.Data(p.signedBytes())
	w.Data(p.Signature)
	w.Data(p.DSASignature)
	return w.Bytes()
}

// Decode parses a profile previously produced by Encode, without
// validating it — callers must call Validate separately.
func Decode(buf []byte) (Profile, error) {
	r := wire.NewReader(buf)
	signed, err := r.Data()
	if err != nil {
		return Profile{}, err
	}
	sig, err := r.Data()
	if err != nil {
		return Profile{}, err
	}
	dsaSig, err := r.Data()
	if err != nil {
		return Profile{}, err
	}

	sr := wire.NewReader(signed)
	var p Profile
	if p.InstanceTag, err = sr.Int(); err != nil {
		return Profile{}, err
	}
	h, err := sr.Data()
	if err != nil {
		return Profile{}, err
	}
	p.LongTermPublic = append(ed448.PublicKey(nil), h...)
	fk, err := sr.Data()
	if err != nil {
		return Profile{}, err
	}
	p.ForgingPublic = append(ed448.PublicKey(nil), fk...)
	nVersions, err := sr.Int()
	if err != nil {
		return Profile{}, err
	}
	p.Versions = make([]uint16, nVersions)
	for i := range p.Versions {
		if p.Versions[i], err = sr.Short(); err != nil {
			return Profile{}, err
		}
	}
	expSecs, err := sr.Int()
	if err != nil {
		return Profile{}, err
	}
	p.Expiration = time.Unix(int64(expSecs), 0).UTC()
	dsaPub, err := sr.Data()
	if err != nil {
		return Profile{}, err
	}
	p.DSAPublic = append([]byte(nil), dsaPub...)
	p.Signature = append([]byte(nil), sig...)
	p.DSASignature = append([]byte(nil), dsaSig...)
	return p, nil
}
