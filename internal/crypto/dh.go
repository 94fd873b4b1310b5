package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// dhModulus is RFC 3526's 3072-bit MODP group 15 prime, used for the
// backward-compatible v3 AKE and for otr4's periodic DH rotation
// (spec §3, "Ephemeral DH key pair", "3072-bit modulus"). No pack
// dependency implements plain finite-field Diffie-Hellman over a fixed
// named group (circl's KEM/signature schemes are elliptic-curve or
// lattice based); see DESIGN.md for why this is the one primitive
// built directly on math/big instead of a third-party library.
var dhModulus = mustHex(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD" +
		"129024E088A67CC74020BBEA63B139B22514A08798E3404" +
		"DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C" +
		"245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406" +
		"B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE" +
		"45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD" +
		"24CF5F83655D23DCA3AD961C62F356208552BB9ED529077" +
		"096966D670C354E4ABC9804F1746C08CA18217C32905E46" +
		"2E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF" +
		"06F4C52C9DE2BCBF6955817183995497CEA956AE515D226" +
		"1898FA051015728E5A8AAAC42DAD33170D04507A33A8552" +
		"1ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7DB397" +
		"0F85A6E1E4C7ABF5AE8CDB0933D71E8C94E04A25619DCEE" +
		"3D2261AD2EE6BF12FFA06D98A0864D87602733EC86A6452" +
		"1F2B18177B200CBBE117577A615D6C770988C0BAD946E20" +
		"8E24FA074E5AB3143DB5BFCE0FD108E4B82D120A93AD2CA" +
		"FFFFFFFFFFFFFFFF")

var dhGenerator = big.NewInt(2)

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("crypto: invalid embedded DH modulus")
	}
	return n
}

// DHKeyPair is a 3072-bit Diffie-Hellman key pair, generated once
// every three ratchet rotations (spec §3).
type DHKeyPair struct {
	secret *big.Int
	Public *big.Int
}

// DHPrivateSize is the number of random bytes used for a DH private
// exponent: wide enough that the exponent is uniform over a
// sufficiently large subgroup.
const DHPrivateSize = 320 // 2560 bits, as used by libotr/otrv3

// GenerateDH creates a fresh DH key pair.
func GenerateDH(rnd io.Reader) (*DHKeyPair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	buf := make([]byte, DHPrivateSize)
	if _, err := io.ReadFull(rnd, buf); err != nil {
		return nil, fmt.Errorf("crypto: GenerateDH: %w", err)
	}
	x := new(big.Int).SetBytes(buf)
	pub := new(big.Int).Exp(dhGenerator, x, dhModulus)
	return &DHKeyPair{secret: x, Public: pub}, nil
}

// Close wipes the secret exponent.
func (kp *DHKeyPair) Close() {
	if kp.secret != nil {
		kp.secret.SetInt64(0)
		kp.secret = nil
	}
}

// ErrInvalidDHPublic is returned when a peer's DH public value is
// degenerate (0, 1, or >= p-1), which would leak the shared secret.
var ErrInvalidDHPublic = errors.New("crypto: invalid DH public value")

// DH computes the shared secret g^(xy) mod p.
func DH(kp *DHKeyPair, peerPublic *big.Int) ([]byte, error) {
	if kp.secret == nil {
		return nil, errors.New("crypto: DH: key pair already closed")
	}
	if !validDHPublic(peerPublic) {
		return nil, ErrInvalidDHPublic
	}
	shared := new(big.Int).Exp(peerPublic, kp.secret, dhModulus)
	return shared.Bytes(), nil
}

func validDHPublic(y *big.Int) bool {
	if y == nil {
		return false
	}
	one := big.NewInt(1)
	pMinus1 := new(big.Int).Sub(dhModulus, one)
	return y.Cmp(one) > 0 && y.Cmp(pMinus1) < 0
}
