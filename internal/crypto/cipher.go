package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/salsa20"
)

// NonceSize is the size of an XSalsa20 nonce.
const NonceSize = 24

// DataNonce derives the deterministic 24-byte XSalsa20 nonce for
// ratchet indices (i, j), per spec §4.4: "a 24-byte nonce derived
// deterministically from (i, j)". The high 16 bytes are zero; the low
// 8 bytes hold i and j as big-endian uint32s, which keeps the nonce
// unique for any two distinct (i, j) produced by one ratchet (spec
// §8 invariant).
func DataNonce(i, j uint32) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.BigEndian.PutUint32(nonce[16:20], i)
	binary.BigEndian.PutUint32(nonce[20:24], j)
	return nonce
}

// XSalsa20 encrypts (or decrypts — the cipher is an XOR stream) in
// place a copy of src with the given 32-byte key and 24-byte nonce,
// returning the result. It never authenticates; callers MAC
// separately per spec §4.4 (message keys and MAC keys are derived
// independently from the chain key).
func XSalsa20(key *[32]byte, nonce [NonceSize]byte, src []byte) []byte {
	dst := make([]byte, len(src))
	salsa20.XORKeyStream(dst, src, nonce[:], key)
	return dst
}
