package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestECDHAgreement(t *testing.T) {
	alice, err := GenerateECDH(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := GenerateECDH(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	aShared, err := ECDH(alice, bob.Public)
	if err != nil {
		t.Fatal(err)
	}
	bShared, err := ECDH(bob, alice.Public)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(aShared, bShared) {
		t.Fatalf("shared secrets disagree: %x != %x", aShared, bShared)
	}
}

func TestECDHClosedRejected(t *testing.T) {
	kp, err := GenerateECDH(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	other, err := GenerateECDH(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	kp.Close()
	if _, err := ECDH(kp, other.Public); err == nil {
		t.Fatal("expected an error using a closed key pair")
	}
}

func TestPointEncodeDecodeRoundTrip(t *testing.T) {
	kp, err := GenerateECDH(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := kp.Public.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodePoint(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !PointsEqual(kp.Public, decoded) {
		t.Fatal("decoded point does not equal the original")
	}
}

func TestDHAgreement(t *testing.T) {
	alice, err := GenerateDH(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := GenerateDH(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	aShared, err := DH(alice, bob.Public)
	if err != nil {
		t.Fatal(err)
	}
	bShared, err := DH(bob, alice.Public)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(aShared, bShared) {
		t.Fatalf("DH shared secrets disagree: %x != %x", aShared, bShared)
	}
}

func TestKDFIsDeterministicAndDomainSeparated(t *testing.T) {
	x := []byte("input")
	a := KDF(0x01, x, 32)
	b := KDF(0x01, x, 32)
	if !bytes.Equal(a, b) {
		t.Fatal("KDF is not deterministic")
	}
	c := KDF(0x02, x, 32)
	if bytes.Equal(a, c) {
		t.Fatal("different tags should not collide")
	}
}

func TestXSalsa20RoundTrip(t *testing.T) {
	var key [32]byte
	rand.Read(key[:])
	nonce := DataNonce(3, 7)
	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext := XSalsa20(&key, nonce, plaintext)
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext should not equal plaintext")
	}
	decrypted := XSalsa20(&key, nonce, ciphertext)
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatal("XSalsa20 did not round trip")
	}
}

func TestRingSignVerify(t *testing.T) {
	var ring Ring
	secrets := make([]Scalar, 3)
	for i := 0; i < 3; i++ {
		s, err := RandomScalar(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		secrets[i] = s
		ring[i] = ScalarBaseMult(s)
	}

	msg := []byte("dake transcript")
	for signer := 0; signer < 3; signer++ {
		sigma, err := RingSign(rand.Reader, ring, signer, secrets[signer], msg)
		if err != nil {
			t.Fatalf("signer %d: RingSign: %v", signer, err)
		}
		if err := RingVerify(ring, sigma, msg); err != nil {
			t.Fatalf("signer %d: RingVerify: %v", signer, err)
		}
	}
}

func TestRingSignRejectsForgery(t *testing.T) {
	var ring Ring
	secrets := make([]Scalar, 3)
	for i := 0; i < 3; i++ {
		s, err := RandomScalar(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		secrets[i] = s
		ring[i] = ScalarBaseMult(s)
	}

	msg := []byte("dake transcript")
	sigma, err := RingSign(rand.Reader, ring, 0, secrets[0], msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := RingVerify(ring, sigma, []byte("a different transcript")); err != ErrRingVerifyFailed {
		t.Fatalf("expected ErrRingVerifyFailed for a tampered message, got %v", err)
	}

	forged, err := RandomScalar(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if sigma2, err := RingSign(rand.Reader, ring, 0, forged, msg); err == nil {
		if err := RingVerify(ring, sigma2, msg); err != ErrRingVerifyFailed {
			t.Fatal("expected a signature over the wrong secret to fail verification")
		}
	}
}
