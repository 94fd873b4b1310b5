package dake

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/cloudflare/circl/sign/ed448"

	"github.com/deniable-im/otr4/internal/profile"
	"github.com/deniable-im/otr4/internal/wire"
)

// party bundles everything one side of a DAKE needs: a signed client
// profile plus the Ed448 seeds backing its two keys.
type party struct {
	profile    profile.Profile
	longSeed   []byte
	forgeSeed  []byte
	instanceID uint32
}

func newParty(t *testing.T, tag uint32) party {
	t.Helper()
	longPub, longPriv, err := ed448.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	forgePub, forgePriv, err := ed448.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	p := profile.Profile{
		InstanceTag:    tag,
		LongTermPublic: longPub,
		ForgingPublic:  forgePub,
		Versions:       []uint16{3, 4},
		Expiration:     time.Now().Add(24 * time.Hour),
	}
	signed, err := profile.Sign(p, longPriv, nil)
	if err != nil {
		t.Fatal(err)
	}
	return party{
		profile:    signed,
		longSeed:   longPriv.Seed(),
		forgeSeed:  forgePriv.Seed(),
		instanceID: tag,
	}
}

func TestFullHandshake(t *testing.T) {
	alice := newParty(t, 256)
	bob := newParty(t, 257)
	now := time.Now()

	initiator, err := NewInitiator(alice.instanceID, alice.profile, alice.longSeed, alice.forgeSeed)
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	responder, err := NewResponder(bob.instanceID, bob.profile, bob.longSeed, bob.forgeSeed)
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}

	identity, err := initiator.StartIdentity(bob.instanceID)
	if err != nil {
		t.Fatalf("StartIdentity: %v", err)
	}

	authR, err := responder.ReceiveIdentity(identity, now, nil)
	if err != nil {
		t.Fatalf("ReceiveIdentity: %v", err)
	}

	authI, iResult, err := initiator.ReceiveAuthR(authR, now, nil)
	if err != nil {
		t.Fatalf("ReceiveAuthR: %v", err)
	}

	rResult, err := responder.ReceiveAuthI(authI)
	if err != nil {
		t.Fatalf("ReceiveAuthI: %v", err)
	}

	if !bytes.Equal(iResult.Rk0, rResult.Rk0) {
		t.Fatalf("Rk0 mismatch: %x != %x", iResult.Rk0, rResult.Rk0)
	}
	if iResult.SenderTag != rResult.SenderTag || iResult.ReceiverTag != rResult.ReceiverTag {
		t.Fatalf("tag mismatch: initiator %d/%d, responder %d/%d",
			iResult.SenderTag, iResult.ReceiverTag, rResult.SenderTag, rResult.ReceiverTag)
	}
}

func TestReceiveIdentityRejectsInvalidProfile(t *testing.T) {
	alice := newParty(t, 256)
	bob := newParty(t, 257)
	now := time.Now()

	initiator, err := NewInitiator(alice.instanceID, alice.profile, alice.longSeed, alice.forgeSeed)
	if err != nil {
		t.Fatal(err)
	}
	responder, err := NewResponder(bob.instanceID, bob.profile, bob.longSeed, bob.forgeSeed)
	if err != nil {
		t.Fatal(err)
	}
	identity, err := initiator.StartIdentity(bob.instanceID)
	if err != nil {
		t.Fatal(err)
	}
	identity.Profile[0] ^= 0xff
	if _, err := responder.ReceiveIdentity(identity, now, nil); err == nil {
		t.Fatal("expected an error for a tampered profile")
	}
}

func TestReceiveAuthRRejectsForgedSigma(t *testing.T) {
	alice := newParty(t, 256)
	bob := newParty(t, 257)
	now := time.Now()

	initiator, err := NewInitiator(alice.instanceID, alice.profile, alice.longSeed, alice.forgeSeed)
	if err != nil {
		t.Fatal(err)
	}
	responder, err := NewResponder(bob.instanceID, bob.profile, bob.longSeed, bob.forgeSeed)
	if err != nil {
		t.Fatal(err)
	}
	identity, err := initiator.StartIdentity(bob.instanceID)
	if err != nil {
		t.Fatal(err)
	}
	authR, err := responder.ReceiveIdentity(identity, now, nil)
	if err != nil {
		t.Fatal(err)
	}
	authR.Sigma.C1[0] ^= 0xff
	if _, _, err := initiator.ReceiveAuthR(authR, now, nil); !errors.Is(err, ErrBadRingSignature) {
		t.Fatalf("expected ErrBadRingSignature, got %v", err)
	}
}

func TestOutOfSequenceRejected(t *testing.T) {
	alice := newParty(t, 256)
	bob := newParty(t, 257)
	now := time.Now()

	initiator, err := NewInitiator(alice.instanceID, alice.profile, alice.longSeed, alice.forgeSeed)
	if err != nil {
		t.Fatal(err)
	}
	responder, err := NewResponder(bob.instanceID, bob.profile, bob.longSeed, bob.forgeSeed)
	if err != nil {
		t.Fatal(err)
	}
	// The responder cannot start an Identity message and the initiator
	// cannot receive one before sending it.
	if _, err := responder.StartIdentity(alice.instanceID); err != ErrUnexpectedMessage {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}
	if _, err := initiator.StartIdentity(bob.instanceID); err != nil {
		t.Fatal(err)
	}
	// ReceiveAuthI is the responder's call, never the initiator's; the
	// role check alone rejects it before any message field is read.
	if _, err := initiator.ReceiveAuthI(wire.AuthIMessage{}); err != ErrUnexpectedMessage {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}
	_ = now
}
