package ake3

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/cloudflare/circl/sign/ed448"
)

func genKeys(t *testing.T) (ed448.PublicKey, ed448.PrivateKey) {
	t.Helper()
	pub, priv, err := ed448.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return pub, priv
}

func TestFullHandshake(t *testing.T) {
	iPub, iPriv := genKeys(t)
	rPub, rPriv := genKeys(t)

	initiator := New(iPriv, iPub)
	responder := New(rPriv, rPub)

	commit, err := initiator.StartDHCommit(rand.Reader)
	if err != nil {
		t.Fatalf("StartDHCommit: %v", err)
	}
	dhKey, err := responder.ReceiveDHCommit(rand.Reader, commit)
	if err != nil {
		t.Fatalf("ReceiveDHCommit: %v", err)
	}
	revealSig, iResult, err := initiator.ReceiveDHKey(dhKey, []byte("responder profile bytes"))
	if err != nil {
		t.Fatalf("ReceiveDHKey: %v", err)
	}
	sig, rResult, err := responder.ReceiveRevealSig(commit, revealSig, iPub)
	if err != nil {
		t.Fatalf("ReceiveRevealSig: %v", err)
	}
	if err := initiator.ReceiveSig(sig, iResult, rPub); err != nil {
		t.Fatalf("ReceiveSig: %v", err)
	}

	if !bytes.Equal(iResult.SSID, rResult.SSID) {
		t.Fatalf("SSID mismatch: %x != %x", iResult.SSID, rResult.SSID)
	}
	if !bytes.Equal(iResult.C, rResult.C) {
		t.Fatalf("C mismatch: %x != %x", iResult.C, rResult.C)
	}
	if !bytes.Equal(iResult.M1, rResult.M1) || !bytes.Equal(iResult.M2, rResult.M2) {
		t.Fatal("M1/M2 mismatch between initiator and responder")
	}
}

func TestRevealSigRejectsWrongCommit(t *testing.T) {
	iPub, iPriv := genKeys(t)
	rPub, rPriv := genKeys(t)
	_ = rPub

	initiator := New(iPriv, iPub)
	responder := New(rPriv, rPub)

	commit, err := initiator.StartDHCommit(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	dhKey, err := responder.ReceiveDHCommit(rand.Reader, commit)
	if err != nil {
		t.Fatal(err)
	}
	revealSig, _, err := initiator.ReceiveDHKey(dhKey, nil)
	if err != nil {
		t.Fatal(err)
	}

	tamperedCommit := commit
	tamperedCommit.HashedGX[0] ^= 0xff
	if _, _, err := responder.ReceiveRevealSig(tamperedCommit, revealSig, iPub); err != ErrCommitMismatch {
		t.Fatalf("expected ErrCommitMismatch, got %v", err)
	}
}

func TestOutOfSequenceMessageRejected(t *testing.T) {
	iPub, iPriv := genKeys(t)
	initiator := New(iPriv, iPub)
	if _, err := initiator.StartDHCommit(rand.Reader); err != nil {
		t.Fatal(err)
	}
	// A second DH-Commit in the same phase is out of sequence.
	if _, err := initiator.StartDHCommit(rand.Reader); err != ErrUnexpectedMessage {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}
}
