package smp

import (
	"testing"

	otrcrypto "github.com/deniable-im/otr4/internal/crypto"
)

// run drives a full four-message SMP exchange between an initiator
// holding aSecret and a responder holding bSecret, returning what each
// side concluded.
func run(t *testing.T, aSecret, bSecret []byte) (initiatorMatched, responderMatched bool) {
	t.Helper()
	initiator := New(aSecret)
	responder := New(bSecret)

	msg1, err := initiator.Start("")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	msg2, err := responder.ReceiveMessage1(msg1)
	if err != nil {
		t.Fatalf("ReceiveMessage1: %v", err)
	}
	msg3, err := initiator.ReceiveMessage2(msg2)
	if err != nil {
		t.Fatalf("ReceiveMessage2: %v", err)
	}
	msg4, respMatched, err := responder.ReceiveMessage3(msg3)
	if err != nil {
		t.Fatalf("ReceiveMessage3: %v", err)
	}
	initMatched, err := initiator.ReceiveMessage4(msg4)
	if err != nil {
		t.Fatalf("ReceiveMessage4: %v", err)
	}
	return initMatched, respMatched
}

func TestMatchingSecrets(t *testing.T) {
	initMatched, respMatched := run(t, []byte("correct horse battery staple"), []byte("correct horse battery staple"))
	if !initMatched || !respMatched {
		t.Fatalf("expected both sides to match, got initiator=%v responder=%v", initMatched, respMatched)
	}
}

func TestMismatchedSecrets(t *testing.T) {
	initMatched, respMatched := run(t, []byte("correct horse battery staple"), []byte("wrong guess"))
	if initMatched || respMatched {
		t.Fatalf("expected both sides to fail, got initiator=%v responder=%v", initMatched, respMatched)
	}
}

func TestStatusTransitions(t *testing.T) {
	initiator := New([]byte("s"))
	if initiator.Status != Expect1 {
		t.Fatalf("new run should start at Expect1, got %v", initiator.Status)
	}
	msg1, err := initiator.Start("")
	if err != nil {
		t.Fatal(err)
	}
	if initiator.Status != Expect2 {
		t.Fatalf("after Start, expected Expect2, got %v", initiator.Status)
	}

	responder := New([]byte("s"))

	// A message received before its turn is rejected on the status
	// check alone, before any proof fields are even inspected.
	if _, err := responder.ReceiveMessage2(Message2{}); err == nil {
		t.Fatal("expected an error for a message received out of turn")
	}

	if _, err := responder.ReceiveMessage1(msg1); err != nil {
		t.Fatal(err)
	}
	if responder.Status != Expect3 {
		t.Fatalf("after ReceiveMessage1, expected Expect3, got %v", responder.Status)
	}
}

func TestAbortResetsToExpect1(t *testing.T) {
	s := New([]byte("s"))
	if _, err := s.Start(""); err != nil {
		t.Fatal(err)
	}
	s.Abort()
	if s.Status != Expect1 {
		t.Fatalf("Abort should reset to Expect1, got %v", s.Status)
	}
}

func TestBadProofRejected(t *testing.T) {
	initiator := New([]byte("s"))
	msg1, err := initiator.Start("")
	if err != nil {
		t.Fatal(err)
	}
	junk, err := otrcrypto.RandomScalar(nil)
	if err != nil {
		t.Fatal(err)
	}
	msg1.ProofG2A.D = otrcrypto.AddScalars(msg1.ProofG2A.D, junk)

	responder := New([]byte("s"))
	if _, err := responder.ReceiveMessage1(msg1); err != ErrProofFailed {
		t.Fatalf("expected ErrProofFailed for a forged proof, got %v", err)
	}
	if responder.Status != Failed {
		t.Fatalf("expected Failed status after a rejected proof, got %v", responder.Status)
	}
}
