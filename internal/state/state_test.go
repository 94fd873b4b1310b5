package state

import (
	"testing"
	"time"

	"github.com/deniable-im/otr4/internal/ake3"
	"github.com/deniable-im/otr4/internal/dake"
)

func TestNewSessionStartsPlaintext(t *testing.T) {
	s := New()
	if s.Kind != Plaintext {
		t.Fatalf("expected Plaintext, got %v", s.Kind)
	}
}

func TestBeginDAKERejectedOutsidePlaintext(t *testing.T) {
	s := New()
	s.Kind = Finished
	if err := s.BeginDAKE(&dake.State{}); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestBeginAKE3RejectedOutsidePlaintext(t *testing.T) {
	s := New()
	s.Kind = EncryptedV4
	if err := s.BeginAKE3(&ake3.State{}); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestBeginDAKEInstallsState(t *testing.T) {
	s := New()
	st := &dake.State{}
	if err := s.BeginDAKE(st); err != nil {
		t.Fatal(err)
	}
	if s.Kind != DAKEInProgressV4 {
		t.Fatalf("expected DAKEInProgressV4, got %v", s.Kind)
	}
	if s.V4DAKE != st {
		t.Fatal("V4DAKE was not installed")
	}
}

func TestCompleteDAKERejectedOutsideDAKEInProgress(t *testing.T) {
	s := New()
	if err := s.CompleteDAKE(dake.Result{Rk0: make([]byte, 64)}); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCompleteAKE3InstallsV3Chain(t *testing.T) {
	s := New()
	if err := s.BeginAKE3(&ake3.State{}); err != nil {
		t.Fatal(err)
	}
	result := ake3.Result{C: []byte("c"), M1: []byte("m1"), M2: []byte("m2")}
	if err := s.CompleteAKE3(result); err != nil {
		t.Fatal(err)
	}
	if s.Kind != EncryptedV3 {
		t.Fatalf("expected EncryptedV3, got %v", s.Kind)
	}
	if s.V3Chain == nil || string(s.V3Chain.C) != "c" {
		t.Fatal("V3Chain was not installed correctly")
	}
	// The outgoing AKE-in-progress sub-state must be destroyed on
	// transition.
	if s.V3AKE != nil {
		t.Fatal("V3AKE should have been cleared on transition")
	}
}

func TestStartSMPRequiresEncryptedSession(t *testing.T) {
	s := New()
	if _, err := s.StartSMP([]byte("secret")); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	s.Kind = EncryptedV4
	run, err := s.StartSMP([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || s.SMP != run {
		t.Fatal("SMP run was not installed")
	}
}

func TestAbortSMPIsSafeWithoutARun(t *testing.T) {
	s := New()
	s.AbortSMP() // must not panic when no SMP run is in progress
}

func TestEndMovesToFinished(t *testing.T) {
	s := New()
	s.Kind = EncryptedV4
	s.End()
	if s.Kind != Finished {
		t.Fatalf("expected Finished, got %v", s.Kind)
	}
}

func TestResetMovesToPlaintext(t *testing.T) {
	s := New()
	s.Kind = EncryptedV3
	s.V3Chain = &v3Chain{C: []byte("c")}
	s.Reset()
	if s.Kind != Plaintext {
		t.Fatalf("expected Plaintext, got %v", s.Kind)
	}
	if s.V3Chain != nil {
		t.Fatal("V3Chain should have been destroyed on Reset")
	}
}

func TestTouchAndIdleFor(t *testing.T) {
	s := New()
	base := time.Now()
	s.Touch(base)
	later := base.Add(5 * time.Minute)
	if got := s.IdleFor(later); got != 5*time.Minute {
		t.Fatalf("expected 5m idle, got %v", got)
	}
}
