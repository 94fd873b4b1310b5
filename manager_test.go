package otr4

import (
	"testing"
	"time"
)

func TestManagerOpenReusesExistingConversation(t *testing.T) {
	host := newFakeHost(t)
	m := NewSessionManager(host)

	a, err := m.Open("s1", "alice", "bob", "test", 256)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Open("s1", "alice", "bob", "test", 256)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected Open to return the same Conversation for a repeated id")
	}

	got, ok := m.Get("s1")
	if !ok || got != a {
		t.Fatal("Get did not return the conversation opened above")
	}
}

func TestManagerCloseEndsAndRemoves(t *testing.T) {
	host := newFakeHost(t)
	m := NewSessionManager(host)

	if _, err := m.Open("s1", "alice", "bob", "test", 256); err != nil {
		t.Fatal(err)
	}
	if err := m.Close("s1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get("s1"); ok {
		t.Fatal("expected the conversation to be removed after Close")
	}
	if !host.hasEvent(EventSessionFinished) {
		t.Fatal("expected EventSessionFinished after Close")
	}
}

func TestManagerCloseUnknownIDIsNoop(t *testing.T) {
	host := newFakeHost(t)
	m := NewSessionManager(host)
	if err := m.Close("does-not-exist"); err != nil {
		t.Fatalf("expected no error closing an unknown id, got %v", err)
	}
}

func TestManagerTickSkipsPlaintextSessions(t *testing.T) {
	host := newFakeHost(t)
	m := NewSessionManager(host)
	if _, err := m.Open("s1", "alice", "bob", "test", 256); err != nil {
		t.Fatal(err)
	}
	out := m.Tick(time.Now().Add(24 * time.Hour))
	if len(out) != 0 {
		t.Fatalf("expected no outbound messages for a plaintext session, got %v", out)
	}
}

func TestNewSessionIDProducesDistinctValues(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	if a == b {
		t.Fatal("expected two distinct session ids")
	}
}
