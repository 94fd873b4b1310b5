package otr4

import (
	"crypto/rand"
	"testing"

	"github.com/cloudflare/circl/sign/ed448"
	"github.com/stretchr/testify/require"
)

// fakeHost is a minimal Callbacks implementation for testing: keys are
// generated once and held in memory, injected messages are appended to
// Sent rather than transported anywhere, and events are recorded for
// assertions.
type fakeHost struct {
	longTerm KeyPair
	forging  KeyPair
	policy   Policy
	maxFrag  int

	Sent   []string
	Events []Event
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	longPub, longPriv, err := ed448.GenerateKey(rand.Reader)
	require.NoError(t, err)
	forgePub, forgePriv, err := ed448.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &fakeHost{
		longTerm: KeyPair{Private: longPriv, Public: longPub},
		forging:  KeyPair{Private: forgePriv, Public: forgePub},
		policy:   DefaultPolicy(),
	}
}

func (h *fakeHost) InjectMessage(sessionID, raw string) error {
	h.Sent = append(h.Sent, raw)
	return nil
}
func (h *fakeHost) GetLongTermKeypair(sessionID string) (KeyPair, error) { return h.longTerm, nil }
func (h *fakeHost) GetForgingKeypair(sessionID string) (KeyPair, error)  { return h.forging, nil }
func (h *fakeHost) RestoreClientProfilePayload(sessionID string) ([]byte, bool) {
	return nil, false
}
func (h *fakeHost) GetSessionPolicy(sessionID string) (Policy, error) { return h.policy, nil }
func (h *fakeHost) GetMaxFragmentSize(sessionID string) int           { return h.maxFrag }
func (h *fakeHost) HandleEvent(ev Event)                              { h.Events = append(h.Events, ev) }

func (h *fakeHost) hasEvent(kind EventKind) bool {
	for _, ev := range h.Events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestPlaintextPassthrough(t *testing.T) {
	host := newFakeHost(t)
	conv, err := NewConversation("s1", "alice", "bob", "test", 256, host)
	require.NoError(t, err)

	out, err := conv.TransformSending("hello", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, out)

	in, err := conv.TransformReceiving("hello back")
	require.NoError(t, err)
	require.Equal(t, []string{"hello back"}, in)
}

func TestStartSessionEmitsQuery(t *testing.T) {
	host := newFakeHost(t)
	conv, err := NewConversation("s1", "alice", "bob", "test", 256, host)
	require.NoError(t, err)

	out, err := conv.StartSession()
	require.NoError(t, err)
	require.Equal(t, []string{"?OTRv34?"}, out)
	require.True(t, host.hasEvent(EventSessionStarted))
}

// TestFullDAKEHandshake drives two Conversations through a complete
// query -> Identity -> Auth-R -> Auth-I exchange and confirms both
// land in ENCRYPTED_V4 able to exchange a message.
func TestFullDAKEHandshake(t *testing.T) {
	aliceHost := newFakeHost(t)
	bobHost := newFakeHost(t)

	alice, err := NewConversation("alice-session", "alice", "bob", "test", 256, aliceHost)
	require.NoError(t, err)
	bob, err := NewConversation("bob-session", "bob", "alice", "test", 257, bobHost)
	require.NoError(t, err)

	query, err := alice.StartSession()
	require.NoError(t, err)

	// Bob receives Alice's query and, per OTR convention, becomes the
	// party that sends the Identity message.
	_, err = bob.TransformReceiving(query[0])
	require.NoError(t, err)
	require.Len(t, bobHost.Sent, 1, "expected bob to send an Identity message")
	identity := bobHost.Sent[0]

	_, err = alice.TransformReceiving(identity)
	require.NoError(t, err)
	require.Len(t, aliceHost.Sent, 2, "expected alice to send an Auth-R message after its query")
	authR := lastSent(aliceHost)

	_, err = bob.TransformReceiving(authR)
	require.NoError(t, err)
	require.Len(t, bobHost.Sent, 2, "expected bob to send an Auth-I message")
	authI := bobHost.Sent[1]
	require.True(t, bobHost.hasEvent(EventSessionEncrypted))

	_, err = alice.TransformReceiving(authI)
	require.NoError(t, err)
	require.True(t, aliceHost.hasEvent(EventSessionEncrypted))

	// Both sides should now be able to exchange an encrypted message.
	ciphertexts, err := alice.TransformSending("hi bob", 0)
	require.NoError(t, err)
	require.Len(t, ciphertexts, 1)

	plain, err := bob.TransformReceiving(ciphertexts[0])
	require.NoError(t, err)
	require.Equal(t, []string{"hi bob"}, plain)
}

// handshake drives two fresh Conversations through a complete DAKE and
// returns them ready to exchange encrypted messages.
func handshake(t *testing.T) (alice, bob *Conversation, aliceHost, bobHost *fakeHost) {
	t.Helper()
	aliceHost = newFakeHost(t)
	bobHost = newFakeHost(t)

	var err error
	alice, err = NewConversation("alice-session", "alice", "bob", "test", 256, aliceHost)
	require.NoError(t, err)
	bob, err = NewConversation("bob-session", "bob", "alice", "test", 257, bobHost)
	require.NoError(t, err)

	query, err := alice.StartSession()
	require.NoError(t, err)
	_, err = bob.TransformReceiving(query[0])
	require.NoError(t, err)
	_, err = alice.TransformReceiving(lastSent(bobHost))
	require.NoError(t, err)
	_, err = bob.TransformReceiving(lastSent(aliceHost))
	require.NoError(t, err)
	_, err = alice.TransformReceiving(lastSent(bobHost))
	require.NoError(t, err)
	return alice, bob, aliceHost, bobHost
}

func lastSent(h *fakeHost) string { return h.Sent[len(h.Sent)-1] }

// TestSMPMatchingSecrets drives initiate_smp/respond_smp end to end
// over an established ENCRYPTED_V4 session and confirms both sides
// observe EventSmpSucceeded when they hold the same secret.
func TestSMPMatchingSecrets(t *testing.T) {
	alice, bob, aliceHost, bobHost := handshake(t)

	out, err := alice.InitiateSMP("shared secret?", []byte("banana"))
	require.NoError(t, err)
	require.Len(t, out, 1)

	_, err = bob.TransformReceiving(out[0])
	require.NoError(t, err)
	require.True(t, bobHost.hasEvent(EventSmpStarted))

	out, err = bob.RespondSMP([]byte("banana"))
	require.NoError(t, err)
	require.Len(t, out, 1)

	_, err = alice.TransformReceiving(out[0])
	require.NoError(t, err)
	smp3 := lastSent(aliceHost)

	_, err = bob.TransformReceiving(smp3)
	require.NoError(t, err)
	require.True(t, bobHost.hasEvent(EventSmpSucceeded))
	smp4 := lastSent(bobHost)

	_, err = alice.TransformReceiving(smp4)
	require.NoError(t, err)
	require.True(t, aliceHost.hasEvent(EventSmpSucceeded))
}

// TestSMPMismatchedSecrets confirms a secret mismatch surfaces as
// EventSmpFailed on both sides rather than EventSmpSucceeded.
func TestSMPMismatchedSecrets(t *testing.T) {
	alice, bob, aliceHost, bobHost := handshake(t)

	out, err := alice.InitiateSMP("", []byte("banana"))
	require.NoError(t, err)
	_, err = bob.TransformReceiving(out[0])
	require.NoError(t, err)

	out, err = bob.RespondSMP([]byte("apple"))
	require.NoError(t, err)
	_, err = alice.TransformReceiving(out[0])
	require.NoError(t, err)
	smp3 := lastSent(aliceHost)

	_, err = bob.TransformReceiving(smp3)
	require.NoError(t, err)
	require.True(t, bobHost.hasEvent(EventSmpFailed))
	smp4 := lastSent(bobHost)

	_, err = alice.TransformReceiving(smp4)
	require.NoError(t, err)
	require.True(t, aliceHost.hasEvent(EventSmpFailed))
}
