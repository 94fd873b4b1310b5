// Package state implements the per-peer session state machine (spec
// §4.6): PLAINTEXT, the v3/v4 handshake sub-machines, the two
// encrypted variants, and FINISHED. Each variant owns the
// cryptographic material valid only for that variant; the only way to
// cross states is transition(), which destroys the outgoing state's
// secrets first.
package state

import (
	"errors"
	"time"

	"github.com/deniable-im/otr4/internal/ake3"
	otrcrypto "github.com/deniable-im/otr4/internal/crypto"
	"github.com/deniable-im/otr4/internal/dake"
	"github.com/deniable-im/otr4/internal/ratchet"
	"github.com/deniable-im/otr4/internal/smp"
)

// Kind names the variant a Session currently occupies (spec §3
// "Session state").
type Kind int

const (
	Plaintext Kind = iota
	AKEInProgressV3
	DAKEInProgressV4
	EncryptedV3
	EncryptedV4
	Finished
)

func (k Kind) String() string {
	switch k {
	case Plaintext:
		return "PLAINTEXT"
	case AKEInProgressV3:
		return "AKE_IN_PROGRESS"
	case DAKEInProgressV4:
		return "DAKE_IN_PROGRESS"
	case EncryptedV3:
		return "ENCRYPTED_V3"
	case EncryptedV4:
		return "ENCRYPTED_V4"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidTransition reports an operation illegal for the session's
// current Kind (spec §7 InvalidState).
var ErrInvalidTransition = errors.New("state: operation invalid in current session state")

// Session is a single peer's protocol state machine. At most one of
// V3AKE, V4DAKE, V3Chain and V4Ratchet is populated at a time, matching
// the active Kind; SMP may additionally be set while an encrypted Kind
// is active — the same tagged-union-by-pointer-field shape
// internal/wire.DecodedMessage uses for its own variant dispatch.
type Session struct {
	Kind Kind

	V3AKE  *ake3.State
	V4DAKE *dake.State

	V3Chain *v3Chain
	V4Ratchet *ratchet.State

	SMP *smp.State

	LastActivity time.Time
}

// v3Chain is the minimal per-session material ENCRYPTED_V3 needs:
// the symmetric key the v3 AKE produced, reused directly as a static
// encryption/MAC key pair rather than a rotating ratchet (spec §3
// treats v3 purely as a backward-compatible fallback, not a
// full second ratchet implementation).
type v3Chain struct {
	C  []byte
	M1 []byte
	M2 []byte
}

// New creates a fresh session in PLAINTEXT.
func New() *Session {
	return &Session{Kind: Plaintext, LastActivity: time.Now()}
}

// destroy wipes whatever secret material the current Kind owns,
// called by transition before installing the next state (spec §4.6
// "Each state owns its cryptographic material and provides
// destroy()").
func (s *Session) destroy() {
	if s.V4Ratchet != nil {
		s.V4Ratchet.Wipe()
		s.V4Ratchet = nil
	}
	if s.V3Chain != nil {
		otrcrypto.Wipe(s.V3Chain.C)
		otrcrypto.Wipe(s.V3Chain.M1)
		otrcrypto.Wipe(s.V3Chain.M2)
		s.V3Chain = nil
	}
	s.V3AKE = nil
	s.V4DAKE = nil
	s.SMP = nil
}

// transition moves the session to a new Kind, destroying the outgoing
// state's secrets first (spec §4.6 "The only way to cross states is
// through transition()").
func (s *Session) transition(next Kind) {
	s.destroy()
	s.Kind = next
	s.LastActivity = time.Now()
}

// BeginDAKE moves PLAINTEXT -> DAKE_IN_PROGRESS and installs v4Dake.
func (s *Session) BeginDAKE(v4Dake *dake.State) error {
	if s.Kind != Plaintext {
		return ErrInvalidTransition
	}
	s.transition(DAKEInProgressV4)
	s.V4DAKE = v4Dake
	return nil
}

// BeginAKE3 moves PLAINTEXT -> AKE_IN_PROGRESS(v3) and installs v3Ake.
func (s *Session) BeginAKE3(v3Ake *ake3.State) error {
	if s.Kind != Plaintext {
		return ErrInvalidTransition
	}
	s.transition(AKEInProgressV3)
	s.V3AKE = v3Ake
	return nil
}

// CompleteDAKE moves DAKE_IN_PROGRESS -> ENCRYPTED_V4, seeding the
// ratchet from the DAKE's result (spec §4.3 -> §4.4 handoff). The
// initiator side bootstraps its sending chain immediately, mirroring
// the teacher's NewSend/NewRecv split: one peer must already hold a
// keyed Cks when the DAKE finishes, or the first post-handshake
// Encrypt has nothing to derive a message key from. The responder
// side leaves Cks unset; it is seeded lazily by the responder's own
// first Encrypt call (Decrypt's receiver rotation keys only Ckr).
func (s *Session) CompleteDAKE(result dake.Result) error {
	if s.Kind != DAKEInProgressV4 {
		return ErrInvalidTransition
	}
	r, err := ratchet.New(result.Rk0, result.PeerECDH, result.PeerDH)
	if err != nil {
		return err
	}
	if result.IsInitiator {
		if err := r.RotateSender(); err != nil {
			return err
		}
	}
	s.transition(EncryptedV4)
	s.V4Ratchet = r
	return nil
}

// CompleteAKE3 moves AKE_IN_PROGRESS -> ENCRYPTED_V3, storing the v3
// AKE's symmetric key material directly (spec §3 ENCRYPTED_V3).
func (s *Session) CompleteAKE3(result ake3.Result) error {
	if s.Kind != AKEInProgressV3 {
		return ErrInvalidTransition
	}
	s.transition(EncryptedV3)
	s.V3Chain = &v3Chain{C: result.C, M1: result.M1, M2: result.M2}
	return nil
}

// StartSMP installs an SMP run over an already-encrypted session
// (either version), per spec §6 `initiate_smp`/`respond_smp`.
func (s *Session) StartSMP(secret []byte) (*smp.State, error) {
	if s.Kind != EncryptedV3 && s.Kind != EncryptedV4 {
		return nil, ErrInvalidTransition
	}
	run := smp.New(secret)
	s.SMP = run
	return run, nil
}

// AbortSMP resets any in-progress SMP run without touching the
// enclosing encrypted session (spec §4.5 "does not terminate the
// enclosing encrypted session").
func (s *Session) AbortSMP() {
	if s.SMP != nil {
		s.SMP.Abort()
	}
}

// End moves any state to FINISHED (v3) — spec §4.6's "On explicit end
// or timeout -> FINISHED (v3)".
func (s *Session) End() {
	s.transition(Finished)
}

// Reset moves any state back to PLAINTEXT — spec §4.6's "-> PLAINTEXT
// (v4)" transition on explicit end or timeout for a v4 session.
func (s *Session) Reset() {
	s.transition(Plaintext)
}

// Touch records host-observed activity, used by tick() to evaluate
// the heartbeat and expiration timers (spec §5 "two timers, both
// driven by host clock ticks").
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// IdleFor reports how long the session has been inactive as of now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
