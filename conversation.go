package otr4

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deniable-im/otr4/internal/dake"
	"github.com/deniable-im/otr4/internal/profile"
	"github.com/deniable-im/otr4/internal/ratchet"
	"github.com/deniable-im/otr4/internal/smp"
	"github.com/deniable-im/otr4/internal/state"
	"github.com/deniable-im/otr4/internal/wire"
)

// queryPrefix and whitespace tags implement spec §6's "Wire formats":
// query messages are "?OTRv<digits>?" and whitespace tags are fixed
// byte sequences appended to plaintext.
const queryPrefix = "?OTRv"

var whitespaceTagV4 = " \t  \t\t\t\t \t \t \t  "
var whitespaceTagV3 = " \t  \t\t\t\t \t \t \t \t"

// Conversation is a single peer's OTR session handle (spec §6
// `create_session`).
type Conversation struct {
	id            string
	localAccount  string
	remoteAccount string
	protocolName  string
	tag           uint32

	cb     Callbacks
	policy Policy

	sess        *state.Session
	reassembler *wire.Reassembler

	ownProfile profile.Profile
	longTerm   KeyPair
	forging    KeyPair

	fragIdentifier uint32

	// pendingSMP1 holds an inbound SMP round-1 message awaiting the
	// host's respond_smp call, since only the host knows the secret
	// to answer with (spec §6 `respond_smp`).
	pendingSMP1 *smp.Message1
}

// NewConversation implements `create_session(session_id)` (spec §6):
// session_id plus the (local_account, remote_account, protocol_name)
// triple.
func NewConversation(id, localAccount, remoteAccount, protocolName string, tag uint32, cb Callbacks) (*Conversation, error) {
	policy, err := mustPolicy(cb, id)
	if err != nil {
		return nil, err
	}
	longTerm, err := cb.GetLongTermKeypair(id)
	if err != nil {
		return nil, &HostFailureError{Callback: "get_long_term_keypair", Cause: err}
	}
	forging, err := cb.GetForgingKeypair(id)
	if err != nil {
		return nil, &HostFailureError{Callback: "get_forging_keypair", Cause: err}
	}

	own := profile.Profile{
		InstanceTag:    tag,
		LongTermPublic: longTerm.Public,
		ForgingPublic:  forging.Public,
		Versions:       profile.SupportedVersions,
		Expiration:     time.Now().Add(30 * 24 * time.Hour),
	}
	if payload, ok := cb.RestoreClientProfilePayload(id); ok {
		if restored, err := profile.Decode(payload); err == nil {
			if err := profile.Validate(restored, time.Now(), nil); err == nil {
				own = restored
			}
		}
	} else {
		signed, err := profile.Sign(own, longTerm.Private, nil)
		if err != nil {
			return nil, fmt.Errorf("otr4: NewConversation: %w", err)
		}
		own = signed
	}

	re := wire.NewReassembler()
	re.Timeout = int64(policy.FragmentTimeout.Seconds())

	return &Conversation{
		id:            id,
		localAccount:  localAccount,
		remoteAccount: remoteAccount,
		protocolName:  protocolName,
		tag:           tag,
		cb:            cb,
		policy:        policy,
		sess:          state.New(),
		reassembler:   re,
		ownProfile:    own,
		longTerm:      longTerm,
		forging:       forging,
	}, nil
}

func mustPolicy(cb Callbacks, id string) (Policy, error) {
	p, err := cb.GetSessionPolicy(id)
	if err != nil {
		return Policy{}, &HostFailureError{Callback: "get_session_policy", Cause: err}
	}
	return p, nil
}

// StartSession implements `start_session()`: emits a query message
// advertising every version the policy allows.
func (c *Conversation) StartSession() ([]string, error) {
	versions := "4"
	if c.policy.AllowV3 {
		versions = "34"
	}
	msg := queryPrefix + versions + "?"
	if err := c.inject(msg); err != nil {
		return nil, err
	}
	c.emit(EventSessionStarted, "")
	return []string{msg}, nil
}

// EndSession implements `end_session()`: emits a TLV-1 disconnect over
// the active encrypted session (if any) and wipes keys.
func (c *Conversation) EndSession() ([]string, error) {
	var out []string
	if c.sess.Kind == state.EncryptedV4 {
		msg, err := c.encryptV4(nil, []TLV{{Type: TLVDisconnect}})
		if err != nil {
			return nil, err
		}
		out = append(out, msg...)
	}
	c.sess.End()
	c.emit(EventSessionFinished, "")
	return out, nil
}

// TransformSending implements `transform_sending(text, flags)`.
func (c *Conversation) TransformSending(text string, flags SendFlag) ([]string, error) {
	switch c.sess.Kind {
	case state.EncryptedV4:
		return c.encryptV4([]byte(text), nil)
	case state.EncryptedV3:
		return nil, fmt.Errorf("otr4: v3 data-message sending not implemented by this engine build: %w", ErrSessionFinished)
	case state.Finished:
		c.emit(EventSessionFinished, "")
		return nil, ErrSessionFinished
	default:
		return []string{text}, nil
	}
}

func (c *Conversation) encryptV4(plaintext []byte, tlvs []TLV) ([]string, error) {
	if c.sess.Kind != state.EncryptedV4 {
		return nil, &InvalidStateError{Op: "encrypt", State: c.sess.Kind.String()}
	}
	payload := append([]byte(nil), plaintext...)
	if len(tlvs) > 0 {
		// A zero byte separates the text from the TLV records, as
		// splitPayload expects.
		payload = append(payload, 0)
		payload = append(payload, encodeTLVs(tlvs)...)
	}
	enc, err := c.sess.V4Ratchet.Encrypt(payload, nil)
	if err != nil {
		return nil, &CryptoError{Cause: err}
	}
	dm := wire.DataMessage{
		Header: wire.Header{Version: 4, Type: wire.MsgTypeData, Sender: c.tag, Receiver: 0},
		RatchetID: enc.RatchetID, MessageID: enc.MessageID,
		ECDHPublic: enc.ECDHPublic, DHPublic: enc.DHPublic,
		Nonce: enc.Nonce, Ciphertext: enc.Ciphertext,
		RevealedMACs: enc.RevealedMACs,
	}
	copy(dm.MAC[:], enc.MAC)
	raw := wire.Armor(dm.Encode())
	c.sess.Touch(time.Now())
	return c.maybeFragment(raw)
}

func (c *Conversation) maybeFragment(raw string) ([]string, error) {
	max := c.cb.GetMaxFragmentSize(c.id)
	if max <= 0 {
		max = c.policy.MaxFragmentSize
	}
	if max <= 0 || len(raw) <= max {
		if err := c.inject(raw); err != nil {
			return nil, err
		}
		return []string{raw}, nil
	}
	c.fragIdentifier++
	parts, err := wire.Split([]byte(raw), max, c.fragIdentifier, c.tag, 0)
	if err != nil {
		return nil, &ProtocolError{Cause: err}
	}
	for _, p := range parts {
		if err := c.inject(p); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// TransformReceiving implements `transform_receiving(raw)`: classifies
// the inbound string, reassembles fragments, dispatches handshake
// messages, and decrypts data messages (spec §2 "Data flow").
func (c *Conversation) TransformReceiving(raw string) ([]string, error) {
	if frag, err := wire.ParseFragment(raw); err == nil {
		payload, complete, err := c.reassembler.Add(frag, time.Now().Unix())
		if err != nil {
			return nil, &ProtocolError{Cause: err}
		}
		if !complete {
			return nil, nil
		}
		raw = string(payload)
	}

	if strings.HasPrefix(raw, queryPrefix) {
		return nil, c.beginResponderHandshake()
	}
	if strings.Contains(raw, whitespaceTagV4) {
		return nil, c.beginResponderHandshake()
	}

	payload, err := wire.Dearmor(raw)
	if err != nil {
		// Not an armored OTR message: plain cleartext, passed through
		// unchanged (spec §6 "Plaintext messages are passed through
		// unchanged").
		return []string{raw}, nil
	}
	decoded, err := wire.Decode(payload)
	if err != nil {
		return nil, &ProtocolError{Cause: err}
	}
	return c.dispatch(decoded)
}

func (c *Conversation) beginResponderHandshake() error {
	if c.sess.Kind != state.Plaintext {
		return nil
	}
	st, err := dake.NewInitiator(c.tag, c.ownProfile, c.longTerm.Private.Seed(), c.forging.Private.Seed())
	if err != nil {
		return fmt.Errorf("otr4: beginResponderHandshake: %w", err)
	}
	if err := c.sess.BeginDAKE(st); err != nil {
		return err
	}
	msg, err := st.StartIdentity(0)
	if err != nil {
		return fmt.Errorf("otr4: beginResponderHandshake: %w", err)
	}
	_, err = c.maybeFragment(wire.Armor(msg.Encode()))
	return err
}

func (c *Conversation) dispatch(decoded wire.DecodedMessage) ([]string, error) {
	switch {
	case decoded.Identity != nil:
		return nil, c.handleIdentity(*decoded.Identity)
	case decoded.AuthR != nil:
		return nil, c.handleAuthR(*decoded.AuthR)
	case decoded.AuthI != nil:
		return nil, c.handleAuthI(*decoded.AuthI)
	case decoded.Data != nil:
		return c.handleData(*decoded.Data)
	default:
		return nil, &ProtocolError{Cause: wire.ErrUnknownType}
	}
}

func (c *Conversation) handleIdentity(msg wire.IdentityMessage) error {
	st, err := dake.NewResponder(c.tag, c.ownProfile, c.longTerm.Private.Seed(), c.forging.Private.Seed())
	if err != nil {
		return fmt.Errorf("otr4: handleIdentity: %w", err)
	}
	if err := c.sess.BeginDAKE(st); err != nil {
		return err
	}
	out, err := st.ReceiveIdentity(msg, time.Now(), nil)
	if err != nil {
		return &CryptoError{Cause: err}
	}
	_, err = c.maybeFragment(wire.Armor(out.Encode()))
	return err
}

func (c *Conversation) handleAuthR(msg wire.AuthRMessage) error {
	if c.sess.Kind != state.DAKEInProgressV4 {
		return &InvalidStateError{Op: "Auth-R", State: c.sess.Kind.String()}
	}
	out, result, err := c.sess.V4DAKE.ReceiveAuthR(msg, time.Now(), nil)
	if err != nil {
		return &CryptoError{Cause: err}
	}
	if _, err := c.maybeFragment(wire.Armor(out.Encode())); err != nil {
		return err
	}
	if err := c.sess.CompleteDAKE(result); err != nil {
		return err
	}
	c.emit(EventSessionEncrypted, "")
	return nil
}

func (c *Conversation) handleAuthI(msg wire.AuthIMessage) error {
	if c.sess.Kind != state.DAKEInProgressV4 {
		return &InvalidStateError{Op: "Auth-I", State: c.sess.Kind.String()}
	}
	result, err := c.sess.V4DAKE.ReceiveAuthI(msg)
	if err != nil {
		return &CryptoError{Cause: err}
	}
	if err := c.sess.CompleteDAKE(result); err != nil {
		return err
	}
	c.emit(EventSessionEncrypted, "")
	return nil
}

func (c *Conversation) handleData(msg wire.DataMessage) ([]string, error) {
	if c.sess.Kind != state.EncryptedV4 {
		if c.sess.Kind == state.Finished {
			c.emit(EventUnreadableMessage, "")
			return nil, ErrSessionFinished
		}
		return nil, &InvalidStateError{Op: "decrypt", State: c.sess.Kind.String()}
	}
	enc := &ratchet.Encrypted{
		RatchetID: msg.RatchetID, MessageID: msg.MessageID,
		ECDHPublic: msg.ECDHPublic, DHPublic: msg.DHPublic,
		Nonce: msg.Nonce, Ciphertext: msg.Ciphertext, RevealedMACs: msg.RevealedMACs,
		MAC: msg.MAC[:],
	}
	plain, err := c.sess.V4Ratchet.Decrypt(enc, nil)
	if err != nil {
		c.emit(EventUnreadableMessage, err.Error())
		return nil, &CryptoError{Cause: err}
	}
	c.sess.Touch(time.Now())

	text, tlvs := splitPayload(plain)
	for _, t := range tlvs {
		if err := c.handleTLV(t); err != nil {
			return nil, err
		}
	}
	if len(text) == 0 {
		return nil, nil
	}
	return []string{string(text)}, nil
}

// splitPayload separates the leading plaintext from any trailing TLV
// records a data message payload carries (spec §4.4: the payload is
// "plaintext followed by zero or more TLVs").
func splitPayload(plain []byte) ([]byte, []TLV) {
	for i := 0; i < len(plain); i++ {
		if plain[i] == 0 {
			tlvs, err := decodeTLVs(plain[i+1:])
			if err != nil {
				return plain[:i], nil
			}
			return plain[:i], tlvs
		}
	}
	return plain, nil
}

func (c *Conversation) handleTLV(t TLV) error {
	switch t.Type {
	case TLVDisconnect:
		c.sess.End()
		c.emit(EventSessionFinished, "")
	case TLVSMP1:
		msg1, err := smp.DecodeMessage1(t.Value)
		if err != nil {
			return &ProtocolError{Cause: err}
		}
		c.pendingSMP1 = &msg1
		c.emit(EventSmpStarted, msg1.Question)
	case TLVSMP2:
		if c.sess.SMP == nil {
			return &InvalidStateError{Op: "smp2", State: "no SMP run in progress"}
		}
		msg2, err := smp.DecodeMessage2(t.Value)
		if err != nil {
			return &ProtocolError{Cause: err}
		}
		msg3, err := c.sess.SMP.ReceiveMessage2(msg2)
		if err != nil {
			c.emit(EventSmpFailed, "")
			return &SmpError{Cause: err}
		}
		payload, err := msg3.Encode()
		if err != nil {
			return &CryptoError{Cause: err}
		}
		_, err = c.encryptV4(nil, []TLV{{Type: TLVSMP3, Value: payload}})
		return err
	case TLVSMP3:
		if c.sess.SMP == nil {
			return &InvalidStateError{Op: "smp3", State: "no SMP run in progress"}
		}
		msg3, err := smp.DecodeMessage3(t.Value)
		if err != nil {
			return &ProtocolError{Cause: err}
		}
		msg4, matched, err := c.sess.SMP.ReceiveMessage3(msg3)
		if err != nil {
			c.emit(EventSmpFailed, "")
			return &SmpError{Cause: err}
		}
		payload, err := msg4.Encode()
		if err != nil {
			return &CryptoError{Cause: err}
		}
		if _, err := c.encryptV4(nil, []TLV{{Type: TLVSMP4, Value: payload}}); err != nil {
			return err
		}
		if matched {
			c.emit(EventSmpSucceeded, "")
		} else {
			c.emit(EventSmpFailed, "")
		}
	case TLVSMP4:
		if c.sess.SMP == nil {
			return &InvalidStateError{Op: "smp4", State: "no SMP run in progress"}
		}
		msg4, err := smp.DecodeMessage4(t.Value)
		if err != nil {
			return &ProtocolError{Cause: err}
		}
		matched, err := c.sess.SMP.ReceiveMessage4(msg4)
		if err != nil {
			c.emit(EventSmpFailed, "")
			return &SmpError{Cause: err}
		}
		if matched {
			c.emit(EventSmpSucceeded, "")
		} else {
			c.emit(EventSmpFailed, "")
		}
	case TLVSMPAbort:
		c.sess.AbortSMP()
		c.pendingSMP1 = nil
		c.emit(EventSmpAborted, "")
	}
	return nil
}

// InitiateSMP implements `initiate_smp(question?, secret)`.
func (c *Conversation) InitiateSMP(question string, secret []byte) ([]string, error) {
	run, err := c.sess.StartSMP(secret)
	if err != nil {
		return nil, err
	}
	msg1, err := run.Start(question)
	if err != nil {
		return nil, &SmpError{Cause: err}
	}
	c.emit(EventSmpStarted, question)
	payload, err := msg1.Encode()
	if err != nil {
		return nil, &CryptoError{Cause: err}
	}
	return c.encryptV4(nil, []TLV{{Type: TLVSMP1, Value: payload}})
}

// RespondSMP implements `respond_smp(secret)`: answers a pending
// inbound round-1 message with round 2, the first point at which this
// side's secret enters the run.
func (c *Conversation) RespondSMP(secret []byte) ([]string, error) {
	if c.pendingSMP1 == nil {
		return nil, &InvalidStateError{Op: "respond_smp", State: "no SMP run in progress"}
	}
	run, err := c.sess.StartSMP(secret)
	if err != nil {
		return nil, err
	}
	msg1 := *c.pendingSMP1
	c.pendingSMP1 = nil
	msg2, err := run.ReceiveMessage1(msg1)
	if err != nil {
		c.emit(EventSmpFailed, "")
		return nil, &SmpError{Cause: err}
	}
	payload, err := msg2.Encode()
	if err != nil {
		return nil, &CryptoError{Cause: err}
	}
	return c.encryptV4(nil, []TLV{{Type: TLVSMP2, Value: payload}})
}

// Tick implements `tick(now)`: drops fragment reassembly slots idle for
// longer than the policy's FragmentTimeout and advances the
// heartbeat/expiration timers (spec §5).
func (c *Conversation) Tick(now time.Time) ([]string, error) {
	c.reassembler.Evict(now.Unix())
	if c.sess.Kind != state.EncryptedV4 {
		return nil, nil
	}
	idle := c.sess.IdleFor(now)
	if idle >= c.policy.SessionExpiration {
		c.sess.End()
		c.emit(EventSessionFinished, "")
		return nil, nil
	}
	if idle >= c.policy.HeartbeatInterval {
		out, err := c.encryptV4(nil, nil)
		if err != nil {
			return nil, err
		}
		c.emit(EventHeartbeatSent, "")
		return out, nil
	}
	return nil, nil
}

func (c *Conversation) inject(raw string) error {
	if err := c.cb.InjectMessage(c.id, raw); err != nil {
		return &HostFailureError{Callback: "inject_message", Cause: err}
	}
	return nil
}

func (c *Conversation) emit(kind EventKind, detail string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("otr4: handle_event callback panicked: %v", r)
		}
	}()
	c.cb.HandleEvent(Event{SessionID: c.id, PeerTag: c.tag, Kind: kind, Detail: detail})
}
