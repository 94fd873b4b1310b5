package otr4

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// SendFlag is a bit in the flag set transform_sending accepts
// (spec §6 `transform_sending(text, flags)`).
type SendFlag uint32

const (
	// FlagIgnoreUnreadable is accepted by transform_sending, which
	// does not act on it: an undecryptable inbound data message always
	// emits EventUnreadableMessage, whatever flags were passed.
	FlagIgnoreUnreadable SendFlag = 1 << iota
)

// Policy is the host-supplied policy object spec §6 refers to as
// get_session_policy()'s return value. It carries yaml tags so a host
// may load one from a config file via gopkg.in/yaml.v3, even though
// the core itself never touches the filesystem (spec §6 "no CLI and
// no direct filesystem/env access").
type Policy struct {
	// AllowV3 adds version 3 to the query message start_session()
	// sends ("?OTRv34?" instead of "?OTRv4?"). Conversation itself
	// only runs the v4 DAKE; it never starts the version-3 AKE.
	AllowV3 bool `yaml:"allow_v3"`
	// RequireEncryption is carried for the host; Conversation does not
	// consult it, and inbound plaintext is always delivered.
	RequireEncryption bool `yaml:"require_encryption"`
	// MaxFragmentSize bounds outbound fragment payload size; the host
	// may instead supply this per-message via get_max_fragment_size().
	MaxFragmentSize int `yaml:"max_fragment_size"`
	// FragmentTimeout bounds how long an incomplete fragment
	// reassembly slot may sit before eviction (spec §3 "Fragment
	// reassembly slot"; supplemented default below).
	FragmentTimeout time.Duration `yaml:"fragment_timeout"`
	// HeartbeatInterval is how long a session may go without any
	// traffic (sent or received) before tick() injects an empty data
	// message to advance the
	// ratchet (spec §4.4 "Expiration and secure deletion").
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// SessionExpiration is how long a session may go without any
	// traffic before tick() transitions it to FINISHED/PLAINTEXT.
	SessionExpiration time.Duration `yaml:"session_expiration"`
}

// DefaultPolicy returns the supplemented defaults spec §3 leaves
// unspecified: a 60-second fragment-reassembly timeout, a 60-second
// heartbeat interval, and a 7-day session expiration, matching the
// published OTRv4 reference defaults.
func DefaultPolicy() Policy {
	return Policy{
		AllowV3:           true,
		RequireEncryption: false,
		MaxFragmentSize:   16000,
		FragmentTimeout:   60 * time.Second,
		HeartbeatInterval: 60 * time.Second,
		SessionExpiration: 7 * 24 * time.Hour,
	}
}

// LoadPolicyYAML parses a host's on-disk policy file. The core never
// opens this file itself (spec §6 "no CLI and no direct
// filesystem/env access") — the host reads the bytes and hands them
// here, or constructs a Policy directly without this helper at all.
func LoadPolicyYAML(buf []byte) (Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(buf, &p); err != nil {
		return Policy{}, fmt.Errorf("otr4: LoadPolicyYAML: %w", err)
	}
	return p, nil
}

// ToYAML renders the policy back to YAML, e.g. for a host to persist
// an operator's runtime overrides.
func (p Policy) ToYAML() ([]byte, error) {
	return yaml.Marshal(p)
}
