// Package otr4 implements the core cryptographic engine of an
// Off-the-Record messaging v4 client, backward-compatible with v3
// (spec §1): the DAKE handshake, the double ratchet, SMP, message
// fragmentation, and the wire codec, all reachable through a small
// host-facing API (spec §6). Transport, UI, persistence beyond the
// long-term key pair, and logging are supplied by the host through
// the Callbacks interface; this package never performs I/O itself.
package otr4

import (
	"github.com/cloudflare/circl/sign/ed448"
)

// KeyPair is an Ed448 key pair as the host provides it (spec §3
// "Long-term key pair").
type KeyPair struct {
	Private ed448.PrivateKey
	Public  ed448.PublicKey
}

// Callbacks is the contract the core consumes from its host (spec §6
// "Host-supplied callbacks"). Errors from InjectMessage,
// GetSessionPolicy, GetLongTermKeypair and GetForgingKeypair propagate
// as *HostFailureError (the last three make NewConversation fail). The
// remaining callbacks return no error; a panic in HandleEvent is
// recovered and logged via the standard log package.
type Callbacks interface {
	InjectMessage(sessionID string, raw string) error
	GetLongTermKeypair(sessionID string) (KeyPair, error)
	GetForgingKeypair(sessionID string) (KeyPair, error)
	RestoreClientProfilePayload(sessionID string) ([]byte, bool)
	GetSessionPolicy(sessionID string) (Policy, error)
	GetMaxFragmentSize(sessionID string) int
	HandleEvent(ev Event)
}
