package otr4

// EventKind enumerates every event the core can surface to the host
// via handle_event (spec §6 names the callback but not its event
// vocabulary; this enumeration is this module's supplement, spec
// §3 supplement).
type EventKind int

const (
	// EventSessionStarted fires when start_session() sends a query
	// message; a handshake begun by an inbound message does not emit
	// it.
	EventSessionStarted EventKind = iota
	// EventSessionEncrypted fires once a handshake (v3 or v4)
	// completes and the session enters an ENCRYPTED_* state.
	EventSessionEncrypted
	// EventSessionFinished fires when the session transitions to
	// FINISHED, whether by end_session() or timeout.
	EventSessionFinished
	// EventUnreadableMessage fires when an inbound data message
	// cannot be decrypted (Crypto or OutOfOrderUnavailable errors
	// during ENCRYPTED_*).
	EventUnreadableMessage
	// EventSmpStarted fires when initiate_smp or an inbound SMP
	// round 1 begins a run.
	EventSmpStarted
	// EventSmpSucceeded fires when an SMP run completes with
	// matching secrets.
	EventSmpSucceeded
	// EventSmpFailed fires when an SMP run completes without a
	// match, or a proof fails to verify.
	EventSmpFailed
	// EventSmpAborted fires when either side aborts an in-progress
	// SMP run.
	EventSmpAborted
	// EventHeartbeatSent fires when tick() triggers an empty data
	// message to advance a stale ratchet.
	EventHeartbeatSent
)

// Event is what the core hands to the host's handle_event callback
// (spec §6).
type Event struct {
	SessionID string
	PeerTag   uint32
	Kind      EventKind
	Detail    string
}

func (k EventKind) String() string {
	switch k {
	case EventSessionStarted:
		return "SESSION_STARTED"
	case EventSessionEncrypted:
		return "SESSION_ENCRYPTED"
	case EventSessionFinished:
		return "SESSION_FINISHED"
	case EventUnreadableMessage:
		return "UNREADABLE_MESSAGE"
	case EventSmpStarted:
		return "SMP_STARTED"
	case EventSmpSucceeded:
		return "SMP_SUCCEEDED"
	case EventSmpFailed:
		return "SMP_FAILED"
	case EventSmpAborted:
		return "SMP_ABORTED"
	case EventHeartbeatSent:
		return "HEARTBEAT_SENT"
	default:
		return "UNKNOWN"
	}
}
