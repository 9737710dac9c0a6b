package p2p

import "fmt"

// The six error kinds of spec.md §7. Each is a distinct type so call
// sites can type-switch instead of comparing strings — the connection
// state machine does exactly that to decide whether a failure closes the
// connection (UnwantedMessageError always does; ProtocolError usually
// doesn't).

// ProtocolError is a malformed frame, unknown variant or out-of-bounds
// length. The connection stays open unless the offending frame was a
// handshake.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// UnwantedMessageError is a role-forbidden or pre-handshake-forbidden
// message. Always closes the connection.
type UnwantedMessageError struct {
	Reason string
}

func (e *UnwantedMessageError) Error() string { return "unwanted message: " + e.Reason }

// PeerError is attributable to a specific peer's repeated misbehavior.
// Closes the connection and may ban.
type PeerError struct {
	Peer   NodeID
	Reason string
}

func (e *PeerError) Error() string { return fmt.Sprintf("peer error (%s): %s", e.Peer, e.Reason) }

// TransportError is a socket/TLS failure other than WouldBlock-equivalent
// transient conditions. Closes the connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// BridgeError means the consensus engine returned a failure or its queue
// is dead. Logged and the message is dropped; never closes the peer.
type BridgeError struct {
	Reason string
}

func (e *BridgeError) Error() string { return "bridge error: " + e.Reason }

// LocalError is I/O on persisted local state (the ban store)
// or a metrics push failure. Logged; never affects peers.
type LocalError struct {
	Err error
}

func (e *LocalError) Error() string { return "local error: " + e.Err.Error() }
func (e *LocalError) Unwrap() error { return e.Err }

// FunctorError accumulates the errors returned by a chain of handlers
// invoked in registration order (spec.md §4.3), mirroring the teacher's
// pattern of collecting rather than short-circuiting on the first
// handler failure.
type FunctorError struct {
	Errors []error
}

func (e *FunctorError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d handler errors, first: %v", len(e.Errors), e.Errors[0])
}

// Unwrap supports errors.As/errors.Is against the first accumulated
// error, the common case for callers that only care whether *some*
// UnwantedMessageError occurred.
func (e *FunctorError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[0]
}
