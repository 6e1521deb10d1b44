package server

import "fmt"

// Per-connection errors are typed by the phase that failed so that a failure
// anywhere in the pipeline maps to exactly one taxonomy entry. They are
// logged and counted per connection and never surface to the server's API
// caller; only StateError and the bind error returned by Start do.

// StateError reports misuse of the server lifecycle API, such as calling
// Start on a server that is already running.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s server in state %s", e.Op, e.State)
}

// HandshakeError reports a failed SSH handshake: protocol mismatch, key
// exchange failure, authentication failure, or too many auth attempts.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string { return fmt.Sprintf("ssh handshake failed: %v", e.Err) }
func (e *HandshakeError) Unwrap() error { return e.Err }

// SubsystemError reports that the client never requested the netconf
// subsystem: a non-session channel, a different subsystem name, or no
// request at all.
type SubsystemError struct {
	Err error
}

func (e *SubsystemError) Error() string { return fmt.Sprintf("subsystem negotiation failed: %v", e.Err) }
func (e *SubsystemError) Unwrap() error { return e.Err }

// ProtocolError reports malformed NETCONF traffic: a bad hello document or
// broken message framing.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("netconf protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError reports a phase that exceeded its deadline.
type TimeoutError struct {
	Phase string
	Err   error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out: %v", e.Phase, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// FactsError reports an RPC failure while gathering the identity record.
// The device callback is never invoked for a connection that fails here.
type FactsError struct {
	Err error
}

func (e *FactsError) Error() string { return fmt.Sprintf("facts gathering failed: %v", e.Err) }
func (e *FactsError) Unwrap() error { return e.Err }

// CallbackError reports a panic recovered from the caller-supplied device
// callback. The connection is still torn down normally.
type CallbackError struct {
	Recovered any
}

func (e *CallbackError) Error() string { return fmt.Sprintf("device callback panicked: %v", e.Recovered) }
