package gardenchat

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectFailure matches every *ConnectError.
	ErrConnectFailure = errors.New("gardenchat: connect failure")
	// ErrHandshakeTimeout means the broker did not acknowledge CONNECT in time.
	ErrHandshakeTimeout = errors.New("gardenchat: handshake timeout")
	// ErrNotConnected is returned by publishes attempted outside the Connected state.
	ErrNotConnected = errors.New("gardenchat: not connected")
	// ErrDecodeFailure matches every *DecodeError.
	ErrDecodeFailure = errors.New("gardenchat: decode failure")
	ErrUnknownGroup  = errors.New("gardenchat: unknown group")
	ErrEmptyGroup    = errors.New("gardenchat: empty group")
	ErrInvalidTopic  = errors.New("gardenchat: invalid topic")
	ErrNilHandler    = errors.New("gardenchat: nil handler")
	ErrClientClosed  = errors.New("gardenchat: client closed")
)

// ConnectError reports a failed connection attempt. Soft failures (handshake
// timeouts) leave the caller free to proceed disconnected; Terminal means the
// retry policy is exhausted and only a manual Connect or Reconnect restarts it.
type ConnectError struct {
	Attempt  int
	Soft     bool
	Terminal bool
	Err      error
}

func (e *ConnectError) Error() string {
	kind := "retrying"
	if e.Terminal {
		kind = "terminal"
	}
	return fmt.Sprintf("gardenchat: connect attempt %d failed (%s): %v", e.Attempt, kind, e.Err)
}

func (e *ConnectError) Unwrap() []error {
	return []error{ErrConnectFailure, e.Err}
}

// DecodeError describes an inbound frame that was dropped.
type DecodeError struct {
	Destination string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gardenchat: decode frame for %q: %v", e.Destination, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecodeFailure, e.Err}
}

// BrokerError carries a STOMP ERROR frame.
type BrokerError struct {
	Message string
	Body    string
}

func (e *BrokerError) Error() string {
	if e.Body == "" {
		return "broker error: " + e.Message
	}
	return "broker error: " + e.Message + ": " + e.Body
}
