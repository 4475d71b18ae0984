package dump

import (
	"errors"
	"fmt"

	"github.com/soltia48/felica-dumper/pkg/felica"
)

// ErrDiscoveryExhausted reports a node list that never terminated within
// the probe bound. The affected system pass is aborted; other systems on
// the card are unaffected.
var ErrDiscoveryExhausted = errors.New("dump: node discovery exceeded probe bound")

// AuthReason classifies why mutual authentication failed.
type AuthReason byte

const (
	// ReasonKeyMismatch: the card's response did not match the value
	// derived from the local key material.
	ReasonKeyMismatch AuthReason = iota

	// ReasonCardRejected: the card refused the handshake outright.
	ReasonCardRejected

	// ReasonTimeout: the card stopped responding mid-handshake.
	ReasonTimeout
)

func (r AuthReason) String() string {
	switch r {
	case ReasonKeyMismatch:
		return "key mismatch"
	case ReasonCardRejected:
		return "card rejected"
	case ReasonTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown (%d)", byte(r))
	}
}

// AuthError reports a failed mutual authentication. A wrong key stays
// wrong for the rest of the card presentation, so these are never retried.
type AuthError struct {
	Service felica.NodeCode
	Reason  AuthReason
	Err     error // underlying link error, if any
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dump: authentication for service %s failed: %s: %v", e.Service, e.Reason, e.Err)
	}
	return fmt.Sprintf("dump: authentication for service %s failed: %s", e.Service, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// CommError reports a chunk exchange that kept failing at the transport
// level after the configured retries.
type CommError struct {
	Attempts int
	Err      error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("dump: chunk read failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}
