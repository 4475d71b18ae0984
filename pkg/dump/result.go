package dump

import (
	"fmt"
	"strings"
	"time"

	"github.com/soltia48/felica-dumper/pkg/felica"
	"github.com/soltia48/felica-dumper/pkg/keytab"
)

// Status tags the overall outcome of one service group extraction.
type Status byte

const (
	// StatusFullyRead: every existing block of the service was read.
	StatusFullyRead Status = iota

	// StatusPartiallyRead: some blocks were read, others failed.
	StatusPartiallyRead

	// StatusUnauthenticatedSkip: an open service yielded nothing at all.
	StatusUnauthenticatedSkip

	// StatusAuthFailed: the mutual authentication handshake failed.
	StatusAuthFailed

	// StatusNoKey: no key material is available for the service. This is
	// an expected outcome, not an error.
	StatusNoKey
)

func (s Status) String() string {
	switch s {
	case StatusFullyRead:
		return "fully read"
	case StatusPartiallyRead:
		return "partially read"
	case StatusUnauthenticatedSkip:
		return "unauthenticated skip"
	case StatusAuthFailed:
		return "authentication failed"
	case StatusNoKey:
		return "no key"
	default:
		return fmt.Sprintf("unknown (%d)", byte(s))
	}
}

// BlockData is one successfully extracted block.
type BlockData struct {
	Service felica.NodeCode
	Number  uint16
	Data    [16]byte
	ReadAt  time.Time
}

// ExtractionResult is the outcome of processing one service group: the
// blocks read in block-number order, the failed block numbers, and the
// status tag derived from them.
type ExtractionResult struct {
	// Services lists the overlapped service variants of the group in card
	// declaration order.
	Services []felica.NodeCode

	Status       Status
	Blocks       []BlockData
	FailedBlocks []uint16

	// UsedKeys records the key entries involved in authentication.
	UsedKeys []keytab.Entry

	// AuthErr holds the authentication failure for StatusAuthFailed.
	AuthErr error

	Elapsed time.Duration
}

// PrimaryService returns the lowest service code of the group, used for
// stable result ordering.
func (r *ExtractionResult) PrimaryService() felica.NodeCode {
	primary := r.Services[0]
	for _, s := range r.Services[1:] {
		if s < primary {
			primary = s
		}
	}
	return primary
}

// Describe generates a per-block report of the result.
func (r *ExtractionResult) Describe() string {
	var sb strings.Builder

	codes := make([]string, len(r.Services))
	for i, s := range r.Services {
		codes[i] = s.String()
	}
	fmt.Fprintf(&sb, "Service %s: %s (%d blocks, %d failed)\n",
		strings.Join(codes, " & "), r.Status, len(r.Blocks), len(r.FailedBlocks))

	for _, b := range r.Blocks {
		fmt.Fprintf(&sb, "  Block %04X: %X\n", b.Number, b.Data)
	}
	for _, n := range r.FailedBlocks {
		fmt.Fprintf(&sb, "  Block %04X: read failed\n", n)
	}

	return strings.TrimRight(sb.String(), "\n")
}
