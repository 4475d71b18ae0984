package dump

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soltia48/felica-dumper/pkg/felica"
)

// Retry defaults of the batch reader.
const (
	// DefaultMaxChunkRetries is how often a chunk exchange is re-issued
	// after a transport failure before its blocks are marked failed.
	DefaultMaxChunkRetries = 2

	// DefaultRetryBackoff is the linear backoff unit between attempts:
	// the n-th retry waits n times this duration.
	DefaultRetryBackoff = 50 * time.Millisecond
)

// ErrSessionMismatch reports an attempt to read a service with a session
// created for another node or already invalidated.
var ErrSessionMismatch = errors.New("dump: session not valid for this service")

// BlockReadLink is the slice of the Tag Link the BatchReader needs.
// *felica.Client satisfies it.
type BlockReadLink interface {
	ReadWithoutEncryption(service felica.NodeCode, blocks []uint16) ([]felica.BlockResult, error)
	ReadSecure(blocks []uint16) ([]felica.BlockResult, error)
}

// OutcomeKind classifies the final per-block outcome after retries.
type OutcomeKind byte

const (
	// OutcomeData: block read, payload valid.
	OutcomeData OutcomeKind = iota

	// OutcomeNotExist: the block number is beyond the service's range.
	OutcomeNotExist

	// OutcomeMACFailed: the block was delivered but failed MAC checks.
	OutcomeMACFailed

	// OutcomeCommFailed: the chunk carrying the block kept failing at the
	// transport level.
	OutcomeCommFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeData:
		return "data"
	case OutcomeNotExist:
		return "not exist"
	case OutcomeMACFailed:
		return "mac failed"
	case OutcomeCommFailed:
		return "comm failed"
	default:
		return fmt.Sprintf("unknown (%d)", byte(k))
	}
}

// BlockOutcome is the final outcome for one block number.
type BlockOutcome struct {
	Number uint16
	Kind   OutcomeKind
	Data   [16]byte
	ReadAt time.Time
}

// BatchReader reads block sets in protocol-sized chunks. One exchange
// carries at most ChunkSize blocks; a transport glitch on an exchange is
// retried with linear backoff because it can recover data, while per-block
// failures inside a delivered response are final and never retried.
type BatchReader struct {
	Link BlockReadLink

	// ChunkSize caps the blocks per exchange.
	// Defaults to felica.MaxBlocksPerRead.
	ChunkSize int

	// MaxRetries is the number of re-issues after a failed exchange.
	MaxRetries int

	// Backoff is the linear backoff unit between attempts.
	Backoff time.Duration
}

// NewBatchReader creates a BatchReader with protocol defaults.
func NewBatchReader(link BlockReadLink) *BatchReader {
	return &BatchReader{
		Link:       link,
		ChunkSize:  felica.MaxBlocksPerRead,
		MaxRetries: DefaultMaxChunkRetries,
		Backoff:    DefaultRetryBackoff,
	}
}

func (r *BatchReader) chunkSize() int {
	if r.ChunkSize > 0 {
		return r.ChunkSize
	}
	return felica.MaxBlocksPerRead
}

// ReadBlocks reads an explicit ordered block set, preserving block order in
// the outcomes. Chunk failures cost only their own blocks; remaining chunks
// are still read. Only cancellation aborts the set.
func (r *BatchReader) ReadBlocks(ctx context.Context, session *Session, service felica.NodeCode, blocks []uint16) ([]BlockOutcome, error) {
	outcomes := make([]BlockOutcome, 0, len(blocks))

	for _, chunk := range partitionBlocks(blocks, r.chunkSize()) {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		results, err := r.readChunk(session, service, chunk)
		if err != nil {
			for _, n := range chunk {
				outcomes = append(outcomes, BlockOutcome{Number: n, Kind: OutcomeCommFailed})
			}
			continue
		}

		now := time.Now()
		for i, res := range results {
			outcomes = append(outcomes, outcomeOf(chunk[i], res, now))
		}
	}

	return outcomes, nil
}

// ReadAll discovers the block count of a service by reading ascending
// block numbers until one does not exist, bounded by maxBlocks. The bound
// guards against runaway probing: services do not declare their size.
//
// A chunk that keeps failing at the transport level ends the probe, since
// the existence of further blocks cannot be decided.
func (r *BatchReader) ReadAll(ctx context.Context, session *Session, service felica.NodeCode, maxBlocks int) ([]BlockOutcome, error) {
	var outcomes []BlockOutcome

	for next := 0; next < maxBlocks; {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		end := next + r.chunkSize()
		if end > maxBlocks {
			end = maxBlocks
		}
		chunk := make([]uint16, 0, end-next)
		for n := next; n < end; n++ {
			chunk = append(chunk, uint16(n))
		}

		results, err := r.readChunk(session, service, chunk)
		if err != nil {
			for _, n := range chunk {
				outcomes = append(outcomes, BlockOutcome{Number: n, Kind: OutcomeCommFailed})
			}
			return outcomes, nil
		}

		now := time.Now()
		for i, res := range results {
			if res.Status == felica.BlockNotExist {
				// First hole ends the service's block range.
				return outcomes, nil
			}
			outcomes = append(outcomes, outcomeOf(chunk[i], res, now))
		}

		next = end
	}

	return outcomes, nil
}

// readChunk issues one chunk exchange with the retry policy applied.
func (r *BatchReader) readChunk(session *Session, service felica.NodeCode, chunk []uint16) ([]felica.BlockResult, error) {
	if session != nil && (!session.Active() || session.Service() != service) {
		return nil, ErrSessionMismatch
	}

	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * r.Backoff)
		}

		var (
			results []felica.BlockResult
			err     error
		)
		if session != nil {
			results, err = r.Link.ReadSecure(chunk)
		} else {
			results, err = r.Link.ReadWithoutEncryption(service, chunk)
		}
		if err == nil {
			return results, nil
		}
		lastErr = err

		// Card-level rejections are deterministic; only transport
		// glitches are worth another attempt.
		var cardErr *felica.CardError
		if errors.As(err, &cardErr) {
			return nil, &CommError{Attempts: attempt + 1, Err: err}
		}
	}

	return nil, &CommError{Attempts: r.MaxRetries + 1, Err: lastErr}
}

func outcomeOf(number uint16, res felica.BlockResult, readAt time.Time) BlockOutcome {
	out := BlockOutcome{Number: number}
	switch res.Status {
	case felica.BlockOK:
		out.Kind = OutcomeData
		out.Data = res.Data
		out.ReadAt = readAt
	case felica.BlockNotExist:
		out.Kind = OutcomeNotExist
	case felica.BlockMACFail:
		out.Kind = OutcomeMACFailed
	}
	return out
}

// partitionBlocks splits a block set into consecutive chunks of at most
// size elements, preserving order.
func partitionBlocks(blocks []uint16, size int) [][]uint16 {
	var chunks [][]uint16
	for len(blocks) > size {
		chunks = append(chunks, blocks[:size])
		blocks = blocks[size:]
	}
	if len(blocks) > 0 {
		chunks = append(chunks, blocks)
	}
	return chunks
}
