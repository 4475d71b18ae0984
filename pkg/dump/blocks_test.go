package dump

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/soltia48/felica-dumper/pkg/felica"
)

type readCall struct {
	service felica.NodeCode
	blocks  []uint16
	secure  bool
}

type readReply struct {
	results []felica.BlockResult
	err     error
}

// scriptReadLink answers chunk exchanges from a reply queue and records
// every call it receives.
type scriptReadLink struct {
	replies []readReply
	calls   []readCall
}

func (l *scriptReadLink) next() readReply {
	if len(l.replies) == 0 {
		return readReply{err: errors.New("script exhausted")}
	}
	r := l.replies[0]
	l.replies = l.replies[1:]
	return r
}

func (l *scriptReadLink) ReadWithoutEncryption(service felica.NodeCode, blocks []uint16) ([]felica.BlockResult, error) {
	l.calls = append(l.calls, readCall{service: service, blocks: append([]uint16(nil), blocks...)})
	r := l.next()
	return r.results, r.err
}

func (l *scriptReadLink) ReadSecure(blocks []uint16) ([]felica.BlockResult, error) {
	l.calls = append(l.calls, readCall{blocks: append([]uint16(nil), blocks...), secure: true})
	r := l.next()
	return r.results, r.err
}

// okResults builds n successful block results with recognizable payloads.
func okResults(fill byte, n int) []felica.BlockResult {
	results := make([]felica.BlockResult, n)
	for i := range results {
		results[i].Status = felica.BlockOK
		results[i].Data[0] = fill + byte(i)
	}
	return results
}

func newTestReader(link BlockReadLink) *BatchReader {
	r := NewBatchReader(link)
	r.ChunkSize = 4
	r.Backoff = 0
	return r
}

func outcomeKinds(outcomes []BlockOutcome) []OutcomeKind {
	kinds := make([]OutcomeKind, len(outcomes))
	for i, o := range outcomes {
		kinds[i] = o.Kind
	}
	return kinds
}

func TestReadBlocksChunksAndPreservesOrder(t *testing.T) {
	link := &scriptReadLink{replies: []readReply{
		{results: okResults(0x10, 4)},
		{results: okResults(0x20, 4)},
		{results: okResults(0x30, 2)},
	}}
	reader := newTestReader(link)

	blocks := []uint16{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	outcomes, err := reader.ReadBlocks(context.Background(), nil, 0x000B, blocks)
	if err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}

	wantChunks := [][]uint16{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}}
	if len(link.calls) != len(wantChunks) {
		t.Fatalf("got %d exchanges, want %d", len(link.calls), len(wantChunks))
	}
	for i, call := range link.calls {
		if diff := cmp.Diff(wantChunks[i], call.blocks); diff != "" {
			t.Errorf("exchange %d blocks (-want +got):\n%s", i, diff)
		}
		if call.secure || call.service != 0x000B {
			t.Errorf("exchange %d = %+v, want plain read of service 000B", i, call)
		}
	}

	if len(outcomes) != len(blocks) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(blocks))
	}
	for i, o := range outcomes {
		if o.Number != blocks[i] || o.Kind != OutcomeData {
			t.Errorf("outcome %d = {%d %s}, want {%d data}", i, o.Number, o.Kind, blocks[i])
		}
	}
	if outcomes[4].Data[0] != 0x20 {
		t.Errorf("block 4 payload = %02X, want 20", outcomes[4].Data[0])
	}
}

func TestReadBlocksChunkFailureIsLocal(t *testing.T) {
	link := &scriptReadLink{replies: []readReply{
		{err: errors.New("rf noise")},
		{err: errors.New("rf noise")},
		{results: okResults(0x20, 2)},
	}}
	reader := newTestReader(link)
	reader.MaxRetries = 1

	outcomes, err := reader.ReadBlocks(context.Background(), nil, 0x000B, []uint16{0, 1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}

	want := []OutcomeKind{
		OutcomeCommFailed, OutcomeCommFailed, OutcomeCommFailed, OutcomeCommFailed,
		OutcomeData, OutcomeData,
	}
	if diff := cmp.Diff(want, outcomeKinds(outcomes)); diff != "" {
		t.Errorf("outcome kinds (-want +got):\n%s", diff)
	}
	if len(link.calls) != 3 {
		t.Errorf("got %d exchanges, want 2 failing + 1 ok", len(link.calls))
	}
}

func TestReadChunkRetriesTransportFailures(t *testing.T) {
	transportErr := errors.New("rf noise")
	link := &scriptReadLink{replies: []readReply{
		{err: transportErr}, {err: transportErr}, {err: transportErr},
	}}
	reader := newTestReader(link)
	reader.MaxRetries = 2

	_, err := reader.readChunk(nil, 0x000B, []uint16{0, 1})

	var commErr *CommError
	if !errors.As(err, &commErr) {
		t.Fatalf("err = %v, want *CommError", err)
	}
	if commErr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", commErr.Attempts)
	}
	if !errors.Is(err, transportErr) {
		t.Errorf("err does not wrap the transport failure: %v", err)
	}
	if len(link.calls) != 3 {
		t.Errorf("got %d exchanges, want 3", len(link.calls))
	}
}

func TestReadChunkCardErrorNotRetried(t *testing.T) {
	cardErr := &felica.CardError{
		Cmd:    felica.CmdReadWithoutEncryption,
		Status: felica.NewStatusFlags(0xFF, 0xA5),
	}
	link := &scriptReadLink{replies: []readReply{{err: cardErr}}}
	reader := newTestReader(link)
	reader.MaxRetries = 2

	_, err := reader.readChunk(nil, 0x000B, []uint16{0})

	var gotCard *felica.CardError
	if !errors.As(err, &gotCard) {
		t.Fatalf("err = %v, want wrapped *felica.CardError", err)
	}
	if len(link.calls) != 1 {
		t.Errorf("got %d exchanges, want 1 (card rejections are final)", len(link.calls))
	}
}

func TestReadAllStopsAtFirstHole(t *testing.T) {
	hole := okResults(0x20, 4)
	hole[2] = felica.BlockResult{Status: felica.BlockNotExist}

	link := &scriptReadLink{replies: []readReply{
		{results: okResults(0x10, 4)},
		{results: hole},
	}}
	reader := newTestReader(link)

	outcomes, err := reader.ReadAll(context.Background(), nil, 0x000B, 64)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	// Blocks 0-5 exist, block 6 is the hole that ends the range.
	if len(outcomes) != 6 {
		t.Fatalf("got %d outcomes, want 6", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Kind != OutcomeData || o.Number != uint16(i) {
			t.Errorf("outcome %d = {%d %s}, want {%d data}", i, o.Number, o.Kind, i)
		}
	}
	if len(link.calls) != 2 {
		t.Errorf("got %d exchanges, want 2", len(link.calls))
	}
}

func TestReadAllBoundsProbing(t *testing.T) {
	link := &scriptReadLink{replies: []readReply{{results: okResults(0x10, 3)}}}
	reader := newTestReader(link)
	reader.ChunkSize = 8

	outcomes, err := reader.ReadAll(context.Background(), nil, 0x000B, 3)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(outcomes) != 3 {
		t.Errorf("got %d outcomes, want 3", len(outcomes))
	}
	if len(link.calls) != 1 {
		t.Fatalf("got %d exchanges, want 1", len(link.calls))
	}
	if diff := cmp.Diff([]uint16{0, 1, 2}, link.calls[0].blocks); diff != "" {
		t.Errorf("probed blocks (-want +got):\n%s", diff)
	}
}

func TestReadAllCommFailureEndsProbe(t *testing.T) {
	link := &scriptReadLink{replies: []readReply{
		{results: okResults(0x10, 4)},
		{err: errors.New("card left the field")},
	}}
	reader := newTestReader(link)
	reader.MaxRetries = 0

	outcomes, err := reader.ReadAll(context.Background(), nil, 0x000B, 64)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	want := []OutcomeKind{
		OutcomeData, OutcomeData, OutcomeData, OutcomeData,
		OutcomeCommFailed, OutcomeCommFailed, OutcomeCommFailed, OutcomeCommFailed,
	}
	if diff := cmp.Diff(want, outcomeKinds(outcomes)); diff != "" {
		t.Errorf("outcome kinds (-want +got):\n%s", diff)
	}
	if len(link.calls) != 2 {
		t.Errorf("got %d exchanges, want probe to end after the failure", len(link.calls))
	}
}

func TestReadChunkSecureUsesSession(t *testing.T) {
	link := &scriptReadLink{replies: []readReply{{results: okResults(0x10, 2)}}}
	reader := newTestReader(link)
	session := &Session{service: 0x000A, active: true}

	if _, err := reader.readChunk(session, 0x000A, []uint16{0, 1}); err != nil {
		t.Fatalf("readChunk: %v", err)
	}
	if len(link.calls) != 1 || !link.calls[0].secure {
		t.Errorf("calls = %+v, want one secure read", link.calls)
	}
}

func TestReadChunkRejectsStaleSession(t *testing.T) {
	link := &scriptReadLink{}
	reader := newTestReader(link)

	session := &Session{service: 0x000A, active: true}
	session.Invalidate()
	if _, err := reader.readChunk(session, 0x000A, []uint16{0}); !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("invalidated session: err = %v, want ErrSessionMismatch", err)
	}

	other := &Session{service: 0x008A, active: true}
	if _, err := reader.readChunk(other, 0x000A, []uint16{0}); !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("foreign session: err = %v, want ErrSessionMismatch", err)
	}

	if len(link.calls) != 0 {
		t.Errorf("got %d exchanges, want none with an unusable session", len(link.calls))
	}
}

func TestReadBlocksCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	link := &scriptReadLink{}
	reader := newTestReader(link)

	_, err := reader.ReadBlocks(ctx, nil, 0x000B, []uint16{0, 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(link.calls) != 0 {
		t.Errorf("got %d exchanges, want 0 after cancellation", len(link.calls))
	}
}

func TestPartitionBlocks(t *testing.T) {
	tests := []struct {
		name   string
		blocks []uint16
		size   int
		want   [][]uint16
	}{
		{"empty", nil, 4, nil},
		{"single chunk", []uint16{1, 2}, 4, [][]uint16{{1, 2}}},
		{"exact fit", []uint16{1, 2, 3, 4}, 4, [][]uint16{{1, 2, 3, 4}}},
		{"remainder", []uint16{1, 2, 3, 4, 5}, 4, [][]uint16{{1, 2, 3, 4}, {5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, partitionBlocks(tt.blocks, tt.size)); diff != "" {
				t.Errorf("partitionBlocks (-want +got):\n%s", diff)
			}
		})
	}
}
