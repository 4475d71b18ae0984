package dump

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/soltia48/felica-dumper/pkg/felica"
)

// scriptProber answers SearchServiceCode from a fixed node list and signals
// the end of the list past it.
type scriptProber struct {
	nodes   []felica.Node
	err     error
	endless bool
	calls   int
}

func (p *scriptProber) SearchServiceCode(index uint16) (felica.Node, bool, error) {
	p.calls++
	if p.err != nil {
		return felica.Node{}, false, p.err
	}
	if p.endless {
		return felica.NewService(0x000B), true, nil
	}
	if int(index) < len(p.nodes) {
		return p.nodes[index], true, nil
	}
	return felica.Node{}, false, nil
}

var (
	testTreeIDm = felica.IDm{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	testTreePMm = felica.PMm{0x05, 0x32, 0x43, 0xF6, 0x88, 0x00, 0x00, 0x00}
)

func TestDiscoverPreservesDeclarationOrder(t *testing.T) {
	nodes := []felica.Node{
		felica.NewArea(0x0000, 0xFFFE),
		felica.NewService(0x000A),
		felica.NewService(0x000B),
		felica.NewArea(0x0040, 0x007E),
		felica.NewService(0x004B),
	}
	prober := &scriptProber{nodes: nodes}
	walker := NewWalker(prober)

	tree, err := walker.Discover(context.Background(), 0x0003, testTreeIDm, testTreePMm)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := &felica.ServiceTree{
		System: 0x0003,
		IDm:    testTreeIDm,
		PMm:    testTreePMm,
		Nodes:  nodes,
	}
	if diff := cmp.Diff(want, tree); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	if prober.calls != len(nodes)+1 {
		t.Errorf("probe calls = %d, want %d", prober.calls, len(nodes)+1)
	}
}

func TestDiscoverEmptySystem(t *testing.T) {
	walker := NewWalker(&scriptProber{})

	tree, err := walker.Discover(context.Background(), 0xFE00, testTreeIDm, testTreePMm)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(tree.Nodes) != 0 {
		t.Errorf("got %d nodes, want empty tree", len(tree.Nodes))
	}
}

func TestDiscoverExhaustsProbeBound(t *testing.T) {
	prober := &scriptProber{endless: true}
	walker := NewWalker(prober)
	walker.MaxProbes = 16

	_, err := walker.Discover(context.Background(), 0x0003, testTreeIDm, testTreePMm)
	if !errors.Is(err, ErrDiscoveryExhausted) {
		t.Fatalf("err = %v, want ErrDiscoveryExhausted", err)
	}
	if prober.calls != 16 {
		t.Errorf("probe calls = %d, want 16", prober.calls)
	}
}

func TestDiscoverProbeFailure(t *testing.T) {
	probeErr := errors.New("transport glitch")
	walker := NewWalker(&scriptProber{err: probeErr})

	_, err := walker.Discover(context.Background(), 0x0003, testTreeIDm, testTreePMm)
	if !errors.Is(err, probeErr) {
		t.Fatalf("err = %v, want wrapped probe error", err)
	}
}

func TestDiscoverCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prober := &scriptProber{endless: true}
	walker := NewWalker(prober)

	_, err := walker.Discover(ctx, 0x0003, testTreeIDm, testTreePMm)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if prober.calls != 0 {
		t.Errorf("probe calls = %d, want 0 after cancellation", prober.calls)
	}
}
