package dump

import (
	"context"
	"fmt"

	"github.com/soltia48/felica-dumper/pkg/felica"
)

// MaxDiscoveryProbes bounds the node index probing of one system. Node
// indices are 16-bit, so a well-formed card terminates its list within
// this bound; exceeding it means the card is malformed or adversarial.
const MaxDiscoveryProbes = 0x10000

// NodeProber is the slice of the Tag Link the Walker needs.
// *felica.Client satisfies it.
type NodeProber interface {
	SearchServiceCode(index uint16) (felica.Node, bool, error)
}

// Walker enumerates the node list of one polled system into a ServiceTree.
type Walker struct {
	Link NodeProber

	// MaxProbes overrides MaxDiscoveryProbes when positive.
	MaxProbes int
}

// NewWalker creates a Walker with the protocol probe bound.
func NewWalker(link NodeProber) *Walker {
	return &Walker{Link: link}
}

func (w *Walker) maxProbes() int {
	if w.MaxProbes > 0 {
		return w.MaxProbes
	}
	return MaxDiscoveryProbes
}

// Discover probes node indices 0, 1, 2, ... until the card signals the end
// of its list, preserving card declaration order. The order is load-bearing:
// overlapped service variants must later be tried in the order the card
// declares them.
//
// A list that never terminates within the probe bound fails with
// ErrDiscoveryExhausted. A system without any nodes yields an empty tree.
func (w *Walker) Discover(ctx context.Context, system felica.SystemCode, idm felica.IDm, pmm felica.PMm) (*felica.ServiceTree, error) {
	tree := &felica.ServiceTree{
		System: system,
		IDm:    idm,
		PMm:    pmm,
	}

	for index := 0; index < w.maxProbes(); index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, ok, err := w.Link.SearchServiceCode(uint16(index))
		if err != nil {
			return nil, fmt.Errorf("node probe %d: %w", index, err)
		}
		if !ok {
			return tree, nil
		}

		tree.Nodes = append(tree.Nodes, node)
	}

	return nil, fmt.Errorf("%w (system %s)", ErrDiscoveryExhausted, system)
}
