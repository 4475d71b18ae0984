package felica

import (
	"fmt"
	"sort"
	"strings"

	"github.com/soltia48/felica-dumper/pkg/bits"
)

// NODE CODE LOGIC:
//
// A FeliCa system organizes its storage as a flat, ordered list of nodes.
// Each node is identified by a 16-bit node code:
//
//   - Bits 16-7: node number (the position in the area hierarchy).
//   - Bits  6-1: attribute.
//
// Areas group a contiguous node number range and carry an "end" code that
// closes the range. Services are leaves exposing 16-byte blocks; their
// attribute encodes the service type and the access mode:
//
//   - Random service:  attribute 0b0010xx
//   - Cyclic service:  attribute 0b0011xx
//   - Purse service:   attribute 0b010xxx
//
// The least significant attribute bit decides whether the access mode works
// without authentication (1) or requires a key (0). Declaration order on the
// card is significant: overlapped variants of one service (e.g. read-write
// with key and read-only without key) are declared consecutively.

// SystemCode identifies one logical system on a card, selected at polling.
type SystemCode uint16

// Well-known system codes.
const (
	// SystemCodeAny is the polling wildcard matching any system.
	SystemCodeAny SystemCode = 0xFFFF

	// SystemCodeCommon is the Common Area system code (0xFE00).
	SystemCodeCommon SystemCode = 0xFE00

	// SystemCodeNDEF is the system code used by FeliCa Lite tags.
	SystemCodeNDEF SystemCode = 0x88B4
)

func (s SystemCode) String() string {
	return fmt.Sprintf("%04X", uint16(s))
}

// IDm is the 8-byte manufacture identifier returned on polling.
type IDm [8]byte

func (i IDm) String() string {
	return fmt.Sprintf("%X", i[:])
}

// PMm is the 8-byte manufacture parameter returned on polling.
type PMm [8]byte

func (p PMm) String() string {
	return fmt.Sprintf("%X", p[:])
}

// ServiceType classifies a service by attribute bits 6 to 3.
type ServiceType byte

const (
	ServiceTypeRandom ServiceType = 0b0010
	ServiceTypeCyclic ServiceType = 0b0011
	ServiceTypePurse  ServiceType = 0b0100

	ServiceTypeUnknown ServiceType = 0
)

func (t ServiceType) String() string {
	switch {
	case t == ServiceTypeRandom:
		return "Random"
	case t == ServiceTypeCyclic:
		return "Cyclic"
	case t&0b1110 == ServiceTypePurse:
		return "Purse"
	default:
		return "Unknown"
	}
}

// Access type tables indexed by the low attribute bits, in card encoding
// order. Random and cyclic services use 2 access bits, purse services 3.
var (
	randomCyclicAccessTypes = []string{
		"write with key",
		"write w/o key",
		"read with key",
		"read w/o key",
	}

	purseAccessTypes = []string{
		"direct with key",
		"direct w/o key",
		"cashback with key",
		"cashback w/o key",
		"decrement with key",
		"decrement w/o key",
		"read with key",
		"read w/o key",
	}
)

// NodeCode is the 16-bit identifier of an area or service.
type NodeCode uint16

// Number returns the node number (upper 10 bits).
func (c NodeCode) Number() uint16 {
	return bits.GetRange16(uint16(c), 16, 7)
}

// Attribute returns the 6-bit node attribute.
func (c NodeCode) Attribute() byte {
	return byte(bits.GetRange16(uint16(c), 6, 1))
}

// ServiceType returns the service type encoded in the attribute.
func (c NodeCode) ServiceType() ServiceType {
	t := ServiceType(bits.GetRange16(uint16(c), 6, 3))
	switch {
	case t == ServiceTypeRandom, t == ServiceTypeCyclic:
		return t
	case t&0b1110 == ServiceTypePurse:
		return t
	default:
		return ServiceTypeUnknown
	}
}

// RequiresAuthentication reports whether reads against this service need a
// mutual-authentication session (least significant attribute bit clear).
func (c NodeCode) RequiresAuthentication() bool {
	return !bits.IsSet16(uint16(c), 1)
}

// AccessType returns the access mode string for a service code.
func (c NodeCode) AccessType() string {
	switch c.ServiceType() {
	case ServiceTypeRandom, ServiceTypeCyclic:
		return randomCyclicAccessTypes[bits.GetRange16(uint16(c), 2, 1)]
	case ServiceTypeUnknown:
		return "unknown"
	default: // purse
		return purseAccessTypes[bits.GetRange16(uint16(c), 3, 1)]
	}
}

func (c NodeCode) String() string {
	return fmt.Sprintf("%04X", uint16(c))
}

// NodeKind distinguishes the two node variants.
type NodeKind byte

const (
	NodeArea NodeKind = iota
	NodeService
)

func (k NodeKind) String() string {
	if k == NodeArea {
		return "Area"
	}
	return "Service"
}

// Node is one entry of the discovered node list: either an area with its
// closing end code, or a service leaf.
type Node struct {
	Kind NodeKind
	Code NodeCode

	// End closes the node number range owned by an area.
	// Only meaningful when Kind is NodeArea.
	End NodeCode
}

// NewArea creates an area node covering the range [code, end].
func NewArea(code, end NodeCode) Node {
	return Node{Kind: NodeArea, Code: code, End: end}
}

// NewService creates a service leaf node.
func NewService(code NodeCode) Node {
	return Node{Kind: NodeService, Code: code}
}

// Contains reports whether an area node owns the given node code.
// Always false for services.
func (n Node) Contains(code NodeCode) bool {
	return n.Kind == NodeArea && n.Code <= code && code <= n.End
}

// Verbose returns a human-readable description of the node.
func (n Node) Verbose() string {
	if n.Kind == NodeArea {
		return fmt.Sprintf("Area %s..%s", n.Code, n.End)
	}
	return fmt.Sprintf("Service %s | Type: %s | Access: %s",
		n.Code, n.Code.ServiceType(), n.Code.AccessType())
}

// ServiceTree is the discovered logical structure of one system: the polled
// card identity plus the node list in card declaration order. It is built
// once per system pass and read-only thereafter.
type ServiceTree struct {
	System SystemCode
	IDm    IDm
	PMm    PMm
	Nodes  []Node
}

// Areas returns the area nodes in declaration order.
func (t *ServiceTree) Areas() []Node {
	var areas []Node
	for _, n := range t.Nodes {
		if n.Kind == NodeArea {
			areas = append(areas, n)
		}
	}
	return areas
}

// Services returns the service nodes in declaration order.
func (t *ServiceTree) Services() []Node {
	var services []Node
	for _, n := range t.Nodes {
		if n.Kind == NodeService {
			services = append(services, n)
		}
	}
	return services
}

// ContainingAreas returns the areas owning the given node code, ordered by
// area start code (outermost first).
func (t *ServiceTree) ContainingAreas(code NodeCode) []Node {
	var areas []Node
	for _, n := range t.Nodes {
		if n.Contains(code) {
			areas = append(areas, n)
		}
	}
	sort.Slice(areas, func(i, j int) bool {
		return areas[i].Code < areas[j].Code
	})
	return areas
}

// Describe generates a report of the full tree content.
func (t *ServiceTree) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== SYSTEM %s (IDm %s) ===\n", t.System, t.IDm)
	for _, n := range t.Nodes {
		fmt.Fprintf(&sb, "  %s\n", n.Verbose())
	}
	return strings.TrimRight(sb.String(), "\n")
}
