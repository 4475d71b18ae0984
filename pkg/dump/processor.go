package dump

import (
	"context"
	"sort"
	"time"

	"github.com/soltia48/felica-dumper/pkg/felica"
	"github.com/soltia48/felica-dumper/pkg/keytab"
)

// MaxBlocksPerService bounds the block count probing of one service.
// Services do not declare their size; deployed FeliCa services stay far
// below this.
const MaxBlocksPerService = 1024

// TagLink is the full card capability the Processor drives.
// *felica.Client satisfies it.
type TagLink interface {
	NodeProber
	AuthLink
	BlockReadLink
}

// Processor turns discovered services into ExtractionResults: it decides
// whether a service needs authentication, obtains and scopes the Session,
// and drives the BatchReader.
type Processor struct {
	Link   TagLink
	Keys   *keytab.Table
	Auth   *Authenticator
	Reader *BatchReader

	// MaxBlocks overrides MaxBlocksPerService when positive.
	MaxBlocks int
}

// NewProcessor wires a Processor with default components over one link.
func NewProcessor(link TagLink, keys *keytab.Table) *Processor {
	return &Processor{
		Link:   link,
		Keys:   keys,
		Auth:   NewAuthenticator(link),
		Reader: NewBatchReader(link),
	}
}

func (p *Processor) maxBlocks() int {
	if p.MaxBlocks > 0 {
		return p.MaxBlocks
	}
	return MaxBlocksPerService
}

// GroupOverlappedServices groups consecutive service codes that are access
// variants of the same service (same service number and type, different
// access attribute). The card declares such variants consecutively, so one
// linear pass suffices. Declaration order is preserved inside each group.
func GroupOverlappedServices(services []felica.NodeCode) [][]felica.NodeCode {
	var groups [][]felica.NodeCode
	var current []felica.NodeCode

	for _, svc := range services {
		if len(current) > 0 && overlaps(current[len(current)-1], svc) {
			current = append(current, svc)
			continue
		}
		if len(current) > 0 {
			groups = append(groups, current)
		}
		current = []felica.NodeCode{svc}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	return groups
}

// overlaps reports whether next is an access variant of prev. Purse
// services spend three attribute bits on the access mode, random and
// cyclic services two.
func overlaps(prev, next felica.NodeCode) bool {
	if prev>>4 != next>>4 {
		return false
	}
	if (next>>4)&1 == 1 { // purse service
		return true
	}
	return prev>>2 == next>>2
}

// ProcessTree processes every service group of one discovered system.
// Groups readable without keys run first, authenticated groups after;
// results are returned sorted by primary service code. Failures never
// spill over to sibling groups; only cancellation aborts the pass.
func (p *Processor) ProcessTree(ctx context.Context, tree *felica.ServiceTree) ([]ExtractionResult, error) {
	var codes []felica.NodeCode
	for _, svc := range tree.Services() {
		codes = append(codes, svc.Code)
	}

	var open, protected [][]felica.NodeCode
	for _, group := range GroupOverlappedServices(codes) {
		if openVariant(group) != nil {
			open = append(open, group)
		} else {
			protected = append(protected, group)
		}
	}

	var results []ExtractionResult
	for _, group := range append(open, protected...) {
		result, err := p.ProcessGroup(ctx, tree, group)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].PrimaryService() < results[j].PrimaryService()
	})
	return results, nil
}

// openVariant returns the service variant to read without authentication,
// or nil if every variant requires a key. When several variants are open,
// the last declared one wins: cards declare keyed variants first.
func openVariant(group []felica.NodeCode) *felica.NodeCode {
	for i := len(group) - 1; i >= 0; i-- {
		if !group[i].RequiresAuthentication() {
			return &group[i]
		}
	}
	return nil
}

// ProcessGroup extracts one service group. The returned error is only
// non-nil on cancellation; every card-level failure is folded into the
// result status.
func (p *Processor) ProcessGroup(ctx context.Context, tree *felica.ServiceTree, group []felica.NodeCode) (ExtractionResult, error) {
	start := time.Now()
	result := ExtractionResult{Services: group}

	var err error
	if open := openVariant(group); open != nil {
		err = p.readOpen(ctx, &result, *open)
	} else {
		err = p.readAuthenticated(ctx, &result, tree, group[0])
	}

	result.Elapsed = time.Since(start)
	return result, err
}

// readOpen extracts an unauthenticated service variant.
func (p *Processor) readOpen(ctx context.Context, result *ExtractionResult, service felica.NodeCode) error {
	outcomes, err := p.Reader.ReadAll(ctx, nil, service, p.maxBlocks())
	collect(result, service, outcomes)

	switch {
	case len(result.Blocks) == 0 && len(result.FailedBlocks) > 0:
		result.Status = StatusUnauthenticatedSkip
	case len(result.FailedBlocks) > 0:
		result.Status = StatusPartiallyRead
	default:
		result.Status = StatusFullyRead
	}
	return err
}

// readAuthenticated extracts a protected service variant: key lookup,
// handshake, then session-bound reads. The session never survives this
// call.
func (p *Processor) readAuthenticated(ctx context.Context, result *ExtractionResult, tree *felica.ServiceTree, service felica.NodeCode) error {
	systemKey, haveSystem := p.Keys.Lookup(tree.System, keytab.SystemKeyNode)
	serviceKey, haveService := p.Keys.Lookup(tree.System, service)
	if !haveSystem || !haveService {
		// Common case: the key table simply does not cover this service.
		result.Status = StatusNoKey
		return ctx.Err()
	}

	chain := KeyChain{System: systemKey, Service: serviceKey}
	var areaCodes []felica.NodeCode
	for _, area := range tree.ContainingAreas(service) {
		areaCodes = append(areaCodes, area.Code)
		if areaKey, ok := p.Keys.Lookup(tree.System, area.Code); ok {
			chain.Areas = append(chain.Areas, areaKey)
		}
	}
	result.UsedKeys = chain.Entries()

	session, err := p.Auth.Authenticate(service, areaCodes, chain)
	if err != nil {
		result.Status = StatusAuthFailed
		result.AuthErr = err
		return ctx.Err()
	}
	defer session.Invalidate()

	outcomes, err := p.Reader.ReadAll(ctx, session, service, p.maxBlocks())
	collect(result, service, outcomes)

	if len(result.FailedBlocks) > 0 {
		result.Status = StatusPartiallyRead
	} else {
		result.Status = StatusFullyRead
	}
	return err
}

// collect folds reader outcomes into the result, preserving block order.
func collect(result *ExtractionResult, service felica.NodeCode, outcomes []BlockOutcome) {
	for _, o := range outcomes {
		if o.Kind == OutcomeData {
			result.Blocks = append(result.Blocks, BlockData{
				Service: service,
				Number:  o.Number,
				Data:    o.Data,
				ReadAt:  o.ReadAt,
			})
			continue
		}
		result.FailedBlocks = append(result.FailedBlocks, o.Number)
	}
}
