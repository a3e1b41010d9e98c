// Package locate turns compiled queries into addresses in a live target:
// signature scan, optional RIP-relative operand, optional pointer chain.
//
// Nothing is cached between calls. Each resolution enumerates regions and
// reads memory again, so a Locator can be reused across watch ticks while the
// target keeps changing underneath it.
package locate

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/s-hammon/memloc/internal/memscan"
	"github.com/s-hammon/memloc/internal/sig"
)

type Locator struct {
	mem     memscan.Memory
	scanner *memscan.Scanner
	walker  *Walker
	filter  memscan.RegionFilter
	log     *log.Logger
}

type Option func(*Locator)

// WithFilter restricts which regions signatures are searched in. Absolute
// addresses are always validated against every mapped region.
func WithFilter(f memscan.RegionFilter) Option {
	return func(l *Locator) { l.filter = f }
}

func WithLogger(lg *log.Logger) Option {
	return func(l *Locator) { l.log = lg }
}

func WithPointerSize(n int) Option {
	return func(l *Locator) { l.walker.PointerSize = n }
}

func WithChunkSize(n int) Option {
	return func(l *Locator) { l.scanner.ChunkSize = n }
}

func New(mem memscan.Memory, opts ...Option) *Locator {
	l := &Locator{
		mem:     mem,
		scanner: memscan.NewScanner(mem),
		walker:  NewWalker(mem),
		filter:  memscan.RegionFilter{Readable: true},
		log:     log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

type Result struct {
	Address sig.Address
	// Match is nil for absolute queries.
	Match *memscan.Match
	// Region holds the final address, when InRegion is set.
	Region   memscan.Region
	InRegion bool
}

func (l *Locator) Resolve(ctx context.Context, q sig.Query) (sig.Address, error) {
	if !q.IsPattern() {
		return l.checkAbsolute(q.Address)
	}

	regions, err := l.mem.Regions(l.filter)
	if err != nil {
		return sig.Address{}, err
	}

	m, err := l.scanner.FindFirst(ctx, q.Pattern, regions)
	if err != nil {
		return sig.Address{}, err
	}

	return l.follow(m)
}

// ResolveAll resolves every match of a signature. Any RIP or chain failure
// aborts the whole call.
func (l *Locator) ResolveAll(ctx context.Context, q sig.Query) ([]sig.Address, error) {
	if !q.IsPattern() {
		a, err := l.checkAbsolute(q.Address)
		if err != nil {
			return nil, err
		}

		return []sig.Address{a}, nil
	}

	regions, err := l.mem.Regions(l.filter)
	if err != nil {
		return nil, err
	}

	matches, err := l.scanner.FindAll(ctx, q.Pattern, regions)
	if err != nil {
		return nil, err
	}

	out := make([]sig.Address, 0, len(matches))
	for _, m := range matches {
		a, err := l.follow(m)
		if err != nil {
			return nil, fmt.Errorf("match at %s: %w", m.Address, err)
		}
		out = append(out, a)
	}

	return out, nil
}

// Lookup resolves q and reports the region that holds the result.
func (l *Locator) Lookup(ctx context.Context, q sig.Query) (Result, error) {
	var res Result
	if q.IsPattern() {
		regions, err := l.mem.Regions(l.filter)
		if err != nil {
			return res, err
		}

		m, err := l.scanner.FindFirst(ctx, q.Pattern, regions)
		if err != nil {
			return res, err
		}

		res.Match = &m
		if res.Address, err = l.follow(m); err != nil {
			return res, err
		}
	} else {
		a, err := l.checkAbsolute(q.Address)
		if err != nil {
			return res, err
		}
		res.Address = a
	}

	all, err := l.mem.Regions(memscan.RegionFilter{})
	if err != nil {
		return res, err
	}
	res.Region, res.InRegion = memscan.FindRegion(all, res.Address.Value)

	return res, nil
}

func (l *Locator) checkAbsolute(a sig.Address) (sig.Address, error) {
	regions, err := l.mem.Regions(memscan.RegionFilter{})
	if err != nil {
		return sig.Address{}, err
	}

	if _, ok := memscan.FindRegion(regions, a.Value); !ok {
		return sig.Address{}, fmt.Errorf("%w: %s", memscan.ErrUnmapped, a)
	}

	return a, nil
}

func (l *Locator) follow(m memscan.Match) (sig.Address, error) {
	addr := m.Address.Value
	l.log.Debug("signature matched", "addr", m.Address, "region", m.Region.Name())

	if d, ok := m.Pattern.Rip(); ok {
		target, err := ResolveRIP(l.mem, addr, d)
		if err != nil {
			return sig.Address{}, err
		}
		l.log.Debug("rip resolved", "from", m.Address, "to", sig.Address{Value: target}, "descriptor", d)
		addr = target
	}

	if chain := m.Pattern.Chain(); len(chain) > 0 {
		end, err := l.walker.Walk(addr, chain)
		if err != nil {
			return sig.Address{}, err
		}
		l.log.Debug("chain walked", "base", sig.Address{Value: addr}, "chain", chain, "result", sig.Address{Value: end})
		addr = end
	}

	return sig.Address{Value: addr, Kind: sig.Derived}, nil
}
