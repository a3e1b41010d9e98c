package memscan

import (
	"context"
	"errors"
	"fmt"

	"github.com/s-hammon/memloc/internal/sig"
)

const DefaultChunkSize = 1 << 20

var ErrNoMatchFound = errors.New("signature not found")

type Match struct {
	Address sig.Address
	Pattern *sig.Pattern
	Region  Region
}

// Scanner searches regions for a signature, reading at most ChunkSize bytes
// at a time. Consecutive chunks share len(pattern)-1 bytes so a match that
// straddles a chunk boundary is reported exactly once.
type Scanner struct {
	Reader    Reader
	ChunkSize int
}

func NewScanner(r Reader) *Scanner {
	return &Scanner{Reader: r, ChunkSize: DefaultChunkSize}
}

// FindFirst returns the lowest match in the first region, in caller order,
// that contains one.
func (s *Scanner) FindFirst(ctx context.Context, pat *sig.Pattern, regions []Region) (Match, error) {
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return Match{}, err
		}

		var (
			addr  uint64
			found bool
		)
		err := s.scanRegion(r, pat, func(a uint64) bool {
			addr, found = a, true
			return false
		})
		if err != nil {
			return Match{}, err
		}
		if found {
			return newMatch(addr, pat, r), nil
		}
	}

	return Match{}, fmt.Errorf("%w: %s", ErrNoMatchFound, pat)
}

// FindAll returns every match in region order, ascending within a region.
// On cancellation the matches of the regions already scanned are returned
// along with the context error.
func (s *Scanner) FindAll(ctx context.Context, pat *sig.Pattern, regions []Region) ([]Match, error) {
	var out []Match
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		var hits []uint64
		err := s.scanRegion(r, pat, func(a uint64) bool {
			hits = append(hits, a)
			return true
		})
		if err != nil {
			return out, err
		}

		for _, a := range hits {
			out = append(out, newMatch(a, pat, r))
		}
	}

	return out, nil
}

func newMatch(addr uint64, pat *sig.Pattern, r Region) Match {
	return Match{
		Address: sig.Address{Value: addr, Kind: sig.Derived},
		Pattern: pat,
		Region:  r,
	}
}

// scanRegion calls visit for each match in ascending order until visit
// returns false.
func (s *Scanner) scanRegion(r Region, pat *sig.Pattern, visit func(uint64) bool) error {
	plen := pat.Len()
	size := r.Size()
	if plen == 0 || size < uint64(plen) {
		return nil
	}

	chunk := uint64(s.ChunkSize)
	if chunk == 0 {
		chunk = DefaultChunkSize
	}

	overlap := plen - 1
	carry := []byte{}

	for off := uint64(0); off < size; {
		toRead := min(size-off, chunk)
		addr := r.Start + off
		data, err := s.Reader.ReadMemory(addr, int(toRead))
		if err != nil {
			return readErr(addr, int(toRead), err)
		}
		if uint64(len(data)) != toRead {
			return &ReadError{Addr: addr, Size: int(toRead), Err: fmt.Errorf("short read: %d bytes", len(data))}
		}

		buf := make([]byte, len(carry)+len(data))
		copy(buf, carry)
		copy(buf[len(carry):], data)

		base := addr - uint64(len(carry))
		for i := 0; i+plen <= len(buf); i++ {
			if pat.MatchAt(buf, i) && !visit(base+uint64(i)) {
				return nil
			}
		}

		keep := min(overlap, len(buf))
		carry = append(carry[:0], buf[len(buf)-keep:]...)

		off += toRead
	}

	return nil
}
