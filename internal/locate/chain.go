package locate

import (
	"fmt"

	"github.com/s-hammon/memloc/internal/memscan"
	"github.com/s-hammon/memloc/internal/sig"
	"github.com/s-hammon/p"
)

// ChainError tags a failed dereference with its position in the chain.
type ChainError struct {
	Index int
	Addr  uint64
	Err   error
}

func (e *ChainError) Error() string {
	return p.Format("pointer chain index %d at 0x%x: %v", e.Index, e.Addr, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// Walker follows pointer chains. PointerSize is the width of the target's
// pointers, 8 unless set to 4. When Regions is set every dereferenced pointer
// must land in a mapped region; a null pointer is always rejected.
type Walker struct {
	Reader      memscan.Reader
	Regions     memscan.RegionSource
	PointerSize int
}

func NewWalker(mem memscan.Memory) *Walker {
	return &Walker{Reader: mem, Regions: mem, PointerSize: 8}
}

// Walk dereferences every offset but the last and adds the last one to the
// final pointer. A chain of n offsets costs n-1 reads.
func (w *Walker) Walk(base uint64, chain sig.Chain) (uint64, error) {
	if len(chain) == 0 {
		return base, nil
	}

	size := w.PointerSize
	if size == 0 {
		size = 8
	}
	if size != 4 && size != 8 {
		return 0, fmt.Errorf("unsupported pointer size %d", size)
	}

	var mapped []memscan.Region
	if w.Regions != nil && len(chain) > 1 {
		regions, err := w.Regions.Regions(memscan.RegionFilter{})
		if err != nil {
			return 0, err
		}
		mapped = regions
	}

	current := base
	for i, off := range chain.Derefs() {
		at := current + uint64(off)
		ptr, err := memscan.ReadPointer(w.Reader, at, size)
		if err != nil {
			return 0, &ChainError{Index: i, Addr: at, Err: err}
		}

		if ptr == 0 {
			return 0, &ChainError{Index: i, Addr: ptr, Err: fmt.Errorf("%w: null pointer read at 0x%x", memscan.ErrUnmapped, at)}
		}
		if w.Regions != nil {
			if _, ok := memscan.FindRegion(mapped, ptr); !ok {
				return 0, &ChainError{Index: i, Addr: ptr, Err: fmt.Errorf("%w: pointer read at 0x%x", memscan.ErrUnmapped, at)}
			}
		}

		current = ptr
	}

	return current + uint64(chain.Final()), nil
}
