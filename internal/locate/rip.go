package locate

import (
	"github.com/s-hammon/memloc/internal/memscan"
	"github.com/s-hammon/memloc/internal/sig"
	"github.com/s-hammon/p"
)

type ResolveError struct {
	Addr uint64
	Err  error
}

func (e *ResolveError) Error() string {
	return p.Format("rip displacement at 0x%x: %v", e.Addr, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// ResolveRIP follows the 32-bit displacement of a RIP-relative operand. The
// target is relative to the first byte after the instruction:
//
//	match + InstructionLength + int32(match[Offset:Offset+4])
func ResolveRIP(r memscan.Reader, match uint64, d sig.RipDescriptor) (uint64, error) {
	at := match + uint64(d.Offset)
	raw, err := memscan.ReadUint32(r, at)
	if err != nil {
		return 0, &ResolveError{Addr: at, Err: err}
	}

	disp := int64(int32(raw))
	nextIP := match + uint64(d.InstructionLength)
	return nextIP + uint64(disp), nil
}
