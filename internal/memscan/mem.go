package memscan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/s-hammon/memloc/internal/util"
	"github.com/s-hammon/p"
)

var ErrUnmapped = errors.New("address not mapped")

// Reader reads raw bytes out of a target address space. Implementations
// return exactly count bytes or an error.
type Reader interface {
	ReadMemory(addr uint64, count int) ([]byte, error)
}

// RegionSource enumerates the mapped regions of a target, in load order.
type RegionSource interface {
	Regions(filter RegionFilter) ([]Region, error)
}

type Memory interface {
	Reader
	RegionSource
}

// ReadUint32 reads a little-endian uint32 at addr.
func ReadUint32(r Reader, addr uint64) (uint32, error) {
	b, err := r.ReadMemory(addr, 4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

func ReadUint64(r Reader, addr uint64) (uint64, error) {
	b, err := r.ReadMemory(addr, 8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

// ReadPointer reads a pointer of the given width, 4 or 8 bytes.
func ReadPointer(r Reader, addr uint64, size int) (uint64, error) {
	switch size {
	case 4:
		v, err := ReadUint32(r, addr)
		return uint64(v), err
	case 8:
		return ReadUint64(r, addr)
	}

	return 0, fmt.Errorf("unsupported pointer size %d", size)
}

type ReadError struct {
	Addr uint64
	Size int
	Err  error
}

func (e *ReadError) Error() string {
	return p.Format("read 0x%x (%d): %v", e.Addr, e.Size, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

func readErr(addr uint64, size int, err error) error {
	var re *ReadError
	if errors.As(err, &re) {
		return err
	}

	return &ReadError{Addr: addr, Size: size, Err: err}
}

// ProcessMemory reads a live Linux process. Regions are read from
// /proc/<pid>/maps on every call since the target keeps mapping and
// unmapping while we look at it.
type ProcessMemory struct {
	pid int
	mem *os.File
}

func NewProcessMemory(pid int) *ProcessMemory {
	return &ProcessMemory{pid: pid}
}

func (pm *ProcessMemory) Open() error {
	mem, err := OpenMem(pm.pid)
	if err != nil {
		return err
	}

	pm.mem = mem
	return nil
}

func (pm *ProcessMemory) Close() error {
	if pm.mem == nil {
		return errors.New("trying to close nil file")
	}

	err := pm.mem.Close()
	pm.mem = nil
	return err
}

func (pm *ProcessMemory) Regions(filter RegionFilter) ([]Region, error) {
	regions, err := ReadMaps(pm.pid)
	if err != nil {
		return nil, fmt.Errorf("read maps of %d: %w", pm.pid, err)
	}

	return filter.Apply(MergeRegions(regions)), nil
}

// ReadMemory tries process_vm_readv first and falls back to /proc/<pid>/mem,
// which works under ptrace scopes that deny the syscall.
func (pm *ProcessMemory) ReadMemory(addr uint64, count int) ([]byte, error) {
	if count < 0 {
		return nil, &ReadError{Addr: addr, Size: count, Err: errors.New("negative size")}
	}

	buf := make([]byte, count)
	if count == 0 {
		return buf, nil
	}

	n, err := readRemote(pm.pid, buf, addr)
	if err == nil && n == count {
		return buf, nil
	}
	if err == nil {
		err = fmt.Errorf("partial read: %d out of %d bytes", n, count)
	}

	if pm.mem == nil {
		return nil, &ReadError{Addr: addr, Size: count, Err: err}
	}

	b, ferr := util.ReadBytes(pm.mem, addr, count)
	if ferr != nil {
		return nil, &ReadError{Addr: addr, Size: count, Err: errors.Join(err, ferr)}
	}

	return b, nil
}

func FindPidBySubstring(substr string) (int, error) {
	ents, err := os.ReadDir("/proc")
	if err != nil {
		return 0, err
	}

	for _, e := range ents {
		if !e.IsDir() {
			continue
		}

		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}

		commBytes, err := os.ReadFile(p.Format("/proc/%d/comm", pid))
		if err != nil {
			continue
		}

		comm := strings.TrimSpace(string(commBytes))
		if strings.Contains(comm, substr) {
			return pid, nil
		}
	}

	return 0, fmt.Errorf("process containing %s not found", substr)
}

func OpenMem(pid int) (*os.File, error) {
	return os.OpenFile(p.Format("/proc/%d/mem", pid), os.O_RDONLY, 0)
}
