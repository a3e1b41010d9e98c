package memscan

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/s-hammon/p"
)

// Memory Map Region
type Region struct {
	Start, End uint64
	Perms      string
	Path       string
}

func (r Region) Size() uint64 {
	if r.End < r.Start {
		return 0
	}

	return r.End - r.Start
}

func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

func (r Region) Readable() bool {
	return strings.HasPrefix(r.Perms, "r")
}

// Name is the mapping path, or [anonymous] for unnamed mappings.
func (r Region) Name() string {
	if r.Path == "" {
		return "[anonymous]"
	}

	return r.Path
}

func (r Region) String() string {
	return p.Format("%X-%X %s %s", r.Start, r.End, r.Perms, r.Name())
}

// RegionFilter narrows the regions handed to the scanner. The zero value
// keeps everything.
type RegionFilter struct {
	// Module keeps regions whose path contains this substring.
	Module string
	// SkipPseudo drops anonymous, [bracketed] and /dev mappings.
	SkipPseudo bool
	Readable   bool
}

func (f RegionFilter) Keep(r Region) bool {
	if f.Readable && !r.Readable() {
		return false
	}
	if f.SkipPseudo && isPseudo(r.Path) {
		return false
	}
	if f.Module != "" && !strings.Contains(r.Path, f.Module) {
		return false
	}

	return true
}

func (f RegionFilter) Apply(regions []Region) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		if f.Keep(r) {
			out = append(out, r)
		}
	}

	return out
}

func isPseudo(path string) bool {
	return path == "" || strings.HasPrefix(path, "[") || strings.HasPrefix(path, "/dev")
}

// FindRegion returns the region containing addr.
func FindRegion(regions []Region, addr uint64) (Region, bool) {
	for _, r := range regions {
		if r.Contains(addr) {
			return r, true
		}
	}

	return Region{}, false
}

func ReadMaps(pid int) ([]Region, error) {
	f, err := os.Open(p.Format("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseMaps(f)
}

// ParseMaps reads the /proc/<pid>/maps format, one mapping per line.
func ParseMaps(r io.Reader) ([]Region, error) {
	var regs []Region
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		addr := strings.Split(fields[0], "-")
		if len(addr) != 2 {
			continue
		}

		start, err1 := strconv.ParseUint(addr[0], 16, 64)
		end, err2 := strconv.ParseUint(addr[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}

		var path string
		if len(fields) >= 6 {
			path = strings.Join(fields[5:], " ")
		}

		regs = append(regs, Region{Start: start, End: end, Perms: fields[1], Path: path})
	}

	return regs, scanner.Err()
}

// MergeRegions joins back-to-back mappings of the same file that agree on
// readability, so a module's segments scan as one contiguous range. Order is
// preserved.
func MergeRegions(regions []Region) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Path == r.Path && last.End == r.Start && last.Readable() == r.Readable() {
				last.End = r.End
				last.Perms = mergePerms(last.Perms, r.Perms)
				continue
			}
		}
		out = append(out, r)
	}

	return out
}

func mergePerms(a, b string) string {
	if len(a) != len(b) {
		return a
	}

	out := []byte(a)
	for i := range out {
		if out[i] == '-' {
			out[i] = b[i]
		}
	}

	return string(out)
}
