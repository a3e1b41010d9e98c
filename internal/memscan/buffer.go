package memscan

type segment struct {
	region Region
	data   []byte
}

// BufferMemory is a Memory backed by byte slices, for snapshots and tests.
// Reads must fall entirely inside one mapped segment.
type BufferMemory struct {
	segs []segment
}

func NewBufferMemory() *BufferMemory {
	return &BufferMemory{}
}

// Map adds data at start. Segments are reported by Regions in the order they
// were mapped.
func (b *BufferMemory) Map(start uint64, data []byte, perms, path string) Region {
	r := Region{Start: start, End: start + uint64(len(data)), Perms: perms, Path: path}
	b.segs = append(b.segs, segment{region: r, data: data})
	return r
}

func (b *BufferMemory) Regions(filter RegionFilter) ([]Region, error) {
	out := make([]Region, 0, len(b.segs))
	for _, s := range b.segs {
		if filter.Keep(s.region) {
			out = append(out, s.region)
		}
	}

	return out, nil
}

func (b *BufferMemory) ReadMemory(addr uint64, count int) ([]byte, error) {
	for _, s := range b.segs {
		if !s.region.Contains(addr) {
			continue
		}

		off := addr - s.region.Start
		if count < 0 || uint64(count) > s.region.Size()-off {
			break
		}

		out := make([]byte, count)
		copy(out, s.data[off:])
		return out, nil
	}

	return nil, &ReadError{Addr: addr, Size: count, Err: ErrUnmapped}
}
