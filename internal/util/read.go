package util

import (
	"fmt"
	"io"
)

// ReadBytes reads exactly size bytes at addr. A short read is an error.
func ReadBytes(r io.ReaderAt, addr uint64, size int) ([]byte, error) {
	if addr > 1<<63-1 {
		return nil, fmt.Errorf("address 0x%x out of range", addr)
	}

	buf := make([]byte, size)
	n, err := r.ReadAt(buf, int64(addr))
	if n == size {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}

	return nil, err
}
