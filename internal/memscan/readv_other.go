//go:build !linux

package memscan

import "errors"

func readRemote(pid int, buf []byte, addr uint64) (int, error) {
	return 0, errors.New("process_vm_readv is only available on linux")
}
