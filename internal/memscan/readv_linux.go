//go:build linux

package memscan

import "golang.org/x/sys/unix"

func readRemote(pid int, buf []byte, addr uint64) (int, error) {
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))

	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}

	return unix.ProcessVMReadv(pid, local, remote, 0)
}
