package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/s-hammon/memloc"
	"github.com/s-hammon/memloc/internal/locate"
	"github.com/s-hammon/memloc/internal/memscan"
	"github.com/s-hammon/memloc/internal/sig"
	"github.com/s-hammon/memloc/internal/value"
	"github.com/s-hammon/p"
	"github.com/stretchr/testify/require"
)

const findMarker = "memloc find marker 7d3c91e2"

var probe uint32 = 0xC0FFEE

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := Execute(args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func requireProc(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("needs /proc")
	}
}

func markerSignature() string {
	parts := make([]string, 0, len(findMarker))
	for i := 0; i < len(findMarker); i++ {
		if i == 6 {
			parts = append(parts, "??")
			continue
		}
		parts = append(parts, p.Format("%02X", findMarker[i]))
	}

	return strings.Join(parts, " ")
}

func TestReadAbsolute(t *testing.T) {
	requireProc(t)

	addr := sig.Address{Value: uint64(uintptr(unsafe.Pointer(&probe)))}
	code, out, errOut := run(t, "read", "self", addr.String(), "u32")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, p.Format("%s = 12648430u32\n", addr), out)
}

func TestReadPointerFollowsPointerSize(t *testing.T) {
	requireProc(t)

	addr := sig.Address{Value: uint64(uintptr(unsafe.Pointer(&probe)))}
	code, out, errOut := run(t, "read", "--pointer-size", "4", "self", addr.String(), "pointer")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, p.Format("%s = 0xc0ffee\n", addr), out)
}

func TestReadSignature(t *testing.T) {
	requireProc(t)
	require.NotEmpty(t, findMarker)

	code, out, errOut := run(t, "read", "self", markerSignature(), "u8")
	require.Equal(t, 0, code, errOut)
	require.True(t, strings.HasSuffix(out, " = 109u8\n"), out)
}

func TestFindSignature(t *testing.T) {
	requireProc(t)

	exe, err := os.Executable()
	require.NoError(t, err)

	code, out, errOut := run(t, "find", "self", markerSignature())
	require.Equal(t, 0, code, errOut)
	require.True(t, strings.HasPrefix(out, "Found signature at 0x"), out)
	require.Contains(t, out, exe)

	code, out, errOut = run(t, "find", "--all", "self", markerSignature())
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, exe)
}

func TestFindUnknownSignature(t *testing.T) {
	requireProc(t)

	code, _, errOut := run(t, "find", "--module", "no-such-module", "self", "90 90 90")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "signature not found")
}

func TestListSelf(t *testing.T) {
	requireProc(t)

	exe, err := os.Executable()
	require.NoError(t, err)

	code, out, errOut := run(t, "list", "self")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, exe)
}

func TestBadArguments(t *testing.T) {
	code, _, errOut := run(t, "read", "self", "90 ZZ", "u32")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "invalid token")

	code, _, errOut = run(t, "read", "self", "0x1000", "u128")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "unknown data type")

	code, _, _ = run(t, "read", "self")
	require.Equal(t, 1, code)
}

func TestWatchCommand(t *testing.T) {
	requireProc(t)

	addr := sig.Address{Value: uint64(uintptr(unsafe.Pointer(&probe)))}
	code, out, errOut := run(t, "watch", "self", addr.String(), "u32", "-n", "2", "-i", "1ms")
	require.Equal(t, 0, code, errOut)

	line := p.Format("%s = 12648430u32\n", addr)
	require.Equal(t, line+line, out)
}

// flakyMemory fails to enumerate regions the first n times.
type flakyMemory struct {
	*memscan.BufferMemory
	failures atomic.Int32
}

func (f *flakyMemory) Regions(filter memscan.RegionFilter) ([]memscan.Region, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("maps unavailable")
	}

	return f.BufferMemory.Regions(filter)
}

func TestRunWorkerRetriesAfterFailure(t *testing.T) {
	mem := &flakyMemory{BufferMemory: memscan.NewBufferMemory()}
	mem.failures.Store(1)
	mem.Map(0x2000, []byte{0x90, 0xAA, 0xBB, 0xCC, 0xDD}, "r-xp", "/bin/a")

	q, err := sig.ParseQuery("AA BB CC DD")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan memloc.Update)
	cfg := WorkerConfig{Query: q, Type: value.U8, Interval: time.Millisecond, Count: 3}
	go RunWorker(ctx, locate.New(mem), mem, cfg, updates)

	first := <-updates
	require.False(t, first.Online)
	require.Contains(t, first.Error, "maps unavailable")

	second := <-updates
	require.True(t, second.Online)
	require.Equal(t, uint64(0x2001), second.Address.Value)
	require.Equal(t, "170u8", second.Value.String())

	<-updates
	_, open := <-updates
	require.False(t, open)
}

func TestRunWorkerStopsOnCancel(t *testing.T) {
	mem := memscan.NewBufferMemory()
	mem.Map(0x1000, []byte{0x01}, "rw-p", "")

	q, err := sig.ParseQuery("0x1000")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan memloc.Update, 1)
	go RunWorker(ctx, locate.New(mem), mem, WorkerConfig{Query: q, Type: value.U8, Interval: time.Hour}, updates)

	u := <-updates
	require.True(t, u.Online)
	cancel()

	_, open := <-updates
	require.False(t, open)
}
