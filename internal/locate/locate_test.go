package locate

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/s-hammon/memloc/internal/memscan"
	"github.com/s-hammon/memloc/internal/sig"
	"github.com/stretchr/testify/require"
)

const (
	codeBase = uint64(0x400000)
	dataBase = uint64(0x600000)
	heapBase = uint64(0x7f0000000000)
)

// fakeGame maps a text section holding
//
//	48 8B 05 <disp32>   mov rax, [rip+disp]   at codeBase+0x20
//
// whose operand points at a global in .data. The global points into the
// heap, where a player struct holds another pointer to a stats block.
func fakeGame(t *testing.T) *memscan.BufferMemory {
	t.Helper()

	code := bytes.Repeat([]byte{0xCC}, 0x100)
	insn := codeBase + 0x20
	global := dataBase + 0x80
	disp := int32(int64(global) - int64(insn+7))
	copy(code[0x20:], []byte{0x48, 0x8B, 0x05})
	binary.LittleEndian.PutUint32(code[0x23:], uint32(disp))
	copy(code[0x27:], []byte{0x48, 0x85, 0xC0})

	data := make([]byte, 0x100)
	binary.LittleEndian.PutUint64(data[0x80:], heapBase+0x1000)

	heap := make([]byte, 0x3000)
	binary.LittleEndian.PutUint64(heap[0x1000+0x210:], heapBase+0x2000)
	binary.LittleEndian.PutUint32(heap[0x2000+0x520:], 1337)

	mem := memscan.NewBufferMemory()
	mem.Map(codeBase, code, "r-xp", "/opt/game/bin/game")
	mem.Map(dataBase, data, "rw-p", "/opt/game/bin/game")
	mem.Map(heapBase, heap, "rw-p", "")
	return mem
}

func mustQuery(t *testing.T, s string) sig.Query {
	t.Helper()
	q, err := sig.ParseQuery(s)
	require.NoError(t, err)
	return q
}

func TestResolvePipeline(t *testing.T) {
	mem := fakeGame(t)
	l := New(mem, WithFilter(memscan.RegionFilter{Module: "game", Readable: true}))
	ctx := context.Background()

	a, err := l.Resolve(ctx, mustQuery(t, "48 8B 05 ?? ?? ?? ?? 48 85 C0"))
	require.NoError(t, err)
	require.Equal(t, sig.Address{Value: codeBase + 0x20, Kind: sig.Derived}, a)

	a, err = l.Resolve(ctx, mustQuery(t, "48 8B 05 ?? ?? ?? ??@3/7 48 85 C0"))
	require.NoError(t, err)
	require.Equal(t, dataBase+0x80, a.Value)

	a, err = l.Resolve(ctx, mustQuery(t, "48 8B 05 ?? ?? ?? ??@3/7 -> 0 -> 0x210 -> 0x520"))
	require.NoError(t, err)
	require.Equal(t, heapBase+0x2000+0x520, a.Value)

	v, err := mem.ReadMemory(a.Value, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(1337), binary.LittleEndian.Uint32(v))
}

func TestResolveAbsolute(t *testing.T) {
	l := New(fakeGame(t))

	a, err := l.Resolve(context.Background(), mustQuery(t, "0x600010"))
	require.NoError(t, err)
	require.Equal(t, sig.Address{Value: 0x600010, Kind: sig.Absolute}, a)

	_, err = l.Resolve(context.Background(), mustQuery(t, "0x10"))
	require.ErrorIs(t, err, memscan.ErrUnmapped)
}

func TestResolveNoMatch(t *testing.T) {
	l := New(fakeGame(t))

	_, err := l.Resolve(context.Background(), mustQuery(t, "0F 0B 0F 0B"))
	require.ErrorIs(t, err, memscan.ErrNoMatchFound)
}

func TestResolveChainFailure(t *testing.T) {
	l := New(fakeGame(t))

	_, err := l.Resolve(context.Background(), mustQuery(t, "48 8B 05 ?? ?? ?? ??@3/7 -> 0 -> 0x210 -> 0x8000 -> 0x10"))

	var ce *ChainError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, 2, ce.Index)
	require.Equal(t, heapBase+0x2000+0x8000, ce.Addr)
}

func TestResolveChainNullPointer(t *testing.T) {
	mem := memscan.NewBufferMemory()
	mem.Map(0x1000, append([]byte{0x90, 0x5A, 0x99, 0x11}, make([]byte, 8)...), "rw-p", "/bin/a")

	_, err := New(mem).Resolve(context.Background(), mustQuery(t, "90 5A 99 11 -> 4 -> 0x10"))

	var ce *ChainError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, 0, ce.Index)
	require.ErrorIs(t, err, memscan.ErrUnmapped)

	// the null slot at index 1 of a longer chain
	_, err = New(fakeGame(t)).Resolve(context.Background(), mustQuery(t, "48 8B 05 ?? ?? ?? ??@3/7 -> 0 -> 0x8 -> 0 -> 0x10"))
	require.True(t, errors.As(err, &ce))
	require.Equal(t, 1, ce.Index)
	require.Equal(t, uint64(0), ce.Addr)
}

func TestResolveAll(t *testing.T) {
	mem := memscan.NewBufferMemory()
	mem.Map(0x1000, []byte{0xE8, 0x01, 0x00, 0x00, 0x00, 0xE8, 0xFB, 0xFF, 0xFF, 0xFF}, "r-xp", "/bin/a")

	l := New(mem)
	got, err := l.ResolveAll(context.Background(), mustQuery(t, "E8 ?? ?? ?? ??@1/5"))
	require.NoError(t, err)
	require.Equal(t, []sig.Address{
		{Value: 0x1000 + 5 + 1, Kind: sig.Derived},
		{Value: 0x1005 + 5 - 5, Kind: sig.Derived},
	}, got)

	abs, err := l.ResolveAll(context.Background(), mustQuery(t, "0x1004"))
	require.NoError(t, err)
	require.Len(t, abs, 1)
}

func TestLookupReportsRegion(t *testing.T) {
	l := New(fakeGame(t))

	res, err := l.Lookup(context.Background(), mustQuery(t, "48 8B 05 ?? ?? ?? ??@3/7"))
	require.NoError(t, err)
	require.NotNil(t, res.Match)
	require.Equal(t, codeBase+0x20, res.Match.Address.Value)
	require.True(t, res.InRegion)
	require.Equal(t, dataBase, res.Region.Start)
	require.Equal(t, "/opt/game/bin/game", res.Region.Path)
}

func TestPatternReusedAcrossResolutions(t *testing.T) {
	code := []byte{0x8B, 0x15, 0xFA, 0x0F, 0x00, 0x00}
	slot := make([]byte, 8)
	binary.LittleEndian.PutUint64(slot, 0x3000)

	mem := memscan.NewBufferMemory()
	mem.Map(0x1000, code, "r-xp", "/bin/a")
	mem.Map(0x2000, slot, "rw-p", "/bin/a")
	mem.Map(0x3000, make([]byte, 0x10), "rw-p", "")
	mem.Map(0x5000, make([]byte, 0x10), "rw-p", "")

	l := New(mem)
	q := mustQuery(t, "8B 15 ?? ?? ?? ??@2/6 -> 0 -> 0x8")

	first, err := l.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, uint64(0x3008), first.Value)

	// the target moves its object between ticks
	binary.LittleEndian.PutUint64(slot, 0x5000)

	second, err := l.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, uint64(0x5008), second.Value)
}

func TestDebugLogging(t *testing.T) {
	var buf bytes.Buffer
	lg := log.New(&buf)
	lg.SetLevel(log.DebugLevel)

	l := New(fakeGame(t), WithLogger(lg))
	_, err := l.Resolve(context.Background(), mustQuery(t, "48 8B 05 ?? ?? ?? ??@3/7 -> 0 -> 0x210 -> 0x520"))
	require.NoError(t, err)
	require.Contains(t, buf.String(), "signature matched")
	require.Contains(t, buf.String(), "chain walked")
}
