package value

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/s-hammon/memloc/internal/memscan"
	"github.com/s-hammon/p"
)

type Type int

const (
	U8 Type = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F32
	F64
	Pointer
	Pointer32
	Pointer64
	Vec2
	Vec3
	Vec4
	Mat4
	Rgb
	Rgba
	Color32
)

var typeNames = [...]string{
	U8: "u8", U16: "u16", U32: "u32", U64: "u64",
	I8: "i8", I16: "i16", I32: "i32", I64: "i64",
	F32: "f32", F64: "f64",
	Pointer: "pointer", Pointer32: "pointer32", Pointer64: "pointer64",
	Vec2: "vec2", Vec3: "vec3", Vec4: "vec4", Mat4: "mat4",
	Rgb: "rgb", Rgba: "rgba", Color32: "color32",
}

var typeSizes = [...]int{
	U8: 1, U16: 2, U32: 4, U64: 8,
	I8: 1, I16: 2, I32: 4, I64: 8,
	F32: 4, F64: 8,
	Pointer: 8, Pointer32: 4, Pointer64: 8,
	Vec2: 8, Vec3: 12, Vec4: 16, Mat4: 64,
	Rgb: 3, Rgba: 4, Color32: 16,
}

func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return Type(t), nil
		}
	}

	return 0, fmt.Errorf("unknown data type %q", s)
}

// Names lists every accepted type name, for help text.
func Names() []string {
	return append([]string(nil), typeNames[:]...)
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return p.Format("Type(%d)", int(t))
	}

	return typeNames[t]
}

func (t Type) Size() int {
	if t < 0 || int(t) >= len(typeSizes) {
		return 0
	}

	return typeSizes[t]
}

// ForPointerSize pins the target-width pointer type to 4 or 8 bytes. Every
// other type, including pointer32 and pointer64, is returned unchanged.
func (t Type) ForPointerSize(n int) Type {
	if t != Pointer {
		return t
	}
	if n == 4 {
		return Pointer32
	}

	return Pointer64
}

// Value is a typed little-endian snapshot of target memory.
type Value struct {
	Type  Type
	Bytes []byte
}

func Read(r memscan.Reader, addr uint64, t Type) (Value, error) {
	size := t.Size()
	if size == 0 {
		return Value{}, fmt.Errorf("unknown data type %d", int(t))
	}

	b, err := r.ReadMemory(addr, size)
	if err != nil {
		return Value{}, err
	}

	return Value{Type: t, Bytes: b}, nil
}

func (v Value) String() string {
	le := binary.LittleEndian
	b := v.Bytes
	if len(b) < v.Type.Size() {
		return "<short>"
	}

	switch v.Type {
	case U8:
		return p.Format("%du8", b[0])
	case U16:
		return p.Format("%du16", le.Uint16(b))
	case U32:
		return p.Format("%du32", le.Uint32(b))
	case U64:
		return p.Format("%du64", le.Uint64(b))
	case I8:
		return p.Format("%di8", int8(b[0]))
	case I16:
		return p.Format("%di16", int16(le.Uint16(b)))
	case I32:
		return p.Format("%di32", int32(le.Uint32(b)))
	case I64:
		return p.Format("%di64", int64(le.Uint64(b)))
	case F32:
		return formatFloat(float64(math.Float32frombits(le.Uint32(b))), 32) + "f32"
	case F64:
		return formatFloat(math.Float64frombits(le.Uint64(b)), 64) + "f64"
	case Pointer, Pointer64:
		return p.Format("0x%x", le.Uint64(b))
	case Pointer32:
		return p.Format("0x%x", le.Uint32(b))
	case Vec2, Vec3, Vec4:
		return formatVec(floats(b, v.Type.Size()/4))
	case Mat4:
		fs := floats(b, 16)
		cols := make([]string, 4)
		for i := range cols {
			cols[i] = formatVec(fs[i*4 : i*4+4])
		}
		return "[" + strings.Join(cols, ", ") + "]"
	case Rgb:
		return p.Format("#%02x%02x%02x", b[0], b[1], b[2])
	case Rgba:
		return p.Format("#%02x%02x%02x%02x", b[0], b[1], b[2], b[3])
	case Color32:
		fs := floats(b, 4)
		parts := make([]string, len(fs))
		for i, f := range fs {
			parts[i] = formatFloat(float64(f), 32)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}

	return p.Format("% x", b)
}

func floats(b []byte, n int) []float32 {
	out := make([]float32, n)
	_ = binary.Read(bytes.NewReader(b[:n*4]), binary.LittleEndian, out)
	return out
}

func formatVec(fs []float32) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}

	return "[" + strings.Join(parts, ", ") + "]"
}

// formatFloat always keeps a fractional part so 1 prints as 1.0.
func formatFloat(f float64, bits int) string {
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if strings.ContainsAny(s, ".eIN") {
		return s
	}

	return s + ".0"
}
